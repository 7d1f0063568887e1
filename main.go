package main

import (
	"ticketbox/cmd"

	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.Start()
}
