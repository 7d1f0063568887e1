package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func Start() {
	cfg := newCfg("env")
	slog.SetLogLoggerLevel(slog.Level(cfg.GetInt("log.level")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := &cobra.Command{}
	cmd := []*cobra.Command{
		{
			Use:   "serve-http",
			Short: "Run HTTP server",
			Run: func(cmd *cobra.Command, args []string) {
				runHttpServerCmd(ctx)
			},
		},
		{
			Use:   "serve-queue:issuance",
			Short: "Run issuance queue consumer",
			Run: func(cmd *cobra.Command, args []string) {
				runQueueIssuanceCmd(ctx)
			},
		},
		{
			Use:   "serve-queue:notification",
			Short: "Run notification queue consumer",
			Run: func(cmd *cobra.Command, args []string) {
				runQueueNotificationCmd(ctx)
			},
		},
		{
			Use:   "dev",
			Short: "Run all servers in one process, for testing purpose",
			Run: func(cmd *cobra.Command, args []string) {
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					runQueueIssuanceCmd(gctx)
					return nil
				})
				g.Go(func() error {
					runQueueNotificationCmd(gctx)
					return nil
				})
				g.Go(func() error {
					runHttpServerCmd(gctx)
					return nil
				})
				if err := g.Wait(); err != nil {
					log.Fatalln(err)
				}
			},
		},
	}

	rootCmd.AddCommand(cmd...)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}
