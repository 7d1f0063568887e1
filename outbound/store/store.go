// Package store is the query layer over the three tables the checkout core
// owns: ticket_types, payment_intents and tickets. All methods run against
// the injected connection; WithTx rebinds them to a transaction.
package store

import (
	"errors"
	"ticketbox/common/contract"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolationCode = "23505"

type Queries struct {
	db contract.DbConn
}

func New(db contract.DbConn) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return false
	}

	return constraint == "" || pgErr.ConstraintName == constraint
}
