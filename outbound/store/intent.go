package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type PaymentIntent struct {
	ID                  int64
	PaymentReference    string
	TicketTypeID        int64
	Quantity            int32
	BuyerName           string
	BuyerEmail          string
	BuyerPhone          string
	AmountCents         int64
	Currency            string
	Status              string
	NeedsReconciliation bool
	ExpiresAt           pgtype.Timestamptz
	CreatedAt           pgtype.Timestamptz
}

const insertPaymentIntent = `
INSERT INTO payment_intents (payment_reference, ticket_type_id, quantity, buyer_name, buyer_email, buyer_phone, amount_cents, currency, status, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)
RETURNING id
`

type InsertPaymentIntentParams struct {
	PaymentReference string
	TicketTypeID     int64
	Quantity         int32
	BuyerName        string
	BuyerEmail       string
	BuyerPhone       string
	AmountCents      int64
	Currency         string
	ExpiresAt        pgtype.Timestamptz
}

func (q *Queries) InsertPaymentIntent(ctx context.Context, arg InsertPaymentIntentParams) (int64, error) {
	row := q.db.QueryRow(ctx, insertPaymentIntent,
		arg.PaymentReference,
		arg.TicketTypeID,
		arg.Quantity,
		arg.BuyerName,
		arg.BuyerEmail,
		arg.BuyerPhone,
		arg.AmountCents,
		arg.Currency,
		arg.ExpiresAt,
	)

	var id int64
	err := row.Scan(&id)
	return id, err
}

const findPaymentIntentByReference = `
SELECT id, payment_reference, ticket_type_id, quantity, buyer_name, buyer_email, buyer_phone, amount_cents, currency, status, needs_reconciliation, expires_at, created_at
FROM payment_intents
WHERE payment_reference = $1
`

func (q *Queries) FindPaymentIntentByReference(ctx context.Context, reference string) (PaymentIntent, error) {
	row := q.db.QueryRow(ctx, findPaymentIntentByReference, reference)

	var p PaymentIntent
	err := row.Scan(
		&p.ID,
		&p.PaymentReference,
		&p.TicketTypeID,
		&p.Quantity,
		&p.BuyerName,
		&p.BuyerEmail,
		&p.BuyerPhone,
		&p.AmountCents,
		&p.Currency,
		&p.Status,
		&p.NeedsReconciliation,
		&p.ExpiresAt,
		&p.CreatedAt,
	)
	return p, err
}

// updatePaymentIntentStatus only moves intents out of pending: the status
// machine transitions exactly once, repeated callbacks become no-ops.
const updatePaymentIntentStatus = `
UPDATE payment_intents
SET status = $2, updated_at = $3
WHERE payment_reference = $1 AND status = 'pending'
`

type UpdatePaymentIntentStatusParams struct {
	PaymentReference string
	Status           string
	UpdatedAt        pgtype.Timestamptz
}

func (q *Queries) UpdatePaymentIntentStatus(ctx context.Context, arg UpdatePaymentIntentStatusParams) (pgconn.CommandTag, error) {
	return q.db.Exec(ctx, updatePaymentIntentStatus, arg.PaymentReference, arg.Status, arg.UpdatedAt)
}

const markPaymentIntentReconciliation = `
UPDATE payment_intents
SET needs_reconciliation = true, updated_at = $2
WHERE payment_reference = $1
`

func (q *Queries) MarkPaymentIntentReconciliation(ctx context.Context, reference string, updatedAt pgtype.Timestamptz) error {
	_, err := q.db.Exec(ctx, markPaymentIntentReconciliation, reference, updatedAt)
	return err
}

const expireStalePaymentIntents = `
UPDATE payment_intents
SET status = 'expired', updated_at = $1
WHERE id IN (
    SELECT id FROM payment_intents
    WHERE status = 'pending' AND expires_at < $1
    LIMIT $2
)
`

type ExpireStalePaymentIntentsParams struct {
	Now   pgtype.Timestamptz
	Limit int32
}

func (q *Queries) ExpireStalePaymentIntents(ctx context.Context, arg ExpireStalePaymentIntentsParams) (pgconn.CommandTag, error) {
	return q.db.Exec(ctx, expireStalePaymentIntents, arg.Now, arg.Limit)
}
