package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type Ticket struct {
	ID               int64
	TicketTypeID     int64
	PaymentReference string
	BatchSeq         int32
	TicketNumber     string
	BuyerName        string
	BuyerEmail       string
	BuyerPhone       string
	Status           string
	DeliveryFailed   bool
	IssuedAt         pgtype.Timestamptz
	ScannedAt        pgtype.Timestamptz
}

func scanTicket(row interface{ Scan(dest ...any) error }) (Ticket, error) {
	var t Ticket
	err := row.Scan(
		&t.ID,
		&t.TicketTypeID,
		&t.PaymentReference,
		&t.BatchSeq,
		&t.TicketNumber,
		&t.BuyerName,
		&t.BuyerEmail,
		&t.BuyerPhone,
		&t.Status,
		&t.DeliveryFailed,
		&t.IssuedAt,
		&t.ScannedAt,
	)
	return t, err
}

const findTicketsByPaymentReference = `
SELECT id, ticket_type_id, payment_reference, batch_seq, ticket_number, buyer_name, buyer_email, buyer_phone, status, delivery_failed, issued_at, scanned_at
FROM tickets
WHERE payment_reference = $1
ORDER BY batch_seq
`

func (q *Queries) FindTicketsByPaymentReference(ctx context.Context, reference string) ([]Ticket, error) {
	rows, err := q.db.Query(ctx, findTicketsByPaymentReference, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}

	return items, rows.Err()
}

const findTicketByNumber = `
SELECT id, ticket_type_id, payment_reference, batch_seq, ticket_number, buyer_name, buyer_email, buyer_phone, status, delivery_failed, issued_at, scanned_at
FROM tickets
WHERE ticket_number = $1
`

func (q *Queries) FindTicketByNumber(ctx context.Context, ticketNumber string) (Ticket, error) {
	return scanTicket(q.db.QueryRow(ctx, findTicketByNumber, ticketNumber))
}

// insertTicket relies on two constraints as the durable contract:
// tickets_ticket_number_key against credential collisions and
// tickets_payment_reference_batch_seq_key against a duplicated batch for
// the same payment reference.
const insertTicket = `
INSERT INTO tickets (ticket_type_id, payment_reference, batch_seq, ticket_number, buyer_name, buyer_email, buyer_phone, status, issued_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'issued', $8)
RETURNING id
`

type InsertTicketParams struct {
	TicketTypeID     int64
	PaymentReference string
	BatchSeq         int32
	TicketNumber     string
	BuyerName        string
	BuyerEmail       string
	BuyerPhone       string
	IssuedAt         pgtype.Timestamptz
}

func (q *Queries) InsertTicket(ctx context.Context, arg InsertTicketParams) (int64, error) {
	row := q.db.QueryRow(ctx, insertTicket,
		arg.TicketTypeID,
		arg.PaymentReference,
		arg.BatchSeq,
		arg.TicketNumber,
		arg.BuyerName,
		arg.BuyerEmail,
		arg.BuyerPhone,
		arg.IssuedAt,
	)

	var id int64
	err := row.Scan(&id)
	return id, err
}

const markTicketScanned = `
UPDATE tickets
SET status = 'scanned', scanned_at = $2
WHERE ticket_number = $1 AND status = 'issued'
`

type MarkTicketScannedParams struct {
	TicketNumber string
	ScannedAt    pgtype.Timestamptz
}

func (q *Queries) MarkTicketScanned(ctx context.Context, arg MarkTicketScannedParams) (pgconn.CommandTag, error) {
	return q.db.Exec(ctx, markTicketScanned, arg.TicketNumber, arg.ScannedAt)
}

const voidTicketByNumber = `
UPDATE tickets
SET status = 'void'
WHERE ticket_number = $1 AND status != 'void'
`

func (q *Queries) VoidTicketByNumber(ctx context.Context, ticketNumber string) (pgconn.CommandTag, error) {
	return q.db.Exec(ctx, voidTicketByNumber, ticketNumber)
}

const markBatchDeliveryFailed = `
UPDATE tickets
SET delivery_failed = true
WHERE payment_reference = $1
`

func (q *Queries) MarkBatchDeliveryFailed(ctx context.Context, reference string) error {
	_, err := q.db.Exec(ctx, markBatchDeliveryFailed, reference)
	return err
}
