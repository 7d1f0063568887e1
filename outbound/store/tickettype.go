package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type TicketType struct {
	ID          int64
	EventID     int64
	Name        string
	PriceCents  int64
	Currency    string
	Capacity    int32
	MinPerOrder int32
	MaxPerOrder int32
	SalesStart  pgtype.Timestamptz
	SalesEnd    pgtype.Timestamptz
	IsActive    bool
}

// OnSale reports whether the type accepts checkouts at the given instant.
func (t TicketType) OnSale(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	if t.SalesStart.Valid && now.Before(t.SalesStart.Time) {
		return false
	}
	if t.SalesEnd.Valid && now.After(t.SalesEnd.Time) {
		return false
	}
	return true
}

const findTicketTypeByID = `
SELECT id, event_id, name, price_cents, currency, capacity, min_per_order, max_per_order, sales_start, sales_end, is_active
FROM ticket_types
WHERE id = $1
`

func (q *Queries) FindTicketTypeByID(ctx context.Context, id int64) (TicketType, error) {
	row := q.db.QueryRow(ctx, findTicketTypeByID, id)

	var t TicketType
	err := row.Scan(
		&t.ID,
		&t.EventID,
		&t.Name,
		&t.PriceCents,
		&t.Currency,
		&t.Capacity,
		&t.MinPerOrder,
		&t.MaxPerOrder,
		&t.SalesStart,
		&t.SalesEnd,
		&t.IsActive,
	)
	return t, err
}

const findAllTicketTypes = `
SELECT id, event_id, name, price_cents, currency, capacity, min_per_order, max_per_order, sales_start, sales_end, is_active
FROM ticket_types
ORDER BY id
`

func (q *Queries) FindAllTicketTypes(ctx context.Context) ([]TicketType, error) {
	rows, err := q.db.Query(ctx, findAllTicketTypes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TicketType
	for rows.Next() {
		var t TicketType
		if err := rows.Scan(
			&t.ID,
			&t.EventID,
			&t.Name,
			&t.PriceCents,
			&t.Currency,
			&t.Capacity,
			&t.MinPerOrder,
			&t.MaxPerOrder,
			&t.SalesStart,
			&t.SalesEnd,
			&t.IsActive,
		); err != nil {
			return nil, err
		}
		items = append(items, t)
	}

	return items, rows.Err()
}

// lockTicketTypeForIssuance serializes concurrent issuance for one ticket
// type: the row lock is held until the surrounding transaction commits, and
// the issued count is read under that lock. Different ticket types never
// block each other.
const lockTicketTypeForIssuance = `
SELECT tt.capacity,
       (SELECT COUNT(*) FROM tickets t WHERE t.ticket_type_id = tt.id AND t.status != 'void') AS issued_count
FROM ticket_types tt
WHERE tt.id = $1
FOR UPDATE OF tt
`

type LockTicketTypeForIssuanceRow struct {
	Capacity    int32
	IssuedCount int64
}

func (q *Queries) LockTicketTypeForIssuance(ctx context.Context, id int64) (LockTicketTypeForIssuanceRow, error) {
	row := q.db.QueryRow(ctx, lockTicketTypeForIssuance, id)

	var r LockTicketTypeForIssuanceRow
	err := row.Scan(&r.Capacity, &r.IssuedCount)
	return r, err
}

const countIssuedByTicketType = `
SELECT ticket_type_id, COUNT(*) AS issued_count
FROM tickets
WHERE status != 'void'
GROUP BY ticket_type_id
`

type IssuedCountRow struct {
	TicketTypeID int64
	IssuedCount  int64
}

func (q *Queries) CountIssuedByTicketType(ctx context.Context) ([]IssuedCountRow, error) {
	rows, err := q.db.Query(ctx, countIssuedByTicketType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []IssuedCountRow
	for rows.Next() {
		var r IssuedCountRow
		if err := rows.Scan(&r.TicketTypeID, &r.IssuedCount); err != nil {
			return nil, err
		}
		items = append(items, r)
	}

	return items, rows.Err()
}

const countIssuedTickets = `
SELECT COUNT(*) FROM tickets WHERE ticket_type_id = $1 AND status != 'void'
`

func (q *Queries) CountIssuedTickets(ctx context.Context, ticketTypeID int64) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countIssuedTickets, ticketTypeID).Scan(&count)
	return count, err
}

const insertTicketType = `
INSERT INTO ticket_types (event_id, name, price_cents, currency, capacity, min_per_order, max_per_order, sales_start, sales_end, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id
`

type InsertTicketTypeParams struct {
	EventID     int64
	Name        string
	PriceCents  int64
	Currency    string
	Capacity    int32
	MinPerOrder int32
	MaxPerOrder int32
	SalesStart  pgtype.Timestamptz
	SalesEnd    pgtype.Timestamptz
	IsActive    bool
}

func (q *Queries) InsertTicketType(ctx context.Context, arg InsertTicketTypeParams) (int64, error) {
	row := q.db.QueryRow(ctx, insertTicketType,
		arg.EventID,
		arg.Name,
		arg.PriceCents,
		arg.Currency,
		arg.Capacity,
		arg.MinPerOrder,
		arg.MaxPerOrder,
		arg.SalesStart,
		arg.SalesEnd,
		arg.IsActive,
	)

	var id int64
	err := row.Scan(&id)
	return id, err
}

const updateTicketType = `
UPDATE ticket_types
SET name        = COALESCE($2, name),
    capacity    = COALESCE($3, capacity),
    sales_start = COALESCE($4, sales_start),
    sales_end   = COALESCE($5, sales_end),
    is_active   = COALESCE($6, is_active),
    updated_at  = $7
WHERE id = $1
`

type UpdateTicketTypeParams struct {
	ID         int64
	Name       pgtype.Text
	Capacity   pgtype.Int4
	SalesStart pgtype.Timestamptz
	SalesEnd   pgtype.Timestamptz
	IsActive   pgtype.Bool
	UpdatedAt  pgtype.Timestamptz
}

func (q *Queries) UpdateTicketType(ctx context.Context, arg UpdateTicketTypeParams) (pgconn.CommandTag, error) {
	return q.db.Exec(ctx, updateTicketType,
		arg.ID,
		arg.Name,
		arg.Capacity,
		arg.SalesStart,
		arg.SalesEnd,
		arg.IsActive,
		arg.UpdatedAt,
	)
}
