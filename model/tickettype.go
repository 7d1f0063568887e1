package model

import "time"

type TicketTypeResponse struct {
	Id          int64      `json:"id"`
	EventId     int64      `json:"event_id"`
	Name        string     `json:"name"`
	PriceCents  int64      `json:"price_cents"`
	Currency    string     `json:"currency"`
	Capacity    int32      `json:"capacity"`
	Available   int32      `json:"available"`
	MinPerOrder int32      `json:"min_per_order"`
	MaxPerOrder int32      `json:"max_per_order"`
	SalesStart  *time.Time `json:"sales_start,omitempty"`
	SalesEnd    *time.Time `json:"sales_end,omitempty"`
}

type ListTicketTypesResponse struct {
	TicketTypes []TicketTypeResponse `json:"ticket_types"`
}

type CreateTicketTypeRequest struct {
	EventId     int64      `json:"event_id" validate:"required"`
	Name        string     `json:"name" validate:"required,max=100"`
	PriceCents  int64      `json:"price_cents" validate:"required,min=0"`
	Currency    string     `json:"currency" validate:"required,len=3"`
	Capacity    int32      `json:"capacity" validate:"required,min=1"`
	MinPerOrder int32      `json:"min_per_order" validate:"min=1"`
	MaxPerOrder int32      `json:"max_per_order" validate:"required,gtefield=MinPerOrder"`
	SalesStart  *time.Time `json:"sales_start"`
	SalesEnd    *time.Time `json:"sales_end"`
	IsActive    bool       `json:"is_active"`
}

type UpdateTicketTypeRequest struct {
	Name       *string    `json:"name" validate:"omitempty,max=100"`
	Capacity   *int32     `json:"capacity" validate:"omitempty,min=1"`
	SalesStart *time.Time `json:"sales_start"`
	SalesEnd   *time.Time `json:"sales_end"`
	IsActive   *bool      `json:"is_active"`

	// Force acknowledges shrinking capacity while sales are open. It never
	// allows capacity below the already-issued count.
	Force bool `json:"force"`
}
