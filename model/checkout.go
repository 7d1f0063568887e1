package model

import "time"

type CheckoutRequest struct {
	TicketTypeId int64  `json:"ticket_type_id" validate:"required"`
	Quantity     int32  `json:"quantity" validate:"required,min=1"`
	Name         string `json:"name" validate:"required,max=100"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"required,e164"`
}

type CheckoutResponse struct {
	PaymentReference string    `json:"payment_reference"`
	AmountCents      int64     `json:"amount_cents"`
	Currency         string    `json:"currency"`
	ExpiresAt        time.Time `json:"expires_at"`
}
