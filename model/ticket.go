package model

import "time"

type TicketCredential struct {
	TicketNumber string `json:"ticket_number"`
	QRPayload    string `json:"qr_payload"`
}

type SendCredentialEventMessage struct {
	PaymentReference string             `json:"payment_reference"`
	TicketTypeName   string             `json:"ticket_type_name"`
	Name             string             `json:"name"`
	Email            string             `json:"email"`
	AmountCents      int64              `json:"amount_cents"`
	Currency         string             `json:"currency"`
	Tickets          []TicketCredential `json:"tickets"`
}

type ScanResponse struct {
	Status       string     `json:"status"`
	TicketNumber string     `json:"ticket_number,omitempty"`
	ScannedAt    *time.Time `json:"scanned_at,omitempty"`
}
