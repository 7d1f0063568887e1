package model

type PaymentCallbackRequest struct {
	PaymentReference string `json:"payment_reference" validate:"required"`
	Outcome          string `json:"outcome" validate:"required,oneof=confirmed failed"`
}

type PaymentOutcomeEventMessage struct {
	PaymentReference string `json:"payment_reference"`
	Outcome          string `json:"outcome"`
}
