package constant

const (
	QueueStreamName = "ticketbox_queue_stream"
)

const (
	AllWildcard          = "events.>"
	PaymentWildcard      = "events.payment.>"
	NotificationWildcard = "events.notification.>"

	SubjectPaymentOutcome = "events.payment.outcome"
	SubjectSendCredential = "events.notification.send"
)
