package constant

import "time"

const (
	TicketTypeIssuedKey = "ticket_type:%d:issued"
	PaymentCallbackLock = "payment:callback_lock:%s"
)

const (
	PaymentCallbackLockDefaultTTL = 30 * time.Second
)
