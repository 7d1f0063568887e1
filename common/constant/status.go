package constant

const (
	IntentStatusPending   = "pending"
	IntentStatusConfirmed = "confirmed"
	IntentStatusFailed    = "failed"
	IntentStatusExpired   = "expired"
)

const (
	PaymentOutcomeConfirmed = "confirmed"
	PaymentOutcomeFailed    = "failed"
)

const (
	TicketStatusIssued  = "issued"
	TicketStatusScanned = "scanned"
	TicketStatusVoid    = "void"
)

const (
	ScanResultValid          = "valid"
	ScanResultAlreadyScanned = "already_scanned"
	ScanResultNotFound       = "not_found"
)
