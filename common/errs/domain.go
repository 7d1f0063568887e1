package errs

import "errors"

// ErrCapacityExceeded is returned by the issuance transaction when the
// locked capacity check fails. The callback worker matches it with
// errors.Is to route the payment into reconciliation instead of retrying.
var ErrCapacityExceeded = errors.New("ticket type capacity exceeded")
