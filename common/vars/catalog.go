package vars

import (
	"sync/atomic"
	"ticketbox/model"
	"unsafe"
)

// catalogPtr holds a pointer to the current ticket type snapshot.
// This approach allows for lock-free reads with atomic updates.
var catalogPtr unsafe.Pointer

// GetCatalog returns the current ticket type snapshot.
// This operation is lock-free and safe for concurrent access.
func GetCatalog() []model.TicketTypeResponse {
	ptr := atomic.LoadPointer(&catalogPtr)
	if ptr == nil {
		return nil
	}
	return *(*[]model.TicketTypeResponse)(ptr)
}

// SetCatalog atomically replaces the snapshot. It copies the input so the
// refresher can keep mutating its own slice. Pass nil to clear.
func SetCatalog(ticketTypes []model.TicketTypeResponse) {
	var ptr unsafe.Pointer

	if len(ticketTypes) > 0 {
		snapshot := make([]model.TicketTypeResponse, len(ticketTypes))
		copy(snapshot, ticketTypes)
		ptr = unsafe.Pointer(&snapshot)
	}

	atomic.StorePointer(&catalogPtr, ptr)
}

func init() {
	atomic.StorePointer(&catalogPtr, nil)
}
