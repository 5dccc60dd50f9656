package connection

import "sync/atomic"

// newCIDAllocator returns a closure producing distinct per-process
// Connection IDs, starting at 1 (0 is reserved in some initiator
// implementations to mean "unset").
func newCIDAllocator() func() uint16 {
	var counter atomic.Uint32
	return func() uint16 {
		return uint16(counter.Add(1))
	}
}
