// Package transfer implements the Transfer Engine (C10): the WRITE
// solicited-data flow (R2T/Data-Out) and READ Data-In burst framing that
// sit between the SCSI dispatcher's read/write requests and the wire.
//
// Grounded on spec.md section 4.7/4.10's description of the flow
// directly, since none of the example repos implement SCSI write/read
// burst framing; the synchronization style (blocking reads interleaved
// with writes on one connection, no separate reassembly goroutine)
// follows dittofs's per-connection single-goroutine request/response
// loop in pkg/adapter/nfs/nfs_connection.go rather than introducing
// concurrency the single-connection-per-session model doesn't need.
package transfer

import "sync/atomic"

// reservedTTT is the sentinel Target Transfer Tag value RFC 3720
// reserves to mean "no transfer tag" (used in NOP-Out/Data-Out PDUs that
// don't correlate to an R2T). The allocator never hands this value out.
const reservedTTT = 0xffffffff

// TTTAllocator is the target-wide monotonic Target Transfer Tag counter,
// a single shared atomic per spec.md section 5 ("Global state").
type TTTAllocator struct {
	counter atomic.Uint32
}

// Next returns the next Target Transfer Tag, skipping the reserved
// sentinel 0xFFFFFFFF.
func (a *TTTAllocator) Next() uint32 {
	for {
		v := a.counter.Add(1)
		if v != reservedTTT {
			return v
		}
	}
}
