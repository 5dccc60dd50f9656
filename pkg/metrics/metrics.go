// Package metrics defines the observability seam a target exposes its
// session, connection, and I/O counters through. Grounded on dittofs's
// pkg/metrics.NFSMetrics: an optional interface a caller can pass nil to
// disable with zero overhead, leaving a concrete Prometheus (or other)
// implementation to whichever process embeds this core.
package metrics

import "time"

// Metrics collects observability data for the iSCSI protocol engine. A
// nil Metrics is always valid: every call site in this core goes through
// the package-level helpers below, which no-op on a nil receiver instead
// of requiring every call site to check first.
type Metrics interface {
	// RecordPDU records one processed PDU's opcode, direction, and
	// outcome.
	RecordPDU(opcode string, direction string, duration time.Duration, errored bool)

	// RecordBytesTransferred records payload bytes moved by a Data-Out or
	// Data-In transfer.
	RecordBytesTransferred(direction string, bytes uint64)

	// SetActiveSessions updates the current session count.
	SetActiveSessions(count int32)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordSessionEstablished increments the total sessions counter.
	RecordSessionEstablished(targetName string)

	// RecordSessionClosed increments the total closed sessions counter.
	RecordSessionClosed(targetName string)

	// RecordLoginRejected increments the login-rejected counter with a
	// reason (e.g. "unknown_target", "negotiation_failed", "auth_failed").
	RecordLoginRejected(reason string)

	// RecordSCSIStatus records a completed SCSI command's status byte
	// (GOOD, CHECK CONDITION, ...) for a given opcode mnemonic.
	RecordSCSIStatus(cdbOpcode string, status byte)
}

// Record* package-level helpers are nil-safe convenience wrappers so
// callers that hold a possibly-nil Metrics do not need a guard at every
// call site.

func RecordPDU(m Metrics, opcode, direction string, duration time.Duration, errored bool) {
	if m != nil {
		m.RecordPDU(opcode, direction, duration, errored)
	}
}

func RecordBytesTransferred(m Metrics, direction string, bytes uint64) {
	if m != nil {
		m.RecordBytesTransferred(direction, bytes)
	}
}

func SetActiveSessions(m Metrics, count int32) {
	if m != nil {
		m.SetActiveSessions(count)
	}
}

func SetActiveConnections(m Metrics, count int32) {
	if m != nil {
		m.SetActiveConnections(count)
	}
}

func RecordSessionEstablished(m Metrics, targetName string) {
	if m != nil {
		m.RecordSessionEstablished(targetName)
	}
}

func RecordSessionClosed(m Metrics, targetName string) {
	if m != nil {
		m.RecordSessionClosed(targetName)
	}
}

func RecordLoginRejected(m Metrics, reason string) {
	if m != nil {
		m.RecordLoginRejected(reason)
	}
}

func RecordSCSIStatus(m Metrics, cdbOpcode string, status byte) {
	if m != nil {
		m.RecordSCSIStatus(cdbOpcode, status)
	}
}
