package metrics_test

import (
	"testing"
	"time"

	"github.com/istgtd/istgtd/pkg/metrics"
)

func TestNilMetricsNoOps(t *testing.T) {
	var m metrics.Metrics // nil

	metrics.RecordPDU(m, "Login-Request", "in", time.Millisecond, false)
	metrics.RecordBytesTransferred(m, "read", 4096)
	metrics.SetActiveSessions(m, 1)
	metrics.SetActiveConnections(m, 1)
	metrics.RecordSessionEstablished(m, "iqn.2026-01.com.example:disk0")
	metrics.RecordSessionClosed(m, "iqn.2026-01.com.example:disk0")
	metrics.RecordLoginRejected(m, "unknown_target")
	metrics.RecordSCSIStatus(m, "READ(10)", 0)
	// Reaching here without panicking is the assertion: a nil Metrics
	// must never be dereferenced by these helpers.
}

type recordingMetrics struct {
	pdus int
}

func (r *recordingMetrics) RecordPDU(opcode, direction string, d time.Duration, errored bool) {
	r.pdus++
}
func (r *recordingMetrics) RecordBytesTransferred(direction string, bytes uint64)   {}
func (r *recordingMetrics) SetActiveSessions(count int32)                          {}
func (r *recordingMetrics) SetActiveConnections(count int32)                       {}
func (r *recordingMetrics) RecordSessionEstablished(targetName string)             {}
func (r *recordingMetrics) RecordSessionClosed(targetName string)                  {}
func (r *recordingMetrics) RecordLoginRejected(reason string)                      {}
func (r *recordingMetrics) RecordSCSIStatus(cdbOpcode string, status byte)         {}

func TestConcreteMetricsReceivesCalls(t *testing.T) {
	m := &recordingMetrics{}
	metrics.RecordPDU(m, "NOP-Out", "in", time.Microsecond, false)
	if m.pdus != 1 {
		t.Fatalf("expected 1 recorded PDU, got %d", m.pdus)
	}
}
