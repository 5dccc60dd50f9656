package prometheus_test

import (
	"testing"
	"time"

	"github.com/istgtd/istgtd/pkg/metrics/prometheus"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderRecordsPDUCounts(t *testing.T) {
	reg := promclient.NewRegistry()
	rec := prometheus.New(reg)

	rec.RecordPDU("SCSI_COMMAND", "in", 5*time.Millisecond, false)
	rec.RecordPDU("SCSI_COMMAND", "in", 5*time.Millisecond, true)

	count, err := testutil.GatherAndCount(reg, "istgtd_pdu_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecorderTracksActiveGauges(t *testing.T) {
	reg := promclient.NewRegistry()
	rec := prometheus.New(reg)

	rec.SetActiveSessions(3)
	rec.SetActiveConnections(7)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64, len(families))
	for _, f := range families {
		values[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, float64(3), values["istgtd_active_sessions"])
	assert.Equal(t, float64(7), values["istgtd_active_connections"])
}

func TestRecorderSatisfiesMetricsInterface(t *testing.T) {
	reg := promclient.NewRegistry()
	rec := prometheus.New(reg)

	rec.RecordBytesTransferred("out", 4096)
	rec.RecordSessionEstablished("disk0")
	rec.RecordSessionClosed("disk0")
	rec.RecordLoginRejected("unknown_target")
	rec.RecordSCSIStatus("0x28", 0x02)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}
