// Package prometheus is the Prometheus-backed implementation of
// metrics.Metrics, grounded on dittofs's pkg/metrics/prometheus package
// (one promauto-registered metric family per concern, collected against
// the caller-supplied registry rather than the global default).
package prometheus

import (
	"time"

	"github.com/istgtd/istgtd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the Prometheus implementation of metrics.Metrics.
type Recorder struct {
	pduTotal        *prometheus.CounterVec
	pduDuration     *prometheus.HistogramVec
	bytesTotal      *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	activeConns     prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	sessionsClosed  *prometheus.CounterVec
	loginRejected   *prometheus.CounterVec
	scsiStatusTotal *prometheus.CounterVec
}

var _ metrics.Metrics = (*Recorder)(nil)

// New registers every istgtd metric family against reg and returns a
// Recorder ready to pass as server.Config.Metrics. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer's registry to expose via promhttp's
// default handler.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		pduTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istgtd_pdu_total",
				Help: "Total number of iSCSI PDUs processed by opcode, direction, and outcome.",
			},
			[]string{"opcode", "direction", "errored"},
		),
		pduDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "istgtd_pdu_duration_seconds",
				Help:    "Time spent handling one inbound PDU, by opcode.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"opcode"},
		),
		bytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istgtd_bytes_transferred_total",
				Help: "Total payload bytes moved by Data-Out/Data-In transfers.",
			},
			[]string{"direction"},
		),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "istgtd_active_sessions",
			Help: "Current number of established iSCSI sessions.",
		}),
		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "istgtd_active_connections",
			Help: "Current number of open TCP connections.",
		}),
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istgtd_sessions_established_total",
				Help: "Total sessions established, by target.",
			},
			[]string{"target"},
		),
		sessionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istgtd_sessions_closed_total",
				Help: "Total sessions closed, by target.",
			},
			[]string{"target"},
		),
		loginRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istgtd_login_rejected_total",
				Help: "Total rejected Login requests, by reason.",
			},
			[]string{"reason"},
		),
		scsiStatusTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istgtd_scsi_status_total",
				Help: "Total completed SCSI commands, by CDB opcode and status byte.",
			},
			[]string{"opcode", "status"},
		),
	}
}

func (r *Recorder) RecordPDU(opcode, direction string, duration time.Duration, errored bool) {
	r.pduTotal.WithLabelValues(opcode, direction, boolLabel(errored)).Inc()
	r.pduDuration.WithLabelValues(opcode).Observe(duration.Seconds())
}

func (r *Recorder) RecordBytesTransferred(direction string, bytes uint64) {
	r.bytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

func (r *Recorder) SetActiveSessions(count int32) { r.activeSessions.Set(float64(count)) }

func (r *Recorder) SetActiveConnections(count int32) { r.activeConns.Set(float64(count)) }

func (r *Recorder) RecordSessionEstablished(targetName string) {
	r.sessionsTotal.WithLabelValues(targetName).Inc()
}

func (r *Recorder) RecordSessionClosed(targetName string) {
	r.sessionsClosed.WithLabelValues(targetName).Inc()
}

func (r *Recorder) RecordLoginRejected(reason string) {
	r.loginRejected.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordSCSIStatus(cdbOpcode string, status byte) {
	r.scsiStatusTotal.WithLabelValues(cdbOpcode, statusLabel(status)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func statusLabel(status byte) string {
	switch status {
	case 0x00:
		return "good"
	case 0x02:
		return "check_condition"
	case 0x08:
		return "busy"
	default:
		return "other"
	}
}
