package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the messenger.
type Metrics struct {
	// Datagram metrics
	DatagramsSentTotal     *prometheus.CounterVec
	DatagramsReceivedTotal *prometheus.CounterVec
	DatagramsDiscarded     *prometheus.CounterVec

	// Session metrics
	SessionsActive    prometheus.Gauge
	HandshakeAttempts *prometheus.CounterVec
	HandshakeDuration prometheus.Histogram

	// Message metrics
	MessagesSentTotal     prometheus.Counter
	MessagesReceivedTotal prometheus.Counter
	DecryptFailuresTotal  prometheus.Counter
	KeepAlivesSentTotal   prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics creates and registers all Prometheus metrics. Registration
// with promauto is global, so the instance is shared process-wide.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			DatagramsSentTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "peerchat_datagrams_sent_total",
					Help: "Datagrams sent, by wire type",
				},
				[]string{"type"},
			),

			DatagramsReceivedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "peerchat_datagrams_received_total",
					Help: "Datagrams received, by wire type",
				},
				[]string{"type"},
			),

			DatagramsDiscarded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "peerchat_datagrams_discarded_total",
					Help: "Inbound datagrams silently discarded",
				},
				[]string{"reason"},
			),

			SessionsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "peerchat_sessions_active",
					Help: "Currently active sessions (0 or 1 per process)",
				},
			),

			HandshakeAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "peerchat_handshake_attempts_total",
					Help: "Handshake attempts, by result",
				},
				[]string{"result"},
			),

			HandshakeDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "peerchat_handshake_duration_seconds",
					Help:    "Time to reach the established state",
					Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
				},
			),

			MessagesSentTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "peerchat_messages_sent_total",
					Help: "Encrypted chat messages sent",
				},
			),

			MessagesReceivedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "peerchat_messages_received_total",
					Help: "Encrypted chat messages successfully decrypted",
				},
			),

			DecryptFailuresTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "peerchat_decrypt_failures_total",
					Help: "Messages dropped due to padding or format failures",
				},
			),

			KeepAlivesSentTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "peerchat_keepalives_sent_total",
					Help: "Punch datagrams sent to maintain the NAT mapping",
				},
			),
		}
	})
	return metrics
}

// RecordSent records an outbound datagram of the given wire type.
func (m *Metrics) RecordSent(datagramType string) {
	m.DatagramsSentTotal.WithLabelValues(datagramType).Inc()
}

// RecordReceived records an inbound datagram of the given wire type.
func (m *Metrics) RecordReceived(datagramType string) {
	m.DatagramsReceivedTotal.WithLabelValues(datagramType).Inc()
}

// RecordDiscarded records a silently dropped inbound datagram.
func (m *Metrics) RecordDiscarded(reason string) {
	m.DatagramsDiscarded.WithLabelValues(reason).Inc()
}

// RecordHandshake records a handshake outcome.
func (m *Metrics) RecordHandshake(success bool, seconds float64) {
	result := "success"
	if !success {
		result = "timeout"
	}
	m.HandshakeAttempts.WithLabelValues(result).Inc()
	if success {
		m.HandshakeDuration.Observe(seconds)
	}
}

// Handler returns an HTTP handler exposing the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
