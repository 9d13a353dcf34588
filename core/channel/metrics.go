package channel

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Request outcome labels.
const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
	outcomeClosed = "closed"
)

// Metrics holds the prometheus collectors shared by a Channel and its
// PayloadChannel. All methods are nil-safe so instrumentation stays
// optional: a nil *Metrics is a no-op.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	protocolErrorsTotal prometheus.Counter
	payloadBytesTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers the channel collectors on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaproxy",
				Subsystem: "channel",
				Name:      "requests_total",
				Help:      "Requests sent to the worker, by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaproxy",
				Subsystem: "channel",
				Name:      "notifications_total",
				Help:      "Inbound notifications, by delivery outcome.",
			},
			[]string{"outcome"},
		),
		protocolErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mediaproxy",
				Subsystem: "channel",
				Name:      "protocol_errors_total",
				Help:      "Malformed or unaddressable frames dropped by the read loops.",
			},
		),
		payloadBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaproxy",
				Subsystem: "payload",
				Name:      "bytes_total",
				Help:      "Binary payload bytes moved over the payload channel, by direction.",
			},
			[]string{"direction"},
		),
	}

	reg.MustRegister(m.requestsTotal, m.notificationsTotal, m.protocolErrorsTotal, m.payloadBytesTotal)

	return m
}

func (m *Metrics) observeRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) observeNotification(delivered bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "dropped"
	}
	m.notificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrorsTotal.Inc()
}

func (m *Metrics) observePayload(direction string, bytes int) {
	if m == nil {
		return
	}
	m.payloadBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}
