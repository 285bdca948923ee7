package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bridge counters. A nil *Metrics records nothing.
type Metrics struct {
	framesSent         prometheus.Counter
	framesQueued       prometheus.Gauge
	framesMalformed    prometheus.Counter
	reconnects         prometheus.Counter
	connectionsOpened  prometheus.Counter
	subscriberFailures prometheus.Counter
}

// NewMetrics creates the bridge collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webui_bridge",
			Subsystem: "outbound",
			Name:      "frames_sent_total",
			Help:      "Frames handed to an open transport.",
		}),
		framesQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "webui_bridge",
			Subsystem: "outbound",
			Name:      "frames_queued",
			Help:      "Frames waiting for an open transport.",
		}),
		framesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webui_bridge",
			Subsystem: "inbound",
			Name:      "frames_malformed_total",
			Help:      "Inbound frames dropped because they were not a JSON object.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webui_bridge",
			Subsystem: "connection",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a close.",
		}),
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webui_bridge",
			Subsystem: "connection",
			Name:      "opened_total",
			Help:      "Transports that reached the open state.",
		}),
		subscriberFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webui_bridge",
			Subsystem: "inbound",
			Name:      "subscriber_failures_total",
			Help:      "Worker subscriber callbacks that failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.framesSent,
			m.framesQueued,
			m.framesMalformed,
			m.reconnects,
			m.connectionsOpened,
			m.subscriberFailures,
		)
	}
	return m
}

func (m *Metrics) frameSent() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *Metrics) setQueued(n int) {
	if m != nil {
		m.framesQueued.Set(float64(n))
	}
}

func (m *Metrics) frameMalformed() {
	if m != nil {
		m.framesMalformed.Inc()
	}
}

func (m *Metrics) reconnectScheduled() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connectionsOpened.Inc()
	}
}

func (m *Metrics) subscriberFailed() {
	if m != nil {
		m.subscriberFailures.Inc()
	}
}
