package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects server instrumentation. All record methods are nil-safe
// so code paths under test can run without a metrics instance.
type Metrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	loginsTotal       prometheus.Counter
	commandsTotal     *prometheus.CounterVec
	commandErrors     *prometheus.CounterVec
	messagesDelivered *prometheus.CounterVec
	callsTotal        prometheus.Counter
	voiceBytesTotal   prometheus.Counter
}

// NewMetrics registers the server's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "multichat_connections_active",
			Help: "Current number of open client connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multichat_connections_total",
			Help: "Total client connections accepted since start.",
		}),
		loginsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multichat_logins_total",
			Help: "Successful LOGIN commands since start.",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multichat_commands_total",
			Help: "Commands dispatched, grouped by verb.",
		}, []string{"verb"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multichat_command_errors_total",
			Help: "Commands that failed with an inline error reply, grouped by verb.",
		}, []string{"verb"}),
		messagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multichat_messages_total",
			Help: "Messages persisted and fanned out, grouped by kind.",
		}, []string{"kind"}),
		callsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multichat_calls_total",
			Help: "Successful call rendezvous introductions.",
		}),
		voiceBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multichat_voice_bytes_total",
			Help: "Voice note payload bytes persisted.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.loginsTotal,
		m.commandsTotal,
		m.commandErrors,
		m.messagesDelivered,
		m.callsTotal,
		m.voiceBytesTotal,
	)
	return m
}

func (m *Metrics) RecordConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) RecordLogin() {
	if m == nil {
		return
	}
	m.loginsTotal.Inc()
}

func (m *Metrics) RecordCommand(verb string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(verb).Inc()
}

func (m *Metrics) RecordCommandError(verb string) {
	if m == nil {
		return
	}
	m.commandErrors.WithLabelValues(verb).Inc()
}

func (m *Metrics) RecordDelivered(kind string) {
	if m == nil {
		return
	}
	m.messagesDelivered.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordCall() {
	if m == nil {
		return
	}
	m.callsTotal.Inc()
}

func (m *Metrics) RecordVoiceBytes(n int) {
	if m == nil {
		return
	}
	m.voiceBytesTotal.Add(float64(n))
}
