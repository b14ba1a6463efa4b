package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type coordinatorMetrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	activeRooms       prometheus.Gauge
	messageErrors     *prometheus.CounterVec
	messageLatency    *prometheus.HistogramVec
	fanoutPublished   prometheus.Counter
	fanoutDelivered   prometheus.Counter
	presenceReaped    prometheus.Counter
	graceCancelled    prometheus.Counter
	heartbeatReaped   prometheus.Counter
}

func newCoordinatorMetrics(reg prometheus.Registerer) *coordinatorMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &coordinatorMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridwire_connections_active",
			Help: "Current number of live websocket connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridwire_connections_total",
			Help: "Total websocket connections accepted since start.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridwire_rooms_active",
			Help: "Rooms with at least one local connection.",
		}),
		messageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridwire_message_errors_total",
			Help: "Dropped client messages by error code.",
		}, []string{"code"}),
		messageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridwire_message_latency_seconds",
			Help:    "Latency for handling client messages.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"op"}),
		fanoutPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridwire_fanout_published_total",
			Help: "Events published to the shared store channel.",
		}),
		fanoutDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridwire_fanout_delivered_total",
			Help: "Remote events re-broadcast to local connections.",
		}),
		presenceReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridwire_presence_reaped_total",
			Help: "Presence entries removed after the grace window elapsed.",
		}),
		graceCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridwire_grace_cancelled_total",
			Help: "Grace timers cancelled by a reconnect.",
		}),
		heartbeatReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridwire_heartbeat_reaped_total",
			Help: "Connections forcibly closed after an unanswered ping.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.activeRooms,
		m.messageErrors,
		m.messageLatency,
		m.fanoutPublished,
		m.fanoutDelivered,
		m.presenceReaped,
		m.graceCancelled,
		m.heartbeatReaped,
	)
	return m
}

func (m *coordinatorMetrics) incConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *coordinatorMetrics) decConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *coordinatorMetrics) setRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

func (m *coordinatorMetrics) recordError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "internal"
	}
	m.messageErrors.WithLabelValues(code).Inc()
}

func (m *coordinatorMetrics) observeLatency(op string, dur time.Duration) {
	if m == nil || op == "" {
		return
	}
	m.messageLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *coordinatorMetrics) recordFanoutPublished() {
	if m == nil {
		return
	}
	m.fanoutPublished.Inc()
}

func (m *coordinatorMetrics) recordFanoutDelivered() {
	if m == nil {
		return
	}
	m.fanoutDelivered.Inc()
}

func (m *coordinatorMetrics) recordPresenceReaped() {
	if m == nil {
		return
	}
	m.presenceReaped.Inc()
}

func (m *coordinatorMetrics) recordGraceCancelled() {
	if m == nil {
		return
	}
	m.graceCancelled.Inc()
}

func (m *coordinatorMetrics) recordHeartbeatReaped() {
	if m == nil {
		return
	}
	m.heartbeatReaped.Inc()
}
