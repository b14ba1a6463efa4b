package server

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newCoordinatorMetrics(reg)

	m.incConnection()
	m.decConnection()
	m.setRooms(3)
	m.recordError("MALFORMED")
	m.recordError("")
	m.observeLatency("updateCell", 2*time.Millisecond)
	m.recordFanoutPublished()
	m.recordFanoutDelivered()
	m.recordPresenceReaped()
	m.recordGraceCancelled()
	m.recordHeartbeatReaped()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("no metric families registered")
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *coordinatorMetrics
	m.incConnection()
	m.decConnection()
	m.setRooms(1)
	m.recordError("x")
	m.observeLatency("join", time.Millisecond)
	m.recordFanoutPublished()
	m.recordFanoutDelivered()
	m.recordPresenceReaped()
	m.recordGraceCancelled()
	m.recordHeartbeatReaped()
}
