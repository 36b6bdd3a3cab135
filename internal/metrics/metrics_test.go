package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
)

// TestMetrics_NilSafe verifies every observer tolerates a nil receiver.
func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics

	require.NotPanics(t, func() {
		m.ObserveTransition("command", domain.DefaultState())
		m.ObserveRejection("siren-off")
		m.ObserveDroppedCommand("door-opened")
		m.ObservePersistFailure()
		m.ObservePublishFailure("state")
		m.SetMQTTConnected(true)
		m.ObserveEdge("door", "rising", true)
		m.ObservePulse("buzzer")
	})
}

// TestMetrics_Observe checks counters and gauges move as expected.
func TestMetrics_Observe(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())

	state := domain.DefaultState()
	state.SirenTrigger = domain.On

	m.ObserveTransition("timer", state)
	m.ObserveTransition("timer", state)
	m.ObserveEdge("door", "falling", false)
	m.SetMQTTConnected(true)
	m.ObserveDroppedCommand("siren-off")

	require.InDelta(t, 2, testutil.ToFloat64(m.Transitions.WithLabelValues("timer")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.StateField.WithLabelValues("sirenTrigger")), 0)
	require.InDelta(t, 0, testutil.ToFloat64(m.StateField.WithLabelValues("siren")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.StateField.WithLabelValues("doorState")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.InputEdges.WithLabelValues("door", "falling", "throttled")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.MQTTConnected), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.DroppedCommands.WithLabelValues("siren-off")), 0)
}
