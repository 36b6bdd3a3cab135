// Package metrics defines Prometheus metrics for the door alarm.
//
// Metric naming follows Prometheus conventions:
//   - door_alarm_ prefix for all custom metrics
//   - _total suffix for counters
//
// Every method is safe to call on a nil *Metrics, so components can run
// without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
)

// Metrics bundles the door alarm metrics.
type Metrics struct {
	// Transitions counts applied transitions by cause.
	Transitions *prometheus.CounterVec
	// GuardRejections counts commands ignored because their guard did not hold.
	GuardRejections *prometheus.CounterVec
	// DroppedCommands counts commands dropped on a full controller queue.
	DroppedCommands *prometheus.CounterVec
	// StateField mirrors every state field as 1 (ON/CLOSE) or 0.
	StateField *prometheus.GaugeVec
	// PersistFailures counts failed snapshot writes.
	PersistFailures prometheus.Counter
	// PublishFailures counts failed MQTT publishes by topic.
	PublishFailures *prometheus.CounterVec
	// MQTTConnected is 1 while the broker connection is up.
	MQTTConnected prometheus.Gauge
	// InputEdges counts raw edges by line, direction and outcome.
	InputEdges *prometheus.CounterVec
	// OutputPulses counts pulses started by channel.
	OutputPulses *prometheus.CounterVec
}

// New constructs the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "door_alarm_transitions_total",
				Help: "Total applied state transitions by cause.",
			},
			[]string{"cause"},
		),
		GuardRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "door_alarm_guard_rejections_total",
				Help: "Total commands ignored because their guard did not hold.",
			},
			[]string{"command"},
		),
		DroppedCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "door_alarm_dropped_commands_total",
				Help: "Total commands dropped because the controller queue was full.",
			},
			[]string{"command"},
		),
		StateField: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "door_alarm_state",
				Help: "Current alarm state field, 1 for ON or CLOSE.",
			},
			[]string{"field"},
		),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "door_alarm_persist_failures_total",
			Help: "Total failed state file writes.",
		}),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "door_alarm_publish_failures_total",
				Help: "Total failed MQTT publishes by topic.",
			},
			[]string{"topic"},
		),
		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "door_alarm_mqtt_connected",
			Help: "Whether the MQTT connection is up.",
		}),
		InputEdges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "door_alarm_input_edges_total",
				Help: "Total raw input edges by line, edge and outcome.",
			},
			[]string{"line", "edge", "outcome"},
		),
		OutputPulses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "door_alarm_output_pulses_total",
				Help: "Total output pulses started by channel.",
			},
			[]string{"channel"},
		),
	}

	reg.MustRegister(
		m.Transitions,
		m.GuardRejections,
		m.DroppedCommands,
		m.StateField,
		m.PersistFailures,
		m.PublishFailures,
		m.MQTTConnected,
		m.InputEdges,
		m.OutputPulses,
	)

	return m
}

// ObserveTransition records an applied transition and the resulting state.
func (m *Metrics) ObserveTransition(cause string, state domain.State) {
	if m == nil {
		return
	}

	m.Transitions.WithLabelValues(cause).Inc()

	for _, field := range domain.Fields() {
		value := 0.0

		switch state.Get(field) {
		case string(domain.On), string(domain.DoorClose):
			value = 1
		}

		m.StateField.WithLabelValues(string(field)).Set(value)
	}
}

// ObserveRejection records a guard rejection.
func (m *Metrics) ObserveRejection(command string) {
	if m == nil {
		return
	}

	m.GuardRejections.WithLabelValues(command).Inc()
}

// ObserveDroppedCommand records a command dropped on a full queue.
func (m *Metrics) ObserveDroppedCommand(command string) {
	if m == nil {
		return
	}

	m.DroppedCommands.WithLabelValues(command).Inc()
}

// ObservePersistFailure records a failed snapshot write.
func (m *Metrics) ObservePersistFailure() {
	if m == nil {
		return
	}

	m.PersistFailures.Inc()
}

// ObservePublishFailure records a failed publish.
func (m *Metrics) ObservePublishFailure(topic string) {
	if m == nil {
		return
	}

	m.PublishFailures.WithLabelValues(topic).Inc()
}

// SetMQTTConnected mirrors the connection status.
func (m *Metrics) SetMQTTConnected(connected bool) {
	if m == nil {
		return
	}

	value := 0.0
	if connected {
		value = 1
	}

	m.MQTTConnected.Set(value)
}

// ObserveEdge records one raw input edge.
func (m *Metrics) ObserveEdge(line, edge string, accepted bool) {
	if m == nil {
		return
	}

	outcome := "throttled"
	if accepted {
		outcome = "accepted"
	}

	m.InputEdges.WithLabelValues(line, edge, outcome).Inc()
}

// ObservePulse records one output pulse.
func (m *Metrics) ObservePulse(channel string) {
	if m == nil {
		return
	}

	m.OutputPulses.WithLabelValues(channel).Inc()
}
