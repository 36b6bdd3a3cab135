// Package bridge connects the alarm controller to remote observers over a
// message channel.
//
// Inbound topics become controller commands. Every state change is published
// retained on the state topic, and door openings are announced on door-open
// while notifications are armed. Transport failures are logged and never
// stop the device; without a transport the bridge runs offline.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/oshokin/door-alarm/internal/controller"
	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
	"github.com/oshokin/door-alarm/internal/logger"
	"github.com/oshokin/door-alarm/internal/metrics"
	"github.com/oshokin/door-alarm/internal/transport"
)

// Topics relative to the device prefix.
const (
	TopicState    = "state"
	TopicDoorOpen = "door-open"
	TopicAll      = "#"

	doorOpenPayload     = "{}"
	payloadIndent       = "    "
	defaultOutboundSize = 32
)

// commands maps inbound topics to controller commands.
//
//nolint:gochecknoglobals // Read-only lookup table.
var commands = map[string]controller.Command{
	"notification-trigger-off": controller.NotificationTriggerOff,
	"notification-trigger-on":  controller.NotificationTriggerOn,
	"siren-trigger-off":        controller.SirenTriggerOff,
	"siren-trigger-on":         controller.SirenTriggerOnRemote,
	"siren-off":                controller.SirenOff,
}

// Transport is the message channel used by the bridge.
type Transport interface {
	Connect(ctx context.Context, h transport.Handlers) error
	Publish(ctx context.Context, topic string, payload []byte, qos transport.QoS, retain bool) error
	Subscribe(ctx context.Context, pattern string, qos transport.QoS) error
	Close()
}

// Dispatcher accepts commands for the controller without waiting for them.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd controller.Command) error
}

// message is one queued outbound publication.
type message struct {
	topic   string
	payload []byte
	retain  bool
}

// Bridge relays commands and state between the controller and the transport.
type Bridge struct {
	// transport is nil when the bridge runs offline.
	transport Transport
	// metrics is optional.
	metrics *metrics.Metrics
	// onStatus reports connectivity changes.
	onStatus func(connected bool)
	// outbound preserves publication order for the sender loop.
	outbound chan message
	// offline is set when the transport could not be set up.
	offline atomic.Bool

	// mu protects connectivity.
	mu sync.Mutex
	// connectivity is the current connection state.
	connectivity Connectivity
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithMetrics reports publication failures and connectivity to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithStatusHook calls fn whenever the connection is established or lost.
func WithStatusHook(fn func(connected bool)) Option {
	return func(b *Bridge) {
		b.onStatus = fn
	}
}

// New creates a bridge. A nil transport makes it run offline.
func New(t Transport, opts ...Option) *Bridge {
	b := &Bridge{
		transport: t,
		outbound:  make(chan message, defaultOutboundSize),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Connectivity returns the current connection state.
func (b *Bridge) Connectivity() Connectivity {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.connectivity
}

// Run connects the transport, forwards inbound commands to d and publishes
// queued messages until ctx is done. It returns nil: transport failures are
// never fatal.
func (b *Bridge) Run(ctx context.Context, d Dispatcher) error {
	ctx = logger.WithName(ctx, "bridge")

	if b.transport == nil {
		logger.Warn(ctx, "MQTT is disabled")
		b.report(false)
		<-ctx.Done()

		return nil
	}

	defer b.transport.Close()

	err := b.transport.Connect(ctx, transport.Handlers{
		OnConnect: func() { b.connected(ctx, d) },
		OnClose:   func(err error) { b.closed(ctx, err) },
		OnMessage: func(topic string, payload []byte) { b.received(ctx, d, topic, payload) },
	})
	switch {
	case errors.Is(err, transport.ErrMisconfigured):
		logger.ErrorKV(ctx, "MQTT is misconfigured, running offline", "error", err)
		b.offline.Store(true)
		b.closed(ctx, err)
		<-ctx.Done()

		return nil
	case err != nil:
		logger.WarnKV(ctx, "MQTT connection failed, retrying in background", "error", err)
		b.closed(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-b.outbound:
			b.send(ctx, m)
		}
	}
}

// PublishState queues the retained snapshot publication.
func (b *Bridge) PublishState(ctx context.Context, snapshot domain.Snapshot) {
	payload, err := json.MarshalIndent(snapshot, "", payloadIndent)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to encode state", "error", err)

		return
	}

	b.enqueue(ctx, message{topic: TopicState, payload: payload, retain: true})
}

// PublishDoorOpen queues the door-open notification.
func (b *Bridge) PublishDoorOpen(ctx context.Context) {
	b.enqueue(ctx, message{topic: TopicDoorOpen, payload: []byte(doorOpenPayload)})
}

func (b *Bridge) enqueue(ctx context.Context, m message) {
	if b.transport == nil || b.offline.Load() {
		logger.DebugKV(ctx, "MQTT is offline, no data sent", "topic", m.topic)

		return
	}

	select {
	case b.outbound <- m:
	default:
		logger.WarnKV(ctx, "Outbound queue is full, message dropped", "topic", m.topic)
		b.metrics.ObservePublishFailure(m.topic)
	}
}

func (b *Bridge) send(ctx context.Context, m message) {
	if err := b.transport.Publish(ctx, m.topic, m.payload, transport.ExactlyOnce, m.retain); err != nil {
		logger.WarnKV(ctx, "Failed to publish", "topic", m.topic, "error", err)
		b.metrics.ObservePublishFailure(m.topic)
	}
}

func (b *Bridge) connected(ctx context.Context, d Dispatcher) {
	next, changed := b.advance(true)
	if !changed {
		return
	}

	logger.Infof(ctx, "MQTT client %s", next)
	b.report(true)

	if err := b.transport.Subscribe(ctx, TopicAll, transport.ExactlyOnce); err != nil {
		logger.WarnKV(ctx, "Failed to subscribe", "error", err)
	}

	if err := d.Dispatch(ctx, controller.RepublishState); err != nil {
		logger.WarnKV(ctx, "Failed to request state republish", "error", err)
	}
}

func (b *Bridge) closed(ctx context.Context, err error) {
	next, changed := b.advance(false)
	if !changed {
		return
	}

	logger.InfoKV(ctx, "MQTT client "+next.String(), "error", err)
	b.report(false)
}

func (b *Bridge) received(ctx context.Context, d Dispatcher, topic string, payload []byte) {
	cmd, ok := commands[topic]
	if !ok {
		logger.DebugKV(ctx, "Ignored message", "topic", topic, "size", len(payload))

		return
	}

	logger.InfoKV(ctx, "Remote command received", "topic", topic)

	if err := d.Dispatch(ctx, cmd); err != nil {
		logger.WarnKV(ctx, "Failed to dispatch remote command", "topic", topic, "error", err)
	}
}

func (b *Bridge) advance(up bool) (Connectivity, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.connectivity.next(up)
	if next == b.connectivity {
		return next, false
	}

	b.connectivity = next

	return next, true
}

func (b *Bridge) report(connected bool) {
	b.metrics.SetMQTTConnected(connected)

	if b.onStatus != nil {
		b.onStatus(connected)
	}
}
