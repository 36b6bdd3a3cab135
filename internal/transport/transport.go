// Package transport describes the message channel between the device and
// remote observers.
package transport

import "errors"

// QoS is the delivery guarantee of a message.
type QoS byte

// Delivery guarantees.
const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// Handlers receive connection events and inbound messages.
// Topics passed to OnMessage are relative to the device prefix.
type Handlers struct {
	// OnConnect is called on every successful connection, including reconnects.
	OnConnect func()
	// OnClose is called when an established connection is lost.
	OnClose func(err error)
	// OnMessage is called for every inbound message.
	OnMessage func(topic string, payload []byte)
}

var (
	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("transport timeout")
	// ErrNotConnected is returned when the channel was never opened.
	ErrNotConnected = errors.New("transport not connected")
	// ErrMisconfigured is returned by Connect when the channel cannot be set up
	// at all, so no reconnection will ever be attempted.
	ErrMisconfigured = errors.New("transport misconfigured")
)
