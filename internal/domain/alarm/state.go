package alarm

import (
	"fmt"
	"time"
)

// Switch is a two-valued state field.
type Switch string

const (
	// On means the switch is engaged.
	On Switch = "ON"
	// Off means the switch is released.
	Off Switch = "OFF"
)

// DoorState is the last known door position.
type DoorState string

const (
	// DoorOpen is reported when the sensor line is low.
	DoorOpen DoorState = "OPEN"
	// DoorClose is reported when the sensor line is high.
	DoorClose DoorState = "CLOSE"
)

// DoorStateFromLevel maps a raw sensor level to a door position.
func DoorStateFromLevel(level int) DoorState {
	if level != 0 {
		return DoorClose
	}

	return DoorOpen
}

// Field names a State field for single-value lookups.
type Field string

// State fields, named as they appear on the wire.
const (
	FieldNotificationTrigger   Field = "notificationTrigger"
	FieldSirenTrigger          Field = "sirenTrigger"
	FieldSiren                 Field = "siren"
	FieldDelayedSirenTriggerOn Field = "delayedSirenTriggerOn"
	FieldDelayedSirenOn        Field = "delayedSirenOn"
	FieldDoorState             Field = "doorState"
)

// Fields lists every State field in wire order.
func Fields() []Field {
	return []Field{
		FieldNotificationTrigger,
		FieldSirenTrigger,
		FieldSiren,
		FieldDelayedSirenTriggerOn,
		FieldDelayedSirenOn,
		FieldDoorState,
	}
}

// State represents the alarm status at a specific point in time.
type State struct {
	// NotificationTrigger arms door-open notifications.
	NotificationTrigger Switch `json:"notificationTrigger"`
	// SirenTrigger arms siren escalation.
	SirenTrigger Switch `json:"sirenTrigger"`
	// Siren is engaged while the siren is sounding.
	Siren Switch `json:"siren"`
	// DelayedSirenTriggerOn is engaged while siren arming waits for its grace period.
	DelayedSirenTriggerOn Switch `json:"delayedSirenTriggerOn"`
	// DelayedSirenOn is engaged while siren activation waits for its grace period.
	DelayedSirenOn Switch `json:"delayedSirenOn"`
	// DoorState is the last known door position.
	DoorState DoorState `json:"doorState"`
}

// DefaultState returns the state used before anything is loaded.
func DefaultState() State {
	return State{
		NotificationTrigger:   Off,
		SirenTrigger:          Off,
		Siren:                 Off,
		DelayedSirenTriggerOn: Off,
		DelayedSirenOn:        Off,
		DoorState:             DoorClose,
	}
}

// Get returns the string value of the named field, or an empty string for unknown fields.
func (s State) Get(field Field) string {
	switch field {
	case FieldNotificationTrigger:
		return string(s.NotificationTrigger)
	case FieldSirenTrigger:
		return string(s.SirenTrigger)
	case FieldSiren:
		return string(s.Siren)
	case FieldDelayedSirenTriggerOn:
		return string(s.DelayedSirenTriggerOn)
	case FieldDelayedSirenOn:
		return string(s.DelayedSirenOn)
	case FieldDoorState:
		return string(s.DoorState)
	default:
		return ""
	}
}

// Merge applies every non-nil field of the update.
func (s *State) Merge(u Update) {
	if u.NotificationTrigger != nil {
		s.NotificationTrigger = *u.NotificationTrigger
	}

	if u.SirenTrigger != nil {
		s.SirenTrigger = *u.SirenTrigger
	}

	if u.Siren != nil {
		s.Siren = *u.Siren
	}

	if u.DelayedSirenTriggerOn != nil {
		s.DelayedSirenTriggerOn = *u.DelayedSirenTriggerOn
	}

	if u.DelayedSirenOn != nil {
		s.DelayedSirenOn = *u.DelayedSirenOn
	}

	if u.DoorState != nil {
		s.DoorState = *u.DoorState
	}
}

// Durable returns the subset of the state that is persisted across restarts.
func (s State) Durable() *Durable {
	return &Durable{
		NotificationTrigger: s.NotificationTrigger,
		SirenTrigger:        s.SirenTrigger,
	}
}

// WithDurable returns a copy of the state with the durable fields replaced.
func (s State) WithDurable(d *Durable) State {
	if d == nil {
		return s
	}

	s.NotificationTrigger = d.NotificationTrigger
	s.SirenTrigger = d.SirenTrigger

	return s
}

// Stamp wraps the state into a broadcast snapshot.
func (s State) Stamp(at time.Time) Snapshot {
	return Snapshot{
		State:     s,
		Timestamp: at.UnixMilli(),
	}
}

// String renders the state for logs.
func (s State) String() string {
	return fmt.Sprintf(
		"notification=%s siren_trigger=%s siren=%s delayed_siren_trigger_on=%s delayed_siren_on=%s door=%s",
		s.NotificationTrigger,
		s.SirenTrigger,
		s.Siren,
		s.DelayedSirenTriggerOn,
		s.DelayedSirenOn,
		s.DoorState,
	)
}

// Valid reports whether the switch holds a known value.
func (w Switch) Valid() bool {
	return w == On || w == Off
}

// Durable is the persisted subset of State.
type Durable struct {
	// NotificationTrigger survives restarts.
	NotificationTrigger Switch `json:"notificationTrigger"`
	// SirenTrigger survives restarts.
	SirenTrigger Switch `json:"sirenTrigger"`
}

// Snapshot is the broadcast form of State.
type Snapshot struct {
	State

	// Timestamp is the broadcast time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Update is a partial State; nil fields are left untouched by Merge.
type Update struct {
	NotificationTrigger   *Switch
	SirenTrigger          *Switch
	Siren                 *Switch
	DelayedSirenTriggerOn *Switch
	DelayedSirenOn        *Switch
	DoorState             *DoorState
}

// Ptr returns a pointer to v, for building updates inline.
func Ptr[T Switch | DoorState](v T) *T {
	return &v
}
