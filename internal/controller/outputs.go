package controller

import (
	"github.com/oshokin/door-alarm/internal/device/pulse"
	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
)

// Channel names one physical output.
type Channel int

// Output channels.
const (
	NotificationTriggerOffLED Channel = iota
	NotificationTriggerOnLED
	SirenTriggerOffLED
	SirenTriggerOnLED
	SirenLED
	Buzzer
	Siren
)

// Channels lists every output channel in render order.
func Channels() []Channel {
	return []Channel{
		NotificationTriggerOffLED,
		NotificationTriggerOnLED,
		SirenTriggerOffLED,
		SirenTriggerOnLED,
		SirenLED,
		Buzzer,
		Siren,
	}
}

// String returns the channel name used in logs and metrics.
func (c Channel) String() string {
	switch c {
	case NotificationTriggerOffLED:
		return "notification-trigger-off-led"
	case NotificationTriggerOnLED:
		return "notification-trigger-on-led"
	case SirenTriggerOffLED:
		return "siren-trigger-off-led"
	case SirenTriggerOnLED:
		return "siren-trigger-on-led"
	case SirenLED:
		return "siren-led"
	case Buzzer:
		return "buzzer"
	case Siren:
		return "siren"
	default:
		return "unknown"
	}
}

// Blink patterns of the pending states.
var (
	// PendingLEDBlink marks a pending arming or activation on its LED.
	PendingLEDBlink = pulse.Endless(250, 500)
	// ArmingBuzz ticks the buzzer while arming is pending.
	ArmingBuzz = pulse.Endless(25, 1000)
)

// Derive computes the intent of every channel from the full state.
// buzz is the buzzer override requested by the transition, if any.
func Derive(s domain.State, buzz pulse.Pattern) map[Channel]pulse.Intent {
	return map[Channel]pulse.Intent{
		NotificationTriggerOffLED: steady(s.NotificationTrigger == domain.Off),
		NotificationTriggerOnLED:  steady(s.NotificationTrigger == domain.On),
		SirenTriggerOffLED:        steady(s.SirenTrigger == domain.Off),
		SirenTriggerOnLED:         pending(s.SirenTrigger, s.DelayedSirenTriggerOn),
		SirenLED:                  pending(s.Siren, s.DelayedSirenOn),
		Buzzer:                    buzzer(s.DelayedSirenTriggerOn, buzz),
		Siren:                     steady(s.Siren == domain.On),
	}
}

func steady(on bool) pulse.Intent {
	if on {
		return pulse.SteadyOn
	}

	return pulse.SteadyOff
}

func pending(active, delayed domain.Switch) pulse.Intent {
	switch {
	case active == domain.On:
		return pulse.SteadyOn
	case delayed == domain.On:
		return pulse.Blink(PendingLEDBlink)
	default:
		return pulse.SteadyOff
	}
}

func buzzer(arming domain.Switch, buzz pulse.Pattern) pulse.Intent {
	switch {
	case arming == domain.On:
		return pulse.Blink(ArmingBuzz)
	case !buzz.IsZero():
		return pulse.Blink(buzz)
	default:
		return pulse.SteadyOff
	}
}
