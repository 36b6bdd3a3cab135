package controller

import (
	"github.com/oshokin/door-alarm/internal/device/pulse"
	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
)

// Command is a guarded event understood by the controller.
type Command int

// Commands produced by physical inputs and the remote bridge.
const (
	// DoorClosed is the debounced rising edge of the door sensor.
	DoorClosed Command = iota + 1
	// DoorOpened is the debounced falling edge of the door sensor.
	DoorOpened
	// NotificationTriggerOff disarms door-open notifications.
	NotificationTriggerOff
	// NotificationTriggerOn arms door-open notifications.
	NotificationTriggerOn
	// SirenTriggerOff disarms the siren, also while arming is pending.
	SirenTriggerOff
	// SirenTriggerOnButton starts arming the siren after the grace period.
	SirenTriggerOnButton
	// SirenTriggerOnRemote arms the siren at once.
	SirenTriggerOnRemote
	// SirenOff silences the siren or cancels a pending activation.
	SirenOff
	// RepublishState broadcasts the current snapshot without changing it.
	RepublishState
)

// String returns the command name used in logs and metrics.
func (c Command) String() string {
	switch c {
	case DoorClosed:
		return "door-closed"
	case DoorOpened:
		return "door-opened"
	case NotificationTriggerOff:
		return "notification-trigger-off"
	case NotificationTriggerOn:
		return "notification-trigger-on"
	case SirenTriggerOff:
		return "siren-trigger-off"
	case SirenTriggerOnButton:
		return "siren-trigger-on-button"
	case SirenTriggerOnRemote:
		return "siren-trigger-on-remote"
	case SirenOff:
		return "siren-off"
	case RepublishState:
		return "republish-state"
	default:
		return "unknown"
	}
}

// Acknowledgment buzzes requested by transitions.
var (
	// AckBuzz confirms a single request.
	AckBuzz = pulse.Times(25, 150, 1)
	// ArmedBuzz confirms that the siren is armed.
	ArmedBuzz = pulse.Times(25, 150, 3)
)

// Plan evaluates the guard of cmd against s. It returns the update to apply,
// the buzzer override and whether the guard held.
//
//nolint:cyclop // One case per command keeps the rule table readable.
func Plan(cmd Command, s domain.State) (domain.Update, pulse.Pattern, bool) {
	switch cmd {
	case DoorClosed:
		return domain.Update{DoorState: domain.Ptr(domain.DoorClose)}, pulse.Pattern{}, true

	case DoorOpened:
		update := domain.Update{DoorState: domain.Ptr(domain.DoorOpen)}
		if s.SirenTrigger == domain.On && s.DelayedSirenOn == domain.Off && s.Siren == domain.Off {
			update.DelayedSirenOn = domain.Ptr(domain.On)
		}

		return update, pulse.Pattern{}, true

	case NotificationTriggerOff:
		if s.NotificationTrigger != domain.On {
			break
		}

		return domain.Update{NotificationTrigger: domain.Ptr(domain.Off)}, AckBuzz, true

	case NotificationTriggerOn:
		if s.NotificationTrigger != domain.Off {
			break
		}

		return domain.Update{NotificationTrigger: domain.Ptr(domain.On)}, AckBuzz, true

	case SirenTriggerOff:
		if s.SirenTrigger != domain.On && s.DelayedSirenTriggerOn != domain.On {
			break
		}

		return domain.Update{
			SirenTrigger:          domain.Ptr(domain.Off),
			DelayedSirenTriggerOn: domain.Ptr(domain.Off),
		}, AckBuzz, true

	case SirenTriggerOnButton:
		if s.SirenTrigger != domain.Off || s.DelayedSirenTriggerOn != domain.Off {
			break
		}

		return domain.Update{DelayedSirenTriggerOn: domain.Ptr(domain.On)}, pulse.Pattern{}, true

	case SirenTriggerOnRemote:
		if s.SirenTrigger != domain.Off {
			break
		}

		return domain.Update{
			SirenTrigger:          domain.Ptr(domain.On),
			DelayedSirenTriggerOn: domain.Ptr(domain.Off),
		}, ArmedBuzz, true

	case SirenOff:
		if s.DelayedSirenOn != domain.On && s.Siren != domain.On {
			break
		}

		return domain.Update{
			DelayedSirenOn: domain.Ptr(domain.Off),
			Siren:          domain.Ptr(domain.Off),
		}, AckBuzz, true
	}

	return domain.Update{}, pulse.Pattern{}, false
}
