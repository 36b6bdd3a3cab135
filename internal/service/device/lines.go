package device

import (
	"context"

	"github.com/oshokin/door-alarm/internal/config"
	"github.com/oshokin/door-alarm/internal/controller"
	"github.com/oshokin/door-alarm/internal/device/gpio"
	"github.com/oshokin/door-alarm/internal/device/input"
	"github.com/oshokin/door-alarm/internal/device/pulse"
	"github.com/oshokin/door-alarm/internal/device/sim"
)

// consumer labels requested lines in the kernel.
const consumer = "door-alarm"

// Backend hands out input and output lines. Both the hardware chip and the
// simulated board implement it.
type Backend interface {
	Output(offset int) (pulse.Output, error)
	Input(offset int, onEdge func(rising bool)) (input.Reader, error)
	Close() error
}

// outputPin pairs a controller channel with its line offset.
type outputPin struct {
	channel controller.Channel
	offset  int
}

// inputPin pairs an input name with its line offset.
type inputPin struct {
	name   string
	offset int
}

// Input names, used as metric labels.
const (
	inputDoorSensor             = "door-sensor"
	inputNotificationTriggerOff = "notification-trigger-off-button"
	inputNotificationTriggerOn  = "notification-trigger-on-button"
	inputSirenTriggerOff        = "siren-trigger-off-button"
	inputSirenTriggerOn         = "siren-trigger-on-button"
	inputSiren                  = "siren-button"
)

func outputPins(pins config.OutputPins) []outputPin {
	return []outputPin{
		{controller.NotificationTriggerOffLED, pins.NotificationTriggerOffLED},
		{controller.NotificationTriggerOnLED, pins.NotificationTriggerOnLED},
		{controller.SirenTriggerOffLED, pins.SirenTriggerOffLED},
		{controller.SirenTriggerOnLED, pins.SirenTriggerOnLED},
		{controller.SirenLED, pins.SirenLED},
		{controller.Buzzer, pins.Buzzer},
		{controller.Siren, pins.Siren},
	}
}

func buttonPins(pins config.InputPins) []inputPin {
	return []inputPin{
		{inputNotificationTriggerOff, pins.NotificationTriggerOffButton},
		{inputNotificationTriggerOn, pins.NotificationTriggerOnButton},
		{inputSirenTriggerOff, pins.SirenTriggerOffButton},
		{inputSirenTriggerOn, pins.SirenTriggerOnButton},
		{inputSiren, pins.SirenButton},
	}
}

// buttonCommands maps each button to the command sent on its rising edge.
//
//nolint:gochecknoglobals // Read-only lookup table.
var buttonCommands = map[string]controller.Command{
	inputNotificationTriggerOff: controller.NotificationTriggerOff,
	inputNotificationTriggerOn:  controller.NotificationTriggerOn,
	inputSirenTriggerOff:        controller.SirenTriggerOff,
	inputSirenTriggerOn:         controller.SirenTriggerOnButton,
	inputSiren:                  controller.SirenOff,
}

// openBackend selects the simulated board or the hardware chip.
// The simulated door starts closed.
//
//nolint:ireturn // Hardware and simulated backends are interchangeable.
func openBackend(ctx context.Context, cfg config.GPIOConfig) Backend {
	if cfg.Simulate {
		return sim.NewBoard(ctx, sim.WithLevel(cfg.Inputs.DoorSensor, 1))
	}

	return gpio.Open(cfg.Chip, consumer)
}
