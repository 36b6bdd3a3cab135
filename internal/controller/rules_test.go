package controller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/door-alarm/internal/device/pulse"
	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
)

func TestPlan(t *testing.T) {
	t.Parallel()

	idle := domain.DefaultState()

	armed := idle
	armed.SirenTrigger = domain.On

	arming := idle
	arming.DelayedSirenTriggerOn = domain.On

	sounding := armed
	sounding.Siren = domain.On

	pendingSiren := armed
	pendingSiren.DelayedSirenOn = domain.On

	notifying := idle
	notifying.NotificationTrigger = domain.On

	tests := []struct {
		name    string
		command Command
		state   domain.State
		want    domain.Update
		buzz    pulse.Pattern
		ok      bool
	}{
		{
			name:    "door closed always applies",
			command: DoorClosed,
			state:   idle,
			want:    domain.Update{DoorState: domain.Ptr(domain.DoorClose)},
			ok:      true,
		},
		{
			name:    "door opened while disarmed",
			command: DoorOpened,
			state:   idle,
			want:    domain.Update{DoorState: domain.Ptr(domain.DoorOpen)},
			ok:      true,
		},
		{
			name:    "door opened while armed starts activation",
			command: DoorOpened,
			state:   armed,
			want: domain.Update{
				DoorState:      domain.Ptr(domain.DoorOpen),
				DelayedSirenOn: domain.Ptr(domain.On),
			},
			ok: true,
		},
		{
			name:    "door opened while siren sounds",
			command: DoorOpened,
			state:   sounding,
			want:    domain.Update{DoorState: domain.Ptr(domain.DoorOpen)},
			ok:      true,
		},
		{
			name:    "door opened while activation pending",
			command: DoorOpened,
			state:   pendingSiren,
			want:    domain.Update{DoorState: domain.Ptr(domain.DoorOpen)},
			ok:      true,
		},
		{
			name:    "notification on",
			command: NotificationTriggerOn,
			state:   idle,
			want:    domain.Update{NotificationTrigger: domain.Ptr(domain.On)},
			buzz:    AckBuzz,
			ok:      true,
		},
		{
			name:    "notification on twice",
			command: NotificationTriggerOn,
			state:   notifying,
		},
		{
			name:    "notification off",
			command: NotificationTriggerOff,
			state:   notifying,
			want:    domain.Update{NotificationTrigger: domain.Ptr(domain.Off)},
			buzz:    AckBuzz,
			ok:      true,
		},
		{
			name:    "notification off when off",
			command: NotificationTriggerOff,
			state:   idle,
		},
		{
			name:    "button arming",
			command: SirenTriggerOnButton,
			state:   idle,
			want:    domain.Update{DelayedSirenTriggerOn: domain.Ptr(domain.On)},
			ok:      true,
		},
		{
			name:    "button arming while arming",
			command: SirenTriggerOnButton,
			state:   arming,
		},
		{
			name:    "button arming while armed",
			command: SirenTriggerOnButton,
			state:   armed,
		},
		{
			name:    "remote arming",
			command: SirenTriggerOnRemote,
			state:   idle,
			want: domain.Update{
				SirenTrigger:          domain.Ptr(domain.On),
				DelayedSirenTriggerOn: domain.Ptr(domain.Off),
			},
			buzz: ArmedBuzz,
			ok:   true,
		},
		{
			name:    "remote arming overrides pending arming",
			command: SirenTriggerOnRemote,
			state:   arming,
			want: domain.Update{
				SirenTrigger:          domain.Ptr(domain.On),
				DelayedSirenTriggerOn: domain.Ptr(domain.Off),
			},
			buzz: ArmedBuzz,
			ok:   true,
		},
		{
			name:    "remote arming while armed",
			command: SirenTriggerOnRemote,
			state:   armed,
		},
		{
			name:    "disarm cancels pending arming",
			command: SirenTriggerOff,
			state:   arming,
			want: domain.Update{
				SirenTrigger:          domain.Ptr(domain.Off),
				DelayedSirenTriggerOn: domain.Ptr(domain.Off),
			},
			buzz: AckBuzz,
			ok:   true,
		},
		{
			name:    "disarm when disarmed",
			command: SirenTriggerOff,
			state:   idle,
		},
		{
			name:    "siren off silences",
			command: SirenOff,
			state:   sounding,
			want: domain.Update{
				DelayedSirenOn: domain.Ptr(domain.Off),
				Siren:          domain.Ptr(domain.Off),
			},
			buzz: AckBuzz,
			ok:   true,
		},
		{
			name:    "siren off cancels activation",
			command: SirenOff,
			state:   pendingSiren,
			want: domain.Update{
				DelayedSirenOn: domain.Ptr(domain.Off),
				Siren:          domain.Ptr(domain.Off),
			},
			buzz: AckBuzz,
			ok:   true,
		},
		{
			name:    "siren off when silent",
			command: SirenOff,
			state:   armed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			update, buzz, ok := Plan(tt.command, tt.state)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, update)
			require.Equal(t, tt.buzz, buzz)
		})
	}
}

// TestPlan_PendingNeverOverlapsActive walks every state reachable through
// guarded commands and fired grace periods and checks that an active switch
// and its pending counterpart are never both ON.
func TestPlan_PendingNeverOverlapsActive(t *testing.T) {
	t.Parallel()

	commands := []Command{
		DoorClosed,
		DoorOpened,
		NotificationTriggerOff,
		NotificationTriggerOn,
		SirenTriggerOff,
		SirenTriggerOnButton,
		SirenTriggerOnRemote,
		SirenOff,
	}

	armFired := domain.Update{
		SirenTrigger:          domain.Ptr(domain.On),
		DelayedSirenTriggerOn: domain.Ptr(domain.Off),
	}

	activateFired := domain.Update{
		Siren:          domain.Ptr(domain.On),
		DelayedSirenOn: domain.Ptr(domain.Off),
	}

	start := domain.DefaultState()
	seen := map[domain.State]bool{start: true}
	queue := []domain.State{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		var next []domain.State

		for _, cmd := range commands {
			update, _, ok := Plan(cmd, current)
			if !ok {
				continue
			}

			s := current
			s.Merge(update)
			next = append(next, s)
		}

		if current.DelayedSirenTriggerOn == domain.On {
			s := current
			s.Merge(armFired)
			next = append(next, s)
		}

		if current.DelayedSirenOn == domain.On {
			s := current
			s.Merge(activateFired)
			next = append(next, s)
		}

		for _, s := range next {
			require.False(t, s.SirenTrigger == domain.On && s.DelayedSirenTriggerOn == domain.On, s.String())
			require.False(t, s.Siren == domain.On && s.DelayedSirenOn == domain.On, s.String())

			if !seen[s] {
				seen[s] = true
				queue = append(queue, s)
			}
		}
	}

	require.Greater(t, len(seen), 10)
}

func TestDerive(t *testing.T) {
	t.Parallel()

	t.Run("idle", func(t *testing.T) {
		t.Parallel()

		got := Derive(domain.DefaultState(), pulse.Pattern{})
		require.Equal(t, map[Channel]pulse.Intent{
			NotificationTriggerOffLED: pulse.SteadyOn,
			NotificationTriggerOnLED:  pulse.SteadyOff,
			SirenTriggerOffLED:        pulse.SteadyOn,
			SirenTriggerOnLED:         pulse.SteadyOff,
			SirenLED:                  pulse.SteadyOff,
			Buzzer:                    pulse.SteadyOff,
			Siren:                     pulse.SteadyOff,
		}, got)
	})

	t.Run("arming wins over override", func(t *testing.T) {
		t.Parallel()

		s := domain.DefaultState()
		s.DelayedSirenTriggerOn = domain.On

		got := Derive(s, AckBuzz)
		require.Equal(t, pulse.Blink(PendingLEDBlink), got[SirenTriggerOnLED])
		require.Equal(t, pulse.Blink(ArmingBuzz), got[Buzzer])
		require.Equal(t, pulse.SteadyOn, got[SirenTriggerOffLED])
	})

	t.Run("override", func(t *testing.T) {
		t.Parallel()

		got := Derive(domain.DefaultState(), ArmedBuzz)
		require.Equal(t, pulse.Blink(ArmedBuzz), got[Buzzer])
	})

	t.Run("sounding", func(t *testing.T) {
		t.Parallel()

		s := domain.DefaultState()
		s.SirenTrigger = domain.On
		s.Siren = domain.On
		s.NotificationTrigger = domain.On

		got := Derive(s, pulse.Pattern{})
		require.Equal(t, pulse.SteadyOn, got[Siren])
		require.Equal(t, pulse.SteadyOn, got[SirenLED])
		require.Equal(t, pulse.SteadyOn, got[SirenTriggerOnLED])
		require.Equal(t, pulse.SteadyOff, got[SirenTriggerOffLED])
		require.Equal(t, pulse.SteadyOn, got[NotificationTriggerOnLED])
		require.Equal(t, pulse.SteadyOff, got[NotificationTriggerOffLED])
	})

	t.Run("activation pending", func(t *testing.T) {
		t.Parallel()

		s := domain.DefaultState()
		s.SirenTrigger = domain.On
		s.DelayedSirenOn = domain.On

		got := Derive(s, pulse.Pattern{})
		require.Equal(t, pulse.Blink(PendingLEDBlink), got[SirenLED])
		require.Equal(t, pulse.SteadyOff, got[Siren])
	})
}
