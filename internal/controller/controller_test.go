package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/door-alarm/internal/device/pulse"
	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
	"github.com/oshokin/door-alarm/internal/metrics"
	"github.com/oshokin/door-alarm/internal/repository/state"
)

var errTestOutput = errors.New("test output error")

// fakeDriver records every applied intent.
type fakeDriver struct {
	mu      sync.Mutex
	intents []pulse.Intent
	stops   int
	fail    error
}

func (d *fakeDriver) Apply(intent pulse.Intent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fail != nil {
		return d.fail
	}

	d.intents = append(d.intents, intent)

	return nil
}

func (d *fakeDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stops++
}

func (d *fakeDriver) last() pulse.Intent {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.intents) == 0 {
		return pulse.Intent{}
	}

	return d.intents[len(d.intents)-1]
}

func (d *fakeDriver) count(intent pulse.Intent) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0

	for _, i := range d.intents {
		if i == intent {
			n++
		}
	}

	return n
}

// memoryRepository keeps saved values in memory.
type memoryRepository struct {
	mu      sync.Mutex
	stored  *domain.Durable
	loadErr error
	saveErr error
	saves   []domain.Durable
}

func (r *memoryRepository) Load(context.Context) (*domain.Durable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadErr != nil {
		return nil, r.loadErr
	}

	if r.stored == nil {
		return nil, state.ErrNotFound
	}

	d := *r.stored

	return &d, nil
}

func (r *memoryRepository) Save(_ context.Context, d *domain.Durable) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveErr != nil {
		return r.saveErr
	}

	saved := *d
	r.stored = &saved
	r.saves = append(r.saves, saved)

	return nil
}

func (r *memoryRepository) history() []domain.Durable {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]domain.Durable(nil), r.saves...)
}

// recordingBroadcaster remembers published snapshots.
type recordingBroadcaster struct {
	mu        sync.Mutex
	snapshots []domain.Snapshot
	doorOpens int
}

func (b *recordingBroadcaster) PublishState(_ context.Context, s domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshots = append(b.snapshots, s)
}

func (b *recordingBroadcaster) PublishDoorOpen(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.doorOpens++
}

func (b *recordingBroadcaster) published() ([]domain.Snapshot, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]domain.Snapshot(nil), b.snapshots...), b.doorOpens
}

type fixedSensor int

func (s fixedSensor) Read() (int, error) {
	return int(s), nil
}

type harness struct {
	controller *Controller
	repository *memoryRepository
	bus        *recordingBroadcaster
	outputs    map[Channel]*fakeDriver
}

func newHarness(t *testing.T, level int, stored *domain.Durable, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		repository: &memoryRepository{stored: stored},
		bus:        &recordingBroadcaster{},
		outputs:    make(map[Channel]*fakeDriver),
	}

	drivers := make(map[Channel]Driver)

	for _, ch := range Channels() {
		d := &fakeDriver{}
		h.outputs[ch] = d
		drivers[ch] = d
	}

	c, err := New(Deps{
		Repository:  h.repository,
		Broadcaster: h.bus,
		Sensor:      fixedSensor(level),
		Outputs:     drivers,
	}, opts...)
	require.NoError(t, err)

	h.controller = c

	return h
}

// start initializes the controller and runs it until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()

	require.NoError(t, h.controller.Initialize(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() {
		done <- h.controller.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func (h *harness) handle(t *testing.T, commands ...Command) {
	t.Helper()

	for _, cmd := range commands {
		require.NoError(t, h.controller.Handle(t.Context(), cmd))
	}
}

func TestNew_MissingOutput(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{Outputs: map[Channel]Driver{Siren: &fakeDriver{}}})
	require.ErrorIs(t, err, ErrMissingOutput)
}

func TestInitialize_MissingStateWritesDefaults(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, nil)
		h.start(t)

		require.Equal(t, []domain.Durable{{
			NotificationTrigger: domain.Off,
			SirenTrigger:        domain.Off,
		}}, h.repository.history())

		snapshots, _ := h.bus.published()
		require.Len(t, snapshots, 1)
		require.Equal(t, domain.DoorClose, snapshots[0].DoorState)
		require.Equal(t, time.Now().UnixMilli(), snapshots[0].Timestamp)

		require.Equal(t, pulse.SteadyOn, h.outputs[NotificationTriggerOffLED].last())
		require.Equal(t, pulse.SteadyOn, h.outputs[SirenTriggerOffLED].last())
		require.Equal(t, pulse.SteadyOff, h.outputs[Siren].last())
	})
}

func TestInitialize_CorruptStateWritesDefaults(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 0, nil)
		h.repository.loadErr = state.ErrCorrupt
		h.start(t)

		require.Len(t, h.repository.history(), 1)
		require.Equal(t, domain.DoorOpen, h.controller.Snapshot().DoorState)
	})
}

func TestInitialize_RoundTripThroughFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	repository := state.NewFileRepository(path)

	err := repository.Save(t.Context(), &domain.Durable{
		NotificationTrigger: domain.On,
		SirenTrigger:        domain.On,
	})
	require.NoError(t, err)

	drivers := make(map[Channel]Driver)
	for _, ch := range Channels() {
		drivers[ch] = &fakeDriver{}
	}

	c, err := New(Deps{
		Repository: repository,
		Sensor:     fixedSensor(0),
		Outputs:    drivers,
	})
	require.NoError(t, err)
	require.NoError(t, c.Initialize(t.Context()))

	got := c.Snapshot()
	require.Equal(t, domain.On, got.NotificationTrigger)
	require.Equal(t, domain.On, got.SirenTrigger)
	require.Equal(t, domain.DoorOpen, got.DoorState)
	require.Equal(t, domain.Off, got.Siren)
	require.Equal(t, string(domain.On), c.Get(domain.FieldSirenTrigger))
}

func TestInitialize_UnknownSwitchValueResetsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	contents := `{"notificationTrigger": "ON", "sirenTrigger": "MAYBE"}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	drivers := make(map[Channel]Driver)
	for _, ch := range Channels() {
		drivers[ch] = &fakeDriver{}
	}

	at := time.UnixMilli(1_700_000_000_123)
	bus := &recordingBroadcaster{}
	repository := state.NewFileRepository(path)

	c, err := New(Deps{
		Repository:  repository,
		Broadcaster: bus,
		Sensor:      fixedSensor(1),
		Outputs:     drivers,
	}, WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	require.NoError(t, c.Initialize(t.Context()))

	got := c.Snapshot()
	require.Equal(t, domain.Off, got.NotificationTrigger)
	require.Equal(t, domain.Off, got.SirenTrigger)

	durable, err := repository.Load(t.Context())
	require.NoError(t, err)
	require.Equal(t, domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.Off}, *durable)

	snapshots, _ := bus.published()
	require.Len(t, snapshots, 1)
	require.Equal(t, at.UnixMilli(), snapshots[0].Timestamp)
}

func TestDoorOpens_Disarmed(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.Off})
		h.start(t)

		h.handle(t, DoorOpened)

		time.Sleep(time.Minute)

		got := h.controller.Snapshot()
		require.Equal(t, domain.DoorOpen, got.DoorState)
		require.Equal(t, domain.Off, got.DelayedSirenOn)
		require.Equal(t, domain.Off, got.Siren)

		_, doorOpens := h.bus.published()
		require.Zero(t, doorOpens)
	})
}

func TestDoorOpens_NotifiesWhenArmed(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.On, SirenTrigger: domain.Off})
		h.start(t)

		h.handle(t, DoorOpened, DoorClosed, DoorOpened)

		snapshots, doorOpens := h.bus.published()
		require.Equal(t, 2, doorOpens)
		require.Len(t, snapshots, 3)
		require.Equal(t, domain.DoorOpen, snapshots[2].DoorState)
	})
}

func TestDoorOpens_SirenActivatesAfterDelay(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1,
			&domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.On},
			WithDelays(10*time.Second, 20*time.Second),
		)
		h.start(t)

		h.handle(t, DoorClosed, DoorOpened)

		got := h.controller.Snapshot()
		require.Equal(t, domain.On, got.DelayedSirenOn)
		require.Equal(t, domain.Off, got.Siren)
		require.Equal(t, pulse.Blink(PendingLEDBlink), h.outputs[SirenLED].last())

		time.Sleep(19 * time.Second)
		synctest.Wait()
		require.Equal(t, domain.Off, h.controller.Snapshot().Siren)

		time.Sleep(2 * time.Second)
		synctest.Wait()

		got = h.controller.Snapshot()
		require.Equal(t, domain.On, got.Siren)
		require.Equal(t, domain.Off, got.DelayedSirenOn)
		require.Equal(t, pulse.SteadyOn, h.outputs[Siren].last())
		require.Equal(t, pulse.SteadyOn, h.outputs[SirenLED].last())
	})
}

func TestDoorOpens_SirenOffCancelsActivation(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.On})
		h.start(t)

		h.handle(t, DoorOpened)

		time.Sleep(10 * time.Second)
		h.handle(t, SirenOff)

		time.Sleep(time.Minute)
		synctest.Wait()

		got := h.controller.Snapshot()
		require.Equal(t, domain.Off, got.Siren)
		require.Equal(t, domain.Off, got.DelayedSirenOn)
		require.Zero(t, h.outputs[Siren].count(pulse.SteadyOn))
		require.Equal(t, pulse.Blink(AckBuzz), h.outputs[Buzzer].last())
	})
}

func TestButtonArming_CancelledBeforeGracePeriod(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.Off})
		h.start(t)

		h.handle(t, SirenTriggerOnButton)

		got := h.controller.Snapshot()
		require.Equal(t, domain.On, got.DelayedSirenTriggerOn)
		require.Equal(t, domain.Off, got.SirenTrigger)
		require.Equal(t, pulse.Blink(ArmingBuzz), h.outputs[Buzzer].last())
		require.Equal(t, pulse.Blink(PendingLEDBlink), h.outputs[SirenTriggerOnLED].last())

		time.Sleep(10 * time.Second)
		h.handle(t, SirenTriggerOff)

		time.Sleep(time.Minute)
		synctest.Wait()

		got = h.controller.Snapshot()
		require.Equal(t, domain.Off, got.SirenTrigger)
		require.Equal(t, domain.Off, got.DelayedSirenTriggerOn)
		require.Equal(t, pulse.Blink(AckBuzz), h.outputs[Buzzer].last())
		require.Equal(t, pulse.SteadyOff, h.outputs[SirenTriggerOnLED].last())

		for _, saved := range h.repository.history() {
			require.Equal(t, domain.Off, saved.SirenTrigger)
		}
	})
}

func TestButtonArming_CompletesAfterGracePeriod(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.Off})
		h.start(t)

		h.handle(t, SirenTriggerOnButton)

		time.Sleep(DefaultArmDelay + time.Second)
		synctest.Wait()

		got := h.controller.Snapshot()
		require.Equal(t, domain.On, got.SirenTrigger)
		require.Equal(t, domain.Off, got.DelayedSirenTriggerOn)
		require.Equal(t, pulse.Blink(ArmedBuzz), h.outputs[Buzzer].last())
		require.Equal(t, pulse.SteadyOn, h.outputs[SirenTriggerOnLED].last())

		history := h.repository.history()
		require.Equal(t, domain.On, history[len(history)-1].SirenTrigger)
	})
}

func TestRemoteArming_Immediate(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.Off})
		h.start(t)

		h.handle(t, SirenTriggerOnRemote)

		got := h.controller.Snapshot()
		require.Equal(t, domain.On, got.SirenTrigger)
		require.Equal(t, domain.Off, got.DelayedSirenTriggerOn)
		require.Equal(t, pulse.Blink(ArmedBuzz), h.outputs[Buzzer].last())
	})
}

func TestRemoteArming_SupersedesPendingArming(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.Off})
		h.start(t)

		h.handle(t, SirenTriggerOnButton, SirenTriggerOnRemote)

		time.Sleep(time.Minute)
		synctest.Wait()

		require.Equal(t, 1, h.outputs[Buzzer].count(pulse.Blink(ArmedBuzz)))
		require.Equal(t, domain.On, h.controller.Snapshot().SirenTrigger)
	})
}

func TestHandle_Idempotent(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.Off})
		h.start(t)

		h.handle(t, NotificationTriggerOn, NotificationTriggerOn)
		synctest.Wait()

		require.Equal(t, 1, h.outputs[Buzzer].count(pulse.Blink(AckBuzz)))
		require.Equal(t, domain.On, h.controller.Snapshot().NotificationTrigger)

		snapshots, _ := h.bus.published()
		require.Len(t, snapshots, 1)
	})
}

func TestHandle_RepublishState(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.On, SirenTrigger: domain.Off})
		h.start(t)

		h.handle(t, RepublishState)

		snapshots, _ := h.bus.published()
		require.Len(t, snapshots, 1)
		require.Equal(t, domain.On, snapshots[0].NotificationTrigger)
		require.Empty(t, h.repository.history())
	})
}

func TestTransition_Reconcile(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.Off})
		h.start(t)

		err := h.controller.Transition(t.Context(), domain.Update{DoorState: domain.Ptr(domain.DoorOpen)}, pulse.Pattern{})
		require.NoError(t, err)
		require.Equal(t, domain.DoorOpen, h.controller.Snapshot().DoorState)
	})
}

func TestRun_OutputFailureIsFatal(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.Off})
		require.NoError(t, h.controller.Initialize(t.Context()))

		done := make(chan error, 1)

		go func() {
			done <- h.controller.Run(t.Context())
		}()

		h.outputs[NotificationTriggerOnLED].mu.Lock()
		h.outputs[NotificationTriggerOnLED].fail = errTestOutput
		h.outputs[NotificationTriggerOnLED].mu.Unlock()

		err := h.controller.Handle(t.Context(), NotificationTriggerOn)
		require.ErrorIs(t, err, errTestOutput)
		require.ErrorIs(t, <-done, errTestOutput)

		require.ErrorIs(t, h.controller.Handle(t.Context(), SirenOff), ErrStopped)
		require.Equal(t, 1, h.outputs[Siren].stops)
	})
}

func TestRun_AsyncFaultIsFatal(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		faults := make(chan error, 1)

		h := newHarness(t, 1, nil, WithFaults(faults))
		require.NoError(t, h.controller.Initialize(t.Context()))

		done := make(chan error, 1)

		go func() {
			done <- h.controller.Run(t.Context())
		}()

		faults <- errTestOutput

		require.ErrorIs(t, <-done, errTestOutput)
	})
}

func TestRun_FailIsFatal(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, nil)
		require.NoError(t, h.controller.Initialize(t.Context()))

		done := make(chan error, 1)

		go func() {
			done <- h.controller.Run(t.Context())
		}()

		h.controller.Fail(errTestOutput)
		h.controller.Fail(errors.New("second fault is dropped"))

		require.ErrorIs(t, <-done, errTestOutput)
	})
}

func TestTransition_PersistFailureKeepsState(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, 1, &domain.Durable{NotificationTrigger: domain.Off, SirenTrigger: domain.Off})
		h.repository.saveErr = errTestOutput
		h.start(t)

		h.handle(t, NotificationTriggerOn)
		synctest.Wait()

		require.Equal(t, domain.On, h.controller.Snapshot().NotificationTrigger)
		require.Empty(t, h.repository.history())
		require.Equal(t, pulse.SteadyOn, h.outputs[NotificationTriggerOnLED].last())
	})
}

func TestDispatch_DropsWhenQueueIsFull(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	h := newHarness(t, 1, nil, WithMetrics(m))

	for range defaultQueueSize {
		require.NoError(t, h.controller.Dispatch(t.Context(), DoorOpened))
	}

	require.ErrorIs(t, h.controller.Dispatch(t.Context(), SirenOff), ErrQueueFull)
	require.InDelta(t, 1, testutil.ToFloat64(m.DroppedCommands.WithLabelValues(SirenOff.String())), 0)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, h.controller.Dispatch(ctx, SirenOff), context.Canceled)
}
