package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/door-alarm/internal/device/pulse"
	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
	"github.com/oshokin/door-alarm/internal/logger"
	"github.com/oshokin/door-alarm/internal/metrics"
	"github.com/oshokin/door-alarm/internal/repository/state"
	"github.com/oshokin/door-alarm/internal/timerslot"
)

// Repository persists the durable alarm fields.
type Repository interface {
	Load(ctx context.Context) (*domain.Durable, error)
	Save(ctx context.Context, state *domain.Durable) error
}

// Broadcaster publishes state changes to remote observers.
// Both methods are best-effort and must not block for long.
type Broadcaster interface {
	PublishState(ctx context.Context, snapshot domain.Snapshot)
	PublishDoorOpen(ctx context.Context)
}

// Driver renders an intent on one output channel.
type Driver interface {
	Apply(intent pulse.Intent) error
	Stop()
}

// Sensor reads the raw door sensor level.
type Sensor interface {
	Read() (int, error)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	// Repository stores the durable fields.
	Repository Repository
	// Broadcaster is optional; nil runs the controller offline.
	Broadcaster Broadcaster
	// Sensor is read once during Initialize.
	Sensor Sensor
	// Outputs must contain a driver for every channel.
	Outputs map[Channel]Driver
}

// Default grace periods.
const (
	DefaultArmDelay      = 30 * time.Second
	DefaultActivateDelay = 30 * time.Second

	defaultQueueSize = 16
)

// Transition causes reported in logs and metrics.
const (
	causeTimer     = "timer"
	causeReconcile = "reconcile"
)

var (
	// ErrStopped is returned when a request is submitted after Run exited.
	ErrStopped = errors.New("controller stopped")
	// ErrQueueFull is returned by Dispatch when the command was dropped.
	ErrQueueFull = errors.New("controller queue is full")
	// ErrMissingOutput is returned by New when a channel has no driver.
	ErrMissingOutput = errors.New("missing output driver")
)

// Controller owns the alarm state. Construct it with New.
type Controller struct {
	// repository stores the durable fields.
	repository Repository
	// broadcaster is nil when offline.
	broadcaster Broadcaster
	// sensor seeds the door state.
	sensor Sensor
	// outputs maps every channel to its driver.
	outputs map[Channel]Driver
	// metrics is optional.
	metrics *metrics.Metrics
	// now is the broadcast clock.
	now func() time.Time
	// faults delivers asynchronous output write failures.
	faults <-chan error
	// failed receives faults reported through Fail.
	failed chan error

	// armDelay is the siren arming grace period.
	armDelay time.Duration
	// activateDelay is the siren activation grace period.
	activateDelay time.Duration
	// armSlot holds the pending siren arming.
	armSlot *timerslot.Slot
	// activateSlot holds the pending siren activation.
	activateSlot *timerslot.Slot

	// queue feeds Run.
	queue chan request
	// stopped is closed when Run returns.
	stopped chan struct{}
	// stopOnce guards stopped.
	stopOnce sync.Once
	// writer persists durable fields off the loop.
	writer *persister

	// state is owned by the loop goroutine.
	state domain.State
	// mu protects view.
	mu sync.RWMutex
	// view is the copy served to concurrent readers.
	view domain.State
}

// request is one unit of work for the loop.
type request struct {
	// cause labels the transition.
	cause string
	// command is set for guarded requests.
	command Command
	// update and buzz are used when command is zero.
	update domain.Update
	buzz   pulse.Pattern
	// slot and generation identify a fired delayed transition.
	slot       *timerslot.Slot
	generation uint64
	// done receives the result when the submitter waits.
	done chan error
}

// Option configures a Controller.
type Option func(*Controller)

// WithDelays overrides the arming and activation grace periods.
func WithDelays(arm, activate time.Duration) Option {
	return func(c *Controller) {
		c.armDelay = arm
		c.activateDelay = activate
	}
}

// WithMetrics reports transitions to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithClock overrides the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithFaults makes Run fail on the first error received from faults.
func WithFaults(faults <-chan error) Option {
	return func(c *Controller) {
		c.faults = faults
	}
}

// New builds a controller. Every channel in Channels must have a driver.
func New(deps Deps, opts ...Option) (*Controller, error) {
	for _, ch := range Channels() {
		if deps.Outputs[ch] == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingOutput, ch)
		}
	}

	c := &Controller{
		repository:    deps.Repository,
		broadcaster:   deps.Broadcaster,
		sensor:        deps.Sensor,
		outputs:       deps.Outputs,
		now:           time.Now,
		armDelay:      DefaultArmDelay,
		activateDelay: DefaultActivateDelay,
		armSlot:       timerslot.New("siren-arm"),
		activateSlot:  timerslot.New("siren-activate"),
		failed:        make(chan error, 1),
		queue:         make(chan request, defaultQueueSize),
		stopped:       make(chan struct{}),
		state:         domain.DefaultState(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.writer = newPersister(c.repository, c.metrics)
	c.view = c.state

	return c, nil
}

// Initialize loads the durable fields, reads the door sensor and renders
// every output. A missing or unreadable state file is replaced with the
// defaults. It must be called once before Run.
func (c *Controller) Initialize(ctx context.Context) error {
	ctx = logger.WithName(ctx, "controller")

	fresh := false

	durable, err := c.repository.Load(ctx)

	switch {
	case err == nil:
		c.state = c.state.WithDurable(durable)
	case errors.Is(err, state.ErrNotFound):
		logger.Warn(ctx, "State file does not exist, creating a new one")

		fresh = true
	default:
		logger.WarnKV(ctx, "Invalid state file content, resetting to defaults", "error", err)

		fresh = true
	}

	level, err := c.sensor.Read()
	if err != nil {
		return fmt.Errorf("read door sensor: %w", err)
	}

	c.state.DoorState = domain.DoorStateFromLevel(level)

	if fresh {
		if err = c.repository.Save(ctx, c.state.Durable()); err != nil {
			logger.WarnKV(ctx, "Failed to save state", "error", err)
			c.metrics.ObservePersistFailure()
		}

		c.broadcast(ctx)
	}

	c.publishView()
	c.metrics.ObserveTransition("initialize", c.state)

	logger.InfoKV(ctx, "Controller initialized", "state", c.state.String())

	return c.render(pulse.Pattern{})
}

// Run processes requests until ctx is done or an output fails.
// On exit it stops pending grace periods and every output, then flushes
// the latest durable state.
func (c *Controller) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "controller")

	writerCtx, cancelWriter := context.WithCancel(ctx)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)

		c.writer.run(writerCtx)
	}()

	defer func() {
		c.stopOnce.Do(func() { close(c.stopped) })
		c.armSlot.Stop()
		c.activateSlot.Stop()

		for _, ch := range Channels() {
			c.outputs[ch].Stop()
		}

		cancelWriter()
		<-writerDone
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Controller stopped")

			return nil
		case err := <-c.faults:
			return fmt.Errorf("output failure: %w", err)
		case err := <-c.failed:
			return fmt.Errorf("fatal fault: %w", err)
		case req := <-c.queue:
			err := c.process(ctx, req)
			if req.done != nil {
				req.done <- err
			}

			if err != nil {
				return err
			}
		}
	}
}

// Handle submits a guarded command and waits until it is processed.
// A rejected guard is not an error.
func (c *Controller) Handle(ctx context.Context, cmd Command) error {
	return c.await(ctx, request{cause: cmd.String(), command: cmd})
}

// Dispatch submits a guarded command without waiting for it or for room in
// the queue. A command that does not fit is dropped with ErrQueueFull.
func (c *Controller) Dispatch(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}

	select {
	case c.queue <- request{cause: cmd.String(), command: cmd}:
		return nil
	default:
		c.metrics.ObserveDroppedCommand(cmd.String())

		return ErrQueueFull
	}
}

// Transition merges update into the state without a guard and waits until
// it is applied. It is used by the door reconciler.
func (c *Controller) Transition(ctx context.Context, update domain.Update, buzz pulse.Pattern) error {
	return c.await(ctx, request{cause: causeReconcile, update: update, buzz: buzz})
}

// Fail makes Run return err. Only the first reported fault is kept.
func (c *Controller) Fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() domain.State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.view
}

// Get returns a single field of the current state.
func (c *Controller) Get(field domain.Field) string {
	return c.Snapshot().Get(field)
}

func (c *Controller) submit(ctx context.Context, req request) error {
	select {
	case c.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Controller) await(ctx context.Context, req request) error {
	req.done = make(chan error, 1)

	if err := c.submit(ctx, req); err != nil {
		return err
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		select {
		case err := <-req.done:
			return err
		default:
			return ErrStopped
		}
	}
}

func (c *Controller) process(ctx context.Context, req request) error {
	switch {
	case req.slot != nil && !req.slot.Live(req.generation):
		logger.DebugKV(ctx, "Dropped stale delayed transition", "slot", req.slot.Name())

		return nil

	case req.command == RepublishState:
		c.broadcast(ctx)

		return nil

	case req.command != 0:
		update, buzz, ok := Plan(req.command, c.state)
		if !ok {
			logger.DebugKV(ctx, "Command rejected by guard", "command", req.command.String())
			c.metrics.ObserveRejection(req.command.String())

			return nil
		}

		if err := c.apply(ctx, req.cause, update, buzz); err != nil {
			return err
		}

		if req.command == DoorOpened && c.state.NotificationTrigger == domain.On && c.broadcaster != nil {
			c.broadcaster.PublishDoorOpen(ctx)
		}

		return nil

	default:
		return c.apply(ctx, req.cause, req.update, req.buzz)
	}
}

// apply is the transition procedure: merge, schedule grace periods,
// persist, broadcast and render.
func (c *Controller) apply(ctx context.Context, cause string, update domain.Update, buzz pulse.Pattern) error {
	c.state.Merge(update)
	c.publishView()

	if v := update.DelayedSirenTriggerOn; v != nil {
		if *v == domain.On {
			c.schedule(c.armSlot, c.armDelay, domain.Update{
				SirenTrigger:          domain.Ptr(domain.On),
				DelayedSirenTriggerOn: domain.Ptr(domain.Off),
			}, ArmedBuzz)
		} else {
			c.armSlot.Stop()
		}
	}

	if v := update.DelayedSirenOn; v != nil {
		if *v == domain.On {
			c.schedule(c.activateSlot, c.activateDelay, domain.Update{
				Siren:          domain.Ptr(domain.On),
				DelayedSirenOn: domain.Ptr(domain.Off),
			}, pulse.Pattern{})
		} else {
			c.activateSlot.Stop()
		}
	}

	c.writer.enqueue(c.state.Durable())
	c.broadcast(ctx)
	c.metrics.ObserveTransition(cause, c.state)

	logger.InfoKV(ctx, "State changed", "cause", cause, "state", c.state.String())

	return c.render(buzz)
}

func (c *Controller) schedule(slot *timerslot.Slot, delay time.Duration, update domain.Update, buzz pulse.Pattern) {
	slot.Arm(delay, func(generation uint64) {
		req := request{
			cause:      causeTimer,
			update:     update,
			buzz:       buzz,
			slot:       slot,
			generation: generation,
		}

		select {
		case c.queue <- req:
		case <-c.stopped:
		}
	})
}

func (c *Controller) broadcast(ctx context.Context) {
	if c.broadcaster == nil {
		return
	}

	c.broadcaster.PublishState(ctx, c.state.Stamp(c.now()))
}

func (c *Controller) render(buzz pulse.Pattern) error {
	intents := Derive(c.state, buzz)

	for _, ch := range Channels() {
		if err := c.outputs[ch].Apply(intents[ch]); err != nil {
			return fmt.Errorf("render %s: %w", ch, err)
		}
	}

	return nil
}

func (c *Controller) publishView() {
	c.mu.Lock()
	c.view = c.state
	c.mu.Unlock()
}
