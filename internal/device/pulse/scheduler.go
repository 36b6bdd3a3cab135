package pulse

import (
	"fmt"
	"sync"

	"github.com/oshokin/door-alarm/internal/timerslot"
)

// Output is a physical output line.
type Output interface {
	SetValue(value int) error
}

// Scheduler drives one output line.
type Scheduler struct {
	// name identifies the channel in errors and logs.
	name string
	// out is the driven line.
	out Output

	// mu serializes intents and timer callbacks for this line.
	mu sync.Mutex
	// blinking is set while a pattern is in flight.
	blinking bool
	// pattern is the in-flight pattern with defaults applied.
	pattern Pattern
	// remaining counts pulses left, Unbounded for endless patterns.
	remaining int
	// fall is the single-shot timer that ends the high phase.
	fall *timerslot.Slot
	// period is the timer that starts the next pulse.
	period *timerslot.Slot

	// onFault receives write errors raised by timers.
	onFault func(error)
	// onPulse is called for every high phase started.
	onPulse func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFaultHandler installs the receiver of asynchronous write errors.
func WithFaultHandler(fn func(error)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.onFault = fn
		}
	}
}

// WithPulseHook installs a callback invoked on every pulse start.
func WithPulseHook(fn func()) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.onPulse = fn
		}
	}
}

// New creates a scheduler for the provided line. The line is not written.
func New(name string, out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:    name,
		out:     out,
		fall:    timerslot.New(name + "/fall"),
		period:  timerslot.New(name + "/period"),
		onFault: func(error) {},
		onPulse: func() {},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Apply renders the intent.
func (s *Scheduler) Apply(intent Intent) error {
	switch intent.Mode {
	case ModeOn:
		return s.SetOn()
	case ModeBlink:
		return s.Pulse(intent.Pattern)
	default:
		return s.SetOff()
	}
}

// SetOn cancels any pattern and drives the line high.
func (s *Scheduler) SetOn() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()

	return s.write(1)
}

// SetOff cancels any pattern and drives the line low.
func (s *Scheduler) SetOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()

	return s.write(0)
}

// Pulse starts the pattern with its first pulse right away. Repeating an
// unbounded pattern that is already running is a no-op.
func (s *Scheduler) Pulse(p Pattern) error {
	p = p.WithDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blinking && p.Count == Unbounded && s.pattern == p {
		return nil
	}

	s.cancelLocked()

	s.blinking = true
	s.pattern = p
	s.remaining = p.Count

	return s.fireLocked()
}

// Stop cancels pending timers without touching the line.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
}

// Current returns the in-flight intent.
func (s *Scheduler) Current() Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.blinking {
		return Intent{}
	}

	return Blink(s.pattern)
}

// fireLocked starts one pulse, or retires the pattern when none remain.
func (s *Scheduler) fireLocked() error {
	if s.remaining == 0 {
		s.period.Stop()
		s.clearLocked()

		return nil
	}

	if s.remaining != Unbounded {
		s.remaining--
	}

	if err := s.write(1); err != nil {
		return err
	}

	s.onPulse()

	s.fall.Arm(s.pattern.On, s.fallFired)
	s.period.Arm(s.pattern.Period, s.periodFired)

	return nil
}

func (s *Scheduler) fallFired(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fall.Live(generation) {
		return
	}

	if err := s.write(0); err != nil {
		s.onFault(err)
	}
}

func (s *Scheduler) periodFired(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.period.Live(generation) {
		return
	}

	if err := s.fireLocked(); err != nil {
		s.onFault(err)
	}
}

func (s *Scheduler) cancelLocked() {
	s.fall.Stop()
	s.period.Stop()
	s.clearLocked()
}

func (s *Scheduler) clearLocked() {
	s.blinking = false
	s.pattern = Pattern{}
	s.remaining = 0
}

func (s *Scheduler) write(value int) error {
	if err := s.out.SetValue(value); err != nil {
		return fmt.Errorf("write %d to %s: %w", value, s.name, err)
	}

	return nil
}
