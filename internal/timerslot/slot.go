// Package timerslot provides a timer handle that holds at most one live timer.
//
// Arming a slot always stops the previous timer first. Each arm produces a new
// generation number that is passed to the callback, so a callback that was
// already running when the slot was superseded can tell it is stale by asking
// Live.
package timerslot

import (
	"sync"
	"time"
)

// Slot owns at most one pending timer.
type Slot struct {
	// name identifies the slot in logs.
	name string
	// mu protects timer and generation.
	mu sync.Mutex
	// timer is the currently armed timer, nil when idle.
	timer *time.Timer
	// generation increases on every Arm and Stop.
	generation uint64
}

// New creates an idle slot.
func New(name string) *Slot {
	return &Slot{name: name}
}

// Name returns the slot name.
func (s *Slot) Name() string {
	return s.name
}

// Arm stops any pending timer and schedules fn to run after d.
// It returns the generation assigned to the new timer.
func (s *Slot) Arm(d time.Duration, fn func(generation uint64)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	generation := s.generation

	s.timer = time.AfterFunc(d, func() {
		fn(generation)
	})

	return generation
}

// Stop cancels the pending timer, if any. A callback that already started
// will observe Live(generation) == false.
func (s *Slot) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
}

// Live reports whether generation still belongs to the most recent Arm and
// the slot was not stopped since.
func (s *Slot) Live(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.timer != nil && s.generation == generation
}

func (s *Slot) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	s.generation++
}
