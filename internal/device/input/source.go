package input

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultWindow is the default throttle window.
const DefaultWindow = 100 * time.Millisecond

// Edge directions, used as labels.
const (
	EdgeRising  = "rising"
	EdgeFalling = "falling"
)

// Reader reads the current level of a line.
type Reader interface {
	Value() (int, error)
}

// Handler receives a debounced edge.
type Handler func()

// Observer is told about every raw edge and whether it was delivered.
type Observer func(line, edge string, accepted bool)

// ErrNotBound is returned by Read before a line was bound.
var ErrNotBound = errors.New("input line is not bound")

// Source is one debounced input line.
type Source struct {
	// name identifies the line in errors and metrics.
	name string
	// window is the throttle window of both directions.
	window time.Duration
	// observe is told about every raw edge.
	observe Observer

	// mu protects line.
	mu sync.RWMutex
	// line is the hardware line used by Read.
	line Reader

	// rising and falling are the two independent streams.
	rising  *stream
	falling *stream
}

// Option configures a Source.
type Option func(*Source)

// WithWindow overrides the throttle window.
func WithWindow(window time.Duration) Option {
	return func(s *Source) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithObserver installs a raw edge observer.
func WithObserver(fn Observer) Option {
	return func(s *Source) {
		if fn != nil {
			s.observe = fn
		}
	}
}

// New creates a source. Bind must be called before Read.
func New(name string, opts ...Option) *Source {
	s := &Source{
		name:    name,
		window:  DefaultWindow,
		observe: func(string, string, bool) {},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.rising = newStream(EdgeRising, s.window)
	s.falling = newStream(EdgeFalling, s.window)

	return s
}

// Name returns the line name.
func (s *Source) Name() string {
	return s.name
}

// Bind attaches the hardware line used by Read.
func (s *Source) Bind(line Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.line = line
}

// Read returns the live level of the line.
func (s *Source) Read() (int, error) {
	s.mu.RLock()
	line := s.line
	s.mu.RUnlock()

	if line == nil {
		return 0, fmt.Errorf("read %s: %w", s.name, ErrNotBound)
	}

	value, err := line.Value()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", s.name, err)
	}

	return value, nil
}

// WatchRising registers a handler for debounced rising edges.
func (s *Source) WatchRising(h Handler) {
	s.rising.watch(h)
}

// WatchFalling registers a handler for debounced falling edges.
func (s *Source) WatchFalling(h Handler) {
	s.falling.watch(h)
}

// Edge feeds one raw edge notification from the line backend.
// Handlers run on the caller's goroutine.
func (s *Source) Edge(rising bool) {
	st := s.falling
	if rising {
		st = s.rising
	}

	accepted := st.offer()
	s.observe(s.name, st.edge, accepted)

	if accepted {
		st.deliver()
	}
}

// stream is one throttled edge direction.
type stream struct {
	// edge labels the direction.
	edge string
	// limiter admits at most one edge per window.
	limiter *rate.Limiter

	// mu protects handlers.
	mu sync.RWMutex
	// handlers receive accepted edges.
	handlers []Handler
}

func newStream(edge string, window time.Duration) *stream {
	return &stream{
		edge:    edge,
		limiter: rate.NewLimiter(rate.Every(window), 1),
	}
}

func (st *stream) watch(h Handler) {
	if h == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.handlers = append(st.handlers, h)
}

func (st *stream) offer() bool {
	return st.limiter.Allow()
}

func (st *stream) deliver() {
	st.mu.RLock()
	handlers := append([]Handler(nil), st.handlers...)
	st.mu.RUnlock()

	for _, h := range handlers {
		h()
	}
}
