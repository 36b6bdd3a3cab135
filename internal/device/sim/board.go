// Package sim provides in-memory GPIO lines for running the device without
// hardware and for tests.
package sim

import (
	"context"
	"sync"

	"github.com/oshokin/door-alarm/internal/device/input"
	"github.com/oshokin/door-alarm/internal/device/pulse"
	"github.com/oshokin/door-alarm/internal/logger"
)

// Board is a set of simulated lines addressed by offset.
type Board struct {
	// ctx carries the logger used for write traces.
	ctx context.Context
	// mu protects lines and initial.
	mu sync.Mutex
	// lines holds every requested line.
	lines map[int]*Line
	// initial holds levels applied to lines when requested.
	initial map[int]int
}

// Option configures a Board.
type Option func(*Board)

// WithLevel presets the level of a line before it is requested.
func WithLevel(offset, level int) Option {
	return func(b *Board) {
		b.initial[offset] = level
	}
}

// NewBoard creates an empty board.
func NewBoard(ctx context.Context, opts ...Option) *Board {
	b := &Board{
		ctx:     logger.WithName(ctx, "sim"),
		lines:   make(map[int]*Line),
		initial: make(map[int]int),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Output returns the simulated output line at offset.
//
//nolint:ireturn // Mirrors the hardware chip signature.
func (b *Board) Output(offset int) (pulse.Output, error) {
	return b.line(offset, nil), nil
}

// Input returns the simulated input line at offset.
//
//nolint:ireturn // Mirrors the hardware chip signature.
func (b *Board) Input(offset int, onEdge func(rising bool)) (input.Reader, error) {
	return b.line(offset, onEdge), nil
}

// Line returns the line at offset, or nil if it was never requested.
func (b *Board) Line(offset int) *Line {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lines[offset]
}

// Close is a no-op kept for parity with the hardware chip.
func (b *Board) Close() error {
	return nil
}

func (b *Board) line(offset int, onEdge func(bool)) *Line {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.lines[offset]
	if !ok {
		l = &Line{
			ctx:    logger.WithKV(b.ctx, "offset", offset),
			offset: offset,
			value:  b.initial[offset],
		}
		b.lines[offset] = l
	}

	if onEdge != nil {
		l.mu.Lock()
		l.onEdge = onEdge
		l.mu.Unlock()
	}

	return l
}

// Line is one simulated line.
type Line struct {
	// ctx carries the line logger.
	ctx context.Context
	// offset is the line number.
	offset int

	// mu protects value, writes and onEdge.
	mu sync.Mutex
	// value is the current level.
	value int
	// writes counts SetValue calls.
	writes int
	// onEdge receives level changes made through Set.
	onEdge func(rising bool)
}

// Value returns the current level.
func (l *Line) Value() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.value, nil
}

// SetValue drives the line, as an output.
func (l *Line) SetValue(value int) error {
	l.mu.Lock()
	l.value = value
	l.writes++
	l.mu.Unlock()

	logger.DebugKV(l.ctx, "Simulated line written", "value", value)

	return nil
}

// Set changes the level from the outside and reports an edge if it changed.
func (l *Line) Set(level int) {
	l.mu.Lock()
	changed := l.value != level
	l.value = level
	onEdge := l.onEdge
	l.mu.Unlock()

	if changed && onEdge != nil {
		onEdge(level != 0)
	}
}

// Writes returns how many times the line was written.
func (l *Line) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.writes
}
