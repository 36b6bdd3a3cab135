package pulse

import (
	"fmt"
	"time"
)

// Unbounded is the pulse count that repeats forever.
const Unbounded = -1

// Defaults applied to zero Pattern fields.
const (
	DefaultOnDuration = 50 * time.Millisecond
	DefaultPeriod     = 150 * time.Millisecond
	DefaultCount      = 1
)

// Pattern describes a blink: Count pulses, each On long, Period apart.
type Pattern struct {
	// On is the high phase of every pulse.
	On time.Duration
	// Period is the distance between two pulse starts.
	Period time.Duration
	// Count is the number of pulses, Unbounded for an endless blink.
	Count int
}

// Times builds a bounded pattern from millisecond values.
func Times(onMs, periodMs, count int) Pattern {
	return Pattern{
		On:     time.Duration(onMs) * time.Millisecond,
		Period: time.Duration(periodMs) * time.Millisecond,
		Count:  count,
	}
}

// Endless builds an unbounded pattern from millisecond values.
func Endless(onMs, periodMs int) Pattern {
	return Times(onMs, periodMs, Unbounded)
}

// IsZero reports whether no pulse was requested.
func (p Pattern) IsZero() bool {
	return p.Count == 0
}

// WithDefaults fills zero fields with package defaults.
func (p Pattern) WithDefaults() Pattern {
	if p.On <= 0 {
		p.On = DefaultOnDuration
	}

	if p.Period <= 0 {
		p.Period = DefaultPeriod
	}

	if p.Count == 0 {
		p.Count = DefaultCount
	}

	return p
}

// String renders the pattern for logs.
func (p Pattern) String() string {
	count := fmt.Sprint(p.Count)
	if p.Count == Unbounded {
		count = "unbounded"
	}

	return fmt.Sprintf("%s/%s x%s", p.On, p.Period, count)
}

// Mode is the kind of an Intent.
type Mode int

// Intent modes.
const (
	ModeOff Mode = iota
	ModeOn
	ModeBlink
)

// Intent is what a line should be doing.
type Intent struct {
	// Mode selects steady off, steady on or blinking.
	Mode Mode
	// Pattern is only meaningful for ModeBlink.
	Pattern Pattern
}

var (
	// SteadyOn keeps the line high.
	SteadyOn = Intent{Mode: ModeOn}
	// SteadyOff keeps the line low.
	SteadyOff = Intent{Mode: ModeOff}
)

// Blink returns a blinking intent.
func Blink(p Pattern) Intent {
	return Intent{
		Mode:    ModeBlink,
		Pattern: p,
	}
}

// String renders the intent for logs.
func (i Intent) String() string {
	switch i.Mode {
	case ModeOn:
		return "on"
	case ModeBlink:
		return "blink " + i.Pattern.String()
	default:
		return "off"
	}
}
