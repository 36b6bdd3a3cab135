// Package gpio requests input and output lines from a Linux GPIO character
// device through go-gpiocdev.
package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/oshokin/door-alarm/internal/device/input"
	"github.com/oshokin/door-alarm/internal/device/pulse"
)

// DefaultChip is the chip used when none is configured.
const DefaultChip = "gpiochip0"

// Chip hands out lines of one GPIO chip and closes them together.
type Chip struct {
	// name is the chip device name, e.g. gpiochip0.
	name string
	// consumer labels requested lines in the kernel.
	consumer string

	// mu protects lines.
	mu sync.Mutex
	// lines holds every requested line for Close.
	lines []*gpiocdev.Line
}

// Open prepares a chip. Lines are requested lazily.
func Open(name, consumer string) *Chip {
	if name == "" {
		name = DefaultChip
	}

	return &Chip{
		name:     name,
		consumer: consumer,
	}
}

// Output requests an output line driven low.
//
//nolint:ireturn // Callers treat hardware and simulated lines alike.
func (c *Chip) Output(offset int) (pulse.Output, error) {
	line, err := gpiocdev.RequestLine(
		c.name,
		offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(c.consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("request output line %s:%d: %w", c.name, offset, err)
	}

	c.track(line)

	return line, nil
}

// Input requests an input line watching both edges.
// onEdge runs on the gpiocdev event goroutine.
//
//nolint:ireturn // Callers treat hardware and simulated lines alike.
func (c *Chip) Input(offset int, onEdge func(rising bool)) (input.Reader, error) {
	line, err := gpiocdev.RequestLine(
		c.name,
		offset,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithConsumer(c.consumer),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			onEdge(evt.Type == gpiocdev.LineEventRisingEdge)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("request input line %s:%d: %w", c.name, offset, err)
	}

	c.track(line)

	return line, nil
}

// Close releases every requested line.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	for _, line := range c.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.lines = nil

	return errors.Join(errs...)
}

func (c *Chip) track(line *gpiocdev.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = append(c.lines, line)
}
