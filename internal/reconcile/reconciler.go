// Package reconcile periodically re-reads the door sensor so that a missed
// edge never leaves the recorded door position stale.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/oshokin/door-alarm/internal/device/pulse"
	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
	"github.com/oshokin/door-alarm/internal/logger"
)

// DefaultInterval is the default time between sensor reads.
const DefaultInterval = 15 * time.Second

// Sensor reads the raw door sensor level.
type Sensor interface {
	Read() (int, error)
}

// Transitioner applies an unguarded state update.
type Transitioner interface {
	Transition(ctx context.Context, update domain.Update, buzz pulse.Pattern) error
}

// Reconciler pushes the live door position into the controller.
type Reconciler struct {
	sensor   Sensor
	target   Transitioner
	interval time.Duration
}

// New creates a reconciler. A non-positive interval selects DefaultInterval.
func New(sensor Sensor, target Transitioner, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Reconciler{
		sensor:   sensor,
		target:   target,
		interval: interval,
	}
}

// Run reconciles every interval until ctx is done.
// A sensor read failure is fatal and returned.
func (r *Reconciler) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "reconciler")

	logger.InfoKV(ctx, "Reconciling door state", "interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.reconcile(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) error {
	level, err := r.sensor.Read()
	if err != nil {
		return fmt.Errorf("read door sensor: %w", err)
	}

	door := domain.DoorStateFromLevel(level)

	err = r.target.Transition(ctx, domain.Update{DoorState: &door}, pulse.Pattern{})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("reconcile door state: %w", err)
	}

	logger.DebugKV(ctx, "Door state reconciled", "door_state", door)

	return nil
}
