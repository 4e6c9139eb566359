package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/banshee-data/rover/internal/monitoring"
)

// Pruner deletes tick rows older than a cutoff.
type Pruner interface {
	PruneTicksBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention periodically drops ticks older than MaxAge. Runs and events are
// kept indefinitely.
type Retention struct {
	pruner    Pruner
	maxAge    time.Duration
	now       func() time.Time
	scheduler gocron.Scheduler
}

// NewRetention schedules a prune every interval. Call Start to begin.
func NewRetention(p Pruner, maxAge, interval time.Duration) (*Retention, error) {
	if p == nil {
		return nil, errors.New("telemetry: pruner is required")
	}
	if maxAge <= 0 || interval <= 0 {
		return nil, fmt.Errorf("telemetry: retention age and interval must be positive (got %s, %s)", maxAge, interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	r := &Retention{pruner: p, maxAge: maxAge, now: time.Now, scheduler: s}
	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := r.PruneOnce(context.Background()); err != nil {
				monitoring.Logf("[telemetry] retention: %v", err)
			}
		}),
		gocron.WithName("tick-retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create retention job: %w", err)
	}
	return r, nil
}

func (r *Retention) Start() { r.scheduler.Start() }

func (r *Retention) Stop() error { return r.scheduler.Shutdown() }

// PruneOnce deletes everything older than MaxAge now.
func (r *Retention) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.pruner.PruneTicksBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		monitoring.Logf("[telemetry] pruned %d ticks older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}
