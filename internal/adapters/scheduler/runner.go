// Package scheduler provides the adapter that drives scheduler ticks.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/contentops/jobcore/internal/service"
)

const defaultTickInterval = 15 * time.Second

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Scheduler *service.Scheduler // Required
	Interval  time.Duration      // Optional, defaults to 15s
	Logger    *slog.Logger       // Optional
}

// Runner drives the scheduler tick loop until the context is cancelled.
type Runner struct {
	scheduler *service.Scheduler
	interval  time.Duration
	logger    *slog.Logger
}

// NewRunner creates a scheduler runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Runner{
		scheduler: opts.Scheduler,
		interval:  opts.Interval,
		logger:    opts.Logger.With("component", "scheduler_runner"),
	}, nil
}

// Run ticks the scheduler at the configured interval. Returns nil on
// graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.interval)

	waitWithJitter(ctx, r.interval, r.logger)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	started, err := r.scheduler.Tick(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
	}
	if started > 0 {
		r.logger.InfoContext(ctx, "scheduler tick", "started", started)
	}
}

// waitWithJitter delays up to 10% of the interval so replicas starting
// together do not tick in lockstep.
func waitWithJitter(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	maxJitter := int64(interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}
