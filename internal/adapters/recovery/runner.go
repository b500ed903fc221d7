// Package recovery provides the adapter that drives the periodic sweeps.
package recovery

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/contentops/jobcore/internal/service"
)

const defaultSweepInterval = 5 * time.Minute

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Recovery *service.RecoveryManager // Required
	Interval time.Duration            // Optional, defaults to 5m
	Logger   *slog.Logger             // Optional
}

// Runner drives the staleness and retention sweeps until the context is
// cancelled. The startup orphan sweep runs separately, once, during boot.
type Runner struct {
	recovery *service.RecoveryManager
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a recovery runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Recovery == nil {
		return nil, errors.New("recovery manager is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Runner{
		recovery: opts.Recovery,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "recovery_runner"),
	}, nil
}

// Run performs the sweeps at the configured interval. Returns nil on
// graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting recovery runner", "interval", r.interval)

	waitWithJitter(ctx, r.interval, r.logger)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "recovery runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	if err := r.recovery.RunSweeps(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.ErrorContext(ctx, "sweeps failed", "error", err)
	}
}

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
