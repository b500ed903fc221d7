package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data"
	"github.com/contentops/jobcore/internal/observability/metrics"
	"github.com/contentops/jobcore/internal/observability/statsd"
)

const (
	defaultSweepBatchSize = 500
	defaultRetention      = 30 * 24 * time.Hour

	orphanReason = "interrupted by restart"
)

// RecoveryOptions groups dependencies for RecoveryManager.
type RecoveryOptions struct {
	Store        core.JobStore     // Required
	Registry     *core.Registry    // Required
	Logger       *slog.Logger      // Optional
	Metrics      statsd.Sink       // Optional
	TimeProvider data.TimeProvider // Optional

	// Retention window for terminal records and the batch size shared by
	// the sweeps. Zero values take the defaults.
	Retention time.Duration
	BatchSize int
}

// RecoveryManager owns the three sweeps that keep the jobs table honest:
// the startup orphan sweep, the staleness sweep, and the retention sweep.
type RecoveryManager struct {
	store        core.JobStore
	registry     *core.Registry
	logger       *slog.Logger
	metrics      statsd.Sink
	timeProvider data.TimeProvider

	retention time.Duration
	batchSize int
}

// NewRecoveryManager constructs a RecoveryManager.
func NewRecoveryManager(opts RecoveryOptions) (*RecoveryManager, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("job registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &RecoveryManager{
		store:        opts.Store,
		registry:     opts.Registry,
		logger:       opts.Logger.With("component", "recovery"),
		metrics:      opts.Metrics,
		timeProvider: opts.TimeProvider,
		retention:    opts.Retention,
		batchSize:    opts.BatchSize,
	}, nil
}

// StartupSweep cancels every record a previous process left in pending or
// running. It runs once, before the first scheduler tick, so stranded
// single-flight slots are free by the time scheduling starts.
func (m *RecoveryManager) StartupSweep(ctx context.Context) error {
	start := m.timeProvider.Now()
	var total int64
	var errs []error

	for _, def := range m.registry.Definitions() {
		n, err := m.store.MarkOrphaned(ctx, core.MarkOrphanedParams{
			Type:   def.Type,
			Reason: orphanReason,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("orphan sweep for %s: %w", def.Type, err))
			continue
		}
		if n > 0 {
			m.logger.WarnContext(ctx, "orphaned jobs cancelled", "job_type", def.Type, "count", n)
		}
		total += n
	}

	err := errors.Join(errs...)
	m.emit(ctx, "startup", total, m.timeProvider.Now().Sub(start), err)
	return err
}

// StalenessSweep fails non-terminal records stuck past each definition's
// max age. Definitions without one are skipped.
func (m *RecoveryManager) StalenessSweep(ctx context.Context) error {
	start := m.timeProvider.Now()
	var total int64
	var errs []error

	for _, def := range m.registry.Definitions() {
		if def.StaleAfter <= 0 {
			continue
		}
		n, err := m.store.FailStaleJobs(ctx, core.FailStaleJobsParams{
			Type:      def.Type,
			MaxAge:    def.StaleAfter,
			BatchSize: m.batchSize,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("staleness sweep for %s: %w", def.Type, err))
			continue
		}
		if n > 0 {
			m.logger.WarnContext(ctx, "stale jobs failed",
				"job_type", def.Type, "count", n, "max_age", def.StaleAfter)
		}
		total += n
	}

	err := errors.Join(errs...)
	m.emit(ctx, "staleness", total, m.timeProvider.Now().Sub(start), err)
	return err
}

// RetentionSweep hard-deletes terminal records older than the retention
// window.
func (m *RecoveryManager) RetentionSweep(ctx context.Context) error {
	start := m.timeProvider.Now()

	n, err := m.store.DeleteOlderThan(ctx, core.DeleteOlderThanParams{
		Retention: m.retention,
		BatchSize: m.batchSize,
	})
	if err != nil {
		err = fmt.Errorf("retention sweep: %w", err)
	} else if n > 0 {
		m.logger.InfoContext(ctx, "old jobs deleted", "count", n, "retention", m.retention)
	}

	m.emit(ctx, "retention", n, m.timeProvider.Now().Sub(start), err)
	return err
}

// RunSweeps performs the periodic sweeps (staleness then retention). The
// startup sweep is separate and runs once.
func (m *RecoveryManager) RunSweeps(ctx context.Context) error {
	return errors.Join(m.StalenessSweep(ctx), m.RetentionSweep(ctx))
}

func (m *RecoveryManager) emit(
	ctx context.Context,
	sweep string,
	affected int64,
	elapsed time.Duration,
	err error,
) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		m.logger.ErrorContext(ctx, "sweep failed", "sweep", sweep, "error", err)
	} else if affected == 0 {
		result = metrics.ResultNoop
	}

	metrics.EmitSweep(m.metrics, metrics.SweepMetric{
		Sweep:    sweep,
		Result:   result,
		Affected: affected,
		Duration: elapsed,
		Err:      err,
	})
}
