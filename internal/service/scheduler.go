package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data"
	"github.com/contentops/jobcore/internal/domain/model"
	"github.com/contentops/jobcore/internal/domain/sched"
	"github.com/contentops/jobcore/internal/observability/metrics"
	"github.com/contentops/jobcore/internal/observability/statsd"
)

// ErrUnknownJobType is returned when a trigger names a type with no
// registered definition.
var ErrUnknownJobType = errors.New("unknown job type")

// SchedulerOptions groups dependencies for Scheduler.
type SchedulerOptions struct {
	Store        core.JobStore        // Required
	Registry     *core.Registry       // Required
	Executor     *Executor            // Required
	Tenants      core.TenantDirectory // Required for multi-tenant definitions
	Logger       *slog.Logger         // Optional
	Metrics      statsd.Sink          // Optional
	TimeProvider data.TimeProvider    // Optional
}

// Scheduler decides, on every tick, which job definitions are due in which
// scopes and tries to start them. A single-flight conflict on a due slot is
// the steady state while the previous run is still going; it is logged and
// counted, never escalated.
type Scheduler struct {
	store        core.JobStore
	registry     *core.Registry
	executor     *Executor
	tenants      core.TenantDirectory
	logger       *slog.Logger
	metrics      statsd.Sink
	timeProvider data.TimeProvider

	mu       sync.Mutex
	lastRuns map[string]time.Time
}

var _ core.JobTriggerer = (*Scheduler)(nil)

// NewScheduler constructs a Scheduler.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("job registry is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}

	return &Scheduler{
		store:        opts.Store,
		registry:     opts.Registry,
		executor:     opts.Executor,
		tenants:      opts.Tenants,
		logger:       opts.Logger.With("component", "scheduler"),
		metrics:      opts.Metrics,
		timeProvider: opts.TimeProvider,
		lastRuns:     make(map[string]time.Time),
	}, nil
}

// Tick evaluates every scheduled definition once. It starts due jobs
// asynchronously and never blocks on a body. Returns the number of jobs
// started.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.timeProvider.Now()
	started := 0
	var errs []error

	for _, def := range s.registry.Definitions() {
		schedule, err := def.Schedule()
		if err != nil {
			errs = append(errs, fmt.Errorf("parse schedule for %s: %w", def.Type, err))
			continue
		}
		if schedule == nil {
			continue
		}

		scopes, err := s.scopesFor(ctx, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve scopes for %s: %w", def.Type, err))
			continue
		}

		for _, scope := range scopes {
			if !sched.Due(schedule, s.lastRun(def.Type, scope), now) {
				continue
			}
			ok, startErr := s.startScheduled(ctx, def, scope)
			// Record the attempt either way; a conflict means the slot is
			// occupied, not that the schedule should keep firing every tick.
			s.recordRun(def.Type, scope, now)
			if startErr != nil {
				errs = append(errs, startErr)
				continue
			}
			if ok {
				started++
			}
		}
	}

	if s.metrics != nil {
		s.metrics.Gauge("scheduler.started", float64(started), nil)
	}
	return started, errors.Join(errs...)
}

func (s *Scheduler) scopesFor(ctx context.Context, def *core.JobDefinition) ([]model.Scope, error) {
	if !def.MultiTenant {
		return []model.Scope{nil}, nil
	}
	if s.tenants == nil {
		return nil, fmt.Errorf("definition %s is multi-tenant but no tenant directory is wired", def.Type)
	}

	tenants, err := s.tenants.ListActiveTenants(ctx)
	if err != nil {
		return nil, err
	}
	scopes := make([]model.Scope, 0, len(tenants))
	for _, tenant := range tenants {
		scopes = append(scopes, model.Scope{"tenant": tenant})
	}
	return scopes, nil
}

func (s *Scheduler) startScheduled(
	ctx context.Context,
	def *core.JobDefinition,
	scope model.Scope,
) (bool, error) {
	metadata, err := triggerMetadata(model.TriggerScheduled, nil)
	if err != nil {
		return false, err
	}

	rec, err := s.store.TryCreate(ctx, model.CreateJobParams{
		Type:                def.Type,
		Scope:               scope,
		Metadata:            metadata,
		EnforceSingleFlight: !def.AllowOverlap,
	})
	if err != nil {
		var conflict *data.ConflictError
		if errors.As(err, &conflict) {
			s.logger.DebugContext(ctx, "scheduled run still in flight",
				"job_type", def.Type, "scope", scope.Key(), "existing_id", conflict.ExistingID)
			metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
				JobType:    string(def.Type),
				Transition: "scheduled",
				Result:     metrics.ResultConflict,
			})
			return false, nil
		}
		return false, fmt.Errorf("create scheduled job %s: %w", def.Type, err)
	}

	if err := s.executor.Start(ctx, rec); err != nil {
		return false, fmt.Errorf("start scheduled job %s: %w", def.Type, err)
	}

	s.logger.InfoContext(ctx, "scheduled job started",
		"job_id", rec.ID, "job_type", def.Type, "scope", scope.Key())
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    string(def.Type),
		Transition: "scheduled",
		Result:     metrics.ResultSuccess,
	})
	return true, nil
}

// TriggerOnDemand creates and starts a job outside its schedule. A
// single-flight conflict propagates to the caller, which is how the HTTP
// boundary produces its conflict response.
func (s *Scheduler) TriggerOnDemand(
	ctx context.Context,
	params core.TriggerParams,
) (*model.JobRecord, error) {
	def, ok := s.registry.Lookup(params.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, params.Type)
	}

	metadata, err := triggerMetadata(model.TriggerManual, params.Metadata)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.TryCreate(ctx, model.CreateJobParams{
		Type:                params.Type,
		Scope:               params.Scope,
		Metadata:            metadata,
		EnforceSingleFlight: !(params.AllowOverlap || def.AllowOverlap),
	})
	if err != nil {
		return nil, err
	}

	if err := s.executor.Start(ctx, rec); err != nil {
		return nil, fmt.Errorf("start triggered job %s: %w", params.Type, err)
	}

	s.logger.InfoContext(ctx, "job triggered",
		"job_id", rec.ID, "job_type", params.Type, "scope", params.Scope.Key())
	return rec, nil
}

func (s *Scheduler) lastRun(jobType model.JobType, scope model.Scope) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRuns[runKey(jobType, scope)]
}

func (s *Scheduler) recordRun(jobType model.JobType, scope model.Scope, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRuns[runKey(jobType, scope)] = at
}

func runKey(jobType model.JobType, scope model.Scope) string {
	return string(jobType) + "|" + scope.Key()
}

func triggerMetadata(trigger string, extra map[string]any) (json.RawMessage, error) {
	merged := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		merged[k] = v
	}
	merged["trigger"] = trigger

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger metadata: %w", err)
	}
	return raw, nil
}
