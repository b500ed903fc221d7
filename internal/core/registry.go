package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/contentops/jobcore/internal/domain/model"
	"github.com/contentops/jobcore/internal/domain/sched"
)

// JobRun is the view of a JobRecord handed to a job body.
type JobRun struct {
	JobID    string
	Scope    model.Scope
	Metadata json.RawMessage

	// Cancelled is the cooperative cancellation probe. Bodies should poll
	// it between expensive steps and return promptly once it reports true.
	Cancelled func() bool

	// ReportProgress records coarse completion counters on the record.
	// Best effort; write failures are logged, not surfaced to the body.
	ReportProgress func(done, total int)
}

// Outcome is the explicit result a job body returns on a normal exit.
// Empty Errors means the run completed; non-empty means partial failure.
type Outcome struct {
	Result json.RawMessage
	Errors []string
}

// JobBody is the execution contract for registered job types. Returning a
// non-nil error marks the run failed; a nil error with a nil Outcome after
// an observed cancellation marks it cancelled.
type JobBody func(ctx context.Context, run JobRun) (*Outcome, error)

// JobDefinition declares a registered job type and its scheduling policy.
type JobDefinition struct {
	Type model.JobType
	Body JobBody

	// Every sets a fixed scheduling interval; zero means on-demand only
	// unless Cron is set.
	Every time.Duration
	// Cron sets a standard 5-field cron schedule; takes precedence over Every.
	Cron string

	// MultiTenant fans each tick out to one record per active tenant.
	MultiTenant bool

	// MaxConcurrency bounds simultaneous executions of this type within
	// the process; zero means 1.
	MaxConcurrency int

	// StaleAfter opts the type into the staleness sweep; zero skips it.
	StaleAfter time.Duration

	// AllowOverlap permits on-demand triggers to bypass single-flight.
	AllowOverlap bool
}

// Schedule builds the dueness schedule for the definition, or nil for
// on-demand-only types.
func (d *JobDefinition) Schedule() (sched.Schedule, error) {
	if d.Cron != "" {
		return sched.Cron(d.Cron)
	}
	if d.Every > 0 {
		return sched.Every(d.Every), nil
	}
	return nil, nil
}

// Validate checks that a definition is runnable.
func (d *JobDefinition) Validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("invalid job type: %q", d.Type)
	}
	if d.Body == nil {
		return fmt.Errorf("job type %s: body is required", d.Type)
	}
	if d.Cron != "" {
		if _, err := sched.Cron(d.Cron); err != nil {
			return fmt.Errorf("job type %s: %w", d.Type, err)
		}
	}
	if d.MaxConcurrency < 0 {
		return fmt.Errorf("job type %s: max concurrency must be >= 0", d.Type)
	}
	return nil
}

// Slots returns the effective concurrency bound.
func (d *JobDefinition) Slots() int {
	if d.MaxConcurrency <= 0 {
		return 1
	}
	return d.MaxConcurrency
}

// Registry holds the job definitions registered at process start.
// Registration happens during bootstrap, before the scheduler's first tick;
// lookups afterwards are concurrent.
type Registry struct {
	mu   sync.RWMutex
	defs map[model.JobType]*JobDefinition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[model.JobType]*JobDefinition)}
}

// Register adds a definition. Registering the same type twice is an error.
func (r *Registry) Register(def JobDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("job type %s is already registered", def.Type)
	}
	r.defs[def.Type] = &def
	return nil
}

// Lookup returns the definition for a type, if registered.
func (r *Registry) Lookup(jobType model.JobType) (*JobDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[jobType]
	return def, ok
}

// Definitions returns all registered definitions ordered by type name.
func (r *Registry) Definitions() []*JobDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*JobDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Types returns all registered type names ordered alphabetically.
func (r *Registry) Types() []model.JobType {
	defs := r.Definitions()
	out := make([]model.JobType, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.Type)
	}
	return out
}
