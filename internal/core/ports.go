// Package core defines the ports of the orchestration engine. The core owns
// the interfaces; the data and service layers provide implementations.
package core

import (
	"context"
	"time"

	"github.com/contentops/jobcore/internal/domain/model"
)

// JobStore is the durable storage contract for JobRecords. It owns the
// atomicity of "create if none running" and of bulk state transitions;
// callers never do client-side check-then-insert.
type JobStore interface {
	// TryCreate inserts a new pending record. Under single-flight
	// enforcement a non-terminal record with the same (type, scope)
	// fails the call with a ConflictError naming the existing id.
	TryCreate(ctx context.Context, params model.CreateJobParams) (*model.JobRecord, error)

	// Update applies a partial update. Terminal and unknown records are
	// reported as not modified, never as errors.
	Update(ctx context.Context, params model.UpdateJobParams) (bool, error)

	// Get returns a record by id, or ErrJobNotFound.
	Get(ctx context.Context, id string) (*model.JobRecord, error)

	// List returns records matching the filter, newest first.
	List(ctx context.Context, filter model.JobListFilter) ([]*model.JobRecord, error)

	// Cancel marks the record cancelled and, if it was pending or running,
	// transitions it to cancelled. Returns whether the record was modified.
	Cancel(ctx context.Context, id string) (bool, error)

	// CancelRunningByType bulk-cancels non-terminal records of one type,
	// optionally narrowed by a metadata filter expression.
	CancelRunningByType(ctx context.Context, params model.CancelByTypeParams) (int64, error)

	// DeleteOlderThan hard-deletes terminal records whose completed_at
	// predates the retention window.
	DeleteOlderThan(ctx context.Context, params DeleteOlderThanParams) (int64, error)

	// MarkOrphaned forces every non-terminal record of a type into
	// cancelled, stamping the reason. Used at process start.
	MarkOrphaned(ctx context.Context, params MarkOrphanedParams) (int64, error)

	// FailStaleJobs forces non-terminal records whose updated_at is older
	// than the max age into failed.
	FailStaleJobs(ctx context.Context, params FailStaleJobsParams) (int64, error)
}

// DeleteOlderThanParams groups parameters for JobStore.DeleteOlderThan.
type DeleteOlderThanParams struct {
	Retention time.Duration
	BatchSize int
}

// MarkOrphanedParams groups parameters for JobStore.MarkOrphaned.
type MarkOrphanedParams struct {
	Type   model.JobType
	Reason string
}

// FailStaleJobsParams groups parameters for JobStore.FailStaleJobs.
type FailStaleJobsParams struct {
	Type      model.JobType
	MaxAge    time.Duration
	BatchSize int
}

// TenantDirectory resolves the active tenant set multi-tenant job types fan out over.
type TenantDirectory interface {
	ListActiveTenants(ctx context.Context) ([]string, error)
}

// JobTriggerer starts an on-demand run of a registered job type.
type JobTriggerer interface {
	TriggerOnDemand(ctx context.Context, params TriggerParams) (*model.JobRecord, error)
}

// JobCanceller requests cooperative cancellation of jobs.
type JobCanceller interface {
	Cancel(ctx context.Context, jobID string) (bool, error)
	CancelByType(ctx context.Context, params model.CancelByTypeParams) (int64, error)
}

// TriggerParams describes an on-demand trigger request.
type TriggerParams struct {
	Type     model.JobType
	Scope    model.Scope
	Metadata map[string]any

	// AllowOverlap opts this trigger out of single-flight enforcement.
	AllowOverlap bool
}
