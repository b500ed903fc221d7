// Package model defines the core data types and structures used throughout the jobcore orchestration engine.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// JobType identifies which registered job body a record belongs to.
// Types are registered at process start, not enumerated here, so
// validation only checks shape.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current lifecycle state of a job.
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting to be executed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job body is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job body returned an error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusPartialFailure indicates a job completed with some reported sub-failures.
	JobStatusPartialFailure JobStatus = "partial_failure"
	// JobStatusCancelled indicates a job was cancelled before finishing.
	JobStatusCancelled JobStatus = "cancelled"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType has a usable shape.
func (t JobType) Valid() bool {
	s := string(t)
	return s != "" && strings.TrimSpace(s) == s && !strings.ContainsAny(s, " \t\n")
}

// Valid returns true if the JobStatus is a known state.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusPartialFailure, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further status transitions are permitted.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusPartialFailure, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// TerminalStatuses lists every terminal state, in a stable order.
func TerminalStatuses() []JobStatus {
	return []JobStatus{
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusPartialFailure,
		JobStatusCancelled,
	}
}

// Scope is the partition mapping (dimension name -> value) that, together
// with the job type, identifies a single-flight slot. An empty scope means
// a system-wide job.
type Scope map[string]string

// Key returns the canonical form of the scope: dimension pairs joined as
// "k=v" sorted by dimension name. The empty scope keys to "".
func (s Scope) Key() string {
	if len(s) == 0 {
		return ""
	}
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s[k])
	}
	return strings.Join(parts, ",")
}

// Contains reports whether every dimension of sub is present in s with the same value.
func (s Scope) Contains(sub Scope) bool {
	for k, v := range sub {
		if s[k] != v {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy of the scope. A nil scope clones to nil.
func (s Scope) Clone() Scope {
	if s == nil {
		return nil
	}
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Trigger metadata values recorded on creation.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// JobRecord is the sole persisted entity of the orchestration core.
type JobRecord struct {
	ID           string          `json:"id"                      db:"id"`
	Type         JobType         `json:"type"                    db:"type"`
	Scope        Scope           `json:"scope"                   db:"scope"`
	Status       JobStatus       `json:"status"                  db:"status"`
	Cancelled    bool            `json:"cancelled"               db:"cancelled"`
	Progress     *int            `json:"progress,omitempty"      db:"progress"`
	TotalItems   *int            `json:"total_items,omitempty"   db:"total_items"`
	Result       json.RawMessage `json:"result,omitempty"        db:"result"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	Metadata     json.RawMessage `json:"metadata"                db:"metadata"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"              db:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"    db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"  db:"completed_at"`
}

// CreateJobParams describes a request to insert a new pending JobRecord.
type CreateJobParams struct {
	Type     JobType         `json:"type"`
	Scope    Scope           `json:"scope,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// EnforceSingleFlight guards the insert with the (type, scope) slot.
	// When false the insert always succeeds; used by job types that allow
	// overlapping ad hoc runs.
	EnforceSingleFlight bool `json:"enforce_single_flight"`
}

// Validate validates the CreateJobParams fields.
func (p *CreateJobParams) Validate() error {
	if !p.Type.Valid() {
		return errors.New("invalid job type")
	}
	for k := range p.Scope {
		if strings.TrimSpace(k) == "" {
			return errors.New("scope dimension name must not be empty")
		}
		if strings.ContainsAny(k, "=,") {
			return fmt.Errorf("scope dimension name %q contains reserved characters", k)
		}
	}
	if len(p.Metadata) > 0 && !json.Valid(p.Metadata) {
		return errors.New("metadata must be valid JSON")
	}
	return nil
}

// UpdateJobParams describes a partial update of a JobRecord. Nil fields are
// left untouched. Updates against terminal or unknown records are reported
// as "not modified" rather than errors.
type UpdateJobParams struct {
	ID           string
	Status       *JobStatus
	ErrorMessage *string
	Result       json.RawMessage
	Progress     *int
	TotalItems   *int
	Metadata     json.RawMessage
}

// Validate validates the UpdateJobParams fields.
func (p *UpdateJobParams) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("job id is required")
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("invalid job status: %s", *p.Status)
	}
	if len(p.Result) > 0 && !json.Valid(p.Result) {
		return errors.New("result must be valid JSON")
	}
	if len(p.Metadata) > 0 && !json.Valid(p.Metadata) {
		return errors.New("metadata must be valid JSON")
	}
	return nil
}

// HasChanges reports whether the update would modify any field beyond updated_at.
func (p *UpdateJobParams) HasChanges() bool {
	return p.Status != nil || p.ErrorMessage != nil || len(p.Result) > 0 ||
		p.Progress != nil || p.TotalItems != nil || len(p.Metadata) > 0
}

// JobListFilter narrows a List query. Zero values match everything.
type JobListFilter struct {
	Type     JobType
	Statuses []JobStatus
	// Scope matches records whose scope contains every given dimension.
	Scope Scope
	Limit int
}

// DefaultListLimit bounds unfiltered list queries.
const DefaultListLimit = 100

// EffectiveLimit returns the limit to apply, falling back to the default.
func (f *JobListFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// CancelByTypeParams describes a bulk cancel of non-terminal records of one type.
type CancelByTypeParams struct {
	Type JobType
	// MetadataFilter is an optional JMESPath expression evaluated against
	// each candidate record's metadata; only truthy matches are cancelled.
	MetadataFilter string
	Reason         string
}

// Validate validates the CancelByTypeParams fields.
func (p *CancelByTypeParams) Validate() error {
	if !p.Type.Valid() {
		return errors.New("invalid job type")
	}
	return nil
}
