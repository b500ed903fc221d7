package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data"
	"github.com/contentops/jobcore/internal/domain/model"
)

func newScheduler(t *testing.T, h *serviceHarness, tenants core.TenantDirectory) *Scheduler {
	t.Helper()
	s, err := NewScheduler(SchedulerOptions{
		Store:    h.store,
		Registry: h.registry,
		Executor: h.executor,
		Tenants:  tenants,
	})
	require.NoError(t, err)
	return s
}

func idleBody(_ context.Context, _ core.JobRun) (*core.Outcome, error) {
	return nil, nil
}

func TestTickFansOutPerTenant(t *testing.T) {
	h := newHarness(t, core.JobDefinition{
		Type:        "sync_catalog",
		Body:        idleBody,
		Every:       time.Minute,
		MultiTenant: true,
	})
	s := newScheduler(t, h, data.NewStaticTenantDirectory([]string{"acme", "globex"}))

	started, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	h.executor.Wait()

	records, err := h.store.List(context.Background(), model.JobListFilter{Type: "sync_catalog"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	tenants := map[string]bool{}
	for _, rec := range records {
		tenants[rec.Scope["tenant"]] = true

		var meta map[string]any
		require.NoError(t, json.Unmarshal(rec.Metadata, &meta))
		assert.Equal(t, model.TriggerScheduled, meta["trigger"])
	}
	assert.True(t, tenants["acme"])
	assert.True(t, tenants["globex"])
}

func TestTickNotDueAgainImmediately(t *testing.T) {
	h := newHarness(t, core.JobDefinition{
		Type:  "export_report",
		Body:  idleBody,
		Every: time.Hour,
	})
	s := newScheduler(t, h, nil)

	started, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	started, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, started)
	h.executor.Wait()
}

func TestTickResolvesCronAndSkipsOnDemand(t *testing.T) {
	h := newHarness(t,
		core.JobDefinition{Type: "sync_catalog", Body: idleBody, Cron: "*/5 * * * *"},
		core.JobDefinition{Type: "export_report", Body: idleBody},
	)
	s := newScheduler(t, h, nil)

	// The cron definition has never run and fires immediately; the
	// on-demand-only definition carries no schedule and never ticks.
	started, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	h.executor.Wait()

	records, err := h.store.List(context.Background(), model.JobListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.JobType("sync_catalog"), records[0].Type)
}

func TestTickConflictIsSteadyState(t *testing.T) {
	blocker := make(chan struct{})
	h := newHarness(t, core.JobDefinition{
		Type:  "sync_catalog",
		Every: time.Minute,
		Body: func(_ context.Context, _ core.JobRun) (*core.Outcome, error) {
			<-blocker
			return nil, nil
		},
	})
	s := newScheduler(t, h, nil)

	started, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, started)

	records, err := h.store.List(context.Background(), model.JobListFilter{Type: "sync_catalog"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	waitForStatus(t, h.store, records[0].ID, model.JobStatusRunning)

	// A fresh scheduler has no last-run memory, so the slot is due again.
	// The occupied single-flight slot must be a quiet no-op, not an error.
	again := newScheduler(t, h, nil)
	started, err = again.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, started)

	close(blocker)
	h.executor.Wait()
}

func TestTriggerOnDemand(t *testing.T) {
	h := newHarness(t, core.JobDefinition{Type: "export_report", Body: idleBody})
	s := newScheduler(t, h, nil)

	rec, err := s.TriggerOnDemand(context.Background(), core.TriggerParams{
		Type:     "export_report",
		Scope:    model.Scope{"tenant": "acme"},
		Metadata: map[string]any{"requested_by": "ops"},
	})
	require.NoError(t, err)
	h.executor.Wait()

	var meta map[string]any
	require.NoError(t, json.Unmarshal(rec.Metadata, &meta))
	assert.Equal(t, model.TriggerManual, meta["trigger"])
	assert.Equal(t, "ops", meta["requested_by"])
}

func TestTriggerOnDemandConflict(t *testing.T) {
	blocker := make(chan struct{})
	h := newHarness(t, core.JobDefinition{
		Type: "sync_catalog",
		Body: func(_ context.Context, _ core.JobRun) (*core.Outcome, error) {
			<-blocker
			return nil, nil
		},
	})
	s := newScheduler(t, h, nil)

	first, err := s.TriggerOnDemand(context.Background(), core.TriggerParams{
		Type:  "sync_catalog",
		Scope: model.Scope{"tenant": "acme"},
	})
	require.NoError(t, err)

	_, err = s.TriggerOnDemand(context.Background(), core.TriggerParams{
		Type:  "sync_catalog",
		Scope: model.Scope{"tenant": "acme"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, data.ErrConflict))

	var conflict *data.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ExistingID)

	// Overlap opt-in bypasses the single-flight slot.
	_, err = s.TriggerOnDemand(context.Background(), core.TriggerParams{
		Type:         "sync_catalog",
		Scope:        model.Scope{"tenant": "acme"},
		AllowOverlap: true,
	})
	require.NoError(t, err)

	close(blocker)
	h.executor.Wait()
}

func TestTriggerOnDemandUnknownType(t *testing.T) {
	h := newHarness(t)
	s := newScheduler(t, h, nil)

	_, err := s.TriggerOnDemand(context.Background(), core.TriggerParams{Type: "nope"})
	assert.ErrorIs(t, err, ErrUnknownJobType)
}
