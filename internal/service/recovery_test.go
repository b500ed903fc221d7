package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data"
	"github.com/contentops/jobcore/internal/domain/model"
)

func newRecovery(t *testing.T, h *serviceHarness, opts RecoveryOptions) *RecoveryManager {
	t.Helper()
	opts.Store = h.store
	opts.Registry = h.registry
	m, err := NewRecoveryManager(opts)
	require.NoError(t, err)
	return m
}

func TestStartupSweepCancelsOrphans(t *testing.T) {
	h := newHarness(t, core.JobDefinition{Type: "sync_catalog", Body: idleBody})
	ctx := context.Background()

	orphan, err := h.store.TryCreate(ctx, model.CreateJobParams{
		Type:                "sync_catalog",
		Scope:               model.Scope{"tenant": "acme"},
		EnforceSingleFlight: true,
	})
	require.NoError(t, err)

	running := model.JobStatusRunning
	_, err = h.store.Update(ctx, model.UpdateJobParams{ID: orphan.ID, Status: &running})
	require.NoError(t, err)

	m := newRecovery(t, h, RecoveryOptions{})
	require.NoError(t, m.StartupSweep(ctx))

	after, err := h.store.Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, after.Status)
	require.NotNil(t, after.ErrorMessage)
	assert.Equal(t, "interrupted by restart", *after.ErrorMessage)

	// The single-flight slot must be free again after the sweep.
	_, err = h.store.TryCreate(ctx, model.CreateJobParams{
		Type:                "sync_catalog",
		Scope:               model.Scope{"tenant": "acme"},
		EnforceSingleFlight: true,
	})
	require.NoError(t, err)
}

func TestStalenessSweepHonoursPerTypeMaxAge(t *testing.T) {
	h := newHarness(t,
		core.JobDefinition{Type: "sync_catalog", Body: idleBody, StaleAfter: time.Hour},
		core.JobDefinition{Type: "export_report", Body: idleBody},
	)
	ctx := context.Background()

	tp := data.NewFixedTimeProvider(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	store, err := data.OpenSQLite(t.TempDir()+"/stale.db", data.StoreConfig{TimeProvider: tp})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	h.store = store

	stuck, err := store.TryCreate(ctx, model.CreateJobParams{Type: "sync_catalog"})
	require.NoError(t, err)
	noDeadline, err := store.TryCreate(ctx, model.CreateJobParams{Type: "export_report"})
	require.NoError(t, err)

	tp.AddTime(2 * time.Hour)

	m := newRecovery(t, h, RecoveryOptions{TimeProvider: tp})
	require.NoError(t, m.StalenessSweep(ctx))

	afterStuck, err := store.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, afterStuck.Status)
	require.NotNil(t, afterStuck.ErrorMessage)
	assert.Equal(t, "exceeded max age", *afterStuck.ErrorMessage)

	// No StaleAfter on the definition means the sweep leaves it alone.
	afterNoDeadline, err := store.Get(ctx, noDeadline.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, afterNoDeadline.Status)
}

func TestRetentionSweepDeletesOldTerminalJobs(t *testing.T) {
	h := newHarness(t, core.JobDefinition{Type: "export_report", Body: idleBody})
	ctx := context.Background()

	tp := data.NewFixedTimeProvider(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	store, err := data.OpenSQLite(t.TempDir()+"/retention.db", data.StoreConfig{TimeProvider: tp})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	h.store = store

	done, err := store.TryCreate(ctx, model.CreateJobParams{Type: "export_report"})
	require.NoError(t, err)
	completed := model.JobStatusCompleted
	_, err = store.Update(ctx, model.UpdateJobParams{ID: done.ID, Status: &completed})
	require.NoError(t, err)

	tp.AddTime(40 * 24 * time.Hour)

	m := newRecovery(t, h, RecoveryOptions{
		TimeProvider: tp,
		Retention:    30 * 24 * time.Hour,
	})
	require.NoError(t, m.RunSweeps(ctx))

	_, err = store.Get(ctx, done.ID)
	assert.ErrorIs(t, err, data.ErrJobNotFound)
}
