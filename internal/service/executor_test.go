package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data"
	"github.com/contentops/jobcore/internal/domain/model"
	"github.com/contentops/jobcore/internal/observability/notify"
)

type serviceHarness struct {
	store        *data.SQLiteJobStore
	registry     *core.Registry
	cancellation *CancellationController
	executor     *Executor
}

func newHarness(t *testing.T, defs ...core.JobDefinition) *serviceHarness {
	t.Helper()

	store, err := data.OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"), data.StoreConfig{
		Logger: slog.Default(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	registry := core.NewRegistry()
	for _, def := range defs {
		require.NoError(t, registry.Register(def))
	}

	cancellation, err := NewCancellationController(CancellationControllerOptions{Store: store})
	require.NoError(t, err)

	executor, err := NewExecutor(ExecutorOptions{
		Store:                store,
		Registry:             registry,
		Cancellation:         cancellation,
		TerminalWriteBackoff: time.Millisecond,
		CancelPollInterval:   10 * time.Millisecond,
	})
	require.NoError(t, err)

	return &serviceHarness{
		store:        store,
		registry:     registry,
		cancellation: cancellation,
		executor:     executor,
	}
}

func (h *serviceHarness) createJob(t *testing.T, params model.CreateJobParams) *model.JobRecord {
	t.Helper()
	rec, err := h.store.TryCreate(context.Background(), params)
	require.NoError(t, err)
	return rec
}

func (h *serviceHarness) runToCompletion(t *testing.T, rec *model.JobRecord) *model.JobRecord {
	t.Helper()
	require.NoError(t, h.executor.Start(context.Background(), rec))
	h.executor.Wait()

	after, err := h.store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	return after
}

func waitForStatus(
	t *testing.T,
	store core.JobStore,
	id string,
	status model.JobStatus,
) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, err := store.Get(context.Background(), id)
		return err == nil && rec.Status == status
	}, 5*time.Second, 5*time.Millisecond)
}

func TestExecutorCompletesJob(t *testing.T) {
	h := newHarness(t, core.JobDefinition{
		Type: "export_report",
		Body: func(_ context.Context, run core.JobRun) (*core.Outcome, error) {
			run.ReportProgress(3, 3)
			return &core.Outcome{Result: json.RawMessage(`{"rows": 3}`)}, nil
		},
	})

	rec := h.createJob(t, model.CreateJobParams{Type: "export_report"})
	after := h.runToCompletion(t, rec)

	assert.Equal(t, model.JobStatusCompleted, after.Status)
	assert.JSONEq(t, `{"rows": 3}`, string(after.Result))
	require.NotNil(t, after.Progress)
	assert.Equal(t, 3, *after.Progress)
	require.NotNil(t, after.TotalItems)
	assert.Equal(t, 3, *after.TotalItems)
	assert.NotNil(t, after.StartedAt)
	assert.NotNil(t, after.CompletedAt)
}

func TestExecutorFailsJobOnBodyError(t *testing.T) {
	h := newHarness(t, core.JobDefinition{
		Type: "sync_catalog",
		Body: func(_ context.Context, _ core.JobRun) (*core.Outcome, error) {
			return nil, errors.New("upstream returned 503")
		},
	})

	rec := h.createJob(t, model.CreateJobParams{Type: "sync_catalog"})
	after := h.runToCompletion(t, rec)

	assert.Equal(t, model.JobStatusFailed, after.Status)
	require.NotNil(t, after.ErrorMessage)
	assert.Equal(t, "upstream returned 503", *after.ErrorMessage)
}

func TestExecutorPartialFailure(t *testing.T) {
	h := newHarness(t, core.JobDefinition{
		Type: "sync_catalog",
		Body: func(_ context.Context, _ core.JobRun) (*core.Outcome, error) {
			return &core.Outcome{
				Result: json.RawMessage(`{"synced": 8, "failed": 2}`),
				Errors: []string{"sku 14 rejected", "sku 97 rejected"},
			}, nil
		},
	})

	rec := h.createJob(t, model.CreateJobParams{Type: "sync_catalog"})
	after := h.runToCompletion(t, rec)

	assert.Equal(t, model.JobStatusPartialFailure, after.Status)
	require.NotNil(t, after.ErrorMessage)
	assert.Equal(t, "sku 14 rejected; sku 97 rejected", *after.ErrorMessage)
	assert.JSONEq(t, `{"synced": 8, "failed": 2}`, string(after.Result))
}

func TestExecutorRecoversFromPanic(t *testing.T) {
	h := newHarness(t, core.JobDefinition{
		Type: "export_report",
		Body: func(_ context.Context, _ core.JobRun) (*core.Outcome, error) {
			panic("nil pointer somewhere deep")
		},
	})

	rec := h.createJob(t, model.CreateJobParams{Type: "export_report"})
	after := h.runToCompletion(t, rec)

	assert.Equal(t, model.JobStatusFailed, after.Status)
	require.NotNil(t, after.ErrorMessage)
	assert.Contains(t, *after.ErrorMessage, "panic: nil pointer somewhere deep")
}

func TestExecutorSkipsCancelledJob(t *testing.T) {
	h := newHarness(t, core.JobDefinition{
		Type: "export_report",
		Body: func(_ context.Context, _ core.JobRun) (*core.Outcome, error) {
			t.Error("body must not run for a cancelled record")
			return nil, nil
		},
	})

	rec := h.createJob(t, model.CreateJobParams{Type: "export_report"})
	ok, err := h.store.Cancel(context.Background(), rec.ID)
	require.NoError(t, err)
	require.True(t, ok)

	after := h.runToCompletion(t, rec)
	assert.Equal(t, model.JobStatusCancelled, after.Status)
}

func TestExecutorCooperativeCancellation(t *testing.T) {
	h := newHarness(t, core.JobDefinition{
		Type: "sync_catalog",
		Body: func(ctx context.Context, run core.JobRun) (*core.Outcome, error) {
			for !run.Cancelled() {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(2 * time.Millisecond):
				}
			}
			return nil, nil
		},
	})

	rec := h.createJob(t, model.CreateJobParams{Type: "sync_catalog"})
	require.NoError(t, h.executor.Start(context.Background(), rec))
	waitForStatus(t, h.store, rec.ID, model.JobStatusRunning)

	ok, err := h.cancellation.Cancel(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	h.executor.Wait()

	after, err := h.store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, after.Status)
	assert.True(t, after.Cancelled)
}

func TestExecutorNotifiesOnFailure(t *testing.T) {
	h := newHarness(t, core.JobDefinition{
		Type: "sync_catalog",
		Body: func(_ context.Context, _ core.JobRun) (*core.Outcome, error) {
			return nil, errors.New("upstream returned 503")
		},
	})

	received := make(chan notify.JobFailurePayload, 1)
	executor, err := NewExecutor(ExecutorOptions{
		Store:        h.store,
		Registry:     h.registry,
		Cancellation: h.cancellation,
		Notifier: notify.SinkFunc(func(_ context.Context, payload notify.JobFailurePayload) error {
			received <- payload
			return nil
		}),
		TerminalWriteBackoff: time.Millisecond,
		CancelPollInterval:   10 * time.Millisecond,
	})
	require.NoError(t, err)

	rec := h.createJob(t, model.CreateJobParams{
		Type:  "sync_catalog",
		Scope: model.Scope{"tenant": "acme"},
	})
	require.NoError(t, executor.Start(context.Background(), rec))
	executor.Wait()

	select {
	case payload := <-received:
		assert.Equal(t, rec.ID, payload.JobID)
		assert.Equal(t, "sync_catalog", payload.JobType)
		assert.Equal(t, "failed", payload.Status)
		assert.Equal(t, "upstream returned 503", payload.Error)
		assert.Equal(t, "tenant=acme", payload.Scope)
	default:
		t.Fatal("expected a failure notification")
	}
}

func TestExecutorDoesNotNotifyOnSuccess(t *testing.T) {
	h := newHarness(t, core.JobDefinition{
		Type: "export_report",
		Body: func(_ context.Context, _ core.JobRun) (*core.Outcome, error) {
			return nil, nil
		},
	})

	var notified bool
	executor, err := NewExecutor(ExecutorOptions{
		Store:        h.store,
		Registry:     h.registry,
		Cancellation: h.cancellation,
		Notifier: notify.SinkFunc(func(_ context.Context, _ notify.JobFailurePayload) error {
			notified = true
			return nil
		}),
		TerminalWriteBackoff: time.Millisecond,
		CancelPollInterval:   10 * time.Millisecond,
	})
	require.NoError(t, err)

	rec := h.createJob(t, model.CreateJobParams{Type: "export_report"})
	require.NoError(t, executor.Start(context.Background(), rec))
	executor.Wait()

	assert.False(t, notified)
}

func TestExecutorUnknownType(t *testing.T) {
	h := newHarness(t)

	err := h.executor.Start(context.Background(), &model.JobRecord{
		ID:   "x",
		Type: "nope",
	})
	assert.Error(t, err)
}
