package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data"
	"github.com/contentops/jobcore/internal/domain/model"
	obserrors "github.com/contentops/jobcore/internal/observability/errors"
	"github.com/contentops/jobcore/internal/observability/metrics"
	"github.com/contentops/jobcore/internal/observability/notify"
	"github.com/contentops/jobcore/internal/observability/statsd"
)

const (
	defaultTerminalWriteRetries = 3
	defaultTerminalWriteBackoff = 500 * time.Millisecond
	defaultCancelPollInterval   = 5 * time.Second
)

// ExecutorOptions groups dependencies for Executor.
type ExecutorOptions struct {
	Store        core.JobStore           // Required
	Registry     *core.Registry          // Required
	Cancellation *CancellationController // Required
	Logger       *slog.Logger            // Optional
	Metrics      statsd.Sink             // Optional
	Notifier     notify.Sink             // Optional
	TimeProvider data.TimeProvider       // Optional

	// Terminal write funnel tuning. Zero values take the defaults.
	TerminalWriteRetries int
	TerminalWriteBackoff time.Duration
	CancelPollInterval   time.Duration
}

// Executor runs job bodies. Every run, however it ends (success, failure,
// partial failure, panic, cancellation), funnels through exactly one
// terminal status write.
type Executor struct {
	store        core.JobStore
	registry     *core.Registry
	cancellation *CancellationController
	logger       *slog.Logger
	metrics      statsd.Sink
	notifier     notify.Sink
	timeProvider data.TimeProvider

	terminalRetries int
	terminalBackoff time.Duration
	cancelPoll      time.Duration

	mu    sync.Mutex
	slots map[model.JobType]chan struct{}
	wg    sync.WaitGroup
}

// NewExecutor constructs an Executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("job registry is required")
	}
	if opts.Cancellation == nil {
		return nil, errors.New("cancellation controller is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.TerminalWriteRetries <= 0 {
		opts.TerminalWriteRetries = defaultTerminalWriteRetries
	}
	if opts.TerminalWriteBackoff <= 0 {
		opts.TerminalWriteBackoff = defaultTerminalWriteBackoff
	}
	if opts.CancelPollInterval <= 0 {
		opts.CancelPollInterval = defaultCancelPollInterval
	}

	return &Executor{
		store:           opts.Store,
		registry:        opts.Registry,
		cancellation:    opts.Cancellation,
		logger:          opts.Logger.With("component", "executor"),
		metrics:         opts.Metrics,
		notifier:        opts.Notifier,
		timeProvider:    opts.TimeProvider,
		terminalRetries: opts.TerminalWriteRetries,
		terminalBackoff: opts.TerminalWriteBackoff,
		cancelPoll:      opts.CancelPollInterval,
		slots:           make(map[model.JobType]chan struct{}),
	}, nil
}

// Start launches the job body asynchronously. The caller (scheduler tick or
// trigger handler) never blocks on the body.
func (e *Executor) Start(ctx context.Context, rec *model.JobRecord) error {
	def, ok := e.registry.Lookup(rec.Type)
	if !ok {
		return fmt.Errorf("no definition registered for job type %s", rec.Type)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, def, rec)
	}()
	return nil
}

// Wait blocks until all in-flight bodies have finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) run(ctx context.Context, def *core.JobDefinition, rec *model.JobRecord) {
	slot := e.slot(def)
	select {
	case slot <- struct{}{}:
		defer func() { <-slot }()
	case <-ctx.Done():
		return
	}

	logger := e.logger.With("job_id", rec.ID, "job_type", rec.Type)

	running := model.JobStatusRunning
	ok, err := e.store.Update(ctx, model.UpdateJobParams{ID: rec.ID, Status: &running})
	if err != nil {
		logger.ErrorContext(ctx, "mark running failed", "error", err)
		metrics.EmitJobLifecycle(e.metrics, metrics.JobMetric{
			JobType:    string(rec.Type),
			Transition: "running",
			Result:     metrics.ResultError,
			Err:        err,
		})
		return
	}
	if !ok {
		// Cancelled or otherwise terminal before it ever ran.
		logger.InfoContext(ctx, "job no longer runnable, skipping")
		metrics.EmitJobLifecycle(e.metrics, metrics.JobMetric{
			JobType:    string(rec.Type),
			Transition: "running",
			Result:     metrics.ResultNoop,
		})
		return
	}

	flag, release := e.cancellation.Track(rec.ID)
	defer release()

	bodyCtx, cancelBody := context.WithCancel(ctx)
	defer cancelBody()
	go e.pollCancelled(bodyCtx, rec.ID, flag, cancelBody)

	started := e.timeProvider.Now()
	outcome, bodyErr := e.invokeBody(bodyCtx, def, rec, flag, logger)
	elapsed := e.timeProvider.Now().Sub(started)

	e.finish(ctx, logger, rec, flag, outcome, bodyErr, elapsed)
}

// invokeBody runs the body with panic recovery. A panic becomes an error so
// the terminal funnel below treats it like any other failure.
func (e *Executor) invokeBody(
	ctx context.Context,
	def *core.JobDefinition,
	rec *model.JobRecord,
	flag *atomic.Bool,
	logger *slog.Logger,
) (outcome *core.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "job body panicked", "panic", r, "stack", string(debug.Stack()))
			outcome = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	run := core.JobRun{
		JobID:     rec.ID,
		Scope:     rec.Scope.Clone(),
		Metadata:  rec.Metadata,
		Cancelled: flag.Load,
		ReportProgress: func(done, total int) {
			e.reportProgress(ctx, logger, rec.ID, done, total)
		},
	}
	return def.Body(ctx, run)
}

func (e *Executor) reportProgress(
	ctx context.Context,
	logger *slog.Logger,
	jobID string,
	done, total int,
) {
	if _, err := e.store.Update(ctx, model.UpdateJobParams{
		ID:         jobID,
		Progress:   &done,
		TotalItems: &total,
	}); err != nil {
		logger.WarnContext(ctx, "progress update failed", "error", err)
	}
}

// pollCancelled watches the persisted cancelled flag so cancellations issued
// by other replicas reach this body without pub/sub.
func (e *Executor) pollCancelled(
	ctx context.Context,
	jobID string,
	flag *atomic.Bool,
	cancelBody context.CancelFunc,
) {
	ticker := time.NewTicker(e.cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if flag.Load() {
				cancelBody()
				return
			}
			rec, err := e.store.Get(ctx, jobID)
			if err != nil {
				continue
			}
			if rec.Cancelled || rec.Status.Terminal() {
				flag.Store(true)
				cancelBody()
				return
			}
		}
	}
}

// finish maps the body outcome onto a terminal status and writes it through
// the retrying funnel.
func (e *Executor) finish(
	ctx context.Context,
	logger *slog.Logger,
	rec *model.JobRecord,
	flag *atomic.Bool,
	outcome *core.Outcome,
	bodyErr error,
	elapsed time.Duration,
) {
	params := model.UpdateJobParams{ID: rec.ID}
	result := metrics.ResultSuccess

	switch {
	case flag.Load():
		// Cancel already wrote the terminal state; the guarded update
		// below is a no-op and the record stays cancelled.
		status := model.JobStatusCancelled
		params.Status = &status
		result = metrics.ResultNoop

	case bodyErr != nil:
		status := model.JobStatusFailed
		msg := bodyErr.Error()
		params.Status = &status
		params.ErrorMessage = &msg
		result = metrics.ResultError

	case outcome != nil && len(outcome.Errors) > 0:
		status := model.JobStatusPartialFailure
		msg := strings.Join(outcome.Errors, "; ")
		params.Status = &status
		params.ErrorMessage = &msg
		params.Result = outcome.Result
		result = metrics.ResultError

	default:
		status := model.JobStatusCompleted
		params.Status = &status
		if outcome != nil {
			params.Result = outcome.Result
		}
	}

	transitioned := e.writeTerminal(ctx, logger, params)
	if !transitioned && result == metrics.ResultSuccess {
		result = metrics.ResultNoop
	}

	metrics.EmitJobLifecycle(e.metrics, metrics.JobMetric{
		JobType:    string(rec.Type),
		Transition: string(*params.Status),
		Result:     result,
		Duration:   elapsed,
		Err:        bodyErr,
	})
	logger.InfoContext(ctx, "job finished",
		"status", *params.Status, "transitioned", transitioned, "elapsed", elapsed)

	if transitioned {
		e.notifyFailure(ctx, logger, rec, *params.Status, params.ErrorMessage, bodyErr)
	}
}

// notifyFailure pushes failed and partial_failure terminals to the alert
// sinks. Delivery runs off the hot path; the next body does not wait on a
// webhook round trip.
func (e *Executor) notifyFailure(
	ctx context.Context,
	logger *slog.Logger,
	rec *model.JobRecord,
	status model.JobStatus,
	errMsg *string,
	bodyErr error,
) {
	if e.notifier == nil {
		return
	}
	if status != model.JobStatusFailed && status != model.JobStatusPartialFailure {
		return
	}

	payload := notify.JobFailurePayload{
		JobID:      rec.ID,
		JobType:    string(rec.Type),
		Scope:      rec.Scope.Key(),
		Status:     string(status),
		Severity:   notify.SeverityCritical,
		OccurredAt: e.timeProvider.Now(),
		Metadata:   metadataStrings(rec.Metadata),
	}
	if status == model.JobStatusPartialFailure {
		payload.Severity = notify.SeverityWarning
	}
	if errMsg != nil {
		payload.Error = *errMsg
	}
	if bodyErr != nil {
		payload.ErrorClass = obserrors.Classify(bodyErr)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := e.notifier.SendJobFailure(sendCtx, payload); err != nil {
			logger.WarnContext(sendCtx, "failure notification not delivered", "error", err)
		}
	}()
}

func metadataStrings(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	out := make(map[string]string, len(decoded))
	for k, v := range decoded {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// writeTerminal retries the terminal status write with bounded backoff. If
// every attempt fails the record is left for the staleness sweep.
func (e *Executor) writeTerminal(
	ctx context.Context,
	logger *slog.Logger,
	params model.UpdateJobParams,
) bool {
	var lastErr error
	for attempt := 0; attempt < e.terminalRetries; attempt++ {
		if attempt > 0 {
			backoff := e.terminalBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
		}

		ok, err := e.store.Update(ctx, params)
		if err == nil {
			return ok
		}
		lastErr = err
		logger.WarnContext(ctx, "terminal status write failed",
			"attempt", attempt+1, "status", *params.Status, "error", err)
	}

	logger.ErrorContext(ctx, "terminal status write abandoned",
		"status", *params.Status, "error", lastErr)
	return false
}

func (e *Executor) slot(def *core.JobDefinition) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot, ok := e.slots[def.Type]
	if !ok {
		slot = make(chan struct{}, def.Slots())
		e.slots[def.Type] = slot
	}
	return slot
}

// Describe lists registered definitions; the HTTP boundary serves it.
func (e *Executor) Describe() []*core.JobDefinition {
	return e.registry.Definitions()
}
