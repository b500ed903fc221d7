// Package webhook provides the built-in webhook dispatch job. It fans a
// notification payload out to configured endpoints, one POST per endpoint,
// and reports per-endpoint failures instead of aborting the whole run.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/contentops/jobcore/internal/core"
)

// JobType is the registered type of the dispatch job.
const JobType = "webhook_dispatch"

// Config captures the dispatcher behaviour.
type Config struct {
	Endpoints  []string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Dispatcher posts job notifications to webhook endpoints.
type Dispatcher struct {
	endpoints  []string
	retryLimit int
	client     *http.Client
}

// NewDispatcher builds a dispatcher. At least one endpoint is required.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one webhook endpoint is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.RetryLimit
	if retries < 0 {
		retries = 0
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Dispatcher{
		endpoints:  cfg.Endpoints,
		retryLimit: retries,
		client:     hc,
	}, nil
}

// Definition exposes the dispatcher as a registerable job definition.
func (d *Dispatcher) Definition(every time.Duration) core.JobDefinition {
	return core.JobDefinition{
		Type:       JobType,
		Body:       d.Run,
		Every:      every,
		StaleAfter: 30 * time.Minute,
	}
}

type payload struct {
	JobID    string            `json:"job_id"`
	Scope    map[string]string `json:"scope,omitempty"`
	Metadata json.RawMessage   `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

type dispatchResult struct {
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
	Endpoints []string `json:"endpoints"`
}

// Run delivers the payload to every endpoint. Endpoint failures become
// outcome errors; only a payload that cannot be encoded fails the run.
func (d *Dispatcher) Run(ctx context.Context, run core.JobRun) (*core.Outcome, error) {
	body, err := json.Marshal(payload{
		JobID:    run.JobID,
		Scope:    run.Scope,
		Metadata: run.Metadata,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}

	result := dispatchResult{Endpoints: d.endpoints}
	var errs []string
	for i, endpoint := range d.endpoints {
		if run.Cancelled() {
			break
		}
		if err := d.deliver(ctx, endpoint, body); err != nil {
			result.Failed++
			errs = append(errs, fmt.Sprintf("%s: %v", endpoint, err))
		} else {
			result.Delivered++
		}
		run.ReportProgress(i+1, len(d.endpoints))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode dispatch result: %w", err)
	}
	return &core.Outcome{Result: raw, Errors: errs}, nil
}

func (d *Dispatcher) deliver(ctx context.Context, endpoint string, body []byte) error {
	attempts := d.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		lastErr = d.post(ctx, endpoint, body)
		if lastErr == nil {
			return nil
		}
		if attempt < attempts-1 {
			delay := time.Duration(attempt+1) * 200 * time.Millisecond
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}

func (d *Dispatcher) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
