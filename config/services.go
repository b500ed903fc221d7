package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeScheduler runs the scheduler tick loop.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeRecovery runs the staleness and retention sweeps.
	ServiceModeRecovery ServiceMode = "recovery"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeScheduler, ServiceModeRecovery}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. All names must be valid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeScheduler, ServiceModeRecovery:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, scheduler, recovery)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// SchedulerConfig contains scheduler runner configuration.
type SchedulerConfig struct {
	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"15s"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Interval < time.Second {
		s.Interval = time.Second
	}
}

// ExecutorConfig tunes the terminal write funnel and cancellation polling.
type ExecutorConfig struct {
	TerminalWriteRetries int           `env:"EXECUTOR_TERMINAL_WRITE_RETRIES" envDefault:"3"`
	TerminalWriteBackoff time.Duration `env:"EXECUTOR_TERMINAL_WRITE_BACKOFF" envDefault:"500ms"`
	CancelPollInterval   time.Duration `env:"EXECUTOR_CANCEL_POLL_INTERVAL"   envDefault:"5s"`
}

// Sanitize applies guardrails to executor configuration values.
func (e *ExecutorConfig) Sanitize() {
	if e.TerminalWriteRetries < 1 {
		e.TerminalWriteRetries = 1
	}
	if e.TerminalWriteBackoff <= 0 {
		e.TerminalWriteBackoff = 500 * time.Millisecond
	}
	if e.CancelPollInterval < time.Second {
		e.CancelPollInterval = time.Second
	}
}

// RecoveryConfig contains recovery sweep configuration.
type RecoveryConfig struct {
	// Interval is how often the periodic sweeps run.
	Interval time.Duration `env:"RECOVERY_INTERVAL" envDefault:"5m"`

	// Retention is how long terminal records are kept.
	Retention time.Duration `env:"RECOVERY_RETENTION" envDefault:"720h"`

	// BatchSize bounds each sweep pass.
	BatchSize int `env:"RECOVERY_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to recovery configuration values.
func (r *RecoveryConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.Retention < time.Hour {
		r.Retention = time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
}

// TenantsConfig selects the tenant directory backing multi-tenant fan-out.
// When Static is non-empty it wins over Redis.
type TenantsConfig struct {
	// Static is a comma-delimited tenant list for single-node deployments.
	Static []string `env:"TENANTS_STATIC" envDefault:""`
}

// Sanitize trims empty entries out of the static list.
func (t *TenantsConfig) Sanitize() {
	out := t.Static[:0]
	for _, tenant := range t.Static {
		if trimmed := strings.TrimSpace(tenant); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	t.Static = out
}

// WebhookConfig configures the built-in webhook dispatch job. The job is
// registered only when at least one endpoint is set.
type WebhookConfig struct {
	Endpoints  []string      `env:"WEBHOOK_ENDPOINTS"   envDefault:""`
	Every      time.Duration `env:"WEBHOOK_EVERY"       envDefault:"0"`
	Timeout    time.Duration `env:"WEBHOOK_TIMEOUT"     envDefault:"5s"`
	RetryLimit int           `env:"WEBHOOK_RETRY_LIMIT" envDefault:"2"`
}

// Sanitize applies guardrails to webhook configuration values.
func (w *WebhookConfig) Sanitize() {
	out := w.Endpoints[:0]
	for _, endpoint := range w.Endpoints {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	w.Endpoints = out

	if w.Timeout <= 0 {
		w.Timeout = 5 * time.Second
	}
	if w.RetryLimit < 0 {
		w.RetryLimit = 0
	}
}
