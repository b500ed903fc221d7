package config

import (
	"strings"
	"time"
)

const defaultMetricsPrefix = "jobcore"

// ObservabilityConfig groups configuration that controls metrics emission
// and failure alerting.
type ObservabilityConfig struct {
	Metrics ObservabilityMetricsConfig
	Notify  NotifyConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notify.Sanitize()
}

// ObservabilityMetricsConfig controls emission of metrics to StatsD.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
	Prefix        string `env:"OBSERVABILITY_METRICS_PREFIX"         envDefault:"jobcore"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), ".")
	if c.Prefix == "" {
		c.Prefix = defaultMetricsPrefix
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// NotifyConfig controls where failed and partially failed jobs are reported.
// A sink is active when its credential field is non-empty.
type NotifyConfig struct {
	SlackWebhookURL     string        `env:"NOTIFY_SLACK_WEBHOOK_URL"`
	SlackChannel        string        `env:"NOTIFY_SLACK_CHANNEL"`
	SlackUsername       string        `env:"NOTIFY_SLACK_USERNAME"`
	PagerDutyRoutingKey string        `env:"NOTIFY_PAGERDUTY_ROUTING_KEY"`
	Timeout             time.Duration `env:"NOTIFY_TIMEOUT"     envDefault:"5s"`
	RetryLimit          int           `env:"NOTIFY_RETRY_LIMIT" envDefault:"2"`
}

// Sanitize normalises the notification settings.
func (c *NotifyConfig) Sanitize() {
	c.SlackWebhookURL = strings.TrimSpace(c.SlackWebhookURL)
	c.SlackChannel = strings.TrimSpace(c.SlackChannel)
	c.SlackUsername = strings.TrimSpace(c.SlackUsername)
	c.PagerDutyRoutingKey = strings.TrimSpace(c.PagerDutyRoutingKey)
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
}
