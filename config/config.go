package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: storage and Redis configuration
//   - http.go: HTTP server configuration
//   - services.go: service mode and runner configuration
//   - observability.go: metrics configuration
type AppConfig struct {
	// IsDev controls development mode behavior (sqlite default paths,
	// verbose logging). Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Storage configuration
	Store    StoreConfig `envPrefix:"STORE_"`
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http,scheduler,recovery"`

	// Runner configuration
	Scheduler SchedulerConfig
	Executor  ExecutorConfig
	Recovery  RecoveryConfig

	// Tenant directory configuration
	Tenants TenantsConfig

	// Built-in webhook dispatch job configuration
	Webhook WebhookConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// Call it after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Store.Sanitize()
	c.HTTP.Sanitize()
	c.Scheduler.Sanitize()
	c.Executor.Sanitize()
	c.Recovery.Sanitize()
	c.Tenants.Sanitize()
	c.Webhook.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks NODE_ENV as a fallback for DEV.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}
