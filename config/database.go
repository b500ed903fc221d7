package config

import "strings"

// StoreDriver selects the job store backend.
type StoreDriver string

const (
	// StoreDriverPostgres backs the job store with PostgreSQL.
	StoreDriverPostgres StoreDriver = "postgres"
	// StoreDriverSQLite backs the job store with embedded SQLite.
	StoreDriverSQLite StoreDriver = "sqlite"
)

// StoreConfig selects and tunes the job store backend.
type StoreConfig struct {
	Driver StoreDriver `env:"DRIVER" envDefault:"postgres"`

	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `env:"SQLITE_PATH" envDefault:"jobcore.db"`
}

// Sanitize applies guardrails to store configuration values.
func (s *StoreConfig) Sanitize() {
	s.Driver = StoreDriver(strings.ToLower(strings.TrimSpace(string(s.Driver))))
	if s.Driver != StoreDriverSQLite {
		s.Driver = StoreDriverPostgres
	}
	if strings.TrimSpace(s.SQLitePath) == "" {
		s.SQLitePath = "jobcore.db"
	}
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"jobcore"`
	Password string `env:"PASSWORD" envDefault:"jobcore"`
	Name     string `env:"NAME"     envDefault:"jobcore"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration. Redis carries the active tenant
// set and the cancellation broadcast channel; leave Enabled false to run
// without it.
type RedisConfig struct {
	Enabled            bool     `env:"ENABLED"              envDefault:"false"`
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`

	// TenantSetKey is the set the scheduler reads active tenants from.
	TenantSetKey string `env:"TENANT_SET_KEY" envDefault:"tenants:active"`
	// CancelChannel is the pub/sub channel for cancellation broadcasts.
	CancelChannel string `env:"CANCEL_CHANNEL" envDefault:"jobs:cancel"`
}
