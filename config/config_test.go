package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsLoadAndSanitize(t *testing.T) {
	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Recovery.Interval)
	assert.Equal(t, 30*24*time.Hour, cfg.Recovery.Retention)
	assert.Equal(t, 3, cfg.Executor.TerminalWriteRetries)
	assert.False(t, cfg.Observability.Metrics.IsEnabled())

	services, err := cfg.GetEnabledServices()
	require.NoError(t, err)
	assert.True(t, services[ServiceModeHTTP])
	assert.True(t, services[ServiceModeScheduler])
	assert.True(t, services[ServiceModeRecovery])
}

func TestStoreDriverOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("STORE_SQLITE_PATH", "  ")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "jobcore.db", cfg.Store.SQLitePath)
}

func TestSanitizeClampsRunnerValues(t *testing.T) {
	cfg := AppConfig{
		Scheduler: SchedulerConfig{Interval: time.Millisecond},
		Recovery:  RecoveryConfig{Interval: time.Second, Retention: time.Minute, BatchSize: -1},
		Executor:  ExecutorConfig{TerminalWriteRetries: 0, CancelPollInterval: time.Millisecond},
		HTTP:      HTTPConfig{MaxConns: 0},
	}
	cfg.Sanitize()

	assert.Equal(t, time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, time.Minute, cfg.Recovery.Interval)
	assert.Equal(t, time.Hour, cfg.Recovery.Retention)
	assert.Equal(t, 1, cfg.Recovery.BatchSize)
	assert.Equal(t, 1, cfg.Executor.TerminalWriteRetries)
	assert.Equal(t, time.Second, cfg.Executor.CancelPollInterval)
	assert.Equal(t, 1, cfg.HTTP.MaxConns)
}

func TestParseServices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []ServiceMode
		wantErr bool
	}{
		{name: "single", input: "http", want: []ServiceMode{ServiceModeHTTP}},
		{
			name:  "all with spaces",
			input: " http, scheduler ,recovery",
			want:  []ServiceMode{ServiceModeHTTP, ServiceModeScheduler, ServiceModeRecovery},
		},
		{name: "empty", input: "", wantErr: true},
		{name: "unknown", input: "http,reaper", wantErr: true},
		{name: "only commas", input: ",,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, mode := range tt.want {
				assert.True(t, got[mode])
			}
			assert.Len(t, got, len(tt.want))
		})
	}
}

func TestTenantsSanitizeDropsEmpties(t *testing.T) {
	cfg := TenantsConfig{Static: []string{" acme ", "", "globex"}}
	cfg.Sanitize()
	assert.Equal(t, []string{"acme", "globex"}, cfg.Static)
}
