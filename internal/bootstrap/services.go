package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/contentops/jobcore/config"
	recoveryadapter "github.com/contentops/jobcore/internal/adapters/recovery"
	scheduleradapter "github.com/contentops/jobcore/internal/adapters/scheduler"
	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data"
	"github.com/contentops/jobcore/internal/jobs/webhook"
	"github.com/contentops/jobcore/internal/observability/notify"
	"github.com/contentops/jobcore/internal/observability/notify/pagerduty"
	"github.com/contentops/jobcore/internal/observability/notify/slack"
	"github.com/contentops/jobcore/internal/observability/statsd"
	"github.com/contentops/jobcore/internal/service"
)

// ServiceContainer holds the wired services of the process.
type ServiceContainer struct {
	Store        core.JobStore
	Registry     *core.Registry
	Cancellation *service.CancellationController
	Executor     *service.Executor
	Scheduler    *service.Scheduler
	Recovery     *service.RecoveryManager
	Metrics      *statsd.Client
	Redis        redis.UniversalClient
}

// BuildServicesConfig groups the inputs for BuildServices.
type BuildServicesConfig struct {
	Config   *config.AppConfig
	Store    core.JobStore
	Redis    redis.UniversalClient // Optional
	Logger   *slog.Logger
	Registry *core.Registry // Optional: tests inject a prebuilt registry
}

// BuildServices wires the service graph from an opened store.
func BuildServices(cfg BuildServicesConfig) (*ServiceContainer, error) {
	if cfg.Config == nil {
		return nil, errors.New("app config is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("job store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sink, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Config.Observability.Metrics.IsEnabled(),
		Address: cfg.Config.Observability.Metrics.StatsdAddress,
		Prefix:  cfg.Config.Observability.Metrics.Prefix,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}

	registry := cfg.Registry
	if registry == nil {
		registry = core.NewRegistry()
	}
	if err := registerBuiltinJobs(registry, cfg.Config); err != nil {
		return nil, err
	}

	cancellation, err := service.NewCancellationController(service.CancellationControllerOptions{
		Store:   cfg.Store,
		Logger:  logger,
		Redis:   cfg.Redis,
		Channel: cfg.Config.Redis.CancelChannel,
	})
	if err != nil {
		return nil, fmt.Errorf("create cancellation controller: %w", err)
	}

	notifier, err := buildNotifier(cfg.Config.Observability.Notify)
	if err != nil {
		return nil, err
	}

	executor, err := service.NewExecutor(service.ExecutorOptions{
		Store:                cfg.Store,
		Registry:             registry,
		Cancellation:         cancellation,
		Logger:               logger,
		Metrics:              sink,
		Notifier:             notifier,
		TerminalWriteRetries: cfg.Config.Executor.TerminalWriteRetries,
		TerminalWriteBackoff: cfg.Config.Executor.TerminalWriteBackoff,
		CancelPollInterval:   cfg.Config.Executor.CancelPollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	scheduler, err := service.NewScheduler(service.SchedulerOptions{
		Store:    cfg.Store,
		Registry: registry,
		Executor: executor,
		Tenants:  tenantDirectory(cfg),
		Logger:   logger,
		Metrics:  sink,
	})
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	recovery, err := service.NewRecoveryManager(service.RecoveryOptions{
		Store:     cfg.Store,
		Registry:  registry,
		Logger:    logger,
		Metrics:   sink,
		Retention: cfg.Config.Recovery.Retention,
		BatchSize: cfg.Config.Recovery.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create recovery manager: %w", err)
	}

	return &ServiceContainer{
		Store:        cfg.Store,
		Registry:     registry,
		Cancellation: cancellation,
		Executor:     executor,
		Scheduler:    scheduler,
		Recovery:     recovery,
		Metrics:      sink,
		Redis:        cfg.Redis,
	}, nil
}

//nolint:ireturn // the directory implementation depends on runtime config.
func tenantDirectory(cfg BuildServicesConfig) core.TenantDirectory {
	if len(cfg.Config.Tenants.Static) > 0 {
		return data.NewStaticTenantDirectory(cfg.Config.Tenants.Static)
	}
	if cfg.Redis != nil {
		return data.NewRedisTenantDirectory(cfg.Redis, cfg.Config.Redis.TenantSetKey)
	}
	return nil
}

// buildNotifier assembles the failure alert fan-out from whichever sinks
// have credentials configured. Returns nil when none do.
//
//nolint:ireturn // nil means no alerting; callers treat the sink as optional.
func buildNotifier(cfg config.NotifyConfig) (notify.Sink, error) {
	var sinks notify.Fanout

	if cfg.SlackWebhookURL != "" {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.SlackWebhookURL,
			Channel:    cfg.SlackChannel,
			Username:   cfg.SlackUsername,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create slack notifier: %w", err)
		}
		sinks = append(sinks, client)
	}

	if cfg.PagerDutyRoutingKey != "" {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDutyRoutingKey,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create pagerduty notifier: %w", err)
		}
		sinks = append(sinks, client)
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func registerBuiltinJobs(registry *core.Registry, cfg *config.AppConfig) error {
	if len(cfg.Webhook.Endpoints) == 0 {
		return nil
	}

	dispatcher, err := webhook.NewDispatcher(webhook.Config{
		Endpoints:  cfg.Webhook.Endpoints,
		Timeout:    cfg.Webhook.Timeout,
		RetryLimit: cfg.Webhook.RetryLimit,
	})
	if err != nil {
		return fmt.Errorf("create webhook dispatcher: %w", err)
	}
	if err := registry.Register(dispatcher.Definition(cfg.Webhook.Every)); err != nil {
		return fmt.Errorf("register webhook job: %w", err)
	}
	return nil
}

// RunConfig groups the inputs for Run.
type RunConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// Run executes the enabled service loops until the context is cancelled.
// The startup orphan sweep always runs first so stranded single-flight
// slots are free before the first tick.
func Run(ctx context.Context, cfg RunConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return err
	}

	if err := cfg.Services.Recovery.StartupSweep(ctx); err != nil {
		// The sweep is best effort; individual failures surface per type.
		logger.ErrorContext(ctx, "startup sweep incomplete", "error", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return cfg.Services.Cancellation.Listen(groupCtx)
	})

	if enabled[config.ServiceModeScheduler] {
		runner, err := scheduleradapter.NewRunner(scheduleradapter.RunnerOptions{
			Scheduler: cfg.Services.Scheduler,
			Interval:  cfg.Config.Scheduler.Interval,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("create scheduler runner: %w", err)
		}
		group.Go(func() error { return runner.Run(groupCtx) })
	}

	if enabled[config.ServiceModeRecovery] {
		runner, err := recoveryadapter.NewRunner(recoveryadapter.RunnerOptions{
			Recovery: cfg.Services.Recovery,
			Interval: cfg.Config.Recovery.Interval,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("create recovery runner: %w", err)
		}
		group.Go(func() error { return runner.Run(groupCtx) })
	}

	if enabled[config.ServiceModeHTTP] {
		group.Go(func() error {
			return ServeHTTP(groupCtx, HTTPServerConfig{
				Config:   cfg.Config,
				Services: cfg.Services,
				Logger:   logger,
			})
		})
	}

	err = group.Wait()

	// Let in-flight bodies finish their terminal writes.
	cfg.Services.Executor.Wait()
	return err
}
