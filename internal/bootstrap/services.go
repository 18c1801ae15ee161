package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentfleet/job-runner/config"
	"github.com/agentfleet/job-runner/internal/adapters/delivery"
	"github.com/agentfleet/job-runner/internal/adapters/sweeper"
	"github.com/agentfleet/job-runner/internal/data"
	"github.com/agentfleet/job-runner/internal/observability/statsd"
	"github.com/agentfleet/job-runner/internal/runner"
)

const shutdownWaitTimeout = 10 * time.Second

// ServiceDeps groups dependencies for service startup.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewMetricsSink constructs the shared StatsD sink from configuration.
func NewMetricsSink(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) (*statsd.Client, error) {
	return statsd.NewClient(statsd.Config{
		Enabled: cfg.IsEnabled(),
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
}

// backgroundService pairs a service name with its run function.
type backgroundService struct {
	name    string
	enabled bool
	run     func(ctx context.Context) error
}

// backgroundServiceHandle tracks a started service.
type backgroundServiceHandle struct {
	name string
	done chan struct{}
}

func buildBackgroundServices(deps *ServiceDeps, metrics statsd.Sink, enabled map[config.ServiceMode]bool) []backgroundService {
	return []backgroundService{
		{
			name:    "runner",
			enabled: enabled[config.ServiceModeRunner],
			run: func(ctx context.Context) error {
				return RunJobRunner(ctx, deps, metrics)
			},
		},
		{
			name:    "sweeper",
			enabled: enabled[config.ServiceModeSweeper],
			run: func(ctx context.Context) error {
				return RunSweeper(ctx, deps, metrics)
			},
		},
	}
}

// RunJobRunner starts the delivery-batch job runner service.
func RunJobRunner(ctx context.Context, deps *ServiceDeps, metrics statsd.Sink) error {
	source, err := delivery.NewQueueSource(delivery.QueueSourceOptions{
		Client: deps.RedisClient,
		Key:    deps.Config.Runner.QueueKey,
		Block:  deps.Config.Runner.BlockTimeout,
	})
	if err != nil {
		return fmt.Errorf("create delivery source: %w", err)
	}

	r, err := runner.NewRunner(runner.RunnerOptions{
		Store:   data.NewJobRecordRepo(deps.DB, data.RepoConfig{}),
		Source:  source,
		Config:  deps.Config.Runner,
		Logger:  deps.Logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}
	return r.Run(ctx)
}

// RunSweeper starts the stale-record reconciliation service.
func RunSweeper(ctx context.Context, deps *ServiceDeps, metrics statsd.Sink) error {
	s, err := sweeper.NewRunner(sweeper.RunnerOptions{
		DB:      deps.DB,
		Table:   deps.Config.Runner.DefaultTable,
		Config:  deps.Config.Sweeper,
		Logger:  deps.Logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("create sweeper: %w", err)
	}
	return s.Run(ctx)
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(deps *ServiceDeps) error {
	if deps == nil || deps.Config == nil {
		return errors.New("service dependencies are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := deps.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	metricsSink, err := NewMetricsSink(deps.Config.Observability.Metrics, logger)
	if err != nil {
		return fmt.Errorf("create metrics sink: %w", err)
	}
	defer func() {
		if cerr := metricsSink.Close(); cerr != nil {
			logger.Error("close metrics sink failed", "error", cerr)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, len(enabled)+1)
	handles := make([]backgroundServiceHandle, 0, len(enabled))

	for _, svc := range buildBackgroundServices(deps, metricsSink, enabled) {
		if !svc.enabled {
			continue
		}
		done := make(chan struct{})
		handles = append(handles, backgroundServiceHandle{name: svc.name, done: done})
		go func() {
			defer close(done)
			if runErr := svc.run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				errCh <- fmt.Errorf("%s service: %w", svc.name, runErr)
			}
		}()
	}

	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       errCh,
		logger:      logger,
		backgrounds: handles,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for background services to finish, bounded per service.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		select {
		case <-svc.done:
			cfg.logger.Info("service stopped", "service", svc.name)
		case <-time.After(shutdownWaitTimeout):
			cfg.logger.Warn("service did not stop in time", "service", svc.name)
		}
	}
}

// RunMigrations applies embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger != nil {
		logger.InfoContext(ctx, "running database migrations")
	}
	if err := data.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
