package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentfleet/job-runner/config"
	"github.com/agentfleet/job-runner/internal/core"
	"github.com/agentfleet/job-runner/internal/domain/model"
	"github.com/agentfleet/job-runner/internal/observability/statsd"
)

// Runner pulls delivery batches and hands them to the coordinator until its
// context is cancelled.
type Runner struct {
	source      core.DeliverySource
	coordinator *Coordinator
	batchSize   int
	logger      *slog.Logger
	metrics     statsd.Sink
}

// RunnerOptions configures the job runner.
type RunnerOptions struct {
	Store  core.RecordStore
	Source core.DeliverySource
	Config config.RunnerConfig
	Logger *slog.Logger

	// Optional dependency injections (useful for tests/decoupling)
	Executor   Executor
	Registry   *Registry
	HTTPClient *http.Client
	Metrics    statsd.Sink
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// buildExecutor resolves the execution strategy from configuration once per
// process; mode never varies per job.
func buildExecutor(opts RunnerOptions) (Executor, error) {
	if opts.Executor != nil {
		return opts.Executor, nil
	}
	switch opts.Config.Mode {
	case model.RunnerModeDelegated:
		return NewDelegatedExecutor(DelegatedExecutorOptions{
			Endpoint:      opts.Config.WebhookURL,
			AckExpression: opts.Config.AckExpression,
			HTTPClient:    opts.HTTPClient,
			Timeout:       opts.Config.WebhookTimeout,
		})
	case model.RunnerModeDeterministic:
		return NewDeterministicExecutor(opts.Registry), nil
	}
	return nil, fmt.Errorf("unsupported runner mode %q", opts.Config.Mode)
}

// NewRunner wires the claimer, executor, committer, and coordinator for the
// configured execution mode.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("record store is required")
	}
	if opts.Source == nil {
		return nil, errors.New("delivery source is required")
	}

	logger := resolveLogger(opts.Logger)

	claimer, err := NewClaimer(ClaimerOptions{Store: opts.Store})
	if err != nil {
		return nil, fmt.Errorf("create claimer: %w", err)
	}

	executor, err := buildExecutor(opts)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	committer, err := NewCommitter(opts.Store)
	if err != nil {
		return nil, fmt.Errorf("create committer: %w", err)
	}

	coordinator, err := NewCoordinator(CoordinatorOptions{
		Claimer:   claimer,
		Executor:  executor,
		Committer: committer,
		Defaults: ReferenceDefaults{
			Namespace: opts.Config.DefaultNamespace,
			Table:     opts.Config.DefaultTable,
		},
		Concurrency: opts.Config.Concurrency,
		Logger:      logger,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	batchSize := opts.Config.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	return &Runner{
		source:      opts.Source,
		coordinator: coordinator,
		batchSize:   batchSize,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// Run consumes delivery batches until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "batch_size", r.batchSize)

	for ctx.Err() == nil {
		bodies, err := r.source.Next(ctx, r.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("next delivery batch: %w", err)
		}
		if len(bodies) == 0 {
			continue
		}

		start := time.Now()
		result := r.coordinator.ProcessBatch(ctx, bodies)
		r.logger.InfoContext(ctx, "batch processed",
			"delivered", len(bodies),
			"processed", result.Processed,
			"errors", result.Errors,
			"duration", time.Since(start),
		)
		if r.metrics != nil {
			r.metrics.Count("batch.processed", int64(result.Processed), nil)
			r.metrics.Count("batch.errors", int64(result.Errors), nil)
			r.metrics.Timing("batch.duration", time.Since(start), nil)
		}
	}
	return ctx.Err()
}
