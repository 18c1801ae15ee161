// Package sweeper provides the reconciliation loop that recovers job records
// left RUNNING by a crashed runner.
package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentfleet/job-runner/config"
	"github.com/agentfleet/job-runner/internal/data"
	"github.com/agentfleet/job-runner/internal/observability/statsd"
)

// StaleRequeuer re-queues RUNNING records whose last status write is older
// than the cutoff.
type StaleRequeuer interface {
	RequeueStale(ctx context.Context, table string, cutoff time.Time) (int64, error)
}

// Runner periodically sweeps the default job table for abandoned claims.
// The runner core never depends on it; it exists so at-least-once completion
// holds across runner crashes between claim and commit.
type Runner struct {
	repo       StaleRequeuer
	table      string
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	metrics    statsd.Sink
}

// RunnerOptions holds the dependencies for creating a sweeper Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Table  string
	Config config.SweeperConfig
	Logger *slog.Logger

	// Optional dependency injection for testing/decoupling
	Repo    StaleRequeuer
	Metrics statsd.Sink
}

// NewRunner creates a sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.Repo == nil {
		return nil, errors.New("either DB or Repo must be provided")
	}
	if opts.Table == "" {
		return nil, errors.New("job table is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo := opts.Repo
	if repo == nil {
		repo = data.NewJobRecordRepo(opts.DB, data.RepoConfig{})
	}

	interval := opts.Config.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	staleAfter := opts.Config.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}

	return &Runner{
		repo:       repo,
		table:      opts.Table,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting sweeper",
		"table", r.table,
		"interval", r.interval,
		"stale_after", r.staleAfter,
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Transient store errors should not kill the loop.
				r.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// sweep performs one reconciliation pass.
func (r *Runner) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.staleAfter)
	requeued, err := r.repo.RequeueStale(ctx, r.table, cutoff)
	if err != nil {
		return fmt.Errorf("requeue stale records: %w", err)
	}

	if requeued > 0 {
		r.logger.InfoContext(ctx, "requeued stale running records",
			"table", r.table,
			"count", requeued,
			"cutoff", cutoff,
		)
	}
	if r.metrics != nil {
		r.metrics.Count("sweeper.requeued", requeued, map[string]string{"table": r.table})
	}
	return nil
}
