package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentfleet/job-runner/internal/core"
	"github.com/agentfleet/job-runner/internal/domain/model"
	"github.com/agentfleet/job-runner/internal/observability/metrics"
	"github.com/agentfleet/job-runner/internal/observability/statsd"
)

// ReferenceDefaults are the process-wide fallbacks applied when a delivery
// reference omits namespace or table_name.
type ReferenceDefaults struct {
	Namespace string
	Table     string
}

// Coordinator iterates a delivered batch, drives claim -> execute -> commit
// per reference, and isolates per-reference failures: one poisoned message
// never stalls the rest of the batch.
type Coordinator struct {
	claimer     *Claimer
	executor    Executor
	committer   *Committer
	defaults    ReferenceDefaults
	concurrency int
	logger      *slog.Logger
	metrics     statsd.Sink
}

// CoordinatorOptions groups dependencies for creating a Coordinator.
type CoordinatorOptions struct {
	Claimer   *Claimer
	Executor  Executor
	Committer *Committer
	Defaults  ReferenceDefaults
	// Concurrency bounds parallel reference processing; defaults to 1
	// (sequential). Correctness does not depend on ordering: each claim is
	// independently atomic.
	Concurrency int
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// NewCoordinator creates a batch coordinator.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Claimer == nil {
		return nil, errors.New("claimer is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if opts.Committer == nil {
		return nil, errors.New("committer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		claimer:     opts.Claimer,
		executor:    opts.Executor,
		committer:   opts.Committer,
		defaults:    opts.Defaults,
		concurrency: concurrency,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// ProcessBatch processes every delivered body independently and returns the
// aggregate counts. It never returns an error: the counts are the only
// failure surface a batch has.
//
// Counting: processed covers references that completed a defined path (not
// found, already handled, executed ok, executed failed). Malformed
// references and store failures count as errors only.
func (c *Coordinator) ProcessBatch(ctx context.Context, bodies [][]byte) core.BatchResult {
	var processed, errCount atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, body := range bodies {
		g.Go(func() error {
			p, e := c.processReference(gctx, body)
			processed.Add(p)
			errCount.Add(e)
			return nil
		})
	}
	// Workers never return errors; Wait is for completion only.
	_ = g.Wait()

	return core.BatchResult{
		Processed: int(processed.Load()),
		Errors:    int(errCount.Load()),
	}
}

// processReference runs one delivery reference end to end and reports its
// (processed, errors) contribution.
func (c *Coordinator) processReference(ctx context.Context, body []byte) (processedDelta, errorDelta int64) {
	var ref model.JobReference
	if err := json.Unmarshal(body, &ref); err != nil {
		c.logger.WarnContext(ctx, "discarding undecodable delivery reference", "error", err)
		return 0, 1
	}
	if err := ref.Resolve(c.defaults.Namespace, c.defaults.Table); err != nil {
		c.logger.WarnContext(ctx, "discarding unresolvable delivery reference",
			"job_id", ref.JobID,
			"error", err,
		)
		return 0, 1
	}

	start := time.Now()
	outcome, rec, err := c.claimer.Claim(ctx, ref.TableName, ref.Namespace, ref.JobID)
	if err != nil {
		c.logger.ErrorContext(ctx, "claim failed",
			"namespace", ref.Namespace,
			"job_id", ref.JobID,
			"error", err,
		)
		c.emit(ctx, "claim", metrics.ResultError, time.Since(start), err)
		return 0, 1
	}

	switch outcome {
	case ClaimOutcomeNotFound, ClaimOutcomeAlreadyHandled:
		c.emit(ctx, "claim", metrics.ResultNoop, time.Since(start), nil)
		return 1, 0
	case ClaimOutcomeClaimed:
		return c.runClaimed(ctx, ref, rec, start)
	}
	return 0, 1
}

// runClaimed executes a successfully claimed record and records its outcome.
func (c *Coordinator) runClaimed(
	ctx context.Context,
	ref model.JobReference,
	rec *model.JobRecord,
	start time.Time,
) (processedDelta, errorDelta int64) {
	summary, execErr := c.executor.Execute(ctx, rec)

	if commitErr := c.committer.Commit(ctx, ref.TableName, ref.Namespace, ref.JobID, summary, execErr); commitErr != nil {
		// The record is left RUNNING; recovery belongs to the sweeper.
		c.logger.ErrorContext(ctx, "commit failed, record left running",
			"namespace", ref.Namespace,
			"job_id", ref.JobID,
			"error", commitErr,
			"execution_error", execErr,
		)
		c.emit(ctx, "commit", metrics.ResultError, time.Since(start), commitErr)
		return 0, 1
	}

	if execErr != nil {
		c.logger.WarnContext(ctx, "job failed",
			"namespace", ref.Namespace,
			"job_id", ref.JobID,
			"type", rec.Type,
			"error", execErr,
		)
		c.emit(ctx, "execute", metrics.ResultError, time.Since(start), execErr)
		return 1, 1
	}

	c.logger.InfoContext(ctx, "job done",
		"namespace", ref.Namespace,
		"job_id", ref.JobID,
		"type", rec.Type,
	)
	c.emit(ctx, "execute", metrics.ResultSuccess, time.Since(start), nil)
	return 1, 0
}

func (c *Coordinator) emit(_ context.Context, stage, result string, d time.Duration, err error) {
	metrics.EmitJobLifecycle(c.metrics, metrics.JobMetric{
		Stage:    stage,
		Result:   result,
		Duration: d,
		Err:      err,
	})
}
