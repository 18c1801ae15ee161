// Package devseed seeds local development environments with claimable job
// records and matching delivery references. Never used in production.
package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentfleet/job-runner/config"
	"github.com/agentfleet/job-runner/internal/adapters/delivery"
	"github.com/agentfleet/job-runner/internal/data"
	"github.com/agentfleet/job-runner/internal/domain/model"
)

// Options groups the dependencies needed for development seeding.
type Options struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Config      config.RunnerConfig
	Logger      *slog.Logger

	// Count is how many QUEUED records to create; defaults to 3.
	Count int
	// JobType is the record type for seeded jobs; defaults to "ping".
	JobType string
}

// Seed inserts QUEUED records into the default job table and publishes a
// delivery reference for each, so a locally running runner has work to claim.
func Seed(ctx context.Context, opts Options) error {
	count := opts.Count
	if count <= 0 {
		count = 3
	}
	jobType := opts.JobType
	if jobType == "" {
		jobType = "ping"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo := data.NewJobRecordRepo(opts.DB, data.RepoConfig{})
	source, err := delivery.NewQueueSource(delivery.QueueSourceOptions{
		Client: opts.RedisClient,
		Key:    opts.Config.QueueKey,
	})
	if err != nil {
		return fmt.Errorf("create delivery source: %w", err)
	}

	for i := 0; i < count; i++ {
		jobID := uuid.NewString()
		rec := &model.JobRecord{
			Namespace: opts.Config.DefaultNamespace,
			JobID:     jobID,
			Status:    model.JobStatusQueued,
			Type:      jobType,
		}
		if err := repo.Insert(ctx, opts.Config.DefaultTable, rec); err != nil {
			return fmt.Errorf("seed record %s: %w", jobID, err)
		}

		body, err := json.Marshal(model.JobReference{
			JobID:     jobID,
			Namespace: opts.Config.DefaultNamespace,
			TableName: opts.Config.DefaultTable,
		})
		if err != nil {
			return fmt.Errorf("encode reference %s: %w", jobID, err)
		}
		if err := source.Publish(ctx, body); err != nil {
			return fmt.Errorf("publish reference %s: %w", jobID, err)
		}

		logger.InfoContext(ctx, "seeded job", "job_id", jobID, "type", jobType)
	}

	return nil
}
