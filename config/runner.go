package config

import (
	"strings"
	"time"

	"github.com/agentfleet/job-runner/internal/domain/model"
)

// RunnerConfig contains job runner service configuration.
type RunnerConfig struct {
	// Mode selects the execution strategy for claimed jobs.
	// Valid values: deterministic, delegated.
	Mode model.RunnerMode `env:"RUNNER_MODE" envDefault:"deterministic"`

	// WebhookURL is the agent endpoint for delegated mode. Its absence is a
	// per-job configuration error, not a startup failure.
	WebhookURL string `env:"AGENT_WEBHOOK_URL" envDefault:""`

	// AckExpression is an optional JMESPath expression applied to a JSON
	// webhook response to extract the acknowledgement summary.
	AckExpression string `env:"AGENT_ACK_EXPRESSION" envDefault:""`

	// WebhookTimeout bounds a single delegated webhook call.
	WebhookTimeout time.Duration `env:"AGENT_WEBHOOK_TIMEOUT" envDefault:"30s"`

	// DefaultTable is used when a delivery reference omits table_name.
	DefaultTable string `env:"JOBS_TABLE_NAME" envDefault:"agent_jobs"`

	// DefaultNamespace is used when a delivery reference omits namespace.
	DefaultNamespace string `env:"JOBS_NAMESPACE" envDefault:"default"`

	// QueueKey is the Redis list the delivery source consumes.
	QueueKey string `env:"JOBS_QUEUE_KEY" envDefault:"jobs:deliveries"`

	// BatchSize is the maximum number of delivery references per batch.
	BatchSize int `env:"RUNNER_BATCH_SIZE" envDefault:"10"`

	// Concurrency bounds parallel reference processing within a batch.
	Concurrency int `env:"RUNNER_CONCURRENCY" envDefault:"1"`

	// BlockTimeout is how long the delivery source blocks waiting for the
	// first message of a batch.
	BlockTimeout time.Duration `env:"RUNNER_BLOCK_TIMEOUT" envDefault:"5s"`
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() {
	if !r.Mode.Valid() {
		r.Mode = model.RunnerModeDeterministic
	}
	r.WebhookURL = strings.TrimSpace(r.WebhookURL)
	r.AckExpression = strings.TrimSpace(r.AckExpression)
	if r.WebhookTimeout <= 0 {
		r.WebhookTimeout = 30 * time.Second
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.BlockTimeout < time.Second {
		r.BlockTimeout = time.Second
	}
}

// SweeperConfig contains stale-job sweeper service configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"5m"`

	// StaleAfter is how long a RUNNING record may go without a status write
	// before it is considered abandoned and re-queued.
	StaleAfter time.Duration `env:"SWEEPER_STALE_AFTER" envDefault:"30m"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if s.Interval < time.Minute {
		s.Interval = time.Minute
	}
	if s.StaleAfter < 5*time.Minute {
		s.StaleAfter = 5 * time.Minute
	}
}
