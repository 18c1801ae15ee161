// Package runner implements the durable job runner: claim, execute, commit,
// and the per-batch coordination around them.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentfleet/job-runner/internal/core"
	"github.com/agentfleet/job-runner/internal/data"
	"github.com/agentfleet/job-runner/internal/domain/model"
)

// ClaimOutcome describes the result of a claim attempt.
type ClaimOutcome int

const (
	// ClaimOutcomeClaimed means this runner now exclusively owns the record.
	ClaimOutcomeClaimed ClaimOutcome = iota
	// ClaimOutcomeAlreadyHandled means the record is not eligible (already
	// running, terminal, or lost the claim race). Redelivery safe no-op.
	ClaimOutcomeAlreadyHandled
	// ClaimOutcomeNotFound means the record does not exist in the store.
	ClaimOutcomeNotFound
)

// String returns a label suitable for logs and metric tags.
func (o ClaimOutcome) String() string {
	switch o {
	case ClaimOutcomeClaimed:
		return "claimed"
	case ClaimOutcomeAlreadyHandled:
		return "already_handled"
	case ClaimOutcomeNotFound:
		return "not_found"
	}
	return "unknown"
}

// Claimer atomically transitions eligible records into RUNNING, acting as
// the mutual-exclusion gate for job execution.
type Claimer struct {
	store    core.RecordStore
	eligible model.JobStatus
}

// ClaimerOptions configures a Claimer.
type ClaimerOptions struct {
	Store core.RecordStore
	// Eligible is the expected prior status for the claim transition.
	// Defaults to QUEUED; PENDING is reserved for a scheduler collaborator.
	Eligible model.JobStatus
}

// NewClaimer creates a Claimer over the given record store.
func NewClaimer(opts ClaimerOptions) (*Claimer, error) {
	if opts.Store == nil {
		return nil, errors.New("record store is required")
	}
	eligible := opts.Eligible
	if eligible == "" {
		eligible = model.JobStatusQueued
	}
	if !eligible.Claimable() {
		return nil, fmt.Errorf("status %q is not claimable", eligible)
	}
	return &Claimer{store: opts.Store, eligible: eligible}, nil
}

// Claim loads the referenced record and attempts the conditional transition
// into RUNNING. On ClaimOutcomeClaimed the returned record is the
// pre-transition snapshot, so execution sees the job's type and payload as
// they were before the status flip.
func (c *Claimer) Claim(ctx context.Context, table, namespace, jobID string) (ClaimOutcome, *model.JobRecord, error) {
	rec, err := c.store.Get(ctx, table, namespace, jobID)
	if errors.Is(err, data.ErrRecordNotFound) {
		// The record may have been deleted or is not yet visible under
		// eventual consistency; redelivery will retry if it matters.
		return ClaimOutcomeNotFound, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("load claim target: %w", err)
	}

	if rec.Status != c.eligible {
		return ClaimOutcomeAlreadyHandled, nil, nil
	}

	claimed, err := c.store.ConditionalSetStatus(ctx, table, namespace, jobID, c.eligible, model.JobStatusRunning)
	if err != nil {
		return 0, nil, fmt.Errorf("claim record: %w", err)
	}
	if !claimed {
		// Lost the race to a concurrent claimer.
		return ClaimOutcomeAlreadyHandled, nil, nil
	}
	return ClaimOutcomeClaimed, rec, nil
}
