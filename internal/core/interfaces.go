// Package core defines the ports between the job runner and its external
// collaborators: the record store and the delivery transport.
package core

import (
	"context"

	"github.com/agentfleet/job-runner/internal/domain/model"
)

// RecordStore is the keyed, conditionally-updatable table holding job state.
// Implementations must guarantee that ConditionalSetStatus is atomic: at most
// one concurrent caller observes applied=true for the same transition.
type RecordStore interface {
	// Get loads the record for (namespace, jobID) from the given table.
	// Returns data.ErrRecordNotFound (wrapped) when the record is absent.
	Get(ctx context.Context, table, namespace, jobID string) (*model.JobRecord, error)

	// ConditionalSetStatus transitions status from expected to next in a
	// single conditional write. Returns false when the record was not in the
	// expected status at write time.
	ConditionalSetStatus(
		ctx context.Context,
		table, namespace, jobID string,
		expected, next model.JobStatus,
	) (bool, error)

	// WriteResult records the terminal outcome unconditionally; the prior
	// claim already established exclusive ownership.
	WriteResult(ctx context.Context, table, namespace, jobID string, result model.TerminalResult) error
}

// DeliverySource hands the runner batches of opaque message bodies, each
// expected to decode to a model.JobReference. Delivery is at-least-once;
// redelivery safety comes from the claim protocol, not from the source.
type DeliverySource interface {
	// Next blocks until at least one message is available or ctx is done,
	// returning up to max raw bodies. A nil, nil return means no messages
	// arrived within the source's block window.
	Next(ctx context.Context, max int) ([][]byte, error)
}

// BatchResult aggregates the outcome of one delivery batch. It is the only
// structured output of the coordinator and exists for observability; callers
// must not branch on it.
type BatchResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}
