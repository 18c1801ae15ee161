package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentfleet/job-runner/internal/core"
	"github.com/agentfleet/job-runner/internal/domain/model"
)

// maxAuditChars bounds result_summary and last_error so runaway error
// messages cannot grow shared storage or feed large payloads back into it.
const maxAuditChars = 2000

const failedSummary = "failed"

// Committer records terminal outcomes in the record store. Writes are
// unconditional: the prior successful claim already established exclusive
// ownership of the record.
type Committer struct {
	store core.RecordStore
}

// NewCommitter creates a Committer over the given record store.
func NewCommitter(store core.RecordStore) (*Committer, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	return &Committer{store: store}, nil
}

// Commit writes DONE with the summary when execErr is nil, FAILED with the
// truncated error detail otherwise.
func (c *Committer) Commit(ctx context.Context, table, namespace, jobID, summary string, execErr error) error {
	var result model.TerminalResult
	if execErr != nil {
		result = model.TerminalResult{
			Status:        model.JobStatusFailed,
			ResultSummary: failedSummary,
			LastError:     truncateAudit(execErr.Error()),
		}
	} else {
		result = model.TerminalResult{
			Status:        model.JobStatusDone,
			ResultSummary: truncateAudit(summary),
		}
	}

	if err := c.store.WriteResult(ctx, table, namespace, jobID, result); err != nil {
		return fmt.Errorf("commit %s outcome: %w", result.Status, err)
	}
	return nil
}

// truncateAudit bounds audit text to maxAuditChars characters (not bytes, so
// a multi-byte rune is never split).
func truncateAudit(s string) string {
	runes := []rune(s)
	if len(runes) <= maxAuditChars {
		return s
	}
	return string(runes[:maxAuditChars])
}
