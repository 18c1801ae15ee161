package runner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/agentfleet/job-runner/internal/domain/model"
	"github.com/agentfleet/job-runner/internal/mocks"
)

func TestCommitterCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("success writes DONE with summary", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		store := mocks.NewMockRecordStore(ctrl)
		store.EXPECT().
			WriteResult(gomock.Any(), testTable, testNamespace, "job-1", model.TerminalResult{
				Status:        model.JobStatusDone,
				ResultSummary: "echo: hello",
			}).
			Return(nil)

		c, err := NewCommitter(store)
		require.NoError(t, err)
		require.NoError(t, c.Commit(ctx, testTable, testNamespace, "job-1", "echo: hello", nil))
	})

	t.Run("failure writes FAILED with error detail", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		store := mocks.NewMockRecordStore(ctrl)
		store.EXPECT().
			WriteResult(gomock.Any(), testTable, testNamespace, "job-1", model.TerminalResult{
				Status:        model.JobStatusFailed,
				ResultSummary: "failed",
				LastError:     "webhook returned status 502",
			}).
			Return(nil)

		c, err := NewCommitter(store)
		require.NoError(t, err)
		execErr := errors.New("webhook returned status 502")
		require.NoError(t, c.Commit(ctx, testTable, testNamespace, "job-1", "ignored", execErr))
	})

	t.Run("long error detail is truncated", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		long := strings.Repeat("x", maxAuditChars+500)
		store := mocks.NewMockRecordStore(ctrl)
		store.EXPECT().
			WriteResult(gomock.Any(), testTable, testNamespace, "job-1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _, _ string, result model.TerminalResult) error {
				assert.Len(t, []rune(result.LastError), maxAuditChars)
				assert.Equal(t, "failed", result.ResultSummary)
				return nil
			})

		c, err := NewCommitter(store)
		require.NoError(t, err)
		require.NoError(t, c.Commit(ctx, testTable, testNamespace, "job-1", "", errors.New(long)))
	})

	t.Run("long summary is truncated", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		long := strings.Repeat("s", maxAuditChars*2)
		store := mocks.NewMockRecordStore(ctrl)
		store.EXPECT().
			WriteResult(gomock.Any(), testTable, testNamespace, "job-1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _, _ string, result model.TerminalResult) error {
				assert.Len(t, []rune(result.ResultSummary), maxAuditChars)
				assert.Equal(t, model.JobStatusDone, result.Status)
				return nil
			})

		c, err := NewCommitter(store)
		require.NoError(t, err)
		require.NoError(t, c.Commit(ctx, testTable, testNamespace, "job-1", long, nil))
	})

	t.Run("store failure propagates", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		writeErr := errors.New("table missing")
		store := mocks.NewMockRecordStore(ctrl)
		store.EXPECT().
			WriteResult(gomock.Any(), testTable, testNamespace, "job-1", gomock.Any()).
			Return(writeErr)

		c, err := NewCommitter(store)
		require.NoError(t, err)
		err = c.Commit(ctx, testTable, testNamespace, "job-1", "summary", nil)
		require.ErrorIs(t, err, writeErr)
	})
}

func TestTruncateAudit(t *testing.T) {
	assert.Equal(t, "short", truncateAudit("short"))

	exact := strings.Repeat("a", maxAuditChars)
	assert.Equal(t, exact, truncateAudit(exact))

	over := exact + "overflow"
	assert.Equal(t, exact, truncateAudit(over))

	// Multi-byte runes are counted as characters, never split mid-rune.
	wide := strings.Repeat("日", maxAuditChars+1)
	got := truncateAudit(wide)
	assert.Len(t, []rune(got), maxAuditChars)
}
