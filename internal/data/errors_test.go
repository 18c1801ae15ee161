package data

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStoreError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, MapStoreError("op", nil))
	})

	t.Run("undefined table maps to sentinel", func(t *testing.T) {
		pgErr := &pgconn.PgError{
			Code:    pgerrcode.UndefinedTable,
			Message: `relation "missing_jobs" does not exist`,
		}
		err := MapStoreError("get job record", pgErr)
		require.ErrorIs(t, err, ErrTableNotFound)
		assert.Contains(t, err.Error(), "missing_jobs")
	})

	t.Run("other pg errors wrap without sentinel", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: pgerrcode.UniqueViolation}
		err := MapStoreError("insert job record", pgErr)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrTableNotFound)
		var got *pgconn.PgError
		assert.ErrorAs(t, err, &got)
	})

	t.Run("context cancellation is preserved", func(t *testing.T) {
		err := MapStoreError("get job record", context.Canceled)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("plain errors wrap with operation", func(t *testing.T) {
		base := errors.New("connection refused")
		err := MapStoreError("write job result", base)
		require.ErrorIs(t, err, base)
		assert.Contains(t, err.Error(), "write job result")
	})
}

func TestQuoteTable(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		want    string
		wantErr bool
	}{
		{name: "plain", table: "agent_jobs", want: `"agent_jobs"`},
		{name: "leading underscore", table: "_jobs", want: `"_jobs"`},
		{name: "digits", table: "jobs2", want: `"jobs2"`},
		{name: "uppercase rejected", table: "AgentJobs", wantErr: true},
		{name: "empty rejected", table: "", wantErr: true},
		{name: "quote injection rejected", table: `jobs"; drop table x; --`, wantErr: true},
		{name: "leading digit rejected", table: "1jobs", wantErr: true},
		{name: "dash rejected", table: "agent-jobs", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := quoteTable(tt.table)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTableName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
