// Package data provides the Postgres-backed record store for the job runner.
package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by the record store.
var (
	// ErrRecordNotFound indicates the referenced job record does not exist.
	ErrRecordNotFound = errors.New("job record not found")
	// ErrTableNotFound indicates the resolved job table does not exist.
	ErrTableNotFound = errors.New("job table not found")
	// ErrInvalidTableName indicates the table identifier failed validation.
	ErrInvalidTableName = errors.New("invalid job table name")
)

// MapStoreError normalises low-level database errors into store-level
// sentinels where a caller can act on them, and wraps the rest.
func MapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("%s: %w: %s", op, ErrTableNotFound, pgErr.Message)
	}

	return fmt.Errorf("%s: %w", op, err)
}
