package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentfleet/job-runner/internal/domain/model"
)

// reTableName restricts job table identifiers to plain lowercase SQL names.
// Identifiers are additionally quoted with pgx.Identifier before use.
var reTableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

const jobRecordColumns = `namespace, job_id, status, type, payload, result_summary, last_error, created_at, updated_at`

// TimeProvider abstracts time.Now for deterministic tests.
type TimeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }

// JobRecordRepo implements the record store against PostgreSQL. A single repo
// serves multiple logical job tables; the table is resolved per call from the
// delivery reference.
type JobRecordRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// RepoConfig groups optional JobRecordRepo settings.
type RepoConfig struct {
	// TimeProvider overrides the clock used for updated_at writes.
	TimeProvider TimeProvider
}

// NewJobRecordRepo creates a record repo backed by the given database handle.
func NewJobRecordRepo(db *sql.DB, cfg RepoConfig) *JobRecordRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = realTimeProvider{}
	}
	return &JobRecordRepo{DB: db, timeProvider: tp}
}

// quoteTable validates and quotes a job table identifier.
func quoteTable(table string) (string, error) {
	if !reTableName.MatchString(table) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	return pgx.Identifier{table}.Sanitize(), nil
}

// Get loads the record for (namespace, jobID) from the given table.
func (r *JobRecordRepo) Get(ctx context.Context, table, namespace, jobID string) (*model.JobRecord, error) {
	tbl, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobRecordColumns+`
		FROM `+tbl+`
		WHERE namespace = $1 AND job_id = $2
	`, namespace, jobID)

	rec, err := scanJobRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get job record: %w", ErrRecordNotFound)
	}
	if err != nil {
		return nil, MapStoreError("get job record", err)
	}
	return rec, nil
}

// ConditionalSetStatus transitions status from expected to next in a single
// conditional write. The WHERE clause on the expected prior status is the
// sole concurrency-control primitive; no locks or leases are taken.
func (r *JobRecordRepo) ConditionalSetStatus(
	ctx context.Context,
	table, namespace, jobID string,
	expected, next model.JobStatus,
) (bool, error) {
	tbl, err := quoteTable(table)
	if err != nil {
		return false, err
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE `+tbl+`
		SET status = $4, updated_at = $5
		WHERE namespace = $1 AND job_id = $2 AND status = $3
	`, namespace, jobID, expected, next, r.timeProvider.Now().UTC())
	if err != nil {
		return false, MapStoreError("conditional status update", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conditional status update rows affected: %w", err)
	}
	return affected == 1, nil
}

// WriteResult records the terminal outcome unconditionally. last_error is
// only written when the result carries one, so success paths never clobber a
// previous failure trace.
func (r *JobRecordRepo) WriteResult(
	ctx context.Context,
	table, namespace, jobID string,
	result model.TerminalResult,
) error {
	tbl, err := quoteTable(table)
	if err != nil {
		return err
	}

	now := r.timeProvider.Now().UTC()

	if result.LastError != "" {
		_, err = r.DB.ExecContext(ctx, `
			UPDATE `+tbl+`
			SET status = $3, updated_at = $4, result_summary = $5, last_error = $6
			WHERE namespace = $1 AND job_id = $2
		`, namespace, jobID, result.Status, now, result.ResultSummary, result.LastError)
	} else {
		_, err = r.DB.ExecContext(ctx, `
			UPDATE `+tbl+`
			SET status = $3, updated_at = $4, result_summary = $5
			WHERE namespace = $1 AND job_id = $2
		`, namespace, jobID, result.Status, now, result.ResultSummary)
	}
	if err != nil {
		return MapStoreError("write job result", err)
	}
	return nil
}

// RequeueStale re-queues RUNNING records whose updated_at is older than the
// cutoff and returns the number of records re-queued. Used by the sweeper to
// recover claims abandoned by a crashed runner.
func (r *JobRecordRepo) RequeueStale(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	tbl, err := quoteTable(table)
	if err != nil {
		return 0, err
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE `+tbl+`
		SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4
	`, model.JobStatusQueued, r.timeProvider.Now().UTC(), model.JobStatusRunning, cutoff.UTC())
	if err != nil {
		return 0, MapStoreError("requeue stale records", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stale rows affected: %w", err)
	}
	return affected, nil
}

// Insert creates a new record; used by development seeding only. The runner
// itself never creates records.
func (r *JobRecordRepo) Insert(ctx context.Context, table string, rec *model.JobRecord) error {
	tbl, err := quoteTable(table)
	if err != nil {
		return err
	}
	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	now := r.timeProvider.Now().UTC()
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO `+tbl+` (namespace, job_id, status, type, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, rec.Namespace, rec.JobID, rec.Status, rec.Type, []byte(payload), now)
	if err != nil {
		return MapStoreError("insert job record", err)
	}
	return nil
}

type jobRecordScanner interface {
	Scan(dest ...any) error
}

func scanJobRecord(scanner jobRecordScanner) (*model.JobRecord, error) {
	var (
		rec                      model.JobRecord
		payload                  []byte
		resultSummary, lastError sql.NullString
	)
	if err := scanner.Scan(
		&rec.Namespace,
		&rec.JobID,
		&rec.Status,
		&rec.Type,
		&payload,
		&resultSummary,
		&lastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		rec.Payload = json.RawMessage(`{}`)
	} else {
		rec.Payload = append(json.RawMessage(nil), payload...)
	}
	rec.ResultSummary = cloneNullableString(resultSummary)
	rec.LastError = cloneNullableString(lastError)
	return &rec, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
