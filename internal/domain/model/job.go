// Package model defines the core data types used throughout the job runner.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a job record.
type JobStatus string

const (
	// JobStatusQueued indicates a job is waiting for immediate execution.
	JobStatusQueued JobStatus = "QUEUED"
	// JobStatusPending indicates a job is waiting on a scheduler collaborator.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusRunning indicates a job has been claimed and is executing.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusDone indicates a job finished successfully.
	JobStatusDone JobStatus = "DONE"
	// JobStatusFailed indicates a job finished with an error.
	JobStatusFailed JobStatus = "FAILED"
)

// Valid returns true if the JobStatus is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusPending, JobStatusRunning, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}

// Terminal returns true for statuses from which the runner performs no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Claimable returns true for statuses eligible for the claim transition into RUNNING.
func (s JobStatus) Claimable() bool {
	return s == JobStatusQueued || s == JobStatusPending
}

// RunnerMode selects the execution strategy, chosen once per process.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type RunnerMode string

const (
	// RunnerModeDeterministic dispatches on the record's type via the handler registry.
	RunnerModeDeterministic RunnerMode = "deterministic"
	// RunnerModeDelegated forwards claimed jobs to a configured agent webhook.
	RunnerModeDelegated RunnerMode = "delegated"
)

// Valid returns true if the RunnerMode is a known execution mode.
func (m RunnerMode) Valid() bool {
	return m == RunnerModeDeterministic || m == RunnerModeDelegated
}

// UnmarshalText implements encoding.TextUnmarshaler for RunnerMode to allow env parsing.
func (m *RunnerMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	rm := RunnerMode(v)
	if rm.Valid() {
		*m = rm
		return nil
	}
	return fmt.Errorf("invalid RunnerMode: %q", v)
}

// JobRecord is the durable job state held by the record store, keyed by
// (namespace, job_id). Status transitions are issued only through the
// claimer (conditional) and the committer (terminal).
type JobRecord struct {
	Namespace     string          `json:"namespace"                db:"namespace"`
	JobID         string          `json:"job_id"                   db:"job_id"`
	Status        JobStatus       `json:"status"                   db:"status"`
	Type          string          `json:"type"                     db:"type"`
	Payload       json.RawMessage `json:"payload"                  db:"payload"`
	ResultSummary *string         `json:"result_summary,omitempty" db:"result_summary"`
	LastError     *string         `json:"last_error,omitempty"     db:"last_error"`
	CreatedAt     time.Time       `json:"created_at"               db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"               db:"updated_at"`
}

// TerminalResult describes the terminal write performed by the committer.
type TerminalResult struct {
	Status        JobStatus
	ResultSummary string
	// LastError is only set for FAILED results; an empty value leaves the
	// stored column untouched.
	LastError string
}

// JobReference is the ephemeral delivery-transport value naming one job to
// attempt. It lives only for the duration of one batch.
type JobReference struct {
	JobID     string `json:"job_id"`
	Namespace string `json:"namespace,omitempty"`
	TableName string `json:"table_name,omitempty"`
}

// ErrUnresolvedReference is returned when a delivery reference cannot be
// resolved to a concrete (table, namespace, job_id) even with defaults.
var ErrUnresolvedReference = errors.New("delivery reference is unresolvable")

// Resolve fills missing fields from process-wide defaults and validates that
// the reference identifies a concrete record.
func (r *JobReference) Resolve(defaultNamespace, defaultTable string) error {
	r.JobID = strings.TrimSpace(r.JobID)
	r.Namespace = strings.TrimSpace(r.Namespace)
	r.TableName = strings.TrimSpace(r.TableName)

	if r.Namespace == "" {
		r.Namespace = defaultNamespace
	}
	if r.TableName == "" {
		r.TableName = defaultTable
	}

	if r.JobID == "" {
		return fmt.Errorf("%w: missing job_id", ErrUnresolvedReference)
	}
	if r.TableName == "" {
		return fmt.Errorf("%w: missing table_name and no default table configured", ErrUnresolvedReference)
	}
	if r.Namespace == "" {
		return fmt.Errorf("%w: missing namespace and no default namespace configured", ErrUnresolvedReference)
	}
	return nil
}
