package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfleet/job-runner/internal/data"
	"github.com/agentfleet/job-runner/internal/domain/model"
)

// memStore is an in-memory record store with the same atomicity guarantee as
// the real one: ConditionalSetStatus applies under a single lock.
type memStore struct {
	mu      sync.Mutex
	records map[string]*model.JobRecord
}

func newMemStore(recs ...*model.JobRecord) *memStore {
	s := &memStore{records: make(map[string]*model.JobRecord)}
	for _, r := range recs {
		cp := *r
		s.records[memKey(testTable, r.Namespace, r.JobID)] = &cp
	}
	return s
}

func memKey(table, namespace, jobID string) string {
	return table + "/" + namespace + "/" + jobID
}

func (s *memStore) Get(_ context.Context, table, namespace, jobID string) (*model.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memKey(table, namespace, jobID)]
	if !ok {
		return nil, fmt.Errorf("get job record: %w", data.ErrRecordNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) ConditionalSetStatus(
	_ context.Context,
	table, namespace, jobID string,
	expected, next model.JobStatus,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memKey(table, namespace, jobID)]
	if !ok || rec.Status != expected {
		return false, nil
	}
	rec.Status = next
	return true, nil
}

func (s *memStore) WriteResult(
	_ context.Context,
	table, namespace, jobID string,
	result model.TerminalResult,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memKey(table, namespace, jobID)]
	if !ok {
		return fmt.Errorf("write job result: %w", data.ErrRecordNotFound)
	}
	rec.Status = result.Status
	summary := result.ResultSummary
	rec.ResultSummary = &summary
	if result.LastError != "" {
		lastErr := result.LastError
		rec.LastError = &lastErr
	}
	return nil
}

func (s *memStore) get(t *testing.T, jobID string) *model.JobRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memKey(testTable, testNamespace, jobID)]
	require.True(t, ok, "record %s missing", jobID)
	cp := *rec
	return &cp
}

func newTestCoordinator(t *testing.T, store *memStore, opts CoordinatorOptions) *Coordinator {
	t.Helper()
	claimer, err := NewClaimer(ClaimerOptions{Store: store})
	require.NoError(t, err)
	committer, err := NewCommitter(store)
	require.NoError(t, err)

	opts.Claimer = claimer
	opts.Committer = committer
	if opts.Executor == nil {
		opts.Executor = NewDeterministicExecutor(nil)
	}
	if opts.Defaults == (ReferenceDefaults{}) {
		opts.Defaults = ReferenceDefaults{Namespace: testNamespace, Table: testTable}
	}

	coord, err := NewCoordinator(opts)
	require.NoError(t, err)
	return coord
}

func refBody(t *testing.T, jobID string) []byte {
	t.Helper()
	body, err := json.Marshal(model.JobReference{JobID: jobID})
	require.NoError(t, err)
	return body
}

func TestProcessBatchCounting(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(
		queuedRecord("job-1"),
		queuedRecord("job-2"),
	)
	coord := newTestCoordinator(t, store, CoordinatorOptions{})

	bodies := [][]byte{
		refBody(t, "job-1"),
		[]byte("{not json"),
		refBody(t, "job-2"),
	}
	result := coord.ProcessBatch(ctx, bodies)

	// Malformed references are excluded from processed and counted as
	// errors; both valid references still reach a terminal status.
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, model.JobStatusDone, store.get(t, "job-1").Status)
	assert.Equal(t, model.JobStatusDone, store.get(t, "job-2").Status)
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(
		queuedRecord("job-ok"),
		queuedRecord("job-missing-handler"),
	)
	store.records[memKey(testTable, testNamespace, "job-missing-handler")].Type = "teleport"

	coord := newTestCoordinator(t, store, CoordinatorOptions{})

	bodies := [][]byte{
		refBody(t, "job-ok"),
		[]byte("{not json"),
		refBody(t, "job-missing-handler"),
	}

	result := coord.ProcessBatch(ctx, bodies)

	// The malformed body is errors-only; the failed execution counts both
	// ways because its terminal outcome was durably recorded.
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Errors)

	ok := store.get(t, "job-ok")
	assert.Equal(t, model.JobStatusDone, ok.Status)
	require.NotNil(t, ok.ResultSummary)
	assert.Equal(t, "deterministic job executed: type=ping", *ok.ResultSummary)

	failed := store.get(t, "job-missing-handler")
	assert.Equal(t, model.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.ResultSummary)
	assert.Equal(t, "failed", *failed.ResultSummary)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "no handler registered")
}

func TestProcessBatchMissingRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	coord := newTestCoordinator(t, store, CoordinatorOptions{})

	result := coord.ProcessBatch(ctx, [][]byte{refBody(t, "ghost")})

	// A missing record is a defined no-op path, not an error.
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Errors)
}

func TestProcessBatchRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(queuedRecord("job-1"))
	coord := newTestCoordinator(t, store, CoordinatorOptions{})

	first := coord.ProcessBatch(ctx, [][]byte{refBody(t, "job-1")})
	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 0, first.Errors)

	done := store.get(t, "job-1")
	assert.Equal(t, model.JobStatusDone, done.Status)
	firstSummary := *done.ResultSummary

	// Redelivery of the same reference must not re-execute or rewrite.
	second := coord.ProcessBatch(ctx, [][]byte{refBody(t, "job-1")})
	assert.Equal(t, 1, second.Processed)
	assert.Equal(t, 0, second.Errors)

	after := store.get(t, "job-1")
	assert.Equal(t, model.JobStatusDone, after.Status)
	assert.Equal(t, firstSummary, *after.ResultSummary)
}

func TestProcessBatchDuplicateReferencesInOneBatch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(queuedRecord("job-1"))

	var mu sync.Mutex
	executions := 0
	reg := NewRegistry()
	reg.Register("ping", func(_ context.Context, rec *model.JobRecord) (string, error) {
		mu.Lock()
		executions++
		mu.Unlock()
		return "ran " + rec.JobID, nil
	})

	coord := newTestCoordinator(t, store, CoordinatorOptions{
		Executor:    NewDeterministicExecutor(reg),
		Concurrency: 4,
	})

	bodies := [][]byte{
		refBody(t, "job-1"),
		refBody(t, "job-1"),
		refBody(t, "job-1"),
		refBody(t, "job-1"),
	}
	result := coord.ProcessBatch(ctx, bodies)

	// Exactly one claim wins; the rest observe already-handled.
	assert.Equal(t, 1, executions)
	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, model.JobStatusDone, store.get(t, "job-1").Status)
}

func TestProcessBatchDelegatedWithoutEndpoint(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(queuedRecord("job-1"))

	exec, err := NewDelegatedExecutor(DelegatedExecutorOptions{})
	require.NoError(t, err)
	coord := newTestCoordinator(t, store, CoordinatorOptions{Executor: exec})

	result := coord.ProcessBatch(ctx, [][]byte{refBody(t, "job-1")})
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Errors)

	rec := store.get(t, "job-1")
	assert.Equal(t, model.JobStatusFailed, rec.Status)
	require.NotNil(t, rec.LastError)
	assert.Contains(t, *rec.LastError, "endpoint required")
}

func TestProcessBatchUnresolvableReference(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	coord := newTestCoordinator(t, store, CoordinatorOptions{
		Defaults: ReferenceDefaults{Namespace: testNamespace, Table: testTable},
	})

	body, err := json.Marshal(model.JobReference{JobID: "   "})
	require.NoError(t, err)

	result := coord.ProcessBatch(ctx, [][]byte{body})
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Errors)
}

func TestProcessBatchEmpty(t *testing.T) {
	store := newMemStore()
	coord := newTestCoordinator(t, store, CoordinatorOptions{})

	result := coord.ProcessBatch(context.Background(), nil)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 0, result.Errors)
}
