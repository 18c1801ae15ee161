package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfleet/job-runner/config"
)

type fakeRequeuer struct {
	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
	count   int64
	err     error
}

func (f *fakeRequeuer) RequeueStale(_ context.Context, _ string, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.count, f.err
}

func (f *fakeRequeuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewRunnerValidation(t *testing.T) {
	t.Run("requires db or repo", func(t *testing.T) {
		_, err := NewRunner(RunnerOptions{Table: "agent_jobs"})
		require.Error(t, err)
	})

	t.Run("requires table", func(t *testing.T) {
		_, err := NewRunner(RunnerOptions{Repo: &fakeRequeuer{}})
		require.Error(t, err)
	})

	t.Run("defaults intervals", func(t *testing.T) {
		r, err := NewRunner(RunnerOptions{Repo: &fakeRequeuer{}, Table: "agent_jobs"})
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, r.interval)
		assert.Equal(t, 30*time.Minute, r.staleAfter)
	})
}

func TestSweepCutoff(t *testing.T) {
	repo := &fakeRequeuer{count: 2}
	r, err := NewRunner(RunnerOptions{
		Repo:  repo,
		Table: "agent_jobs",
		Config: config.SweeperConfig{
			Interval:   time.Minute,
			StaleAfter: 30 * time.Minute,
		},
	})
	require.NoError(t, err)

	before := time.Now().Add(-30 * time.Minute)
	require.NoError(t, r.sweep(context.Background()))
	after := time.Now().Add(-30 * time.Minute)

	require.Len(t, repo.cutoffs, 1)
	cutoff := repo.cutoffs[0]
	assert.False(t, cutoff.Before(before))
	assert.False(t, cutoff.After(after))
}

func TestSweepPropagatesError(t *testing.T) {
	repoErr := errors.New("relation does not exist")
	repo := &fakeRequeuer{err: repoErr}
	r, err := NewRunner(RunnerOptions{Repo: repo, Table: "agent_jobs"})
	require.NoError(t, err)

	err = r.sweep(context.Background())
	require.ErrorIs(t, err, repoErr)
}

func TestRunSurvivesSweepErrors(t *testing.T) {
	repo := &fakeRequeuer{err: errors.New("transient")}
	r, err := NewRunner(RunnerOptions{Repo: repo, Table: "agent_jobs"})
	require.NoError(t, err)
	r.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return repo.callCount() >= 2
	}, time.Second, 5*time.Millisecond, "loop should keep ticking past sweep errors")

	cancel()
	select {
	case runErr := <-done:
		require.ErrorIs(t, runErr, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
