package bulk

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkstudio/internal/domain"
	"talkstudio/internal/storage"
)

func TestDispatcherRunOnceRunsOldestJob(t *testing.T) {
	f := newFixture(t, okGenerator())
	ctx := context.Background()
	first, err := f.orch.Submit(ctx, "a.xlsx", records(2))
	require.NoError(t, err)

	d := NewDispatcher(DispatcherOptions{Repo: f.repo, Runner: f.orch, Clock: func() time.Time { return t0 }})
	ran, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	job, err := f.repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Nil(t, job.ClaimedAt, "claim is released after the run")

	ran, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestDispatcherSkipsCancelledJobsUntilResumed(t *testing.T) {
	f := newFixture(t, okGenerator())
	ctx := context.Background()
	job, err := f.orch.Submit(ctx, "a.xlsx", records(1))
	require.NoError(t, err)
	require.NoError(t, f.orch.Cancel(ctx, job.ID))

	d := NewDispatcher(DispatcherOptions{Repo: f.repo, Runner: f.orch})
	ran, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	require.NoError(t, f.orch.Resume(ctx, job.ID))
	ran, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestDispatcherRunReturnsOnShutdown(t *testing.T) {
	f := newFixture(t, okGenerator())
	ctx, cancel := context.WithCancel(context.Background())
	job, err := f.orch.Submit(ctx, "a.xlsx", records(1))
	require.NoError(t, err)

	d := NewDispatcher(DispatcherOptions{Repo: f.repo, Runner: f.orch, PollInterval: 5 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		stored, err := f.repo.Get(context.Background(), job.ID)
		return err == nil && stored.Status.IsTerminal()
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestReaperSweepRemovesExpiredJobsAndArchives(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	f := newFixture(t, okGenerator(), func(o *Options) {
		o.Archive = store
		o.Retention = time.Hour
	})
	ctx := context.Background()
	job := f.submitAndRun(t, records(1))
	_, err = store.Read(ctx, domain.ArchiveKey(job.ID))
	require.NoError(t, err)

	now := t0.Add(30 * time.Minute)
	r := NewReaper(ReaperOptions{Repo: f.repo, Archive: store, Clock: func() time.Time { return now }})
	ids, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	now = t0.Add(time.Hour)
	ids, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, ids)

	_, err = f.repo.Get(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Read(ctx, domain.ArchiveKey(job.ID))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type runnerFunc func(ctx context.Context, jobID string) (*domain.BulkJob, error)

func (f runnerFunc) Run(ctx context.Context, jobID string) (*domain.BulkJob, error) {
	return f(ctx, jobID)
}

func TestDispatcherRenewsClaimWhileRunning(t *testing.T) {
	f := newFixture(t, okGenerator())
	ctx := context.Background()
	_, err := f.orch.Submit(ctx, "a.xlsx", records(1))
	require.NoError(t, err)

	var ticks atomic.Int64
	clock := func() time.Time { return t0.Add(time.Duration(ticks.Add(1)) * time.Second) }
	runner := runnerFunc(func(ctx context.Context, jobID string) (*domain.BulkJob, error) {
		claimed, err := f.repo.Get(ctx, jobID)
		require.NoError(t, err)
		require.NotNil(t, claimed.ClaimedAt)
		first := *claimed.ClaimedAt
		assert.Eventually(t, func() bool {
			cur, err := f.repo.Get(ctx, jobID)
			return err == nil && cur.ClaimedAt != nil && cur.ClaimedAt.After(first)
		}, time.Second, 5*time.Millisecond)
		return f.orch.Run(ctx, jobID)
	})

	d := NewDispatcher(DispatcherOptions{Repo: f.repo, Runner: runner, ClaimLease: 30 * time.Millisecond, Clock: clock})
	ran, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
}
