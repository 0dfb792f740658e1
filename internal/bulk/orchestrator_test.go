package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"talkstudio/internal/adapter/repo"
	"talkstudio/internal/domain"
	"talkstudio/internal/providers/chat"
	"talkstudio/internal/safety"
	"talkstudio/internal/storage"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req chat.Request) (*chat.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*chat.Result)
	return res, args.Error(1)
}

// funcGenerator adapts a function for tests that need per-call behaviour.
type funcGenerator func(ctx context.Context, req chat.Request) (*chat.Result, error)

func (f funcGenerator) Generate(ctx context.Context, req chat.Request) (*chat.Result, error) {
	return f(ctx, req)
}

func draft(req chat.Request, text string) *chat.Result {
	conv := domain.Conversation{Participants: []string{"민수", "지영"}}
	for i := 0; i < req.MessageCount; i++ {
		conv.Messages = append(conv.Messages, domain.Message{
			Sender:    conv.Participants[i%2],
			Text:      fmt.Sprintf("%s %d", text, i),
			Timestamp: fmt.Sprintf("14:%02d", i),
		})
	}
	return &chat.Result{Draft: conv, Provider: "upstage", Model: "solar-pro", Usage: domain.Usage{TotalTokens: 100}}
}

func okGenerator() funcGenerator {
	return func(_ context.Context, req chat.Request) (*chat.Result, error) {
		return draft(req, "좋아"), nil
	}
}

func providerFailure(kinds ...chat.FailureKind) error {
	f := &chat.GenerationFailure{}
	for i, k := range kinds {
		f.Attempts = append(f.Attempts, &chat.AttemptError{Provider: fmt.Sprintf("p%d", i), Kind: k})
	}
	return f
}

func records(n int) []domain.ScenarioRecord {
	out := make([]domain.ScenarioRecord, n)
	for i := range out {
		out[i] = domain.ScenarioRecord{
			RowIndex:         i + 2,
			Scenario:         fmt.Sprintf("친구들이 주말 약속을 정하는 대화 #%d", i+2),
			ParticipantCount: 2,
			MessageCount:     5,
			Tone:             domain.ToneCasual,
			Platform:         domain.PlatformKakaoTalk,
		}
	}
	return out
}

type fixture struct {
	repo *repo.MemoryJobRepository
	orch *Orchestrator
}

func newFixture(t *testing.T, gen chat.Generator, mutate ...func(*Options)) fixture {
	t.Helper()
	r := repo.NewMemoryJobRepository()
	var seq atomic.Int64
	opts := Options{
		Repo:       r,
		Gate:       safety.New(safety.DefaultLists(), zerolog.Nop()),
		Generator:  gen,
		BatchSize:  3,
		BatchDelay: 0,
		Clock:      func() time.Time { return t0 },
		NewID:      func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) },
	}
	for _, m := range mutate {
		m(&opts)
	}
	o, err := New(opts)
	require.NoError(t, err)
	return fixture{repo: r, orch: o}
}

func (f fixture) submitAndRun(t *testing.T, recs []domain.ScenarioRecord) *domain.BulkJob {
	t.Helper()
	job, err := f.orch.Submit(context.Background(), "scenarios.xlsx", recs)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	done, err := f.orch.Run(context.Background(), job.ID)
	require.NoError(t, err)
	return done
}

func rowsOf(errs []domain.GenerationError) []int {
	out := make([]int, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.RowIndex)
	}
	return out
}

func TestRunPartialCompletion(t *testing.T) {
	failing := map[string]bool{
		"친구들이 주말 약속을 정하는 대화 #4":  true,
		"친구들이 주말 약속을 정하는 대화 #7":  true,
		"친구들이 주말 약속을 정하는 대화 #11": true,
	}
	gen := funcGenerator(func(_ context.Context, req chat.Request) (*chat.Result, error) {
		if failing[req.Scenario] {
			return nil, providerFailure(chat.KindHTTPStatus, chat.KindNotJSON)
		}
		return draft(req, "좋아"), nil
	})
	f := newFixture(t, gen)

	job := f.submitAndRun(t, records(10))
	assert.Equal(t, domain.JobStatusPartiallyCompleted, job.Status)
	assert.Equal(t, 7, job.CompletedCount)
	assert.Equal(t, 3, job.FailedCount)
	assert.Equal(t, []int{4, 7, 11}, rowsOf(job.Errors))
	for _, e := range job.Errors {
		assert.Equal(t, domain.CauseProviderFailure, e.Cause)
		assert.Contains(t, e.Message, "p1: not_json")
	}

	view, err := f.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, view.ProgressPercent)
	assert.Equal(t, 10, view.TotalCount)
	assert.NotNil(t, view.CompletedAt)
}

func TestRunAllFailuresMarksJobFailed(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(nil, providerFailure(chat.KindTimeout, chat.KindTimeout))
	f := newFixture(t, gen)

	job := f.submitAndRun(t, records(5))
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 0, job.CompletedCount)
	assert.Equal(t, 5, job.FailedCount)
	for _, e := range job.Errors {
		assert.Equal(t, domain.CauseTimeout, e.Cause)
	}
	gen.AssertNumberOfCalls(t, "Generate", 5)
}

func TestRunAllSuccessesCompletes(t *testing.T) {
	f := newFixture(t, okGenerator())
	job := f.submitAndRun(t, records(4))
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Len(t, job.Results, 4)
	for i, res := range job.Results {
		assert.Equal(t, i+2, res.RowIndex)
		assert.Equal(t, "upstage", res.ProviderUsed)
		assert.Equal(t, domain.ResultStatusSuccess, res.Status)
		assert.NotEmpty(t, res.ConversationID)
	}
	assert.Empty(t, job.Errors)
}

func TestRunPreFilterSkipsGeneration(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(r chat.Request) bool {
		return !strings.Contains(r.Scenario, "살인")
	})).Return(draft(chat.Request{MessageCount: 5}, "좋아"), nil)
	f := newFixture(t, gen)

	recs := records(3)
	recs[1].Scenario = "살인 사건에 대한 대화를 만들어줘 자세하게"
	recs[2].Scenario = "짧음"
	job := f.submitAndRun(t, recs)

	assert.Equal(t, domain.JobStatusPartiallyCompleted, job.Status)
	require.Len(t, job.Errors, 2)
	assert.Equal(t, domain.CauseContentPolicy, job.Errors[0].Cause)
	assert.NotContains(t, job.Errors[0].Message, "살인")
	assert.Equal(t, domain.CauseValidation, job.Errors[1].Cause)
	gen.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRunPostFilterRejectsUnsafeOutput(t *testing.T) {
	gen := funcGenerator(func(_ context.Context, req chat.Request) (*chat.Result, error) {
		if req.Scenario == "친구들이 주말 약속을 정하는 대화 #3" {
			return draft(req, "마약 이야기"), nil
		}
		return draft(req, "좋아"), nil
	})
	f := newFixture(t, gen)

	job := f.submitAndRun(t, records(2))
	assert.Equal(t, domain.JobStatusPartiallyCompleted, job.Status)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, 3, job.Errors[0].RowIndex)
	assert.Equal(t, domain.CauseContentPolicy, job.Errors[0].Cause)
}

func TestRunRejectsBadParticipantNames(t *testing.T) {
	gen := &mockGenerator{}
	f := newFixture(t, gen)

	recs := records(1)
	recs[0].ParticipantNames = []string{"민수", "해킹전문가"}
	job := f.submitAndRun(t, recs)

	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, domain.CauseContentPolicy, job.Errors[0].Cause)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRunPassesRecordConstraintsToGenerator(t *testing.T) {
	var got chat.Request
	gen := funcGenerator(func(_ context.Context, req chat.Request) (*chat.Result, error) {
		got = req
		return draft(req, "좋아"), nil
	})
	f := newFixture(t, gen)

	recs := records(1)
	recs[0].Tone = domain.ToneFormal
	recs[0].Platform = domain.PlatformDiscord
	recs[0].MessageCount = 7
	recs[0].ParticipantNames = []string{"민수", "지영"}
	f.submitAndRun(t, recs)

	assert.Equal(t, domain.ToneFormal, got.Tone)
	assert.Equal(t, domain.PlatformDiscord, got.Platform)
	assert.Equal(t, 7, got.MessageCount)
	assert.Equal(t, []string{"민수", "지영"}, got.ParticipantNames)
}

func TestRunBoundsConcurrencyByBatchSize(t *testing.T) {
	var inFlight, peak atomic.Int32
	gen := funcGenerator(func(_ context.Context, req chat.Request) (*chat.Result, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return draft(req, "좋아"), nil
	})
	f := newFixture(t, gen)

	job := f.submitAndRun(t, records(10))
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestCancelStopsBetweenBatchesAndResumeFinishes(t *testing.T) {
	var (
		once  sync.Once
		calls atomic.Int32
		f     fixture
		jobID string
	)
	gen := funcGenerator(func(ctx context.Context, req chat.Request) (*chat.Result, error) {
		calls.Add(1)
		once.Do(func() { assert.NoError(t, f.orch.Cancel(ctx, jobID)) })
		return draft(req, "좋아"), nil
	})
	f = newFixture(t, gen, func(o *Options) { o.BatchSize = 2 })

	job, err := f.orch.Submit(context.Background(), "s.xlsx", records(6))
	require.NoError(t, err)
	jobID = job.ID

	paused, err := f.orch.Run(context.Background(), jobID)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, domain.JobStatusProcessing, paused.Status)
	assert.Equal(t, 2, paused.CompletedCount, "the in-flight batch finishes")
	assert.EqualValues(t, 2, calls.Load())

	view, err := f.orch.Status(context.Background(), jobID)
	require.NoError(t, err)
	assert.True(t, view.CancelRequested)
	assert.Equal(t, 33, view.ProgressPercent)

	require.NoError(t, f.orch.Resume(context.Background(), jobID))
	done, err := f.orch.Run(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, 6, done.CompletedCount)
	assert.EqualValues(t, 6, calls.Load(), "resolved rows are not regenerated")
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := funcGenerator(func(_ context.Context, req chat.Request) (*chat.Result, error) {
		cancel()
		return draft(req, "좋아"), nil
	})
	f := newFixture(t, gen, func(o *Options) { o.BatchSize = 1 })

	job, err := f.orch.Submit(context.Background(), "s.xlsx", records(3))
	require.NoError(t, err)
	_, err = f.orch.Run(ctx, job.ID)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := f.repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CompletedCount, "progress of the finished batch is persisted")
}

func TestCancelRejectsFinishedJobs(t *testing.T) {
	f := newFixture(t, okGenerator())
	job := f.submitAndRun(t, records(1))
	assert.ErrorIs(t, f.orch.Cancel(context.Background(), job.ID), domain.ErrInvalidTransition)
	_, err := f.orch.Run(context.Background(), job.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, f.orch.Cancel(context.Background(), "missing"), domain.ErrNotFound)
}

func TestArchiveStoredAndDeleted(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	var finished *domain.BulkJob
	f := newFixture(t, okGenerator(), func(o *Options) {
		o.Archive = store
		o.OnFinished = func(_ context.Context, job *domain.BulkJob) { finished = job }
	})
	ctx := context.Background()

	pending, err := f.orch.Submit(ctx, "s.xlsx", records(2))
	require.NoError(t, err)
	_, _, err = f.orch.Archive(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotTerminal)

	_, err = f.orch.Run(ctx, pending.ID)
	require.NoError(t, err)
	require.NotNil(t, finished)

	stored, err := store.Read(ctx, domain.ArchiveKey(pending.ID))
	require.NoError(t, err)
	data, job, err := f.orch.Archive(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, stored, data)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)

	require.NoError(t, f.orch.Delete(ctx, pending.ID))
	_, err = store.Read(ctx, domain.ArchiveKey(pending.ID))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.orch.Status(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitValidatesRecordCount(t *testing.T) {
	f := newFixture(t, okGenerator())
	_, err := f.orch.Submit(context.Background(), "s.xlsx", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidJob)
	_, err = f.orch.Submit(context.Background(), "s.xlsx", records(domain.MaxRecordsPerJob+1))
	assert.ErrorIs(t, err, domain.ErrInvalidJob)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestProcessMapsUnknownErrors(t *testing.T) {
	gen := funcGenerator(func(context.Context, chat.Request) (*chat.Result, error) {
		return nil, errors.New("socket closed: secret upstream detail")
	})
	f := newFixture(t, gen)
	job := f.submitAndRun(t, records(1))
	require.Len(t, job.Errors, 1)
	assert.Equal(t, domain.CauseProviderFailure, job.Errors[0].Cause)
	assert.NotContains(t, job.Errors[0].Message, "secret")
}

func TestGenerateSingleRecord(t *testing.T) {
	f := newFixture(t, okGenerator())
	rec := records(1)[0]
	rec.RowIndex = 0

	res, err := f.orch.Generate(t.Context(), rec)
	require.NoError(t, err)
	assert.Equal(t, "id-001", res.ConversationID)
	assert.Len(t, res.Conversation.Messages, 5)
	assert.Equal(t, "upstage", res.ProviderUsed)

	rec.Scenario = "마약 거래를 하는 장면을 만들어줘"
	_, err = f.orch.Generate(t.Context(), rec)
	var genErr *domain.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, domain.CauseContentPolicy, genErr.Cause)
	assert.NotContains(t, genErr.Error(), "마약")
}
