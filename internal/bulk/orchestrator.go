// Package bulk runs submitted workbooks through the safety gate and the
// generation client in fixed-size concurrent batches.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"talkstudio/internal/domain"
	"talkstudio/internal/infra"
	"talkstudio/internal/packager"
	"talkstudio/internal/providers/chat"
	"talkstudio/internal/safety"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = time.Second
)

// ErrCancelled is returned by Run when a cancel request stopped the job
// between batches. The job stays processing and can be resumed.
var ErrCancelled = errors.New("bulk: job cancelled")

// Gate is the subset of the safety gate the orchestrator depends on.
type Gate interface {
	PreFilter(scenario string) safety.Verdict
	PostFilter(messages []domain.Message) safety.PostVerdict
	ValidateParticipantNames(names []string) safety.NameVerdict
}

// Options configures an Orchestrator. Repo, Gate and Generator are required.
type Options struct {
	Repo       domain.JobRepository
	Gate       Gate
	Generator  chat.Generator
	Archive    domain.ArchiveStore
	BatchSize  int
	BatchDelay time.Duration
	Retention  time.Duration
	Clock      func() time.Time
	NewID      func() string
	Logger     *infra.Logger
	// OnFinished runs after a job reaches a terminal status and is saved.
	OnFinished func(ctx context.Context, job *domain.BulkJob)
}

// Orchestrator owns the job state machine.
type Orchestrator struct {
	repo       domain.JobRepository
	gate       Gate
	generator  chat.Generator
	archive    domain.ArchiveStore
	batchSize  int
	batchDelay time.Duration
	retention  time.Duration
	now        func() time.Time
	newID      func() string
	logger     *infra.Logger
	onFinished func(ctx context.Context, job *domain.BulkJob)
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Repo == nil || opts.Gate == nil || opts.Generator == nil {
		return nil, errors.New("bulk: repo, gate and generator are required")
	}
	o := &Orchestrator{
		repo:       opts.Repo,
		gate:       opts.Gate,
		generator:  opts.Generator,
		archive:    opts.Archive,
		batchSize:  opts.BatchSize,
		batchDelay: opts.BatchDelay,
		retention:  opts.Retention,
		now:        opts.Clock,
		newID:      opts.NewID,
		logger:     infra.OrNop(opts.Logger),
		onFinished: opts.OnFinished,
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	if o.batchDelay < 0 {
		o.batchDelay = 0
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o, nil
}

// Submit persists a pending job for already-validated records.
func (o *Orchestrator) Submit(ctx context.Context, fileName string, records []domain.ScenarioRecord) (*domain.BulkJob, error) {
	job, err := domain.NewBulkJob(o.newID(), fileName, records, o.now(), o.retention)
	if err != nil {
		return nil, err
	}
	if err := o.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.logger.Info().Str("job_id", job.ID).Int("records", job.TotalCount()).Str("file", fileName).Msg("bulk: job submitted")
	return job, nil
}

// Run drives a job to a terminal status. A pending job is started; a
// processing job resumes with its unresolved records. Cancellation is
// honoured only between batches: an in-flight batch always finishes and
// its outcomes are persisted.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (*domain.BulkJob, error) {
	job, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	log := o.logger.With().Str("job_id", job.ID).Logger()

	// Progress writes must land even when ctx is cancelled mid-batch.
	persistCtx := context.WithoutCancel(ctx)

	switch job.Status {
	case domain.JobStatusPending:
		if job.CancelRequested {
			return job, ErrCancelled
		}
		if err := job.Start(o.now()); err != nil {
			return job, err
		}
		if err := o.repo.Save(persistCtx, job); err != nil {
			return job, fmt.Errorf("save started job: %w", err)
		}
		log.Info().Int("records", job.TotalCount()).Int("batch_size", o.batchSize).Msg("bulk: job started")
	case domain.JobStatusProcessing:
		log.Info().Int("remaining", len(job.Unresolved())).Msg("bulk: job resumed")
	default:
		return job, fmt.Errorf("%w: run from %s", domain.ErrInvalidTransition, job.Status)
	}

	pending := job.Unresolved()
	for start := 0; start < len(pending); start += o.batchSize {
		if start > 0 {
			if err := o.pause(ctx); err != nil {
				return job, err
			}
		}
		if err := o.checkCancelled(ctx, job.ID); err != nil {
			log.Info().Int("progress", job.ProgressPercent()).Msg("bulk: job paused")
			return job, err
		}

		end := min(start+o.batchSize, len(pending))
		if err := o.runBatch(persistCtx, job, pending[start:end]); err != nil {
			return job, err
		}
		if err := o.repo.Save(persistCtx, job); err != nil {
			return job, fmt.Errorf("save progress: %w", err)
		}
		log.Debug().
			Int("completed", job.CompletedCount).
			Int("failed", job.FailedCount).
			Int("progress", job.ProgressPercent()).
			Msg("bulk: batch done")
	}

	if err := job.Complete(o.now()); err != nil {
		return job, err
	}
	if err := o.repo.Save(persistCtx, job); err != nil {
		return job, fmt.Errorf("save finished job: %w", err)
	}
	log.Info().
		Str("status", string(job.Status)).
		Int("completed", job.CompletedCount).
		Int("failed", job.FailedCount).
		Msg("bulk: job finished")

	o.storeArchive(persistCtx, job)
	if o.onFinished != nil {
		o.onFinished(persistCtx, job)
	}
	return job, nil
}

func (o *Orchestrator) pause(ctx context.Context) error {
	if o.batchDelay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.batchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) checkCancelled(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	if current.CancelRequested {
		return ErrCancelled
	}
	return nil
}

// runBatch fans the records out and applies each outcome under one lock.
func (o *Orchestrator) runBatch(ctx context.Context, job *domain.BulkJob, batch []domain.ScenarioRecord) error {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.batchSize)
	for _, rec := range batch {
		g.Go(func() error {
			res, failure := o.process(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				return job.RecordFailure(*failure)
			}
			return job.RecordSuccess(*res)
		})
	}
	return g.Wait()
}

// Generate runs one record through the same pipeline as a job row without
// creating a job. A rejected or failed record is returned as a
// *domain.GenerationError.
func (o *Orchestrator) Generate(ctx context.Context, rec domain.ScenarioRecord) (*domain.ConversationResult, error) {
	res, failure := o.process(ctx, rec)
	if failure != nil {
		return nil, failure
	}
	o.logger.Info().
		Str("conversation_id", res.ConversationID).
		Str("provider", res.ProviderUsed).
		Int("tokens", res.Usage.TotalTokens).
		Msg("bulk: single conversation generated")
	return res, nil
}

// process runs one record through the pipeline. Exactly one of the return
// values is non-nil.
func (o *Orchestrator) process(ctx context.Context, rec domain.ScenarioRecord) (*domain.ConversationResult, *domain.GenerationError) {
	fail := func(cause domain.ErrorCause, msg string) (*domain.ConversationResult, *domain.GenerationError) {
		o.logger.Debug().Int("row", rec.RowIndex).Str("cause", string(cause)).Msg("bulk: record failed")
		return nil, &domain.GenerationError{RowIndex: rec.RowIndex, Message: msg, Cause: cause}
	}

	verdict := o.gate.PreFilter(rec.Scenario)
	if !verdict.Safe {
		return fail(verdict.Cause, verdict.Reason)
	}
	if len(rec.ParticipantNames) > 0 {
		if nv := o.gate.ValidateParticipantNames(rec.ParticipantNames); !nv.Valid {
			return fail(domain.CauseContentPolicy, nv.Reason)
		}
	}

	out, err := o.generator.Generate(ctx, chat.RequestFromRecord(rec))
	if err != nil {
		var failure *chat.GenerationFailure
		if errors.As(err, &failure) {
			return fail(failure.Cause(), failure.Summary())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(domain.CauseTimeout, "generation timed out")
		}
		return fail(domain.CauseProviderFailure, "generation failed")
	}

	if pv := o.gate.PostFilter(out.Draft.Messages); !pv.Safe {
		return fail(domain.CauseContentPolicy, pv.Reason)
	}

	return &domain.ConversationResult{
		RowIndex:       rec.RowIndex,
		ConversationID: o.newID(),
		Conversation:   out.Draft,
		ProviderUsed:   out.Provider,
		Model:          out.Model,
		Usage:          out.Usage,
		Status:         domain.ResultStatusSuccess,
		CreatedAt:      o.now().UTC(),
	}, nil
}

func (o *Orchestrator) storeArchive(ctx context.Context, job *domain.BulkJob) {
	if o.archive == nil {
		return
	}
	data, err := packager.Package(job)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("bulk: package archive failed")
		return
	}
	if _, err := o.archive.Write(ctx, domain.ArchiveKey(job.ID), data); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("bulk: store archive failed")
	}
}

// Status returns the read projection of a job.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (domain.StatusView, error) {
	job, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return domain.StatusView{}, err
	}
	return job.View(), nil
}

// Job returns the full aggregate, results included.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (*domain.BulkJob, error) {
	return o.repo.Get(ctx, jobID)
}

// Archive returns the packaged results of a terminal job, preferring the
// stored copy and packaging on demand when none exists.
func (o *Orchestrator) Archive(ctx context.Context, jobID string) ([]byte, *domain.BulkJob, error) {
	job, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, job, fmt.Errorf("%w: %s", domain.ErrJobNotTerminal, job.Status)
	}
	if o.archive != nil {
		data, err := o.archive.Read(ctx, domain.ArchiveKey(job.ID))
		if err == nil {
			return data, job, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("bulk: stored archive unreadable, repackaging")
		}
	}
	data, err := packager.Package(job)
	return data, job, err
}

// Cancel asks a running or queued job to stop before its next batch.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: cancel %s job", domain.ErrInvalidTransition, job.Status)
	}
	if err := o.repo.SetCancelRequested(ctx, jobID, true); err != nil {
		return err
	}
	o.logger.Info().Str("job_id", jobID).Msg("bulk: cancel requested")
	return nil
}

// Resume clears a cancel request so a dispatcher can pick the job up again.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	job, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: resume %s job", domain.ErrInvalidTransition, job.Status)
	}
	if err := o.repo.SetCancelRequested(ctx, jobID, false); err != nil {
		return err
	}
	o.logger.Info().Str("job_id", jobID).Msg("bulk: job resumed by request")
	return nil
}

// Delete removes a job and its stored archive.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	if err := o.repo.Delete(ctx, jobID); err != nil {
		return err
	}
	if o.archive != nil {
		if err := o.archive.Delete(ctx, domain.ArchiveKey(jobID)); err != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("bulk: delete archive failed")
		}
	}
	o.logger.Info().Str("job_id", jobID).Msg("bulk: job deleted")
	return nil
}
