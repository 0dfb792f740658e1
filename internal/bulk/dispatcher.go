package bulk

import (
	"context"
	"errors"
	"time"

	"talkstudio/internal/domain"
	"talkstudio/internal/infra"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultClaimLease   = 5 * time.Minute
)

// Runner executes one claimed job.
type Runner interface {
	Run(ctx context.Context, jobID string) (*domain.BulkJob, error)
}

// Dispatcher polls the repository for claimable jobs and runs them one at
// a time. Several dispatchers may share a repository; Claim hands each job
// to exactly one of them. While a job runs its claim is renewed every third
// of the lease, so only a dead worker's claim goes stale.
type Dispatcher struct {
	repo     domain.JobRepository
	runner   Runner
	interval time.Duration
	lease    time.Duration
	now      func() time.Time
	logger   *infra.Logger
}

type DispatcherOptions struct {
	Repo         domain.JobRepository
	Runner       Runner
	PollInterval time.Duration
	ClaimLease   time.Duration
	Clock        func() time.Time
	Logger       *infra.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		repo:     opts.Repo,
		runner:   opts.Runner,
		interval: opts.PollInterval,
		lease:    opts.ClaimLease,
		now:      opts.Clock,
		logger:   infra.OrNop(opts.Logger),
	}
	if d.interval <= 0 {
		d.interval = DefaultPollInterval
	}
	if d.lease <= 0 {
		d.lease = DefaultClaimLease
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Run loops until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Dur("poll_interval", d.interval).Msg("worker: started")
	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info().Msg("worker: stopped")
			return err
		}
		ran, err := d.RunOnce(ctx)
		if err != nil {
			d.logger.Error().Err(err).Msg("worker: failed to claim job")
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(d.interval):
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was
// claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	job, err := d.repo.Claim(ctx, d.now(), d.lease)
	if errors.Is(err, domain.ErrNoJobAvailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := d.logger.With().Str("job_id", job.ID).Logger()
	log.Info().Str("status", string(job.Status)).Msg("worker: picked job")

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		d.heartbeat(hbCtx, job.ID, log)
	}()
	_, runErr := d.runner.Run(ctx, job.ID)
	stopHeartbeat()
	<-hbDone

	switch {
	case runErr == nil:
	case errors.Is(runErr, ErrCancelled):
		log.Info().Msg("worker: job cancelled")
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		log.Warn().Msg("worker: job interrupted by shutdown")
	default:
		log.Error().Err(runErr).Msg("worker: job failed")
	}

	if err := d.repo.Release(context.WithoutCancel(ctx), job.ID); err != nil {
		log.Error().Err(err).Msg("worker: release failed")
	}
	return true, nil
}

func (d *Dispatcher) heartbeat(ctx context.Context, jobID string, log infra.Logger) {
	ticker := time.NewTicker(d.lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.repo.Heartbeat(ctx, jobID, d.now()); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("worker: claim heartbeat failed")
			}
		}
	}
}
