package bulk

import (
	"context"
	"time"

	"talkstudio/internal/domain"
	"talkstudio/internal/infra"
)

const DefaultReaperInterval = 10 * time.Minute

// Reaper deletes jobs past their retention window along with their archives.
type Reaper struct {
	repo     domain.JobRepository
	archive  domain.ArchiveStore
	interval time.Duration
	now      func() time.Time
	logger   *infra.Logger
}

type ReaperOptions struct {
	Repo     domain.JobRepository
	Archive  domain.ArchiveStore
	Interval time.Duration
	Clock    func() time.Time
	Logger   *infra.Logger
}

func NewReaper(opts ReaperOptions) *Reaper {
	r := &Reaper{
		repo:     opts.Repo,
		archive:  opts.Archive,
		interval: opts.Interval,
		now:      opts.Clock,
		logger:   infra.OrNop(opts.Logger),
	}
	if r.interval <= 0 {
		r.interval = DefaultReaperInterval
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("reaper: sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep removes expired jobs and returns their ids.
func (r *Reaper) Sweep(ctx context.Context) ([]string, error) {
	ids, err := r.repo.DeleteExpired(ctx, r.now())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if r.archive == nil {
			break
		}
		if err := r.archive.Delete(ctx, domain.ArchiveKey(id)); err != nil {
			r.logger.Warn().Err(err).Str("job_id", id).Msg("reaper: archive delete failed")
		}
	}
	if len(ids) > 0 {
		r.logger.Info().Int("jobs", len(ids)).Msg("reaper: expired jobs removed")
	}
	return ids, nil
}
