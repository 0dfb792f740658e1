package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"talkstudio/internal/domain"
)

// MemoryJobRepository keeps jobs in process memory. Every read and write
// copies the job so callers never alias stored state.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.BulkJob
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*domain.BulkJob)}
}

func (r *MemoryJobRepository) Create(_ context.Context, job *domain.BulkJob) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidJob
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return domain.ErrInvalidJob
	}
	stored := job.Clone()
	stored.CancelRequested = false
	stored.ClaimedAt = nil
	r.jobs[job.ID] = stored
	return nil
}

func (r *MemoryJobRepository) Get(_ context.Context, id string) (*domain.BulkJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobRepository) Save(_ context.Context, job *domain.BulkJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored := job.Clone()
	stored.CancelRequested = current.CancelRequested
	stored.ClaimedAt = current.ClaimedAt
	r.jobs[job.ID] = stored
	return nil
}

func (r *MemoryJobRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

func (r *MemoryJobRepository) SetCancelRequested(_ context.Context, id string, requested bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.CancelRequested = requested
	return nil
}

func (r *MemoryJobRepository) Claim(_ context.Context, now time.Time, lease time.Duration) (*domain.BulkJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var next *domain.BulkJob
	for _, job := range r.jobs {
		if !domain.Claimable(job.ClaimedAt, now, lease) || job.CancelRequested || job.Status.IsTerminal() {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) ||
			(job.CreatedAt.Equal(next.CreatedAt) && job.ID < next.ID) {
			next = job
		}
	}
	if next == nil {
		return nil, domain.ErrNoJobAvailable
	}
	ts := now.UTC()
	next.ClaimedAt = &ts
	return next.Clone(), nil
}

func (r *MemoryJobRepository) Heartbeat(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.ClaimedAt == nil {
		return domain.ErrNotFound
	}
	ts := now.UTC()
	job.ClaimedAt = &ts
	return nil
}

func (r *MemoryJobRepository) Release(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.ClaimedAt = nil
	}
	return nil
}

func (r *MemoryJobRepository) DeleteExpired(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, job := range r.jobs {
		if !job.ExpiresAt.After(now) {
			ids = append(ids, id)
			delete(r.jobs, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

var _ domain.JobRepository = (*MemoryJobRepository)(nil)
