package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for bulk jobs.
type JobRepository interface {
	Create(ctx context.Context, job *BulkJob) error
	Get(ctx context.Context, id string) (*BulkJob, error)
	// Save writes status, counters and outcomes. It never touches the
	// CancelRequested or ClaimedAt flags.
	Save(ctx context.Context, job *BulkJob) error
	Delete(ctx context.Context, id string) error
	SetCancelRequested(ctx context.Context, id string, requested bool) error
	// Claim marks the oldest claimable, non-terminal, non-cancelled job as
	// claimed and returns it, or ErrNoJobAvailable. A claim older than lease
	// counts as abandoned; lease <= 0 means claims never expire.
	Claim(ctx context.Context, now time.Time, lease time.Duration) (*BulkJob, error)
	// Heartbeat moves an existing claim to now. It returns ErrNotFound when
	// the job is gone or holds no claim.
	Heartbeat(ctx context.Context, id string, now time.Time) error
	Release(ctx context.Context, id string) error
	// DeleteExpired removes jobs whose ExpiresAt is not after now and
	// returns their ids.
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Claimable reports whether a job claimed at claimedAt may be claimed again.
func Claimable(claimedAt *time.Time, now time.Time, lease time.Duration) bool {
	if claimedAt == nil {
		return true
	}
	return lease > 0 && !claimedAt.Add(lease).After(now)
}

// ArchiveStore persists packaged result archives.
type ArchiveStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ArchiveKey is the storage key of a job's packaged results.
func ArchiveKey(jobID string) string {
	return "archives/" + jobID + ".zip"
}
