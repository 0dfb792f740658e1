package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"talkstudio/internal/domain"
)

// expiryGrace keeps a job key alive past ExpiresAt so the reaper still finds
// it and can drop the matching archive.
const expiryGrace = time.Hour

const maxTxAttempts = 5

// RedisJobRepository stores each job as a JSON document under
// <prefix>bulkjob:<id>. Two sorted sets index it: the queue (scored by
// creation time, drives Claim) and the expiry set (scored by ExpiresAt,
// drives DeleteExpired). Read-modify-write paths use WATCH so flag updates
// from other processes are never overwritten.
type RedisJobRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisJobRepository(client redis.UniversalClient, prefix string) *RedisJobRepository {
	return &RedisJobRepository{client: client, prefix: prefix}
}

type redisJob struct {
	ID              string                      `json:"id"`
	FileName        string                      `json:"fileName"`
	Status          domain.JobStatus            `json:"status"`
	Records         []domain.ScenarioRecord     `json:"records"`
	Results         []domain.ConversationResult `json:"results"`
	Errors          []domain.GenerationError    `json:"errors"`
	CompletedCount  int                         `json:"completedCount"`
	FailedCount     int                         `json:"failedCount"`
	CancelRequested bool                        `json:"cancelRequested"`
	ClaimedAt       *time.Time                  `json:"claimedAt,omitempty"`
	CreatedAt       time.Time                   `json:"createdAt"`
	StartedAt       *time.Time                  `json:"startedAt,omitempty"`
	CompletedAt     *time.Time                  `json:"completedAt,omitempty"`
	ExpiresAt       time.Time                   `json:"expiresAt"`
}

func toRedisJob(j *domain.BulkJob) redisJob {
	c := j.Clone()
	return redisJob{
		ID:              c.ID,
		FileName:        c.FileName,
		Status:          c.Status,
		Records:         c.Records,
		Results:         c.Results,
		Errors:          c.Errors,
		CompletedCount:  c.CompletedCount,
		FailedCount:     c.FailedCount,
		CancelRequested: c.CancelRequested,
		ClaimedAt:       c.ClaimedAt,
		CreatedAt:       c.CreatedAt,
		StartedAt:       c.StartedAt,
		CompletedAt:     c.CompletedAt,
		ExpiresAt:       c.ExpiresAt,
	}
}

func (r redisJob) toDomain() *domain.BulkJob {
	return &domain.BulkJob{
		ID:              r.ID,
		FileName:        r.FileName,
		Status:          r.Status,
		Records:         r.Records,
		Results:         r.Results,
		Errors:          r.Errors,
		CompletedCount:  r.CompletedCount,
		FailedCount:     r.FailedCount,
		CancelRequested: r.CancelRequested,
		ClaimedAt:       r.ClaimedAt,
		CreatedAt:       r.CreatedAt,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r *RedisJobRepository) jobKey(id string) string { return r.prefix + "bulkjob:" + id }
func (r *RedisJobRepository) queueKey() string        { return r.prefix + "bulkjobs:queue" }
func (r *RedisJobRepository) expiryKey() string       { return r.prefix + "bulkjobs:expiry" }

func (r *RedisJobRepository) Create(ctx context.Context, job *domain.BulkJob) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidJob
	}
	doc := toRedisJob(job)
	doc.CancelRequested = false
	doc.ClaimedAt = nil
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	created, err := r.client.SetNX(ctx, r.jobKey(job.ID), data, ttlFor(job.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	if !created {
		return fmt.Errorf("%w: job %s already exists", domain.ErrInvalidJob, job.ID)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if !job.Status.IsTerminal() {
			pipe.ZAdd(ctx, r.queueKey(), redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.ID})
		}
		pipe.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(job.ExpiresAt.Unix()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("index job %s: %w", job.ID, err)
	}
	return nil
}

func (r *RedisJobRepository) Get(ctx context.Context, id string) (*domain.BulkJob, error) {
	doc, err := r.load(ctx, r.client, id)
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *RedisJobRepository) Save(ctx context.Context, job *domain.BulkJob) error {
	return r.update(ctx, job.ID, func(current *redisJob) (bool, error) {
		next := toRedisJob(job)
		next.CancelRequested = current.CancelRequested
		next.ClaimedAt = current.ClaimedAt
		*current = next
		return true, nil
	})
}

func (r *RedisJobRepository) Delete(ctx context.Context, id string) error {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, r.jobKey(id))
		pipe.ZRem(ctx, r.queueKey(), id)
		pipe.ZRem(ctx, r.expiryKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if deleted.Val() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RedisJobRepository) SetCancelRequested(ctx context.Context, id string, requested bool) error {
	return r.update(ctx, id, func(current *redisJob) (bool, error) {
		current.CancelRequested = requested
		return true, nil
	})
}

func (r *RedisJobRepository) Claim(ctx context.Context, now time.Time, lease time.Duration) (*domain.BulkJob, error) {
	ids, err := r.client.ZRange(ctx, r.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	ts := now.UTC()
	for _, id := range ids {
		var claimed *redisJob
		err := r.watch(ctx, id, func(current *redisJob) (bool, error) {
			if !domain.Claimable(current.ClaimedAt, now, lease) || current.CancelRequested || current.Status.IsTerminal() {
				return false, nil
			}
			current.ClaimedAt = &ts
			claimed = current
			return true, nil
		})
		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue // another worker touched it first
		case errors.Is(err, domain.ErrNotFound):
			r.client.ZRem(ctx, r.queueKey(), id)
			continue
		case err != nil:
			return nil, err
		}
		if claimed != nil {
			return claimed.toDomain(), nil
		}
	}
	return nil, domain.ErrNoJobAvailable
}

func (r *RedisJobRepository) Heartbeat(ctx context.Context, id string, now time.Time) error {
	ts := now.UTC()
	var claimed bool
	err := r.update(ctx, id, func(current *redisJob) (bool, error) {
		if claimed = current.ClaimedAt != nil; !claimed {
			return false, nil
		}
		current.ClaimedAt = &ts
		return true, nil
	})
	if err == nil && !claimed {
		return domain.ErrNotFound
	}
	return err
}

func (r *RedisJobRepository) Release(ctx context.Context, id string) error {
	err := r.update(ctx, id, func(current *redisJob) (bool, error) {
		if current.ClaimedAt == nil {
			return false, nil
		}
		current.ClaimedAt = nil
		return true, nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (r *RedisJobRepository) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, r.jobKey(id))
			pipe.ZRem(ctx, r.queueKey(), id)
			pipe.ZRem(ctx, r.expiryKey(), id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete expired: %w", err)
	}
	return ids, nil
}

func (r *RedisJobRepository) load(ctx context.Context, c redis.Cmdable, id string) (*redisJob, error) {
	data, err := c.Get(ctx, r.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var doc redisJob
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &doc, nil
}

// update is watch retried while another client keeps changing the key
// between our read and EXEC.
func (r *RedisJobRepository) update(ctx context.Context, id string, fn func(*redisJob) (bool, error)) error {
	var err error
	for range maxTxAttempts {
		if err = r.watch(ctx, id, fn); !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("update job %s: %w", id, err)
}

// watch runs fn against the stored document inside WATCH/MULTI once. fn
// reports whether it changed anything; unchanged documents are not
// rewritten.
func (r *RedisJobRepository) watch(ctx context.Context, id string, fn func(*redisJob) (bool, error)) error {
	key := r.jobKey(id)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		doc, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		changed, err := fn(doc)
		if err != nil || !changed {
			return err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			if doc.Status.IsTerminal() {
				pipe.ZRem(ctx, r.queueKey(), id)
			}
			return nil
		})
		return err
	}, key)
}

func ttlFor(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + expiryGrace
	if ttl <= 0 {
		return 0
	}
	return ttl
}

var _ domain.JobRepository = (*RedisJobRepository)(nil)
