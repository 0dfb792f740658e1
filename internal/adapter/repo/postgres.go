package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"talkstudio/internal/domain"
	"talkstudio/internal/infra"
	"talkstudio/internal/sqlinline"
)

// PostgresJobRepository implements domain.JobRepository on a bulk_jobs table.
// Records, results and errors are stored as jsonb documents.
type PostgresJobRepository struct {
	db infra.SQLExecutor
}

// NewPostgresJobRepository wraps an executor, normally an *infra.SQLRunner.
func NewPostgresJobRepository(db infra.SQLExecutor) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

// Migrate creates the bulk_jobs table when missing.
func (r *PostgresJobRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, sqlinline.SchemaBulkJobs); err != nil {
		return fmt.Errorf("migrate bulk_jobs: %w", err)
	}
	return nil
}

func (r *PostgresJobRepository) Create(ctx context.Context, job *domain.BulkJob) error {
	records, results, errs, err := marshalOutcomes(job)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, sqlinline.QBulkJobInsert,
		job.ID,
		job.FileName,
		string(job.Status),
		records,
		results,
		errs,
		job.CompletedCount,
		job.FailedCount,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert bulk job %s: %w", job.ID, err)
	}
	return nil
}

func (r *PostgresJobRepository) Get(ctx context.Context, id string) (*domain.BulkJob, error) {
	return scanJob(r.db.QueryRow(ctx, sqlinline.QBulkJobSelect, id))
}

func (r *PostgresJobRepository) Save(ctx context.Context, job *domain.BulkJob) error {
	_, results, errs, err := marshalOutcomes(job)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, sqlinline.QBulkJobSave,
		job.ID,
		string(job.Status),
		results,
		errs,
		job.CompletedCount,
		job.FailedCount,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save bulk job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresJobRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QBulkJobDelete, id)
	if err != nil {
		return fmt.Errorf("delete bulk job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresJobRepository) SetCancelRequested(ctx context.Context, id string, requested bool) error {
	tag, err := r.db.Exec(ctx, sqlinline.QBulkJobSetCancel, id, requested)
	if err != nil {
		return fmt.Errorf("set cancel on %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresJobRepository) Claim(ctx context.Context, now time.Time, lease time.Duration) (*domain.BulkJob, error) {
	var staleBefore *time.Time
	if lease > 0 {
		ts := now.UTC().Add(-lease)
		staleBefore = &ts
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QBulkJobClaim, now.UTC(), staleBefore))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoJobAvailable
	}
	return job, err
}

func (r *PostgresJobRepository) Heartbeat(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx, sqlinline.QBulkJobHeartbeat, id, now.UTC())
	if err != nil {
		return fmt.Errorf("heartbeat bulk job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresJobRepository) Release(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, sqlinline.QBulkJobRelease, id); err != nil {
		return fmt.Errorf("release bulk job %s: %w", id, err)
	}
	return nil
}

func (r *PostgresJobRepository) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, sqlinline.QBulkJobDeleteExpired, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("delete expired jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanJob(row pgx.Row) (*domain.BulkJob, error) {
	var (
		job                    domain.BulkJob
		status                 string
		records, results, errs []byte
	)
	err := row.Scan(
		&job.ID,
		&job.FileName,
		&status,
		&records,
		&results,
		&errs,
		&job.CompletedCount,
		&job.FailedCount,
		&job.CancelRequested,
		&job.ClaimedAt,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if err := json.Unmarshal(records, &job.Records); err != nil {
		return nil, fmt.Errorf("decode records of %s: %w", job.ID, err)
	}
	if err := json.Unmarshal(results, &job.Results); err != nil {
		return nil, fmt.Errorf("decode results of %s: %w", job.ID, err)
	}
	if err := json.Unmarshal(errs, &job.Errors); err != nil {
		return nil, fmt.Errorf("decode errors of %s: %w", job.ID, err)
	}
	return &job, nil
}

func marshalOutcomes(job *domain.BulkJob) (records, results, errs []byte, err error) {
	if job == nil {
		return nil, nil, nil, domain.ErrInvalidJob
	}
	if records, err = json.Marshal(nonNil(job.Records)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode records: %w", err)
	}
	if results, err = json.Marshal(nonNil(job.Results)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode results: %w", err)
	}
	if errs, err = json.Marshal(nonNil(job.Errors)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode errors: %w", err)
	}
	return records, results, errs, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var _ domain.JobRepository = (*PostgresJobRepository)(nil)
