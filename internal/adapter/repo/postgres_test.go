package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkstudio/internal/domain"
	"talkstudio/internal/infra"
	"talkstudio/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

// stubDB records statements and serves canned rows.
type stubDB struct {
	execs    []execCall
	affected int64
	execErr  error
	row      func(query string, args []any) pgx.Row
	rows     *stubRows
}

func (s *stubDB) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	if s.execErr != nil {
		return pgconn.CommandTag{}, s.execErr
	}
	return pgconn.NewCommandTag("UPDATE " + strconv.FormatInt(s.affected, 10)), nil
}

func (s *stubDB) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	if s.row == nil {
		return simpleRow{}
	}
	return s.row(query, args)
}

func (s *stubDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return s.rows, nil
}

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type stubRows struct {
	ids    []string
	pos    int
	closed bool
}

func (r *stubRows) Close()                                       { r.closed = true }
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, errors.New("not supported") }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.pos >= len(r.ids) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	*dest[0].(*string) = r.ids[r.pos-1]
	return nil
}

func jobRow(t *testing.T, job *domain.BulkJob, cancel bool) simpleRow {
	records, err := json.Marshal(job.Records)
	require.NoError(t, err)
	return simpleRow{scan: func(dest ...any) error {
		*dest[0].(*string) = job.ID
		*dest[1].(*string) = job.FileName
		*dest[2].(*string) = string(job.Status)
		*dest[3].(*[]byte) = records
		*dest[4].(*[]byte) = []byte(`[]`)
		*dest[5].(*[]byte) = []byte(`[{"rowIndex":2,"error":"blocked","cause":"content_policy"}]`)
		*dest[6].(*int) = 0
		*dest[7].(*int) = 1
		*dest[8].(*bool) = cancel
		*dest[10].(*time.Time) = job.CreatedAt
		*dest[13].(*time.Time) = job.ExpiresAt
		return nil
	}}
}

func TestPostgresQueriesCarryMarkers(t *testing.T) {
	for _, q := range []string{
		sqlinline.SchemaBulkJobs,
		sqlinline.QBulkJobInsert,
		sqlinline.QBulkJobSelect,
		sqlinline.QBulkJobSave,
		sqlinline.QBulkJobDelete,
		sqlinline.QBulkJobSetCancel,
		sqlinline.QBulkJobClaim,
		sqlinline.QBulkJobRelease,
		sqlinline.QBulkJobDeleteExpired,
	} {
		_, _, err := infra.SplitMarker(q)
		assert.NoError(t, err)
	}
}

func TestPostgresCreateEncodesDocuments(t *testing.T) {
	db := &stubDB{affected: 1}
	repo := NewPostgresJobRepository(db)
	job := newJob(t, "job-1", baseTime, 2)

	require.NoError(t, repo.Create(context.Background(), job))
	require.Len(t, db.execs, 1)
	call := db.execs[0]
	assert.Equal(t, sqlinline.QBulkJobInsert, call.query)
	assert.Equal(t, "job-1", call.args[0])
	assert.Equal(t, "pending", call.args[2])

	var records []domain.ScenarioRecord
	require.NoError(t, json.Unmarshal(call.args[3].([]byte), &records))
	assert.Len(t, records, 2)
	assert.JSONEq(t, `[]`, string(call.args[4].([]byte)))
}

func TestPostgresSaveOmitsCoordinationColumns(t *testing.T) {
	db := &stubDB{affected: 1}
	repo := NewPostgresJobRepository(db)
	job := newJob(t, "job-1", baseTime, 1)
	job.CancelRequested = true

	require.NoError(t, repo.Save(context.Background(), job))
	call := db.execs[0]
	assert.Equal(t, sqlinline.QBulkJobSave, call.query)
	assert.Len(t, call.args, 8)
	assert.NotContains(t, call.query, "cancel_requested =")
	assert.NotContains(t, call.query, "claimed_at =")

	db.affected = 0
	assert.ErrorIs(t, repo.Save(context.Background(), job), domain.ErrNotFound)
}

func TestPostgresGetDecodesRow(t *testing.T) {
	job := newJob(t, "job-1", baseTime, 1)
	db := &stubDB{row: func(query string, args []any) pgx.Row {
		assert.Equal(t, sqlinline.QBulkJobSelect, query)
		return jobRow(t, job, true)
	}}
	repo := NewPostgresJobRepository(db)

	got, err := repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.True(t, got.CancelRequested)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, domain.CauseContentPolicy, got.Errors[0].Cause)
	assert.Len(t, got.Records, 1)

	db.row = nil
	_, err = repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresClaimMapsNoRows(t *testing.T) {
	repo := NewPostgresJobRepository(&stubDB{})
	_, err := repo.Claim(context.Background(), baseTime, 0)
	assert.ErrorIs(t, err, domain.ErrNoJobAvailable)
}

func TestPostgresDeleteExpiredCollectsIDs(t *testing.T) {
	rows := &stubRows{ids: []string{"a", "b"}}
	repo := NewPostgresJobRepository(&stubDB{rows: rows})

	ids, err := repo.DeleteExpired(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.True(t, rows.closed)
}

func TestPostgresExecErrorsWrap(t *testing.T) {
	boom := errors.New("boom")
	repo := NewPostgresJobRepository(&stubDB{execErr: boom})
	err := repo.Delete(context.Background(), "job-1")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "job-1")
}

func TestPostgresClaimPassesLeaseCutoff(t *testing.T) {
	var got []any
	db := &stubDB{row: func(query string, args []any) pgx.Row {
		assert.Equal(t, sqlinline.QBulkJobClaim, query)
		got = args
		return simpleRow{}
	}}
	repo := NewPostgresJobRepository(db)

	_, err := repo.Claim(context.Background(), baseTime, 5*time.Minute)
	assert.ErrorIs(t, err, domain.ErrNoJobAvailable)
	require.Len(t, got, 2)
	cutoff, ok := got[1].(*time.Time)
	require.True(t, ok)
	assert.True(t, cutoff.Equal(baseTime.Add(-5*time.Minute)))

	_, err = repo.Claim(context.Background(), baseTime, 0)
	assert.ErrorIs(t, err, domain.ErrNoJobAvailable)
	assert.Nil(t, got[1].(*time.Time))
}

func TestPostgresHeartbeat(t *testing.T) {
	db := &stubDB{affected: 1}
	repo := NewPostgresJobRepository(db)
	require.NoError(t, repo.Heartbeat(context.Background(), "job-1", baseTime))
	require.Len(t, db.execs, 1)
	assert.Equal(t, sqlinline.QBulkJobHeartbeat, db.execs[0].query)
	assert.Equal(t, []any{"job-1", baseTime}, db.execs[0].args)

	db.affected = 0
	assert.ErrorIs(t, repo.Heartbeat(context.Background(), "job-1", baseTime), domain.ErrNotFound)
}
