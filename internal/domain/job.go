package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// JobStatus enumerates bulk job lifecycle states.
type JobStatus string

const (
	JobStatusPending            JobStatus = "pending"
	JobStatusProcessing         JobStatus = "processing"
	JobStatusCompleted          JobStatus = "completed"
	JobStatusPartiallyCompleted JobStatus = "partially_completed"
	JobStatusFailed             JobStatus = "failed"
)

// IsTerminal reports whether no further outcomes may be applied.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartiallyCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// BulkJob aggregates the outcomes of every record submitted in one workbook.
//
// CancelRequested and ClaimedAt are coordination flags owned by the
// repository; Save implementations leave their stored values untouched.
type BulkJob struct {
	ID              string
	FileName        string
	Status          JobStatus
	Records         []ScenarioRecord
	Results         []ConversationResult
	Errors          []GenerationError
	CompletedCount  int
	FailedCount     int
	CancelRequested bool
	ClaimedAt       *time.Time
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ExpiresAt       time.Time
}

// NewBulkJob builds a pending job. Records must already be validated.
func NewBulkJob(id, fileName string, records []ScenarioRecord, now time.Time, retention time.Duration) (*BulkJob, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidJob)
	}
	if len(records) == 0 || len(records) > MaxRecordsPerJob {
		return nil, fmt.Errorf("%w: record count %d outside 1..%d", ErrInvalidJob, len(records), MaxRecordsPerJob)
	}
	seen := make(map[int]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.RowIndex]; dup {
			return nil, fmt.Errorf("%w: duplicate row %d", ErrInvalidJob, rec.RowIndex)
		}
		seen[rec.RowIndex] = struct{}{}
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	now = now.UTC()
	return &BulkJob{
		ID:        id,
		FileName:  fileName,
		Status:    JobStatusPending,
		Records:   append([]ScenarioRecord(nil), records...),
		CreatedAt: now,
		ExpiresAt: now.Add(retention),
	}, nil
}

// TotalCount is the number of submitted records.
func (j *BulkJob) TotalCount() int {
	return len(j.Records)
}

// ProgressPercent is round((completed+failed)/total*100).
func (j *BulkJob) ProgressPercent() int {
	total := j.TotalCount()
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(j.CompletedCount+j.FailedCount) / float64(total) * 100))
}

// Start moves a pending job into processing.
func (j *BulkJob) Start(now time.Time) error {
	if j.Status != JobStatusPending {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, j.Status)
	}
	ts := now.UTC()
	j.Status = JobStatusProcessing
	j.StartedAt = &ts
	return nil
}

// IsResolved reports whether rowIndex already has a result or an error.
func (j *BulkJob) IsResolved(rowIndex int) bool {
	for _, r := range j.Results {
		if r.RowIndex == rowIndex {
			return true
		}
	}
	for _, e := range j.Errors {
		if e.RowIndex == rowIndex {
			return true
		}
	}
	return false
}

// Unresolved returns the records still waiting for an outcome, in submission order.
func (j *BulkJob) Unresolved() []ScenarioRecord {
	resolved := make(map[int]struct{}, len(j.Results)+len(j.Errors))
	for _, r := range j.Results {
		resolved[r.RowIndex] = struct{}{}
	}
	for _, e := range j.Errors {
		resolved[e.RowIndex] = struct{}{}
	}
	var out []ScenarioRecord
	for _, rec := range j.Records {
		if _, ok := resolved[rec.RowIndex]; !ok {
			out = append(out, rec)
		}
	}
	return out
}

// Record returns the submitted record for rowIndex.
func (j *BulkJob) Record(rowIndex int) (ScenarioRecord, bool) {
	for _, rec := range j.Records {
		if rec.RowIndex == rowIndex {
			return rec, true
		}
	}
	return ScenarioRecord{}, false
}

func (j *BulkJob) checkOutcome(rowIndex int) error {
	if j.Status != JobStatusProcessing {
		return fmt.Errorf("%w: outcome while %s", ErrInvalidTransition, j.Status)
	}
	if _, ok := j.Record(rowIndex); !ok {
		return fmt.Errorf("%w: row %d", ErrUnknownRecord, rowIndex)
	}
	if j.IsResolved(rowIndex) {
		return fmt.Errorf("%w: row %d", ErrDuplicateOutcome, rowIndex)
	}
	return nil
}

// RecordSuccess appends a result for a processing job.
func (j *BulkJob) RecordSuccess(res ConversationResult) error {
	if err := j.checkOutcome(res.RowIndex); err != nil {
		return err
	}
	if res.Status == "" {
		res.Status = ResultStatusSuccess
	}
	j.Results = append(j.Results, res)
	j.CompletedCount++
	return nil
}

// RecordFailure appends an error for a processing job.
func (j *BulkJob) RecordFailure(ge GenerationError) error {
	if err := j.checkOutcome(ge.RowIndex); err != nil {
		return err
	}
	j.Errors = append(j.Errors, ge)
	j.FailedCount++
	return nil
}

// Complete derives the terminal status from the final counters. It runs
// once, after every record has been resolved.
func (j *BulkJob) Complete(now time.Time) error {
	if j.Status != JobStatusProcessing {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, j.Status)
	}
	if j.CompletedCount+j.FailedCount != j.TotalCount() {
		return fmt.Errorf("%w: %d of %d resolved", ErrUnresolvedRecords, j.CompletedCount+j.FailedCount, j.TotalCount())
	}
	switch {
	case j.FailedCount == 0:
		j.Status = JobStatusCompleted
	case j.CompletedCount == 0:
		j.Status = JobStatusFailed
	default:
		j.Status = JobStatusPartiallyCompleted
	}
	sort.Slice(j.Results, func(a, b int) bool { return j.Results[a].RowIndex < j.Results[b].RowIndex })
	sort.Slice(j.Errors, func(a, b int) bool { return j.Errors[a].RowIndex < j.Errors[b].RowIndex })
	ts := now.UTC()
	j.CompletedAt = &ts
	return nil
}

// Clone returns a deep copy so stores never share slices with callers.
func (j *BulkJob) Clone() *BulkJob {
	if j == nil {
		return nil
	}
	out := *j
	out.Records = make([]ScenarioRecord, len(j.Records))
	for i, rec := range j.Records {
		rec.ParticipantNames = append([]string(nil), rec.ParticipantNames...)
		out.Records[i] = rec
	}
	out.Results = make([]ConversationResult, len(j.Results))
	for i, res := range j.Results {
		res.Conversation.Participants = append([]string(nil), res.Conversation.Participants...)
		res.Conversation.Messages = append([]Message(nil), res.Conversation.Messages...)
		out.Results[i] = res
	}
	out.Errors = append([]GenerationError(nil), j.Errors...)
	out.ClaimedAt = cloneTime(j.ClaimedAt)
	out.StartedAt = cloneTime(j.StartedAt)
	out.CompletedAt = cloneTime(j.CompletedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StatusView is the read projection returned to status pollers.
type StatusView struct {
	ID              string            `json:"id"`
	FileName        string            `json:"fileName,omitempty"`
	Status          JobStatus         `json:"status"`
	TotalCount      int               `json:"totalCount"`
	CompletedCount  int               `json:"completedCount"`
	FailedCount     int               `json:"failedCount"`
	ProgressPercent int               `json:"progressPercent"`
	CancelRequested bool              `json:"cancelRequested"`
	Errors          []GenerationError `json:"errors"`
	CreatedAt       time.Time         `json:"createdAt"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	ExpiresAt       time.Time         `json:"expiresAt"`
}

// View projects the job without exposing its results.
func (j *BulkJob) View() StatusView {
	errs := append([]GenerationError{}, j.Errors...)
	sort.Slice(errs, func(a, b int) bool { return errs[a].RowIndex < errs[b].RowIndex })
	return StatusView{
		ID:              j.ID,
		FileName:        j.FileName,
		Status:          j.Status,
		TotalCount:      j.TotalCount(),
		CompletedCount:  j.CompletedCount,
		FailedCount:     j.FailedCount,
		ProgressPercent: j.ProgressPercent(),
		CancelRequested: j.CancelRequested,
		Errors:          errs,
		CreatedAt:       j.CreatedAt,
		StartedAt:       cloneTime(j.StartedAt),
		CompletedAt:     cloneTime(j.CompletedAt),
		ExpiresAt:       j.ExpiresAt,
	}
}
