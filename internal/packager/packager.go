// Package packager turns a finished bulk job into a downloadable zip.
package packager

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"talkstudio/internal/domain"
	"talkstudio/pkg/zip"
)

// ErrJobNotTerminal is returned for jobs that are still pending or processing.
var ErrJobNotTerminal = domain.ErrJobNotTerminal

const jsonMIME = "application/json"

type summary struct {
	JobID           string         `json:"jobId"`
	FileName        string         `json:"fileName,omitempty"`
	Status          string         `json:"status"`
	TotalCount      int            `json:"totalCount"`
	CompletedCount  int            `json:"completedCount"`
	FailedCount     int            `json:"failedCount"`
	CreatedAt       time.Time      `json:"createdAt"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	DurationSeconds float64        `json:"durationSeconds"`
	Providers       map[string]int `json:"providers"`
	Usage           domain.Usage   `json:"usage"`
}

type conversationFile struct {
	ID           string           `json:"id"`
	RowIndex     int              `json:"rowIndex"`
	Scenario     string           `json:"scenario"`
	Participants []string         `json:"participants"`
	Messages     []domain.Message `json:"messages"`
	Tone         domain.Tone      `json:"tone"`
	Platform     domain.Platform  `json:"platform"`
	Provider     string           `json:"provider"`
	Model        string           `json:"model,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type errorEntry struct {
	RowIndex int               `json:"rowIndex"`
	Scenario string            `json:"scenario"`
	Cause    domain.ErrorCause `json:"cause"`
	Error    string            `json:"error"`
}

// Package builds the archive for a terminal job. It does not mutate job and
// returns the same bytes for the same job every time.
func Package(job *domain.BulkJob) ([]byte, error) {
	if job == nil {
		return nil, errors.New("packager: job is required")
	}
	if !job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotTerminal, job.ID, job.Status)
	}

	results := append([]domain.ConversationResult(nil), job.Results...)
	sort.Slice(results, func(a, b int) bool { return results[a].RowIndex < results[b].RowIndex })
	failures := append([]domain.GenerationError(nil), job.Errors...)
	sort.Slice(failures, func(a, b int) bool { return failures[a].RowIndex < failures[b].RowIndex })

	assets := make([]zip.Asset, 0, 3+2*len(results))
	sum, err := encode(buildSummary(job, results))
	if err != nil {
		return nil, err
	}
	assets = append(assets, zip.Asset{Filename: "summary.json", MIME: jsonMIME, Data: sum})

	for i, res := range results {
		rec, _ := job.Record(res.RowIndex)
		name := fmt.Sprintf("%03d_%s.json", i+1, res.ConversationID)

		normalized, err := encode(conversationFile{
			ID:           res.ConversationID,
			RowIndex:     res.RowIndex,
			Scenario:     rec.Scenario,
			Participants: res.Conversation.Participants,
			Messages:     res.Conversation.Messages,
			Tone:         rec.Tone,
			Platform:     rec.Platform,
			Provider:     res.ProviderUsed,
			Model:        res.Model,
			CreatedAt:    res.CreatedAt,
		})
		if err != nil {
			return nil, err
		}
		native, err := encode(appImport(res, rec))
		if err != nil {
			return nil, err
		}
		assets = append(assets,
			zip.Asset{Filename: "conversations/" + name, MIME: jsonMIME, Data: normalized},
			zip.Asset{Filename: "app_import/" + name, MIME: jsonMIME, Data: native},
		)
	}

	if len(failures) > 0 {
		entries := make([]errorEntry, 0, len(failures))
		for _, f := range failures {
			rec, _ := job.Record(f.RowIndex)
			entries = append(entries, errorEntry{RowIndex: f.RowIndex, Scenario: rec.Scenario, Cause: f.Cause, Error: f.Message})
		}
		data, err := encode(entries)
		if err != nil {
			return nil, err
		}
		assets = append(assets, zip.Asset{Filename: "errors.json", MIME: jsonMIME, Data: data})
	}

	assets = append(assets, zip.Asset{Filename: "README.md", MIME: "text/markdown", Data: readme(job, len(results), len(failures))})
	return zip.ArchiveAssets(assets, modifiedAt(job))
}

// FileName is the download name offered for a job's archive.
func FileName(job *domain.BulkJob) string {
	return "talkstudio_" + job.ID + ".zip"
}

func buildSummary(job *domain.BulkJob, results []domain.ConversationResult) summary {
	s := summary{
		JobID:          job.ID,
		FileName:       job.FileName,
		Status:         string(job.Status),
		TotalCount:     job.TotalCount(),
		CompletedCount: job.CompletedCount,
		FailedCount:    job.FailedCount,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		ExpiresAt:      job.ExpiresAt,
		Providers:      map[string]int{},
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		s.DurationSeconds = job.CompletedAt.Sub(*job.StartedAt).Seconds()
	}
	for _, res := range results {
		s.Providers[res.ProviderUsed]++
		s.Usage.Add(res.Usage)
	}
	return s
}

func modifiedAt(job *domain.BulkJob) time.Time {
	if job.CompletedAt != nil {
		return *job.CompletedAt
	}
	return job.CreatedAt
}

func encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("packager: encode: %w", err)
	}
	return append(data, '\n'), nil
}

func readme(job *domain.BulkJob, successes, failures int) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# TalkStudio bulk export %s\n\n", job.ID)
	if job.FileName != "" {
		fmt.Fprintf(&b, "Source workbook: %s\n\n", job.FileName)
	}
	fmt.Fprintf(&b, "Status: %s (%d generated, %d failed, %d total)\n\n", job.Status, successes, failures, job.TotalCount())
	b.WriteString("## Layout\n\n")
	b.WriteString("- `summary.json`: job metadata, counts and per-provider totals\n")
	b.WriteString("- `conversations/NNN_<id>.json`: one normalized conversation per generated row\n")
	b.WriteString("- `app_import/NNN_<id>.json`: the same conversation in the TalkStudio import format\n")
	if failures > 0 {
		b.WriteString("- `errors.json`: rows that could not be generated and why\n")
	}
	b.WriteString("\nNNN follows the source row order among generated rows.\n")
	b.WriteString("\nAll conversations are AI-generated sample data, not real chats.\n")
	return []byte(b.String())
}
