package packager

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkstudio/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// finishedJob resolves rows 2..n+1; rows listed in failed become errors.
func finishedJob(t *testing.T, n int, failed ...int) *domain.BulkJob {
	t.Helper()
	records := make([]domain.ScenarioRecord, n)
	for i := range records {
		records[i] = domain.ScenarioRecord{
			RowIndex:         i + 2,
			Scenario:         fmt.Sprintf("시나리오 %d 번: 주말 약속 정하기", i),
			ParticipantCount: 2,
			MessageCount:     5,
			Tone:             domain.ToneCasual,
			Platform:         domain.PlatformKakaoTalk,
		}
	}
	job, err := domain.NewBulkJob("job-1", "scenarios.xlsx", records, t0, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Start(t0.Add(time.Second)))

	isFailed := map[int]bool{}
	for _, row := range failed {
		isFailed[row] = true
	}
	// resolve in reverse to prove ordering is by row, not arrival
	for i := n - 1; i >= 0; i-- {
		row := records[i].RowIndex
		if isFailed[row] {
			require.NoError(t, job.RecordFailure(domain.GenerationError{RowIndex: row, Message: "all providers failed", Cause: domain.CauseProviderFailure}))
			continue
		}
		provider := "upstage"
		if row%2 == 1 {
			provider = "openai"
		}
		require.NoError(t, job.RecordSuccess(domain.ConversationResult{
			RowIndex:       row,
			ConversationID: fmt.Sprintf("conv%d", row),
			Conversation: domain.Conversation{
				Participants: []string{"민수", "지영"},
				Messages: []domain.Message{
					{Sender: "민수", Text: "안녕", Timestamp: "14:30"},
					{Sender: "지영", Text: "반가워", Timestamp: "00:05"},
				},
			},
			ProviderUsed: provider,
			Usage:        domain.Usage{TotalTokens: 10},
			CreatedAt:    t0.Add(time.Minute),
		}))
	}
	require.NoError(t, job.Complete(t0.Add(2*time.Minute)))
	return job
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = body
	}
	return out
}

func TestPackageCompletedJob(t *testing.T) {
	job := finishedJob(t, 5)
	data, err := Package(job)
	require.NoError(t, err)

	files := readArchive(t, data)
	assert.Len(t, files, 12)
	assert.Contains(t, files, "summary.json")
	assert.Contains(t, files, "README.md")
	assert.NotContains(t, files, "errors.json")
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("%03d_conv%d.json", i, i+1)
		assert.Contains(t, files, "conversations/"+name)
		assert.Contains(t, files, "app_import/"+name)
	}

	var sum summary
	require.NoError(t, json.Unmarshal(files["summary.json"], &sum))
	assert.Equal(t, "completed", sum.Status)
	assert.Equal(t, 5, sum.CompletedCount)
	assert.Equal(t, map[string]int{"upstage": 3, "openai": 2}, sum.Providers)
	assert.Equal(t, 50, sum.Usage.TotalTokens)
	assert.InDelta(t, 119, sum.DurationSeconds, 0.001)
}

func TestPackagePartialJobNumbersSuccessesByRow(t *testing.T) {
	job := finishedJob(t, 4, 3)
	data, err := Package(job)
	require.NoError(t, err)
	files := readArchive(t, data)

	assert.Contains(t, files, "conversations/001_conv2.json")
	assert.Contains(t, files, "conversations/002_conv4.json")
	assert.Contains(t, files, "conversations/003_conv5.json")

	var errs []errorEntry
	require.NoError(t, json.Unmarshal(files["errors.json"], &errs))
	require.Len(t, errs, 1)
	assert.Equal(t, 3, errs[0].RowIndex)
	assert.Equal(t, domain.CauseProviderFailure, errs[0].Cause)
	assert.Contains(t, errs[0].Scenario, "시나리오 1")

	var conv conversationFile
	require.NoError(t, json.Unmarshal(files["conversations/002_conv4.json"], &conv))
	assert.Equal(t, 4, conv.RowIndex)
	assert.Equal(t, domain.PlatformKakaoTalk, conv.Platform)
	assert.Len(t, conv.Messages, 2)
}

func TestPackageAppImportShape(t *testing.T) {
	files := readArchive(t, mustPackage(t, finishedJob(t, 1)))
	var doc appDocument
	require.NoError(t, json.Unmarshal(files["app_import/001_conv2.json"], &doc))
	assert.Equal(t, "민수", doc.Profiles["me"].Name)
	assert.Equal(t, "지영", doc.Profiles["other"].Name)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, appMessage{ID: "bulk-conv2-0", Sender: "me", Type: "text", Text: "안녕", Time: "오후 2:30"}, doc.Messages[0])
	assert.Equal(t, "bulk-conv2-1", doc.Messages[1].ID)
	assert.Equal(t, "other", doc.Messages[1].Sender)
	assert.Equal(t, "오전 12:05", doc.Messages[1].Time)
	assert.True(t, doc.Metadata.IsSample)
}

func TestAppImportFallsBackToDefaultNames(t *testing.T) {
	res := domain.ConversationResult{
		RowIndex:       2,
		ConversationID: "solo",
		Conversation: domain.Conversation{
			Participants: []string{"민수"},
			Messages:     []domain.Message{{Sender: "민수", Text: "혼잣말", Timestamp: "10:00"}},
		},
	}
	doc := appImport(res, domain.ScenarioRecord{RowIndex: 2, Platform: domain.PlatformKakaoTalk})
	assert.Equal(t, "민수", doc.Profiles["me"].Name)
	assert.Equal(t, "상대방", doc.Profiles["other"].Name)

	doc = appImport(domain.ConversationResult{ConversationID: "empty"}, domain.ScenarioRecord{})
	assert.Equal(t, "나", doc.Profiles["me"].Name)
	assert.Equal(t, "상대방", doc.Profiles["other"].Name)
	assert.Empty(t, doc.Messages)
}

func TestPackageIsIdempotent(t *testing.T) {
	job := finishedJob(t, 3, 2)
	first := mustPackage(t, job)
	second := mustPackage(t, job)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, job.CompletedCount)
}

func TestPackageRejectsUnfinishedJobs(t *testing.T) {
	job, err := domain.NewBulkJob("job-2", "", []domain.ScenarioRecord{{RowIndex: 2}}, t0, 0)
	require.NoError(t, err)
	_, err = Package(job)
	assert.ErrorIs(t, err, ErrJobNotTerminal)

	require.NoError(t, job.Start(t0))
	_, err = Package(job)
	assert.ErrorIs(t, err, ErrJobNotTerminal)
}

func TestKoreanClock(t *testing.T) {
	cases := map[string]string{"09:05": "오전 9:05", "12:00": "오후 12:00", "23:59": "오후 11:59", "bogus": "bogus", "25:00": "25:00"}
	for in, want := range cases {
		assert.Equal(t, want, koreanClock(in), in)
	}
}

func mustPackage(t *testing.T, job *domain.BulkJob) []byte {
	t.Helper()
	data, err := Package(job)
	require.NoError(t, err)
	return data
}
