// Package workbook parses scenario spreadsheets into validated records and
// produces the blank template users fill in.
package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"

	"talkstudio/internal/domain"
)

const (
	ColumnScenario         = "scenario"
	ColumnParticipants     = "participants"
	ColumnMessageCount     = "message_count"
	ColumnTone             = "tone"
	ColumnPlatform         = "platform"
	ColumnParticipantNames = "participant_names"
)

var requiredColumns = []string{ColumnScenario, ColumnParticipants, ColumnMessageCount, ColumnTone, ColumnPlatform}

// ErrInvalidWorkbook is matched by every *ValidationFailure.
var ErrInvalidWorkbook = errors.New("invalid workbook")

// Issue locates one problem. Row 0 means the file as a whole.
type Issue struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`

	args []any
}

// ValidationFailure reports every issue found in a workbook.
type ValidationFailure struct {
	Issues []Issue
}

func (v *ValidationFailure) Error() string {
	if len(v.Issues) == 0 {
		return ErrInvalidWorkbook.Error()
	}
	first := v.Issues[0]
	where := "file"
	if first.Row > 0 {
		where = fmt.Sprintf("row %d", first.Row)
	}
	if len(v.Issues) == 1 {
		return fmt.Sprintf("%s: %s: %s", ErrInvalidWorkbook, where, first.Message)
	}
	return fmt.Sprintf("%s: %s: %s (and %d more)", ErrInvalidWorkbook, where, first.Message, len(v.Issues)-1)
}

func (v *ValidationFailure) Unwrap() error { return ErrInvalidWorkbook }

// add records an issue with its English message; Localized renders others.
func (v *ValidationFailure) add(row int, column, code string, args ...any) {
	v.Issues = append(v.Issues, Issue{
		Row:     row,
		Column:  column,
		Code:    code,
		Message: issueText("en", code, args),
		args:    args,
	})
}

func fileFailure(code string, args ...any) *ValidationFailure {
	vf := &ValidationFailure{}
	vf.add(0, "", code, args...)
	return vf
}

// Ingest reads the first sheet of an xlsx workbook. The header must be on
// row 1; data rows keep their sheet row number as RowIndex. Any issue in
// any row fails the whole file with the full issue list.
func Ingest(data []byte) ([]domain.ScenarioRecord, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileFailure(IssueUnreadable)
	}
	defer func() {
		_ = f.Close()
	}()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fileFailure(IssueNoSheets)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("workbook: read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fileFailure(IssueEmptySheet, sheets[0])
	}
	columns, missing := mapHeader(rows[0])
	if len(missing) > 0 {
		vf := &ValidationFailure{}
		vf.add(1, "", IssueMissingColumns, strings.Join(missing, ", "))
		return nil, vf
	}

	vf := &ValidationFailure{}
	var records []domain.ScenarioRecord
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isBlank(row) {
			continue
		}
		rec, ok := parseRow(i+1, row, columns, vf)
		if ok {
			records = append(records, rec)
		}
	}
	if len(records) > domain.MaxRecordsPerJob {
		vf.add(0, "", IssueTooManyRows, len(records), domain.MaxRecordsPerJob)
	}
	if len(vf.Issues) > 0 {
		return nil, vf
	}
	if len(records) == 0 {
		return nil, fileFailure(IssueNoRows)
	}
	return records, nil
}

func mapHeader(header []string) (map[string]int, []string) {
	fold := cases.Fold()
	columns := make(map[string]int, len(header))
	for idx, raw := range header {
		name := fold.String(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, seen := columns[name]; !seen {
			columns[name] = idx
		}
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	return columns, missing
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func cell(row []string, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseRow(rowNum int, row []string, columns map[string]int, vf *ValidationFailure) (domain.ScenarioRecord, bool) {
	before := len(vf.Issues)
	rec := domain.ScenarioRecord{RowIndex: rowNum}

	rec.Scenario = cell(row, columns, ColumnScenario)
	switch n := utf8.RuneCountInString(rec.Scenario); {
	case n == 0:
		vf.add(rowNum, ColumnScenario, IssueRequired, ColumnScenario)
	case n < domain.MinScenarioLength:
		vf.add(rowNum, ColumnScenario, IssueTooShort, ColumnScenario, domain.MinScenarioLength)
	case n > domain.MaxScenarioLength:
		vf.add(rowNum, ColumnScenario, IssueTooLong, ColumnScenario, domain.MaxScenarioLength)
	}

	if v, ok := intCell(rowNum, row, columns, ColumnParticipants, domain.MinParticipants, domain.MaxParticipants, vf); ok {
		rec.ParticipantCount = v
	}
	if v, ok := intCell(rowNum, row, columns, ColumnMessageCount, domain.MinMessages, domain.MaxMessages, vf); ok {
		rec.MessageCount = v
	}

	if tone, ok := domain.ParseTone(cell(row, columns, ColumnTone)); ok {
		rec.Tone = tone
	} else {
		vf.add(rowNum, ColumnTone, IssueUnknownTone, joinTones())
	}

	if platform, ok := domain.ParsePlatform(cell(row, columns, ColumnPlatform)); ok {
		rec.Platform = platform
	} else {
		vf.add(rowNum, ColumnPlatform, IssueUnknownPlatform, joinPlatforms())
	}

	if raw := cell(row, columns, ColumnParticipantNames); raw != "" {
		names := splitNames(raw)
		if len(names) > domain.MaxParticipants {
			vf.add(rowNum, ColumnParticipantNames, IssueTooManyNames, domain.MaxParticipants)
		} else {
			rec.ParticipantNames = names
		}
	}

	return rec, len(vf.Issues) == before
}

var (
	errBlank      = errors.New("blank")
	errNotInteger = errors.New("not a whole number")
)

func intCell(rowNum int, row []string, columns map[string]int, column string, lo, hi int, vf *ValidationFailure) (int, bool) {
	v, err := parseInt(cell(row, columns, column))
	switch {
	case errors.Is(err, errBlank):
		vf.add(rowNum, column, IssueRequired, column)
	case err != nil:
		vf.add(rowNum, column, IssueNotInteger, column)
	case v < lo || v > hi:
		vf.add(rowNum, column, IssueOutOfRange, column, lo, hi)
	default:
		return v, true
	}
	return 0, false
}

// parseInt accepts "10" and numeric renderings such as "10.0".
func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, errBlank
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, errNotInteger
	}
	return int(f), nil
}

func splitNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func joinTones() string {
	parts := make([]string, 0, 3)
	for _, t := range domain.Tones() {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ", ")
}

func joinPlatforms() string {
	parts := make([]string, 0, 4)
	for _, p := range domain.Platforms() {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ", ")
}

// ParseScenario validates a single scenario given as column values, with the
// same rules as a workbook row. Issues carry row 0.
func ParseScenario(fields map[string]string) (domain.ScenarioRecord, error) {
	columns := make(map[string]int, len(requiredColumns)+1)
	row := make([]string, 0, len(requiredColumns)+1)
	for _, col := range requiredColumns {
		columns[col] = len(row)
		row = append(row, strings.TrimSpace(fields[col]))
	}
	columns[ColumnParticipantNames] = len(row)
	row = append(row, strings.TrimSpace(fields[ColumnParticipantNames]))

	vf := &ValidationFailure{}
	rec, ok := parseRow(0, row, columns, vf)
	if !ok {
		return domain.ScenarioRecord{}, vf
	}
	return rec, nil
}
