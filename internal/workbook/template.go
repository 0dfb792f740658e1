package workbook

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"talkstudio/internal/domain"
)

const TemplateSheet = "Scenarios"

var templateExamples = [][]any{
	{"게임 아이템 거래 협상. 희귀 아이템을 팔려는 판매자와 사려는 구매자의 대화.", 2, 10, "casual", "kakaotalk", "판매자, 구매자"},
	{"친구들이 주말 모임 장소를 정하는 그룹 채팅. 여러 의견 조율.", 4, 15, "casual", "discord", ""},
	{"고객이 배송 지연에 대해 문의하는 고객센터 상담.", 2, 8, "formal", "telegram", ""},
}

var templateWidths = map[string]float64{"A": 60, "B": 12, "C": 15, "D": 12, "E": 12, "F": 24}

// Template builds the downloadable workbook with the header row, three
// example rows and drop-down lists for tone and platform.
func Template() ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	if err := f.SetSheetName("Sheet1", TemplateSheet); err != nil {
		return nil, fmt.Errorf("workbook: rename sheet: %w", err)
	}
	header := []any{ColumnScenario, ColumnParticipants, ColumnMessageCount, ColumnTone, ColumnPlatform, ColumnParticipantNames}
	if err := f.SetSheetRow(TemplateSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("workbook: write header: %w", err)
	}
	for i, example := range templateExamples {
		row := example
		if err := f.SetSheetRow(TemplateSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, fmt.Errorf("workbook: write example: %w", err)
		}
	}
	for col, width := range templateWidths {
		if err := f.SetColWidth(TemplateSheet, col, col, width); err != nil {
			return nil, fmt.Errorf("workbook: column width: %w", err)
		}
	}

	lastRow := domain.MaxRecordsPerJob + 1
	tones := make([]string, 0, 3)
	for _, t := range domain.Tones() {
		tones = append(tones, string(t))
	}
	platforms := make([]string, 0, 4)
	for _, p := range domain.Platforms() {
		platforms = append(platforms, string(p))
	}
	if err := addDropList(f, fmt.Sprintf("D2:D%d", lastRow), tones); err != nil {
		return nil, err
	}
	if err := addDropList(f, fmt.Sprintf("E2:E%d", lastRow), platforms); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("workbook: encode template: %w", err)
	}
	return buf.Bytes(), nil
}

func addDropList(f *excelize.File, sqref string, values []string) error {
	dv := excelize.NewDataValidation(true)
	dv.Sqref = sqref
	if err := dv.SetDropList(values); err != nil {
		return fmt.Errorf("workbook: drop list: %w", err)
	}
	if err := f.AddDataValidation(TemplateSheet, dv); err != nil {
		return fmt.Errorf("workbook: add validation: %w", err)
	}
	return nil
}
