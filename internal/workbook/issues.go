package workbook

import "fmt"

const (
	IssueUnreadable      = "unreadable_file"
	IssueNoSheets        = "no_sheets"
	IssueEmptySheet      = "empty_sheet"
	IssueMissingColumns  = "missing_columns"
	IssueNoRows          = "no_rows"
	IssueTooManyRows     = "too_many_rows"
	IssueRequired        = "required"
	IssueTooShort        = "too_short"
	IssueTooLong         = "too_long"
	IssueNotInteger      = "not_integer"
	IssueOutOfRange      = "out_of_range"
	IssueUnknownTone     = "unknown_tone"
	IssueUnknownPlatform = "unknown_platform"
	IssueTooManyNames    = "too_many_names"
)

// issueFormats holds the printf format of every issue code per locale.
// Arguments are shared between locales, so both formats take the same verbs
// in the same order.
var issueFormats = map[string]map[string]string{
	IssueUnreadable: {
		"en": "file is not a readable xlsx workbook",
		"ko": "읽을 수 있는 xlsx 파일이 아닙니다",
	},
	IssueNoSheets: {
		"en": "workbook has no sheets",
		"ko": "시트가 없는 파일입니다",
	},
	IssueEmptySheet: {
		"en": "sheet %q is empty",
		"ko": "%q 시트가 비어 있습니다",
	},
	IssueMissingColumns: {
		"en": "missing required columns: %s",
		"ko": "필수 열이 없습니다: %s",
	},
	IssueNoRows: {
		"en": "workbook has no scenario rows",
		"ko": "시나리오 행이 없습니다",
	},
	IssueTooManyRows: {
		"en": "workbook has %d scenario rows; the limit is %d",
		"ko": "시나리오 행이 %d개입니다. 최대 %d개까지 가능합니다",
	},
	IssueRequired: {
		"en": "%s is required",
		"ko": "%s 값을 입력해 주세요",
	},
	IssueTooShort: {
		"en": "%s must be at least %d characters",
		"ko": "%s 값은 최소 %d자 이상이어야 합니다",
	},
	IssueTooLong: {
		"en": "%s must be at most %d characters",
		"ko": "%s 값은 최대 %d자까지 가능합니다",
	},
	IssueNotInteger: {
		"en": "%s must be a whole number",
		"ko": "%s 값은 정수여야 합니다",
	},
	IssueOutOfRange: {
		"en": "%s must be between %d and %d",
		"ko": "%s 값은 %d에서 %d 사이여야 합니다",
	},
	IssueUnknownTone: {
		"en": "tone must be one of %s",
		"ko": "tone은 %s 중 하나여야 합니다",
	},
	IssueUnknownPlatform: {
		"en": "platform must be one of %s",
		"ko": "platform은 %s 중 하나여야 합니다",
	},
	IssueTooManyNames: {
		"en": "participant_names may list at most %d names",
		"ko": "participant_names에는 최대 %d명까지 입력할 수 있습니다",
	},
}

func issueText(locale, code string, args []any) string {
	formats, ok := issueFormats[code]
	if !ok {
		return code
	}
	format, ok := formats[locale]
	if !ok {
		format = formats["en"]
	}
	return fmt.Sprintf(format, args...)
}

// Localized returns a copy of the issues with messages in locale ("ko" or
// "en"). Unknown locales get English.
func (v *ValidationFailure) Localized(locale string) []Issue {
	out := make([]Issue, len(v.Issues))
	for i, issue := range v.Issues {
		issue.Message = issueText(locale, issue.Code, issue.args)
		out[i] = issue
	}
	return out
}
