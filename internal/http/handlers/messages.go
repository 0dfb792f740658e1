package handlers

var messages = map[string]map[string]string{
	"job_not_found": {
		"ko": "작업을 찾을 수 없습니다.",
		"en": "job not found",
	},
	"job_not_finished": {
		"ko": "작업이 아직 끝나지 않았습니다.",
		"en": "job is not finished yet",
	},
	"invalid_state": {
		"ko": "현재 상태에서는 요청을 처리할 수 없습니다.",
		"en": "request is not allowed in the job's current state",
	},
	"invalid_job": {
		"ko": "작업을 만들 수 없습니다.",
		"en": "job could not be created",
	},
	"missing_file": {
		"ko": "엑셀 파일(file)이 필요합니다.",
		"en": "multipart field \"file\" is required",
	},
	"file_too_large": {
		"ko": "파일이 너무 큽니다.",
		"en": "file is too large",
	},
	"invalid_workbook": {
		"ko": "엑셀 파일 검증에 실패했습니다.",
		"en": "workbook validation failed",
	},
	"invalid_request": {
		"ko": "요청 형식이 올바르지 않습니다.",
		"en": "request body is not valid JSON",
	},
	"invalid_scenario": {
		"ko": "시나리오 검증에 실패했습니다.",
		"en": "scenario validation failed",
	},
	"content_blocked": {
		"ko": "부적절한 내용이 포함되어 있습니다.",
		"en": "content was blocked by the safety filter",
	},
	"generation_failed": {
		"ko": "대화 생성에 실패했습니다.",
		"en": "conversation generation failed",
	},
	"generation_timeout": {
		"ko": "대화 생성 시간이 초과되었습니다.",
		"en": "conversation generation timed out",
	},
	"internal_error": {
		"ko": "서버 오류가 발생했습니다.",
		"en": "internal server error",
	},
}

func message(locale, code string) string {
	m, ok := messages[code]
	if !ok {
		return code
	}
	if s, ok := m[locale]; ok {
		return s
	}
	return m["ko"]
}
