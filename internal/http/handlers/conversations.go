package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"talkstudio/internal/middleware"
	"talkstudio/internal/workbook"
)

const maxGenerateBody = 16 << 10

type generateRequest struct {
	Scenario         string   `json:"scenario"`
	Participants     int      `json:"participants"`
	MessageCount     int      `json:"messageCount"`
	Tone             string   `json:"tone"`
	Platform         string   `json:"platform"`
	ParticipantNames []string `json:"participantNames"`
}

// GenerateConversation produces one conversation synchronously with the
// same validation, safety checks and provider chain as a bulk row.
func (a *App) GenerateConversation(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBody))
	if err := dec.Decode(&req); err != nil {
		a.fail(w, r, http.StatusBadRequest, "invalid_request")
		return
	}

	rec, err := workbook.ParseScenario(map[string]string{
		workbook.ColumnScenario:         req.Scenario,
		workbook.ColumnParticipants:     countField(req.Participants),
		workbook.ColumnMessageCount:     countField(req.MessageCount),
		workbook.ColumnTone:             req.Tone,
		workbook.ColumnPlatform:         req.Platform,
		workbook.ColumnParticipantNames: strings.Join(req.ParticipantNames, ","),
	})
	if err != nil {
		var vf *workbook.ValidationFailure
		if errors.As(err, &vf) {
			locale := middleware.LocaleFromContext(r.Context())
			a.json(w, http.StatusBadRequest, map[string]errorBody{"error": {
				Code:    "invalid_scenario",
				Message: message(locale, "invalid_scenario"),
				Issues:  vf.Localized(locale),
			}})
			return
		}
		a.failErr(w, r, err)
		return
	}

	res, err := a.Conversations.Generate(r.Context(), rec)
	if err != nil {
		a.failErr(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

// countField leaves a missing count blank so it reports as required.
func countField(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
