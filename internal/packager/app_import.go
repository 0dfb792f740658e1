package packager

import (
	"fmt"
	"strconv"
	"strings"

	"talkstudio/internal/domain"
)

const (
	roleMe    = "me"
	roleOther = "other"

	fallbackMeName    = "나"
	fallbackOtherName = "상대방"
)

type appMessage struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Type   string `json:"type"`
	Text   string `json:"text"`
	Time   string `json:"time"`
}

type appProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type appMetadata struct {
	ConversationID string `json:"conversationId"`
	RowIndex       int    `json:"rowIndex"`
	Context        string `json:"context"`
	Disclaimer     string `json:"disclaimer"`
	IsSample       bool   `json:"isSample"`
}

type appDocument struct {
	Platform domain.Platform       `json:"platform"`
	Profiles map[string]appProfile `json:"profiles"`
	Messages []appMessage          `json:"messages"`
	Metadata appMetadata           `json:"metadata"`
}

// appImport maps the first participant to "me" and everyone else to
// "other", which is how the chat editor renders two-sided threads. Both
// profiles are always present.
func appImport(res domain.ConversationResult, rec domain.ScenarioRecord) appDocument {
	parts := res.Conversation.Participants
	me, other := fallbackMeName, fallbackOtherName
	if len(parts) > 0 {
		me = parts[0]
	}
	if len(parts) > 1 {
		other = parts[1]
	}
	profiles := map[string]appProfile{
		roleMe:    {ID: roleMe, Name: me},
		roleOther: {ID: roleOther, Name: other},
	}

	msgs := make([]appMessage, 0, len(res.Conversation.Messages))
	for i, m := range res.Conversation.Messages {
		role := roleOther
		if m.Sender == me {
			role = roleMe
		}
		msgs = append(msgs, appMessage{
			ID:     fmt.Sprintf("bulk-%s-%d", res.ConversationID, i),
			Sender: role,
			Type:   "text",
			Text:   m.Text,
			Time:   koreanClock(m.Timestamp),
		})
	}
	return appDocument{
		Platform: rec.Platform,
		Profiles: profiles,
		Messages: msgs,
		Metadata: appMetadata{
			ConversationID: res.ConversationID,
			RowIndex:       res.RowIndex,
			Context:        rec.Scenario,
			Disclaimer:     "AI 생성 샘플 데이터 - 실제 대화가 아님",
			IsSample:       true,
		},
	}
}

// koreanClock renders "15:04" as "오후 3:04". Anything else passes through.
func koreanClock(hhmm string) string {
	h, m, ok := strings.Cut(hhmm, ":")
	if !ok {
		return hhmm
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return hhmm
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return hhmm
	}
	period := "오전"
	if hour >= 12 {
		period = "오후"
	}
	switch {
	case hour == 0:
		hour = 12
	case hour > 12:
		hour -= 12
	}
	return fmt.Sprintf("%s %d:%02d", period, hour, minute)
}
