package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"talkstudio/internal/domain"
)

var (
	// ErrNotJSON means no JSON value could be recovered from the response.
	ErrNotJSON = errors.New("response is not json")
	// ErrMissingFields means JSON was found but lacks participants or messages.
	ErrMissingFields = errors.New("response is missing required fields")
	// ErrMessageCount means the draft has a different number of messages than requested.
	ErrMessageCount = errors.New("response has wrong message count")
)

type conversationPayload struct {
	Participants []string         `json:"participants"`
	Messages     []messagePayload `json:"messages"`
}

type messagePayload struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// ParseConversation decodes raw model output in two steps: a strict decode,
// then extraction of the first well-formed JSON value embedded in the text.
// wantMessages <= 0 disables the count check.
func ParseConversation(raw string, wantMessages int) (domain.Conversation, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return domain.Conversation{}, fmt.Errorf("%w: empty payload", ErrNotJSON)
	}
	var fragment string
	if json.Valid([]byte(text)) {
		fragment = text
	} else {
		fragment = extractJSONFragment(text)
		if fragment == "" {
			return domain.Conversation{}, ErrNotJSON
		}
	}
	var payload conversationPayload
	if err := json.Unmarshal([]byte(fragment), &payload); err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: %v", ErrMissingFields, err)
	}
	return payload.toConversation(wantMessages)
}

func (p conversationPayload) toConversation(wantMessages int) (domain.Conversation, error) {
	var participants []string
	for _, name := range p.Participants {
		if name = strings.TrimSpace(name); name != "" {
			participants = append(participants, name)
		}
	}
	if len(participants) == 0 {
		return domain.Conversation{}, fmt.Errorf("%w: participants", ErrMissingFields)
	}
	if len(p.Messages) == 0 {
		return domain.Conversation{}, fmt.Errorf("%w: messages", ErrMissingFields)
	}
	messages := make([]domain.Message, 0, len(p.Messages))
	for i, m := range p.Messages {
		sender := strings.TrimSpace(m.Sender)
		body := strings.TrimSpace(m.Text)
		if sender == "" || body == "" {
			return domain.Conversation{}, fmt.Errorf("%w: message %d", ErrMissingFields, i)
		}
		messages = append(messages, domain.Message{Sender: sender, Text: body, Timestamp: strings.TrimSpace(m.Timestamp)})
	}
	if wantMessages > 0 && len(messages) != wantMessages {
		return domain.Conversation{}, fmt.Errorf("%w: got %d want %d", ErrMessageCount, len(messages), wantMessages)
	}
	fillTimestamps(messages)
	return domain.Conversation{Participants: participants, Messages: messages}, nil
}

const clockLayout = "15:04"

// fillTimestamps gives undated messages the previous time plus one minute.
// 12-hour forms are rewritten as HH:MM; anything else unrecognised is kept.
func fillTimestamps(messages []domain.Message) {
	prev, _ := time.Parse(clockLayout, "11:59")
	for i := range messages {
		if messages[i].Timestamp == "" {
			prev = prev.Add(time.Minute)
			messages[i].Timestamp = prev.Format(clockLayout)
			continue
		}
		if ts, ok := parseClock(messages[i].Timestamp); ok {
			prev = ts
			messages[i].Timestamp = ts.Format(clockLayout)
		}
	}
}

// parseClock reads "14:30", "2:30 PM" and "오후 2:30".
func parseClock(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if ts, err := time.Parse(clockLayout, s); err == nil {
		return ts, true
	}
	var pm bool
	switch upper := strings.ToUpper(s); {
	case strings.HasPrefix(s, "오전"):
		s = strings.TrimPrefix(s, "오전")
	case strings.HasPrefix(s, "오후"):
		s, pm = strings.TrimPrefix(s, "오후"), true
	case strings.HasSuffix(upper, "AM"):
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "PM"):
		s, pm = s[:len(s)-2], true
	default:
		return time.Time{}, false
	}
	ts, err := time.Parse("3:04", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	hour := ts.Hour() % 12
	if pm {
		hour += 12
	}
	return time.Date(0, 1, 1, hour, ts.Minute(), 0, 0, time.UTC), true
}

// extractJSONFragment returns the first balanced object in text that is
// valid JSON, after stripping a surrounding code fence. A bare array is
// returned only when no object follows it.
func extractJSONFragment(raw string) string {
	text := trimCodeFence(raw)
	if json.Valid([]byte(text)) {
		return text
	}
	var firstArray string
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		end := matchClosing(text, start)
		if end < 0 {
			continue
		}
		candidate := text[start : end+1]
		if !json.Valid([]byte(candidate)) {
			continue
		}
		if text[start] == '{' {
			return candidate
		}
		if firstArray == "" {
			firstArray = candidate
		}
		start = end
	}
	return firstArray
}

// matchClosing scans from an opening bracket to its matching close,
// skipping brackets inside string literals. It returns -1 when unbalanced.
func matchClosing(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
