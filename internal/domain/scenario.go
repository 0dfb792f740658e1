package domain

import "strings"

// Bounds applied to every scenario row before a job may be created.
const (
	MinScenarioLength  = 10
	MaxScenarioLength  = 500
	MinParticipants    = 2
	MaxParticipants    = 5
	MinMessages        = 5
	MaxMessages        = 50
	MaxParticipantName = 20
	MaxRecordsPerJob   = 100
)

// Tone enumerates the conversational register requested for a scenario.
type Tone string

const (
	ToneCasual   Tone = "casual"
	ToneFormal   Tone = "formal"
	ToneHumorous Tone = "humorous"
)

// Tones lists every supported tone in display order.
func Tones() []Tone {
	return []Tone{ToneCasual, ToneFormal, ToneHumorous}
}

// ParseTone matches s case-insensitively against the supported tones.
func ParseTone(s string) (Tone, bool) {
	candidate := Tone(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range Tones() {
		if t == candidate {
			return t, true
		}
	}
	return "", false
}

// Platform enumerates the chat application a conversation imitates.
type Platform string

const (
	PlatformKakaoTalk Platform = "kakaotalk"
	PlatformDiscord   Platform = "discord"
	PlatformTelegram  Platform = "telegram"
	PlatformInstagram Platform = "instagram"
)

// Platforms lists every supported platform in display order.
func Platforms() []Platform {
	return []Platform{PlatformKakaoTalk, PlatformDiscord, PlatformTelegram, PlatformInstagram}
}

// ParsePlatform matches s case-insensitively against the supported platforms.
func ParsePlatform(s string) (Platform, bool) {
	candidate := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range Platforms() {
		if p == candidate {
			return p, true
		}
	}
	return "", false
}

// ScenarioRecord is one validated spreadsheet row. RowIndex is the 1-based
// sheet row, so the first data row under the header is 2.
type ScenarioRecord struct {
	RowIndex         int      `json:"rowIndex"`
	Scenario         string   `json:"scenario"`
	ParticipantCount int      `json:"participants"`
	MessageCount     int      `json:"messageCount"`
	Tone             Tone     `json:"tone"`
	Platform         Platform `json:"platform"`
	ParticipantNames []string `json:"participantNames,omitempty"`
}
