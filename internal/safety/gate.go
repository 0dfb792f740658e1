// Package safety screens scenario text, generated messages and participant
// names against injected term lists.
package safety

import (
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"talkstudio/internal/domain"
)

const (
	reasonEmpty          = "scenario is empty"
	reasonBlocked        = "scenario contains inappropriate content; please describe a different situation"
	reasonTooShort       = "scenario is too short; use at least 10 characters"
	reasonTooLong        = "scenario is too long; use at most 500 characters"
	reasonNoMessages     = "conversation has no messages"
	reasonFlagged        = "generated conversation contains inappropriate content"
	reasonNameCount      = "participant names must list between 2 and 5 people"
	reasonNameLength     = "participant names must be 1-20 characters"
	reasonNameBlocked    = "participant names contain inappropriate content"
	sensitiveWarningText = "scenario touches a sensitive topic"
)

// Lists holds the term lists a Gate matches against.
type Lists struct {
	Blocked   []string
	Sensitive []string
}

// DefaultLists returns the built-in Korean and English lists.
func DefaultLists() Lists {
	return Lists{
		Blocked: []string{
			// violence
			"살인", "자살", "폭행", "테러", "학대", "murder", "suicide", "terrorism",
			// illegal activity
			"마약", "불법", "해킹", "사기", "drugs", "illegal", "hacking", "scam",
			// sexual content
			"성인", "음란", "포르노", "adult", "porn", "explicit",
			// hate and discrimination
			"혐오", "차별", "인종", "hate", "discrimination", "racist",
		},
		Sensitive: []string{
			"정치", "종교", "도박", "politics", "religion", "gambling",
		},
	}
}

// Verdict is the pre-filter outcome.
type Verdict struct {
	Safe     bool
	Reason   string
	Cause    domain.ErrorCause
	Warnings []string
}

// PostVerdict is the post-filter outcome.
type PostVerdict struct {
	Safe           bool
	Reason         string
	FlaggedIndices []int
}

// NameVerdict is the participant-name outcome.
type NameVerdict struct {
	Valid  bool
	Reason string
}

// Gate runs the deterministic safety checks. It is safe for concurrent use.
type Gate struct {
	blocked   []string
	sensitive []string
	logger    zerolog.Logger
}

// New builds a Gate over normalized copies of lists.
func New(lists Lists, logger zerolog.Logger) *Gate {
	return &Gate{
		blocked:   normalizeTerms(lists.Blocked),
		sensitive: normalizeTerms(lists.Sensitive),
		logger:    logger,
	}
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = normalize(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// PreFilter screens raw scenario text before any provider is called.
func (g *Gate) PreFilter(scenario string) Verdict {
	if strings.TrimSpace(scenario) == "" {
		return Verdict{Reason: reasonEmpty, Cause: domain.CauseValidation}
	}
	text := normalize(scenario)
	if containsAny(text, g.blocked) {
		g.logger.Warn().Int("hits", 1).Msg("safety: blocked term in scenario")
		return Verdict{Reason: reasonBlocked, Cause: domain.CauseContentPolicy}
	}
	var warnings []string
	for _, topic := range g.sensitive {
		if strings.Contains(text, topic) {
			warnings = append(warnings, sensitiveWarningText+": "+topic)
		}
	}
	n := utf8.RuneCountInString(scenario)
	if n < domain.MinScenarioLength {
		return Verdict{Reason: reasonTooShort, Cause: domain.CauseValidation, Warnings: warnings}
	}
	if n > domain.MaxScenarioLength {
		return Verdict{Reason: reasonTooLong, Cause: domain.CauseValidation, Warnings: warnings}
	}
	return Verdict{Safe: true, Warnings: warnings}
}

// PostFilter rejects the whole conversation when any message matches.
func (g *Gate) PostFilter(messages []domain.Message) PostVerdict {
	if len(messages) == 0 {
		return PostVerdict{Reason: reasonNoMessages}
	}
	var flagged []int
	for i, m := range messages {
		if containsAny(normalize(m.Text), g.blocked) {
			flagged = append(flagged, i)
		}
	}
	if len(flagged) > 0 {
		g.logger.Warn().Int("hits", len(flagged)).Ints("indices", flagged).Msg("safety: blocked term in generated messages")
		return PostVerdict{Reason: reasonFlagged, FlaggedIndices: flagged}
	}
	return PostVerdict{Safe: true}
}

// ValidateParticipantNames checks count, length and content of a name set.
func (g *Gate) ValidateParticipantNames(names []string) NameVerdict {
	if len(names) < domain.MinParticipants || len(names) > domain.MaxParticipants {
		return NameVerdict{Reason: reasonNameCount}
	}
	for _, name := range names {
		n := utf8.RuneCountInString(name)
		if strings.TrimSpace(name) == "" || n > domain.MaxParticipantName {
			return NameVerdict{Reason: reasonNameLength}
		}
		if containsAny(normalize(name), g.blocked) {
			return NameVerdict{Reason: reasonNameBlocked}
		}
	}
	return NameVerdict{Valid: true}
}
