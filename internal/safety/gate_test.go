package safety

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkstudio/internal/domain"
)

func newGate() *Gate {
	return New(DefaultLists(), zerolog.Nop())
}

func TestPreFilter(t *testing.T) {
	g := newGate()
	cases := []struct {
		name     string
		input    string
		safe     bool
		cause    domain.ErrorCause
		warnings int
	}{
		{name: "korean blocked", input: "살인 사건에 대한 대화를 만들어줘...", cause: domain.CauseContentPolicy},
		{name: "korean safe", input: "오늘 저녁 뭐 먹을지 고민이에요 같이 정해줄래요", safe: true},
		{name: "english blocked any case", input: "Plan a HACKING session with friends", cause: domain.CauseContentPolicy},
		{name: "empty", input: "   ", cause: domain.CauseValidation},
		{name: "too short", input: "짧은 글", cause: domain.CauseValidation},
		{name: "too long", input: strings.Repeat("가", 501), cause: domain.CauseValidation},
		{name: "sensitive warns only", input: "friends debating politics over dinner tonight", safe: true, warnings: 1},
		{name: "exact upper bound", input: strings.Repeat("가", 500), safe: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := g.PreFilter(tc.input)
			assert.Equal(t, tc.safe, v.Safe)
			if !tc.safe {
				assert.Equal(t, tc.cause, v.Cause)
				assert.NotEmpty(t, v.Reason)
			}
			assert.Len(t, v.Warnings, tc.warnings)
		})
	}
}

func TestPreFilterNeverEchoesBlockedTerm(t *testing.T) {
	v := newGate().PreFilter("a story about a terrorism plot at school")
	require.False(t, v.Safe)
	assert.NotContains(t, strings.ToLower(v.Reason), "terrorism")
}

func TestPreFilterIsDeterministic(t *testing.T) {
	g := newGate()
	input := "오늘 저녁 뭐 먹을지 고민이에요 같이 정해줄래요 politics"
	first := g.PreFilter(input)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, g.PreFilter(input))
	}
}

func TestPostFilterFlagsEveryMatchingMessage(t *testing.T) {
	g := newGate()
	msgs := []domain.Message{
		{Sender: "a", Text: "hello"},
		{Sender: "b", Text: "let's buy DRUGS"},
		{Sender: "a", Text: "no thanks"},
		{Sender: "b", Text: "that's a scam"},
	}
	v := g.PostFilter(msgs)
	assert.False(t, v.Safe)
	assert.Equal(t, []int{1, 3}, v.FlaggedIndices)

	assert.True(t, g.PostFilter(msgs[:1]).Safe)
	assert.False(t, g.PostFilter(nil).Safe)
}

func TestValidateParticipantNames(t *testing.T) {
	g := newGate()
	assert.True(t, g.ValidateParticipantNames([]string{"민수", "지영"}).Valid)
	assert.False(t, g.ValidateParticipantNames([]string{"solo"}).Valid)
	assert.False(t, g.ValidateParticipantNames([]string{"a", "b", "c", "d", "e", "f"}).Valid)
	assert.False(t, g.ValidateParticipantNames([]string{"a", ""}).Valid)
	assert.False(t, g.ValidateParticipantNames([]string{"a", strings.Repeat("가", 21)}).Valid)
	assert.True(t, g.ValidateParticipantNames([]string{"a", strings.Repeat("가", 20)}).Valid)
	assert.False(t, g.ValidateParticipantNames([]string{"a", "hater"}).Valid)
}

func TestCustomListsAreInjected(t *testing.T) {
	g := New(Lists{Blocked: []string{"Pineapple"}}, zerolog.Nop())
	assert.False(t, g.PreFilter("pizza with pineapple tonight").Safe)
	assert.True(t, g.PreFilter("a murder mystery party game").Safe)
}
