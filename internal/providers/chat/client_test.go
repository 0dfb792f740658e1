package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"talkstudio/internal/domain"
)

type mockProvider struct {
	mock.Mock
	name string
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Complete(ctx context.Context, prompt Prompt) (Completion, error) {
	args := m.Called(ctx, prompt)
	return args.Get(0).(Completion), args.Error(1)
}

// slowProvider blocks until its context is done.
type slowProvider struct{ name string }

func (s slowProvider) Name() string { return s.name }

func (s slowProvider) Complete(ctx context.Context, _ Prompt) (Completion, error) {
	<-ctx.Done()
	return Completion{}, ctx.Err()
}

func conversationJSON(t *testing.T, n int) string {
	t.Helper()
	payload := conversationPayload{Participants: []string{"a", "b"}}
	for i := 0; i < n; i++ {
		payload.Messages = append(payload.Messages, messagePayload{Sender: "a", Text: fmt.Sprintf("line %d", i)})
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(raw)
}

func sampleRequest() Request {
	return Request{
		Scenario:         "친구들이 주말 약속을 정하는 대화",
		ParticipantCount: 2,
		MessageCount:     5,
		Tone:             domain.ToneCasual,
		Platform:         domain.PlatformKakaoTalk,
	}
}

func TestGenerateFallsBackAfterTimeout(t *testing.T) {
	b := &mockProvider{name: "b"}
	b.On("Complete", mock.Anything, mock.Anything).Return(Completion{Content: conversationJSON(t, 5), Model: "b-1"}, nil).Once()

	client, err := NewClient(Options{
		Providers: []Provider{slowProvider{name: "a"}, b},
		Timeout:   20 * time.Millisecond,
	})
	require.NoError(t, err)

	res, err := client.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, "b-1", res.Model)
	assert.Len(t, res.Draft.Messages, 5)
	b.AssertExpectations(t)
}

func TestGenerateTreatsWrongCountAsProviderFailure(t *testing.T) {
	a := &mockProvider{name: "a"}
	a.On("Complete", mock.Anything, mock.Anything).Return(Completion{Content: conversationJSON(t, 4)}, nil)
	b := &mockProvider{name: "b"}
	b.On("Complete", mock.Anything, mock.Anything).Return(Completion{Content: "sorry, no json"}, nil)

	client, err := NewClient(Options{Providers: []Provider{a, b}})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), sampleRequest())
	var failure *GenerationFailure
	require.True(t, errors.As(err, &failure))
	require.Len(t, failure.Attempts, 2)
	assert.Equal(t, KindMessageCount, failure.Attempts[0].Kind)
	assert.Equal(t, KindNotJSON, failure.Attempts[1].Kind)
	assert.Equal(t, domain.CauseProviderFailure, failure.Cause())
	assert.Contains(t, failure.Summary(), "a: message_count")
	assert.NotContains(t, failure.Summary(), "sorry")
}

func TestGenerateAllTimeoutsReportTimeoutCause(t *testing.T) {
	client, err := NewClient(Options{
		Providers: []Provider{slowProvider{name: "a"}, slowProvider{name: "b"}},
		Timeout:   10 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), sampleRequest())
	var failure *GenerationFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, domain.CauseTimeout, failure.Cause())
}

func TestGenerateClassifiesHTTPStatus(t *testing.T) {
	a := &mockProvider{name: "a"}
	a.On("Complete", mock.Anything, mock.Anything).Return(Completion{}, &StatusError{Provider: "a", StatusCode: 503})

	client, err := NewClient(Options{Providers: []Provider{a}})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), sampleRequest())
	var failure *GenerationFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, KindHTTPStatus, failure.Attempts[0].Kind)
	assert.Equal(t, 503, failure.Attempts[0].StatusCode)
}

func TestGenerateSendsPromptsAndTracksUsage(t *testing.T) {
	a := &mockProvider{name: "a"}
	a.On("Complete", mock.Anything, mock.MatchedBy(func(p Prompt) bool {
		return p.Temperature == DefaultTemperature &&
			p.MaxTokens == DefaultMaxTokens &&
			p.Request.MessageCount == 5
	})).Return(Completion{
		Content: conversationJSON(t, 5),
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil).Twice()

	client, err := NewClient(Options{Providers: []Provider{a}})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = client.Generate(context.Background(), sampleRequest())
		require.NoError(t, err)
	}
	assert.Equal(t, 60, client.Usage()["a"].TotalTokens)
	a.AssertExpectations(t)
}

func TestNewClientRequiresProviders(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)
}

func TestSyntheticProviderMatchesRequestShape(t *testing.T) {
	client, err := NewClient(Options{Providers: []Provider{NewSynthetic()}})
	require.NoError(t, err)
	req := sampleRequest()
	req.ParticipantCount = 3
	req.MessageCount = 12
	res, err := client.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ProviderSynthetic, res.Provider)
	assert.Len(t, res.Draft.Participants, 3)
	assert.Len(t, res.Draft.Messages, 12)
}

func TestPromptsCarryConstraints(t *testing.T) {
	req := sampleRequest()
	req.ParticipantNames = []string{"민수", "지영"}
	user := BuildUserPrompt(req)
	assert.Contains(t, user, "Exactly 5 messages")
	assert.Contains(t, user, "민수, 지영")
	system := BuildSystemPrompt(domain.ToneFormal, domain.PlatformDiscord)
	assert.Contains(t, system, toneDescriptions[domain.ToneFormal])
	assert.Contains(t, system, platformHints[domain.PlatformDiscord])
	assert.Contains(t, system, `"participants"`)
}
