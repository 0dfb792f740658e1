// Package chat turns one scenario into a structured conversation by calling
// an ordered list of completion providers.
package chat

import (
	"context"

	"talkstudio/internal/domain"
)

// Request carries one scenario and its generation parameters.
type Request struct {
	Scenario         string
	ParticipantCount int
	MessageCount     int
	Tone             domain.Tone
	Platform         domain.Platform
	ParticipantNames []string
}

// RequestFromRecord builds a Request from a validated record.
func RequestFromRecord(rec domain.ScenarioRecord) Request {
	return Request{
		Scenario:         rec.Scenario,
		ParticipantCount: rec.ParticipantCount,
		MessageCount:     rec.MessageCount,
		Tone:             rec.Tone,
		Platform:         rec.Platform,
		ParticipantNames: rec.ParticipantNames,
	}
}

// Prompt is the provider-neutral completion input.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// Request is passed through so offline providers can answer without
	// parsing prompt text.
	Request Request
}

// Completion is the raw provider answer.
type Completion struct {
	Content string
	Model   string
	Usage   domain.Usage
}

// Provider is one completion backend in the failover chain.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt) (Completion, error)
}

// Result is a successful generation.
type Result struct {
	Draft    domain.Conversation
	Provider string
	Model    string
	Usage    domain.Usage
}

// Generator is satisfied by *Client; callers depend on it for test doubles.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
