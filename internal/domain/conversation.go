package domain

import "time"

// Message is a single chat line.
type Message struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Conversation is the parsed body of a successful generation.
type Conversation struct {
	Participants []string  `json:"participants"`
	Messages     []Message `json:"messages"`
}

// Usage tracks token consumption reported by a provider.
type Usage struct {
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.EstimatedCostUSD += other.EstimatedCostUSD
}

const ResultStatusSuccess = "success"

// ConversationResult is the successful outcome of one scenario row.
type ConversationResult struct {
	RowIndex       int          `json:"rowIndex"`
	ConversationID string       `json:"conversationId"`
	Conversation   Conversation `json:"conversation"`
	ProviderUsed   string       `json:"providerUsed"`
	Model          string       `json:"model,omitempty"`
	Usage          Usage        `json:"usage"`
	Status         string       `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// ErrorCause classifies why a row failed.
type ErrorCause string

const (
	CauseValidation      ErrorCause = "validation"
	CauseContentPolicy   ErrorCause = "content_policy"
	CauseProviderFailure ErrorCause = "provider_failure"
	CauseTimeout         ErrorCause = "timeout"
)

// GenerationError is the failed outcome of one scenario row. Message never
// carries raw provider output or the blocklist term that matched.
type GenerationError struct {
	RowIndex int        `json:"rowIndex"`
	Message  string     `json:"error"`
	Cause    ErrorCause `json:"cause"`
}

func (e *GenerationError) Error() string {
	return string(e.Cause) + ": " + e.Message
}
