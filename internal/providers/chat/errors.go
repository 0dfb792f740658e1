package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"talkstudio/internal/domain"
)

// FailureKind classifies one failed provider attempt.
type FailureKind string

const (
	KindTimeout       FailureKind = "timeout"
	KindTransport     FailureKind = "transport"
	KindHTTPStatus    FailureKind = "http_status"
	KindEmptyResponse FailureKind = "empty_response"
	KindNotJSON       FailureKind = "not_json"
	KindMissingFields FailureKind = "missing_fields"
	KindMessageCount  FailureKind = "message_count"
	KindCanceled      FailureKind = "canceled"
)

// StatusError is returned by HTTP providers for non-2xx responses. The body
// is deliberately not kept.
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d", e.Provider, e.StatusCode)
}

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("empty response")

// AttemptError records why one provider attempt failed.
type AttemptError struct {
	Provider   string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *AttemptError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s %d", e.Provider, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// GenerationFailure aggregates every attempt when all providers failed.
type GenerationFailure struct {
	Attempts []*AttemptError
}

func (f *GenerationFailure) Error() string {
	return "all providers failed: " + f.Summary()
}

// Summary lists provider and failure kind per attempt, without provider output.
func (f *GenerationFailure) Summary() string {
	if len(f.Attempts) == 0 {
		return "no providers configured"
	}
	parts := make([]string, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		parts = append(parts, a.Error())
	}
	return strings.Join(parts, "; ")
}

// Cause is timeout when every attempt timed out, otherwise provider_failure.
func (f *GenerationFailure) Cause() domain.ErrorCause {
	if len(f.Attempts) == 0 {
		return domain.CauseProviderFailure
	}
	for _, a := range f.Attempts {
		if a.Kind != KindTimeout {
			return domain.CauseProviderFailure
		}
	}
	return domain.CauseTimeout
}

func classify(provider string, err error) *AttemptError {
	attempt := &AttemptError{Provider: provider, Err: err}
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		attempt.Kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		attempt.Kind = KindTimeout
	case errors.Is(err, context.Canceled):
		attempt.Kind = KindCanceled
	case errors.As(err, &statusErr):
		attempt.Kind = KindHTTPStatus
		attempt.StatusCode = statusErr.StatusCode
	case errors.Is(err, ErrEmptyResponse):
		attempt.Kind = KindEmptyResponse
	case errors.Is(err, ErrNotJSON):
		attempt.Kind = KindNotJSON
	case errors.Is(err, ErrMissingFields):
		attempt.Kind = KindMissingFields
	case errors.Is(err, ErrMessageCount):
		attempt.Kind = KindMessageCount
	default:
		attempt.Kind = KindTransport
	}
	return attempt
}
