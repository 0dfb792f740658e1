package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"talkstudio/internal/domain"
	"talkstudio/internal/middleware"
)

// BulkService is the orchestrator surface the handlers call.
type BulkService interface {
	Submit(ctx context.Context, fileName string, records []domain.ScenarioRecord) (*domain.BulkJob, error)
	Status(ctx context.Context, jobID string) (domain.StatusView, error)
	Archive(ctx context.Context, jobID string) ([]byte, *domain.BulkJob, error)
	Cancel(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error
	Delete(ctx context.Context, jobID string) error
}

// ConversationService generates a single conversation outside any job.
type ConversationService interface {
	Generate(ctx context.Context, rec domain.ScenarioRecord) (*domain.ConversationResult, error)
}

type App struct {
	Bulk           BulkService
	Conversations  ConversationService
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

func NewApp(bulk BulkService, conversations ConversationService, maxUploadBytes int64, logger zerolog.Logger) *App {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 5 << 20
	}
	return &App{Bulk: bulk, Conversations: conversations, MaxUploadBytes: maxUploadBytes, Logger: logger}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Issues  any    `json:"issues,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, msg string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

// fail writes the localized error for code.
func (a *App) fail(w http.ResponseWriter, r *http.Request, status int, code string) {
	a.error(w, status, code, message(middleware.LocaleFromContext(r.Context()), code))
}

// failErr maps orchestrator errors to HTTP statuses.
func (a *App) failErr(w http.ResponseWriter, r *http.Request, err error) {
	var genErr *domain.GenerationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.fail(w, r, http.StatusNotFound, "job_not_found")
	case errors.Is(err, domain.ErrJobNotTerminal):
		a.fail(w, r, http.StatusConflict, "job_not_finished")
	case errors.Is(err, domain.ErrInvalidTransition):
		a.fail(w, r, http.StatusConflict, "invalid_state")
	case errors.Is(err, domain.ErrInvalidJob):
		a.fail(w, r, http.StatusBadRequest, "invalid_job")
	case errors.As(err, &genErr):
		status, code := generationStatus(genErr.Cause)
		a.json(w, status, map[string]errorBody{"error": {
			Code:    code,
			Message: message(middleware.LocaleFromContext(r.Context()), code),
			Detail:  genErr.Message,
		}})
	default:
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("http: request failed")
		a.fail(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func generationStatus(cause domain.ErrorCause) (int, string) {
	switch cause {
	case domain.CauseValidation:
		return http.StatusBadRequest, "invalid_scenario"
	case domain.CauseContentPolicy:
		return http.StatusUnprocessableEntity, "content_blocked"
	case domain.CauseTimeout:
		return http.StatusGatewayTimeout, "generation_timeout"
	default:
		return http.StatusBadGateway, "generation_failed"
	}
}
