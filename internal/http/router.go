package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"talkstudio/internal/http/handlers"
	"talkstudio/internal/middleware"
)

type RouterOptions struct {
	CORSOrigins     []string
	DefaultLocale   string
	RateLimitPerMin int
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts RouterOptions) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.Locale(opts.DefaultLocale),
	)

	limited := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)

	// Health
	r.Get("/v1/healthz", app.Health)

	// Docs
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/bulk", func(r chi.Router) {
		r.Get("/template", app.BulkTemplate)
		r.Route("/jobs", func(r chi.Router) {
			r.With(limited).Post("/", app.SubmitBulkJob)
			r.Get("/{id}", app.BulkJobStatus)
			r.Get("/{id}/download", app.DownloadBulkJob)
			r.Post("/{id}/cancel", app.CancelBulkJob)
			r.Post("/{id}/resume", app.ResumeBulkJob)
			r.Delete("/{id}", app.DeleteBulkJob)
		})
	})

	r.With(limited).Post("/v1/conversations/generate", app.GenerateConversation)

	return r
}
