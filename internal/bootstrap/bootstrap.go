// Package bootstrap assembles the bulk engine from configuration. The API,
// the worker and the CLI share it so every process wires stores and
// providers the same way.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"talkstudio/internal/adapter/repo"
	"talkstudio/internal/bulk"
	"talkstudio/internal/domain"
	"talkstudio/internal/infra"
	"talkstudio/internal/providers/chat"
	"talkstudio/internal/safety"
	"talkstudio/internal/storage"
)

// Engine holds the wired components of one process.
type Engine struct {
	Repo         domain.JobRepository
	Archive      domain.ArchiveStore
	Generator    *chat.Client
	Orchestrator *bulk.Orchestrator

	cfg     *infra.Config
	logger  zerolog.Logger
	closers []func()
}

// New connects the configured store and archive sink and builds the
// provider chain and orchestrator. Call Close when done.
func New(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{cfg: cfg, logger: logger}

	jobRepo, closeRepo, err := NewRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	e.Repo = jobRepo
	e.closers = append(e.closers, closeRepo)

	archive, err := NewArchiveStore(ctx, cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Archive = archive

	generator, err := NewGenerator(cfg.Generation, logger)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Generator = generator

	orch, err := bulk.New(bulk.Options{
		Repo:       e.Repo,
		Gate:       safety.New(safety.DefaultLists(), logger),
		Generator:  generator,
		Archive:    archive,
		BatchSize:  cfg.Bulk.BatchSize,
		BatchDelay: cfg.Bulk.BatchDelay,
		Retention:  cfg.Bulk.Retention,
		Logger:     &e.logger,
		OnFinished: e.logUsage,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Orchestrator = orch
	return e, nil
}

// Close releases store connections in reverse order.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *Engine) Dispatcher() *bulk.Dispatcher {
	return bulk.NewDispatcher(bulk.DispatcherOptions{
		Repo:         e.Repo,
		Runner:       e.Orchestrator,
		PollInterval: e.cfg.Bulk.PollInterval,
		ClaimLease:   e.cfg.Bulk.ClaimLease,
		Logger:       &e.logger,
	})
}

func (e *Engine) Reaper() *bulk.Reaper {
	return bulk.NewReaper(bulk.ReaperOptions{
		Repo:     e.Repo,
		Archive:  e.Archive,
		Interval: e.cfg.Bulk.ReaperInterval,
		Logger:   &e.logger,
	})
}

func (e *Engine) logUsage(_ context.Context, job *domain.BulkJob) {
	evt := e.logger.Info().Str("job_id", job.ID).Str("status", string(job.Status))
	for name, u := range e.Generator.Usage() {
		evt = evt.Int(name+"_tokens", u.TotalTokens)
	}
	evt.Msg("bulk: provider usage")
}

// NewRepository opens the job store selected by STORE_DRIVER. The returned
// func closes its connection.
func NewRepository(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (domain.JobRepository, func(), error) {
	switch cfg.StoreDriver {
	case infra.StorePostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		pg := repo.NewPostgresJobRepository(infra.NewSQLRunner(pool, &logger))
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate bulk_jobs: %w", err)
		}
		return pg, pool.Close, nil
	case infra.StoreRedis:
		client, err := infra.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return repo.NewRedisJobRepository(client, cfg.Redis.KeyPrefix), func() { _ = client.Close() }, nil
	case infra.StoreMemory, "":
		return repo.NewMemoryJobRepository(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// NewArchiveStore returns the sink selected by ARCHIVE_SINK, or nil for
// "none" in which case archives are packaged on every download.
func NewArchiveStore(ctx context.Context, cfg *infra.Config) (domain.ArchiveStore, error) {
	switch cfg.ArchiveSink {
	case infra.SinkNone, "":
		return nil, nil
	case infra.SinkFilesystem:
		path := cfg.StoragePath
		if !filepath.IsAbs(path) {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		return storage.NewFileStore(path)
	case infra.SinkMinIO:
		store, err := storage.NewMinIOStore(storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Region:    cfg.MinIO.Region,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported archive sink %q", cfg.ArchiveSink)
	}
}

var errNoProviders = errors.New("no generation provider configured: set an API key or GENERATION_ALLOW_SYNTHETIC=true")

// NewGenerator builds the failover chain in PROVIDER_ORDER. Providers
// without an API key are skipped. The synthetic provider closes the chain
// when allowed.
func NewGenerator(cfg infra.GenerationConfig, logger zerolog.Logger) (*chat.Client, error) {
	var providers []chat.Provider
	hasSynthetic := false
	for _, name := range cfg.ProviderOrder {
		p, err := newProvider(name, cfg, logger)
		if err != nil {
			return nil, err
		}
		if p == nil {
			logger.Warn().Str("provider", name).Msg("chat: provider skipped, api key missing")
			continue
		}
		if p.Name() == chat.ProviderSynthetic {
			hasSynthetic = true
		}
		providers = append(providers, p)
	}
	if cfg.AllowSynthetic && !hasSynthetic {
		providers = append(providers, chat.NewSynthetic())
	}
	if len(providers) == 0 {
		return nil, errNoProviders
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(math.Max(1, math.Ceil(cfg.RatePerSecond))))
	}
	client, err := chat.NewClient(chat.Options{
		Providers:   providers,
		Timeout:     cfg.Timeout,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Limiter:     limiter,
		Logger:      &logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Strs("providers", client.ProviderNames()).Msg("chat: provider chain ready")
	return client, nil
}

// newProvider returns nil, nil for a known provider without credentials.
func newProvider(name string, cfg infra.GenerationConfig, logger zerolog.Logger) (chat.Provider, error) {
	warn := func(reason, detail string) {
		logger.Warn().Str("provider", name).Str("reason", reason).Str("detail", detail).Msg("chat: model name normalized")
	}
	switch name {
	case chat.ProviderUpstage:
		if cfg.UpstageAPIKey == "" {
			return nil, nil
		}
		return chat.NewOpenAICompatible(chat.OpenAIOptions{
			Name:      chat.ProviderUpstage,
			APIKey:    cfg.UpstageAPIKey,
			Model:     cfg.UpstageModel,
			BaseURL:   cfg.UpstageBaseURL,
			OnWarning: warn,
		})
	case chat.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, nil
		}
		return chat.NewOpenAICompatible(chat.OpenAIOptions{
			Name:         chat.ProviderOpenAI,
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
			JSONMode:     true,
			OnWarning:    warn,
		})
	case chat.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, nil
		}
		return chat.NewGemini(chat.GeminiOptions{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
		})
	case chat.ProviderSynthetic:
		return chat.NewSynthetic(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q in PROVIDER_ORDER", name)
	}
}
