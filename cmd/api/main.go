package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"talkstudio/internal/bootstrap"
	httpapi "talkstudio/internal/http"
	"talkstudio/internal/http/handlers"
	"talkstudio/internal/infra"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to build engine")
	}
	defer engine.Close()

	app := handlers.NewApp(engine.Orchestrator, engine.Orchestrator, cfg.MaxUploadBytes, logger)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		CORSOrigins:     cfg.CORSOrigins,
		DefaultLocale:   cfg.DefaultLocale,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)
	plan := cfg.APIPlan()

	g, gctx := errgroup.WithContext(ctx)
	if plan.HTTP {
		g.Go(func() error {
			logger.Info().Str("addr", server.Addr()).Str("store", cfg.StoreDriver).Msg("api: listening")
			return server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	} else {
		logger.Info().Str("services", cfg.Services).Msg("api: http disabled")
	}
	if plan.Worker {
		g.Go(func() error { return engine.Dispatcher().Run(gctx) })
	}
	if plan.Reaper {
		g.Go(func() error { return engine.Reaper().Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("api: stopped with error")
		return
	}
	logger.Info().Msg("api: stopped")
}
