package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"talkstudio/internal/bootstrap"
	"talkstudio/internal/infra"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.StoreDriver == infra.StoreMemory {
		logger.Fatal().Msg("worker: STORE_DRIVER=memory cannot be shared with the api; use postgres or redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build engine")
	}
	defer engine.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Dispatcher().Run(gctx) })
	if cfg.ServiceEnabled(infra.ServiceReaper) {
		g.Go(func() error { return engine.Reaper().Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
		return
	}
	logger.Info().Msg("worker: stopped")
}
