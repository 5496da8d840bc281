package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"revscore/internal/config"
	"revscore/internal/jobs"
	"revscore/internal/metrics"
	"revscore/internal/normalize"
	"revscore/internal/query"
	"revscore/internal/registry"
	"revscore/internal/repository"
	"revscore/internal/scorerclient"
	"revscore/internal/server"
	"revscore/internal/service"
	"revscore/internal/threshold"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yml", "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Fatal("Failed to load config", zap.Error(err))
	}

	var logger *zap.Logger
	if cfg.Logging.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err) // Should not happen
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	// Database connection
	db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	repository.MigrateDB(db, logger)

	// Repositories
	scoreRepo := repository.NewScoreRepository(db, logger)
	modelRepo := repository.NewModelRepository(db, logger)

	// Remote scorer client and model registry; the registry bootstraps from
	// the client, the client reports observed versions back to the registry.
	scorer := scorerclient.NewClient(cfg.Scorer.URL, time.Duration(cfg.Scorer.TimeoutSeconds)*time.Second, logger)
	reg := registry.New(cfg, modelRepo, scorer, logger)
	scorer.SetVersionReporter(reg)

	m := metrics.New()
	normalizer := normalize.New(cfg, reg)

	thresholds, err := threshold.NewCompiler(cfg, scorer, reg, m, logger)
	if err != nil {
		logger.Fatal("Failed to create threshold compiler", zap.Error(err))
	}
	queries := query.NewCompiler(cfg, thresholds, reg, logger)

	// Background fetch pool; the score service is its job runner.
	var pool *jobs.Pool
	scores := service.NewScoreService(cfg, scoreRepo, reg, normalizer, scorer, jobs.QueueFunc(func(spec jobs.FetchJobSpec) bool {
		return pool.Enqueue(spec)
	}), m, logger)
	pool = jobs.NewPool(cfg.Fetch.Workers, cfg.Fetch.QueueSize, scores, m, logger)

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool.Start(ctx)

	srv := server.NewServer(cfg, scores, thresholds, queries, reg, m, logger)
	go func() {
		if err := srv.Run(); err != nil {
			logger.Error("Server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	pool.Wait()
	logger.Info("Application stopped.")
}
