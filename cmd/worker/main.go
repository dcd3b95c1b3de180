package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"artwork-pipeline/internal/artifact"
	"artwork-pipeline/internal/config"
	"artwork-pipeline/internal/generation"
	"artwork-pipeline/internal/queue"
	"artwork-pipeline/internal/store"
	"artwork-pipeline/internal/telemetry"
	"artwork-pipeline/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env).With().Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	q := queue.New(redisClient, queue.Options{
		Name:            cfg.QueueName,
		VisibilityTTL:   cfg.VisibilityTimeout,
		MaxRedeliveries: cfg.MaxRedeliveries,
		DLQName:         cfg.DLQName,
	})

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure artifact store")
	}

	var gen generation.Generator
	if cfg.GenerationAPIKey == "" {
		logger.Warn().Msg("no generation api key, using placeholder generator")
		gen = generation.FakeGenerator{}
	} else {
		gen = generation.NewClient(generation.ClientConfig{
			BaseURL: cfg.GenerationBaseURL,
			APIKey:  cfg.GenerationAPIKey,
			Model:   cfg.GenerationModel,
			Timeout: cfg.GenerationTimeout,
		})
	}

	executor := worker.NewExecutor(st, gen, artifacts, logger, worker.ExecutorOptions{
		GenerationTimeout: cfg.GenerationTimeout,
		StorageTimeout:    cfg.StorageTimeout,
		ReportRetries:     cfg.ReportRetries,
		ThumbWidth:        cfg.ThumbWidth,
	})
	processor := worker.NewProcessor(q, executor, logger, cfg.WorkerPollInterval)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger.Info().
		Int("concurrency", concurrency).
		Dur("visibility", cfg.VisibilityTimeout).
		Int("max_redeliveries", cfg.MaxRedeliveries).
		Msg("worker started")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("worker loop stopped")
			}
		}()
	}
	wg.Wait()
}

func newArtifactStore(ctx context.Context, cfg config.Config) (artifact.Store, error) {
	if cfg.StorageDriver == "s3" {
		return artifact.NewS3Store(ctx, cfg)
	}
	return artifact.NewLocalStore(cfg.LocalUploadDir, cfg.PublicBaseURL)
}

func newLogger(env string) zerolog.Logger {
	level := zerolog.InfoLevel
	if env == "dev" {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}
