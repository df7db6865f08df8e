package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/orchestrator"
	"server/internal/pipeline"
	"server/internal/storage"
	"server/internal/store/memory"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		jobs  domain.JobRepository
		usage domain.UsageRepository
	)
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: db connection failed")
		}
		defer pool.Close()
		if err := repo.Migrate(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("worker: migration failed")
		}
		jobs = repo.NewJobRepository(pool)
		usage = repo.NewUsageRepository(pool)
	} else {
		logger.Warn().Msg("worker: DATABASE_URL not set, using in-memory store")
		mem := memory.New()
		jobs, usage = mem, mem
	}

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage init failed")
	}

	var synth pipeline.Synthesizer
	if cfg.TTSSessionID != "" {
		synth, err = pipeline.NewTTSSynthesizer(pipeline.SynthesizerOptions{
			BaseURL:   cfg.TTSBaseURL,
			SessionID: cfg.TTSSessionID,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: tts init failed")
		}
	} else {
		logger.Warn().Msg("worker: TTS_SESSION_ID not set, using synthetic narration")
		synth = &pipeline.StubSynthesizer{}
	}

	var composer pipeline.Composer
	composer, err = pipeline.NewFFmpegComposer(cfg.FFmpegPath, cfg.BackgroundDir)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: ffmpeg unavailable, using synthetic rendering")
		composer = &pipeline.StubComposer{}
	}

	worker := orchestrator.NewWorker(jobs, usage, files, synth, composer, logger, orchestrator.WorkerConfig{
		Concurrency:  cfg.WorkerConcurrency,
		MaxAttempts:  cfg.MaxStageAttempts,
		StageTimeout: cfg.StageTimeout,
		PollInterval: cfg.JobPollInterval,
		Backoff:      orchestrator.NewExponentialBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
	})

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker stopped")
}
