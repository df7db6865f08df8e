package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"server/internal/domain"
	"server/internal/pipeline"
	"server/internal/storage"
)

// WorkerConfig bounds the pipeline's concurrency and retry behaviour.
type WorkerConfig struct {
	Concurrency  int
	MaxAttempts  int
	StageTimeout time.Duration
	PollInterval time.Duration
	Backoff      BackoffStrategy
}

func (c *WorkerConfig) normalize() {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Backoff == nil {
		c.Backoff = NewExponentialBackoff(time.Second, 30*time.Second)
	}
}

// Worker drives claimed jobs through synthesis, composition, and
// finalization. Each of its goroutines handles exactly one job's full
// pipeline before claiming the next, so throughput is bounded by
// Concurrency / average job duration.
type Worker struct {
	jobs     domain.JobRepository
	usage    domain.UsageRepository
	store    *storage.FileStore
	synth    pipeline.Synthesizer
	composer pipeline.Composer
	logger   zerolog.Logger
	cfg      WorkerConfig
}

// NewWorker wires a worker over its collaborators.
func NewWorker(jobs domain.JobRepository, usage domain.UsageRepository, store *storage.FileStore, synth pipeline.Synthesizer, composer pipeline.Composer, logger zerolog.Logger, cfg WorkerConfig) *Worker {
	cfg.normalize()
	return &Worker{
		jobs:     jobs,
		usage:    usage,
		store:    store,
		synth:    synth,
		composer: composer,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run blocks until ctx is cancelled, consuming queued jobs with a fixed pool.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.cfg.Concurrency).Msg("worker: started")
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error { return w.loop(ctx) })
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := w.jobs.ClaimNext(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, context.Canceled) {
				w.logger.Error().Err(err).Msg("worker: claim job")
			}
			select {
			case <-time.After(w.cfg.PollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		w.Process(ctx, job)
	}
}

// Process runs one claimed job to a terminal state. The job arrives already
// in synthesizing (the claim is the queued -> synthesizing transition).
// Shutdown mid-stage leaves the record in its current status; the quota slot
// stays consumed either way once synthesis has started.
func (w *Worker) Process(ctx context.Context, job *domain.Job) {
	w.logger.Info().Str("job_id", job.ID).Str("voice", job.VoiceID).Msg("worker: picked job")

	var audio *pipeline.AudioAsset
	attempts, err := w.retryStage(ctx, func(stageCtx context.Context) error {
		var synthErr error
		audio, synthErr = w.synth.Synthesize(stageCtx, job.StoryText, job.VoiceID)
		return synthErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		reason := domain.ReasonSynthesisUnavailable
		if pipeline.IsTimeout(err) {
			reason = domain.ReasonSynthesisTimeout
		}
		w.fail(ctx, job, domain.JobStatusSynthesizing, reason, attempts, err)
		return
	}

	audioPath, err := w.store.Write(ctx, job.ID, storage.KindAudio, audio.Data)
	if err != nil {
		w.fail(ctx, job, domain.JobStatusSynthesizing, domain.ReasonStorageFailure, attempts, err)
		return
	}

	err = w.jobs.Transition(ctx, job.ID, domain.JobStatusSynthesizing, domain.JobStatusComposing, domain.JobUpdate{
		AudioPath: &audioPath,
		Attempts:  &attempts,
	})
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: transition to composing")
		return
	}

	plan := domain.PlanByName(job.PlanTier)
	var video *pipeline.VideoAsset
	attempts, err = w.retryStage(ctx, func(stageCtx context.Context) error {
		var composeErr error
		video, composeErr = w.composer.Compose(stageCtx, pipeline.ComposeRequest{
			Audio:        audio,
			BackgroundID: job.BackgroundID,
			Captions:     job.Title,
			Width:        plan.Width,
			Height:       plan.Height,
		})
		return composeErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		reason := domain.ReasonCompositionFailed
		if pipeline.IsTimeout(err) {
			reason = domain.ReasonCompositionTimeout
		}
		w.fail(ctx, job, domain.JobStatusComposing, reason, attempts, err)
		return
	}

	videoPath, err := w.store.Write(ctx, job.ID, storage.KindVideo, video.Data)
	if err != nil {
		w.fail(ctx, job, domain.JobStatusComposing, domain.ReasonStorageFailure, attempts, err)
		return
	}
	thumbPath, err := w.store.Write(ctx, job.ID, storage.KindThumbnail, video.Thumbnail)
	if err != nil {
		w.fail(ctx, job, domain.JobStatusComposing, domain.ReasonStorageFailure, attempts, err)
		return
	}

	now := time.Now().UTC()
	size := int64(len(video.Data))
	resolution := fmt.Sprintf("%dx%d", video.Width, video.Height)
	err = w.jobs.Transition(ctx, job.ID, domain.JobStatusComposing, domain.JobStatusCompleted, domain.JobUpdate{
		VideoPath:       &videoPath,
		ThumbnailPath:   &thumbPath,
		DurationSeconds: &video.DurationSeconds,
		FileSizeBytes:   &size,
		Resolution:      &resolution,
		Attempts:        &attempts,
		CompletedAt:     &now,
	})
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: finalize")
		return
	}

	w.recordUsage(ctx, &domain.UsageEvent{
		OwnerID: job.OwnerID,
		JobID:   job.ID,
		Action:  domain.ActionVideoCompleted,
		Properties: map[string]any{
			"duration_seconds": video.DurationSeconds,
			"file_size_bytes":  size,
			"resolution":       resolution,
		},
	})
	w.logger.Info().
		Str("job_id", job.ID).
		Float64("duration_seconds", video.DurationSeconds).
		Str("resolution", resolution).
		Msg("worker: job completed")
}

// retryStage runs one pipeline stage under the per-stage timeout, retrying
// transient failures with backoff. Non-transient failures and retry
// exhaustion return the last error; attempts reports how many calls ran.
func (w *Worker) retryStage(ctx context.Context, fn func(context.Context) error) (int, error) {
	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, w.cfg.StageTimeout)
		err = fn(stageCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !pipeline.IsTransient(err) || attempt == w.cfg.MaxAttempts {
			return attempt, err
		}
		select {
		case <-time.After(w.cfg.Backoff.Delay(attempt)):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
	return w.cfg.MaxAttempts, err
}

func (w *Worker) fail(ctx context.Context, job *domain.Job, from domain.JobStatus, reason string, attempts int, cause error) {
	w.logger.Error().Err(cause).Str("job_id", job.ID).Str("reason", reason).Msg("worker: job failed")
	err := w.jobs.Transition(ctx, job.ID, from, domain.JobStatusFailed, domain.JobUpdate{
		ErrorReason: &reason,
		Attempts:    &attempts,
	})
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: record failure")
		return
	}
	w.recordUsage(ctx, &domain.UsageEvent{
		OwnerID:    job.OwnerID,
		JobID:      job.ID,
		Action:     domain.ActionVideoFailed,
		Properties: map[string]any{"reason": reason},
	})
}

func (w *Worker) recordUsage(ctx context.Context, event *domain.UsageEvent) {
	if w.usage == nil {
		return
	}
	if err := w.usage.Record(ctx, event); err != nil {
		w.logger.Warn().Err(err).Str("action", event.Action).Msg("worker: record usage event")
	}
}
