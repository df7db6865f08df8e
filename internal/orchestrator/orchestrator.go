// Package orchestrator owns the job lifecycle: quota-governed admission, the
// worker-side pipeline, terminal transitions, and artifact lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"server/internal/domain"
	"server/internal/quota"
	"server/internal/storage"
)

// Orchestrator accepts generation requests and exclusively owns job record
// mutation. The read-side query surface delegates here and never writes.
type Orchestrator struct {
	jobs   domain.JobRepository
	ledger *quota.Ledger
	usage  domain.UsageRepository
	store  *storage.FileStore
	logger zerolog.Logger

	titleCaser cases.Caser
}

// New wires an orchestrator over its collaborators.
func New(jobs domain.JobRepository, ledger *quota.Ledger, usage domain.UsageRepository, store *storage.FileStore, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:       jobs,
		ledger:     ledger,
		usage:      usage,
		store:      store,
		logger:     logger,
		titleCaser: cases.Title(language.English, cases.NoLower),
	}
}

// SubmitRequest carries one admission attempt. OwnerID and Plan come from the
// verified auth context, never from the request body.
type SubmitRequest struct {
	OwnerID      string
	Plan         string
	Title        string
	StoryText    string
	VoiceID      string
	BackgroundID string
	IPAddress    string
	Country      string
}

const maxTitleChars = 200

// Submit validates, reserves quota, and persists a queued job. The call
// returns as soon as the record is durable; pipeline execution happens on the
// worker side. No state is mutated when any validation step fails.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	plan := domain.PlanByName(req.Plan)

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(title) > maxTitleChars {
		return nil, fmt.Errorf("%w: title exceeds %d characters", domain.ErrValidation, maxTitleChars)
	}
	title = o.titleCaser.String(title)

	story := strings.TrimSpace(req.StoryText)
	if story == "" {
		return nil, fmt.Errorf("%w: story text is required", domain.ErrValidation)
	}
	if n := utf8.RuneCountInString(story); n > plan.MaxStoryChars {
		return nil, fmt.Errorf("%w: story is %d characters, plan %s allows %d",
			domain.ErrValidation, n, plan.Name, plan.MaxStoryChars)
	}

	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = domain.DefaultVoiceID
	}
	if !domain.ValidVoice(voiceID) {
		return nil, fmt.Errorf("%w: unknown voice %q", domain.ErrValidation, voiceID)
	}
	backgroundID := req.BackgroundID
	if backgroundID == "" {
		backgroundID = domain.DefaultBackgroundID
	}
	if !domain.ValidBackground(backgroundID) {
		return nil, fmt.Errorf("%w: unknown background %q", domain.ErrValidation, backgroundID)
	}

	if err := o.ledger.CheckAndReserve(ctx, req.OwnerID, plan.VideosPerMonth); err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:           uuid.NewString(),
		OwnerID:      req.OwnerID,
		PlanTier:     plan.Name,
		Title:        title,
		StoryText:    story,
		VoiceID:      voiceID,
		BackgroundID: backgroundID,
		Status:       domain.JobStatusQueued,
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		// The owner paid for nothing yet; hand the slot back.
		if refundErr := o.ledger.Refund(ctx, req.OwnerID); refundErr != nil {
			o.logger.Error().Err(refundErr).Str("owner_id", req.OwnerID).Msg("orchestrator: refund after failed persist")
		}
		return nil, fmt.Errorf("persist job: %w", err)
	}

	o.recordUsage(ctx, &domain.UsageEvent{
		OwnerID:   req.OwnerID,
		JobID:     job.ID,
		Action:    domain.ActionVideoCreated,
		IPAddress: req.IPAddress,
		Country:   req.Country,
		Properties: map[string]any{
			"title":      job.Title,
			"voice":      job.VoiceID,
			"background": job.BackgroundID,
		},
	})
	return job, nil
}

// Get returns the owner's job. Foreign jobs are indistinguishable from
// missing ones.
func (o *Orchestrator) Get(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// List returns one page of the owner's jobs.
func (o *Orchestrator) List(ctx context.Context, ownerID string, filter domain.ListFilter) ([]domain.Job, int, error) {
	return o.jobs.List(ctx, ownerID, filter)
}

// Cancel removes a queued job from the pool and refunds its quota slot. Jobs
// already claimed run to a terminal state; cancelling them returns ErrConflict.
func (o *Orchestrator) Cancel(ctx context.Context, ownerID, jobID string) error {
	job, err := o.Get(ctx, ownerID, jobID)
	if err != nil {
		return err
	}
	err = o.jobs.Transition(ctx, job.ID, domain.JobStatusQueued, domain.JobStatusCancelled, domain.JobUpdate{})
	if err != nil {
		return err
	}
	if err := o.ledger.Refund(ctx, ownerID); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: refund after cancel")
	}
	o.recordUsage(ctx, &domain.UsageEvent{OwnerID: ownerID, JobID: jobID, Action: domain.ActionVideoCancelled})
	return nil
}

// Delete removes a job record and all of its artifacts. Artifacts go first so
// a partial failure can never leave an indexed record pointing at removed
// files without a retry path. Jobs running in the pipeline cannot be deleted.
func (o *Orchestrator) Delete(ctx context.Context, ownerID, jobID string) error {
	job, err := o.Get(ctx, ownerID, jobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusSynthesizing || job.Status == domain.JobStatusComposing {
		return fmt.Errorf("%w: job is processing", domain.ErrConflict)
	}
	if err := o.store.Delete(ctx, job.ID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if err := o.jobs.Delete(ctx, job.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	o.recordUsage(ctx, &domain.UsageEvent{OwnerID: ownerID, JobID: jobID, Action: domain.ActionVideoDeleted})
	return nil
}

// OpenVideo opens the rendered video for streaming. Only completed jobs have
// one; everything else reads as missing.
func (o *Orchestrator) OpenVideo(ctx context.Context, ownerID, jobID string) (io.ReadCloser, int64, error) {
	job, err := o.Get(ctx, ownerID, jobID)
	if err != nil {
		return nil, 0, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, 0, domain.ErrNotFound
	}
	return o.store.Read(ctx, job.ID, storage.KindVideo)
}

// UsageSummary is the owner-facing quota snapshot.
type UsageSummary struct {
	TotalVideos      int `json:"total_videos"`
	VideosThisPeriod int `json:"videos_this_period"`
	PlanLimit        int `json:"plan_limit"`
	PlanUsed         int `json:"plan_used"`
}

// Usage reports the owner's lifetime and current-period consumption.
func (o *Orchestrator) Usage(ctx context.Context, ownerID, planName string) (*UsageSummary, error) {
	total, err := o.jobs.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	used, err := o.ledger.Usage(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &UsageSummary{
		TotalVideos:      total,
		VideosThisPeriod: used,
		PlanLimit:        domain.PlanByName(planName).VideosPerMonth,
		PlanUsed:         used,
	}, nil
}

// Stats reports service-wide job totals.
func (o *Orchestrator) Stats(ctx context.Context) (*domain.Stats, error) {
	return o.jobs.Stats(ctx)
}

// recordUsage is best-effort: audit failures never fail the operation.
func (o *Orchestrator) recordUsage(ctx context.Context, event *domain.UsageEvent) {
	if o.usage == nil {
		return
	}
	if err := o.usage.Record(ctx, event); err != nil {
		o.logger.Warn().Err(err).Str("action", event.Action).Msg("orchestrator: record usage event")
	}
}
