package domain

import (
	"context"
	"time"
)

// ListFilter narrows a job listing. Zero values mean "no constraint".
type ListFilter struct {
	Status     JobStatus
	TitleQuery string
	Page       int
	PerPage    int
}

// JobUpdate carries the fields written alongside a status transition. Nil
// pointers leave the stored value untouched so a transition and the fields it
// affects land as one write.
type JobUpdate struct {
	AudioPath       *string
	VideoPath       *string
	ThumbnailPath   *string
	ErrorReason     *string
	DurationSeconds *float64
	FileSizeBytes   *int64
	Resolution      *string
	Attempts        *int
	CompletedAt     *time.Time
}

// Stats aggregates service-wide job totals for the dashboard surface.
type Stats struct {
	TotalJobs         int     `json:"total_jobs"`
	Queued            int     `json:"queued"`
	Processing        int     `json:"processing"`
	Completed         int     `json:"completed"`
	Failed            int     `json:"failed"`
	CompletedLast24h  int     `json:"completed_last_24h"`
	TotalDurationSecs float64 `json:"total_duration_seconds"`
}

// JobRepository defines persistence for job records.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// List returns one page of an owner's jobs, newest first, plus the total
	// count matching the filter. Cancelled jobs are excluded.
	List(ctx context.Context, ownerID string, filter ListFilter) ([]Job, int, error)
	// ClaimNext atomically moves the oldest queued job to synthesizing and
	// returns it. Only one claimant can win a given job. ErrNotFound when the
	// queue is empty.
	ClaimNext(ctx context.Context) (*Job, error)
	// Transition performs a compare-and-set status change from -> to together
	// with the fields in update. ErrConflict when the stored status is not
	// from; ErrNotFound for unknown jobs.
	Transition(ctx context.Context, jobID string, from, to JobStatus, update JobUpdate) error
	Delete(ctx context.Context, jobID string) error
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	Stats(ctx context.Context) (*Stats, error)
}

// QuotaRepository defines the per-owner, per-period admission counter.
type QuotaRepository interface {
	// Reserve atomically increments the owner's counter for the period when
	// used < limit, otherwise returns ErrQuotaExceeded. Concurrent calls for
	// the same owner never over-admit.
	Reserve(ctx context.Context, ownerID, period string, limit int) error
	// Refund decrements the counter, flooring at zero. Used only for jobs
	// cancelled before pipeline work started.
	Refund(ctx context.Context, ownerID, period string) error
	Used(ctx context.Context, ownerID, period string) (int, error)
}

// UsageRepository records append-only audit events.
type UsageRepository interface {
	Record(ctx context.Context, event *UsageEvent) error
}
