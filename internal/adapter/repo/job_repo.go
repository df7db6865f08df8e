package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	db DBTX
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db DBTX) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

const jobColumns = `id, owner_id, plan_tier, title, story_text, voice_id, background_id, status,
error_reason, audio_path, video_path, thumbnail_path,
duration_seconds, file_size_bytes, resolution, attempts,
created_at, updated_at, completed_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, owner_id, plan_tier, title, story_text, voice_id, background_id, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at;
`
	row := r.db.QueryRow(ctx, query,
		job.ID,
		job.OwnerID,
		job.PlanTier,
		job.Title,
		job.StoryText,
		job.VoiceID,
		job.BackgroundID,
		job.Status,
	)
	return row.Scan(&job.CreatedAt, &job.UpdatedAt)
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	job, err := scanJob(r.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// List returns one page of the owner's jobs, newest first, excluding
// cancelled records, plus the total count matching the filter.
func (r *JobRepositoryPG) List(ctx context.Context, ownerID string, filter domain.ListFilter) ([]domain.Job, int, error) {
	conds := []string{"owner_id = $1", "status <> 'cancelled'"}
	args := []any{ownerID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.TitleQuery); q != "" {
		args = append(args, "%"+q+"%")
		conds = append(conds, fmt.Sprintf("title ILIKE $%d", len(args)))
	}
	where := strings.Join(conds, " AND ")

	var total int
	countQuery := `SELECT count(*) FROM jobs WHERE ` + where + `;`
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 10
	}
	args = append(args, perPage, (page-1)*perPage)
	pageQuery := fmt.Sprintf(`
SELECT %s FROM jobs
WHERE %s
ORDER BY created_at DESC, id DESC
LIMIT $%d OFFSET $%d;
`, jobColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, pageQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs := []domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ClaimNext atomically claims the oldest queued job. SKIP LOCKED guarantees
// only one worker wins a given row.
func (r *JobRepositoryPG) ClaimNext(ctx context.Context) (*domain.Job, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM jobs
    WHERE status = 'queued'
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
claimed AS (
    UPDATE jobs
    SET status = 'synthesizing', updated_at = now()
    WHERE id IN (SELECT id FROM next_job)
    RETURNING ` + jobColumns + `
)
SELECT * FROM claimed;
`
	job, err := scanJob(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Transition performs a compare-and-set status change together with the
// fields in update, as one write.
func (r *JobRepositoryPG) Transition(ctx context.Context, jobID string, from, to domain.JobStatus, update domain.JobUpdate) error {
	if from != to && !domain.CanTransition(from, to) {
		return domain.ErrConflict
	}
	query := `
UPDATE jobs
SET status = $3,
    updated_at = now(),
    audio_path = COALESCE($4, audio_path),
    video_path = COALESCE($5, video_path),
    thumbnail_path = COALESCE($6, thumbnail_path),
    error_reason = COALESCE($7, error_reason),
    duration_seconds = COALESCE($8, duration_seconds),
    file_size_bytes = COALESCE($9, file_size_bytes),
    resolution = COALESCE($10, resolution),
    attempts = COALESCE($11, attempts),
    completed_at = COALESCE($12, completed_at)
WHERE id = $1 AND status = $2;
`
	tag, err := r.db.Exec(ctx, query, jobID, from, to,
		update.AudioPath,
		update.VideoPath,
		update.ThumbnailPath,
		update.ErrorReason,
		update.DurationSeconds,
		update.FileSizeBytes,
		update.Resolution,
		update.Attempts,
		update.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1);`, jobID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

// Delete removes a job record.
func (r *JobRepositoryPG) Delete(ctx context.Context, jobID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1;`, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountByOwner counts the owner's non-cancelled jobs.
func (r *JobRepositoryPG) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE owner_id = $1 AND status <> 'cancelled';`,
		ownerID,
	).Scan(&count)
	return count, err
}

func (r *JobRepositoryPG) Stats(ctx context.Context) (*domain.Stats, error) {
	stats := &domain.Stats{}
	err := r.db.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'queued'),
			count(*) FILTER (WHERE status IN ('synthesizing', 'composing')),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'completed' AND completed_at > now() - interval '24 hours'),
			coalesce(sum(duration_seconds) FILTER (WHERE status = 'completed'), 0)
		FROM jobs
		WHERE status <> 'cancelled';`,
	).Scan(
		&stats.TotalJobs,
		&stats.Queued,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.CompletedLast24h,
		&stats.TotalDurationSecs,
	)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return stats, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.PlanTier,
		&job.Title,
		&job.StoryText,
		&job.VoiceID,
		&job.BackgroundID,
		&job.Status,
		&job.ErrorReason,
		&job.AudioPath,
		&job.VideoPath,
		&job.ThumbnailPath,
		&job.DurationSeconds,
		&job.FileSizeBytes,
		&job.Resolution,
		&job.Attempts,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
