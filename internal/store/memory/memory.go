// Package memory provides mutex-guarded in-memory implementations of the
// domain repositories. It backs the test suite and the DB-less development
// mode; the guarantees match the PostgreSQL implementations (single-winner
// claims, atomic quota reservation).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"server/internal/domain"
)

// Store holds all repository state behind one mutex.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	quotas map[string]int
	events []domain.UsageEvent
	now    func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]*domain.Job),
		quotas: make(map[string]int),
		now:    time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// JobRepository implementation.

func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return domain.ErrConflict
	}
	clone := *job
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = s.now()
	}
	clone.UpdatedAt = clone.CreatedAt
	s.jobs[job.ID] = &clone
	*job = clone
	return nil
}

func (s *Store) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *Store) List(ctx context.Context, ownerID string, filter domain.ListFilter) ([]domain.Job, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := strings.ToLower(strings.TrimSpace(filter.TitleQuery))
	var matched []domain.Job
	for _, job := range s.jobs {
		if job.OwnerID != ownerID || job.Status == domain.JobStatusCancelled {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(job.Title), query) {
			continue
		}
		matched = append(matched, *job)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 10
	}
	start := (page - 1) * perPage
	if start >= total {
		return []domain.Job{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) ClaimNext(ctx context.Context) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *domain.Job
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusQueued {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	oldest.Status = domain.JobStatusSynthesizing
	oldest.UpdatedAt = s.now()
	clone := *oldest
	return &clone, nil
}

func (s *Store) Transition(ctx context.Context, jobID string, from, to domain.JobStatus, update domain.JobUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != from {
		return domain.ErrConflict
	}
	if from != to && !domain.CanTransition(from, to) {
		return domain.ErrConflict
	}

	job.Status = to
	applyUpdate(job, update)
	job.UpdatedAt = s.now()
	return nil
}

func applyUpdate(job *domain.Job, update domain.JobUpdate) {
	if update.AudioPath != nil {
		job.AudioPath = *update.AudioPath
	}
	if update.VideoPath != nil {
		job.VideoPath = *update.VideoPath
	}
	if update.ThumbnailPath != nil {
		job.ThumbnailPath = *update.ThumbnailPath
	}
	if update.ErrorReason != nil {
		job.ErrorReason = *update.ErrorReason
	}
	if update.DurationSeconds != nil {
		job.DurationSeconds = *update.DurationSeconds
	}
	if update.FileSizeBytes != nil {
		job.FileSizeBytes = *update.FileSizeBytes
	}
	if update.Resolution != nil {
		job.Resolution = *update.Resolution
	}
	if update.Attempts != nil {
		job.Attempts = *update.Attempts
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		job.CompletedAt = &t
	}
}

func (s *Store) Delete(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *Store) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && job.Status != domain.JobStatusCancelled {
			count++
		}
	}
	return count, nil
}

func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &domain.Stats{}
	cutoff := s.now().Add(-24 * time.Hour)
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusCancelled {
			continue
		}
		stats.TotalJobs++
		switch job.Status {
		case domain.JobStatusQueued:
			stats.Queued++
		case domain.JobStatusSynthesizing, domain.JobStatusComposing:
			stats.Processing++
		case domain.JobStatusCompleted:
			stats.Completed++
			stats.TotalDurationSecs += job.DurationSeconds
			if job.CompletedAt != nil && job.CompletedAt.After(cutoff) {
				stats.CompletedLast24h++
			}
		case domain.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// QuotaRepository implementation.

func quotaKey(ownerID, period string) string {
	return ownerID + "|" + period
}

func (s *Store) Reserve(ctx context.Context, ownerID, period string, limit int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := quotaKey(ownerID, period)
	if s.quotas[key] >= limit {
		return domain.ErrQuotaExceeded
	}
	s.quotas[key]++
	return nil
}

func (s *Store) Refund(ctx context.Context, ownerID, period string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := quotaKey(ownerID, period)
	if s.quotas[key] > 0 {
		s.quotas[key]--
	}
	return nil
}

func (s *Store) Used(ctx context.Context, ownerID, period string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotas[quotaKey(ownerID, period)], nil
}

// UsageRepository implementation.

func (s *Store) Record(ctx context.Context, event *domain.UsageEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *event
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = s.now()
	}
	s.events = append(s.events, clone)
	return nil
}

// Events returns a snapshot of recorded usage events. Test hook.
func (s *Store) Events() []domain.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UsageEvent, len(s.events))
	copy(out, s.events)
	return out
}

var (
	_ domain.JobRepository   = (*Store)(nil)
	_ domain.QuotaRepository = (*Store)(nil)
	_ domain.UsageRepository = (*Store)(nil)
)
