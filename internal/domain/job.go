package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusComposing    JobStatus = "composing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// allowedTransitions encodes the forward-only state machine. Terminal states
// have no outgoing edges; cancellation is only reachable before a worker claim.
var allowedTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:       {JobStatusSynthesizing, JobStatusFailed, JobStatusCancelled},
	JobStatusSynthesizing: {JobStatusComposing, JobStatusFailed},
	JobStatusComposing:    {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job encapsulates the lifecycle of one story-to-video generation request.
// A record is created at admission with status queued and is mutated only by
// the orchestrator and the single worker holding its claim.
type Job struct {
	ID           string
	OwnerID      string
	PlanTier     string
	Title        string
	StoryText    string
	VoiceID      string
	BackgroundID string
	Status       JobStatus

	// ErrorReason is set only on failed jobs and is mutually exclusive with
	// the artifact references below.
	ErrorReason string

	AudioPath     string
	VideoPath     string
	ThumbnailPath string

	DurationSeconds float64
	FileSizeBytes   int64
	Resolution      string

	Attempts int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
