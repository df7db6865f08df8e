package domain

import "time"

// Usage event actions.
const (
	ActionVideoCreated   = "video_created"
	ActionVideoCompleted = "video_completed"
	ActionVideoFailed    = "video_failed"
	ActionVideoCancelled = "video_cancelled"
	ActionVideoDeleted   = "video_deleted"
)

// UsageEvent is an append-only audit row tied to an owner and, usually, a job.
type UsageEvent struct {
	ID         string
	OwnerID    string
	JobID      string
	Action     string
	IPAddress  string
	Country    string
	Properties map[string]any
	CreatedAt  time.Time
}
