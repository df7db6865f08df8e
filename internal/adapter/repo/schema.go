package repo

import (
	"context"
	"fmt"
)

// schema holds the DDL applied at startup. Statements are idempotent so both
// binaries can run them unconditionally.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
	id uuid PRIMARY KEY,
	owner_id text NOT NULL,
	plan_tier text NOT NULL DEFAULT 'free',
	title text NOT NULL,
	story_text text NOT NULL,
	voice_id text NOT NULL,
	background_id text NOT NULL,
	status text NOT NULL DEFAULT 'queued',
	error_reason text NOT NULL DEFAULT '',
	audio_path text NOT NULL DEFAULT '',
	video_path text NOT NULL DEFAULT '',
	thumbnail_path text NOT NULL DEFAULT '',
	duration_seconds double precision NOT NULL DEFAULT 0,
	file_size_bytes bigint NOT NULL DEFAULT 0,
	resolution text NOT NULL DEFAULT '',
	attempts int NOT NULL DEFAULT 0,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	completed_at timestamptz
);`,
	`CREATE INDEX IF NOT EXISTS jobs_owner_created_idx ON jobs (owner_id, created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS jobs_status_created_idx ON jobs (status, created_at ASC);`,
	`CREATE TABLE IF NOT EXISTS quota_counters (
	owner_id text NOT NULL,
	period text NOT NULL,
	used int NOT NULL DEFAULT 0,
	PRIMARY KEY (owner_id, period)
);`,
	`CREATE TABLE IF NOT EXISTS usage_events (
	id uuid PRIMARY KEY,
	owner_id text NOT NULL,
	job_id uuid,
	action text NOT NULL,
	ip_address text,
	country text,
	properties jsonb NOT NULL DEFAULT '{}'::jsonb,
	created_at timestamptz NOT NULL DEFAULT now()
);`,
	`CREATE INDEX IF NOT EXISTS usage_events_owner_idx ON usage_events (owner_id, created_at DESC);`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db DBTX) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
