package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"server/internal/domain"
)

// UsageRepositoryPG implements domain.UsageRepository.
type UsageRepositoryPG struct {
	db DBTX
}

// NewUsageRepository creates a new usage event repository backed by PostgreSQL.
func NewUsageRepository(db DBTX) *UsageRepositoryPG {
	return &UsageRepositoryPG{db: db}
}

// Record appends one audit event.
func (r *UsageRepositoryPG) Record(ctx context.Context, event *domain.UsageEvent) error {
	properties := event.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	props, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("usage: marshal properties: %w", err)
	}
	_, err = r.db.Exec(ctx, `
INSERT INTO usage_events (id, owner_id, job_id, action, ip_address, country, properties, created_at)
VALUES (gen_random_uuid(), $1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), $6, now());
`, event.OwnerID, event.JobID, event.Action, event.IPAddress, event.Country, props)
	return err
}

var _ domain.UsageRepository = (*UsageRepositoryPG)(nil)
