package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
)

// QuotaRepositoryPG implements domain.QuotaRepository. The compare and the
// increment happen in one statement, so two admissions racing on the last
// remaining slot cannot both succeed.
type QuotaRepositoryPG struct {
	db DBTX
}

// NewQuotaRepository creates a new quota repository backed by PostgreSQL.
func NewQuotaRepository(db DBTX) *QuotaRepositoryPG {
	return &QuotaRepositoryPG{db: db}
}

// Reserve increments the owner's counter for the period when used < limit.
func (r *QuotaRepositoryPG) Reserve(ctx context.Context, ownerID, period string, limit int) error {
	if limit <= 0 {
		return domain.ErrQuotaExceeded
	}
	query := `
INSERT INTO quota_counters (owner_id, period, used)
VALUES ($1, $2, 1)
ON CONFLICT (owner_id, period)
DO UPDATE SET used = quota_counters.used + 1
WHERE quota_counters.used < $3
RETURNING used;
`
	var used int
	if err := r.db.QueryRow(ctx, query, ownerID, period, limit).Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrQuotaExceeded
		}
		return err
	}
	return nil
}

// Refund decrements the counter, flooring at zero.
func (r *QuotaRepositoryPG) Refund(ctx context.Context, ownerID, period string) error {
	_, err := r.db.Exec(ctx, `
UPDATE quota_counters
SET used = GREATEST(used - 1, 0)
WHERE owner_id = $1 AND period = $2;
`, ownerID, period)
	return err
}

// Used returns the consumed count for the owner and period.
func (r *QuotaRepositoryPG) Used(ctx context.Context, ownerID, period string) (int, error) {
	var used int
	err := r.db.QueryRow(ctx,
		`SELECT used FROM quota_counters WHERE owner_id = $1 AND period = $2;`,
		ownerID, period,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return used, err
}

var _ domain.QuotaRepository = (*QuotaRepositoryPG)(nil)
