// Package quota gates job admission against per-owner plan limits.
package quota

import (
	"context"
	"time"

	"server/internal/domain"
)

// Ledger tracks per-owner consumption for the current billing period.
// Periods reset on the calendar-month boundary in UTC; the period key is the
// month the admission happens in.
type Ledger struct {
	repo domain.QuotaRepository
	now  func() time.Time
}

// NewLedger builds a ledger over the given counter repository.
func NewLedger(repo domain.QuotaRepository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// NewLedgerAt builds a ledger with a custom clock.
func NewLedgerAt(repo domain.QuotaRepository, now func() time.Time) *Ledger {
	return &Ledger{repo: repo, now: now}
}

// Period returns the current billing-period key, e.g. "2026-08".
func (l *Ledger) Period() string {
	return l.now().UTC().Format("2006-01")
}

// CheckAndReserve admits one job against the owner's limit for the current
// period. The compare and the increment are a single atomic decision in the
// underlying repository; two submissions racing on the last slot cannot both
// succeed. Returns domain.ErrQuotaExceeded when the limit is reached.
func (l *Ledger) CheckAndReserve(ctx context.Context, ownerID string, limit int) error {
	return l.repo.Reserve(ctx, ownerID, l.Period(), limit)
}

// Refund releases one reserved slot. Only valid for jobs cancelled before any
// pipeline work started; once synthesis begins the cost is incurred and the
// slot stays consumed.
func (l *Ledger) Refund(ctx context.Context, ownerID string) error {
	return l.repo.Refund(ctx, ownerID, l.Period())
}

// Usage returns the owner's consumed count for the current period.
func (l *Ledger) Usage(ctx context.Context, ownerID string) (int, error) {
	return l.repo.Used(ctx, ownerID, l.Period())
}
