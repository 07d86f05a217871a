// Package usage implements the per-user quota gate of spec.md §4.D: a
// reserve/release pair guarding submit against a tier's monthly analysis
// limit, with month-boundary reset handled by the store.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/signalzero/core/internal/config"
	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/metrics"
	"github.com/signalzero/core/internal/store"
)

// Meter gates analysis submission against per-tier monthly quotas.
type Meter struct {
	store   store.Store
	cfg     config.Config
	metrics *metrics.Registry
	now     func() time.Time
}

// New builds a Meter over store, reading tier limits from cfg.
func New(st store.Store, cfg config.Config, reg *metrics.Registry) *Meter {
	return &Meter{store: st, cfg: cfg, metrics: reg, now: time.Now}
}

// Reserve admits one analysis for userID against its tier's monthly limit.
// A nil userID (anonymous caller) is always denied, whatever tier is
// passed; the HTTP layer forwards anonymous submissions here, so this is
// where they are rejected.
func (m *Meter) Reserve(ctx context.Context, userID *uuid.UUID, tier domain.Tier) error {
	if userID == nil {
		return &domain.QuotaExceededDetail{Reason: "anonymous callers may not submit analyses"}
	}

	limit, unbounded := m.cfg.TierLimit(string(tier))
	if unbounded {
		_, err := m.store.IncrementUsage(ctx, *userID, m.now())
		m.record(err == nil)
		return err
	}
	if limit <= 0 {
		m.record(false)
		return &domain.QuotaExceededDetail{
			Reason:    "tier " + string(tier) + " has no analysis allowance",
			Remaining: 0,
			ResetAt:   nextMonthBoundary(m.now()),
		}
	}

	used, err := m.store.IncrementUsage(ctx, *userID, m.now())
	if err != nil {
		m.record(false)
		return err
	}
	if used > limit {
		_ = m.store.ReleaseUsage(ctx, *userID)
		m.record(false)
		return &domain.QuotaExceededDetail{
			Reason:    "monthly analysis limit reached",
			Remaining: 0,
			ResetAt:   nextMonthBoundary(m.now()),
		}
	}

	m.record(true)
	return nil
}

// Release returns a reservation, used when submit fails before an
// analysis is durably recorded or moved to PROCESSING. A broker failure
// after that point does not release the reservation.
func (m *Meter) Release(ctx context.Context, userID *uuid.UUID) error {
	if userID == nil {
		return nil
	}
	return m.store.ReleaseUsage(ctx, *userID)
}

func (m *Meter) record(admitted bool) {
	if m.metrics == nil {
		return
	}
	outcome := "denied"
	if admitted {
		outcome = "admitted"
	}
	m.metrics.UsageReservations.WithLabelValues(outcome).Inc()
}

func nextMonthBoundary(now time.Time) time.Time {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, 1, 0)
}
