// Package quota meters per-owner usage against plan limits.
package quota

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/metrics"
	"github.com/markdave123-py/chatbase/internal/models"
)

// Unlimited is the Max of a resource without a cap.
const Unlimited = -1

// Status is the result of a quota check.
type Status struct {
	Current int  `json:"current"`
	Max     int  `json:"max"`
	Reached bool `json:"reached"`
}

// StatusOf compares one counter with its plan limit.
func StatusOf(q *models.QuotaCounters, limits models.PlanLimits, r models.Resource) Status {
	st := Status{Current: q.Value(r), Max: limits.Limit(r)}
	st.Reached = st.Max != Unlimited && st.Current >= st.Max
	return st
}

// Ledger checks and moves quota counters. Counter updates are single atomic
// statements in the store; a check followed by an increment may over-count by
// the number of concurrent callers.
type Ledger struct {
	store       core.QuotaStore
	plans       map[string]models.PlanLimits
	defaultPlan string
	metrics     *metrics.Metrics
	logger      *log.Logger
	now         func() time.Time
}

func NewLedger(store core.QuotaStore, cfg config.QuotaConfig, m *metrics.Metrics, logger *log.Logger) *Ledger {
	plans := cfg.Plans
	if len(plans) == 0 {
		plans = config.DefaultPlans()
	}
	def := cfg.DefaultPlan
	if def == "" {
		def = "free"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{
		store:       store,
		plans:       plans,
		defaultPlan: def,
		metrics:     m,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Limits returns the limits of a plan, falling back to the default plan.
func (l *Ledger) Limits(planID string) models.PlanLimits {
	if p, ok := l.plans[planID]; ok {
		return p
	}
	return l.plans[l.defaultPlan]
}

// monthStart is the first instant of t's calendar month in UTC.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// counters loads the owner's row, creating it on the default plan, and applies
// the monthly rollover when the last reset happened in an earlier month.
func (l *Ledger) counters(ctx context.Context, ownerID string) (*models.QuotaCounters, error) {
	q, err := l.store.EnsureQuota(ctx, ownerID, l.defaultPlan)
	if err != nil {
		return nil, fmt.Errorf("load quota: %w", err)
	}
	if q == nil {
		return nil, fmt.Errorf("load quota: no counters for owner %s", ownerID)
	}
	now := l.now()
	if !q.LastResetAt.Before(monthStart(now)) {
		return q, nil
	}
	rolled, err := l.store.RollOverMonthly(ctx, ownerID, now)
	if err != nil {
		return nil, fmt.Errorf("monthly rollover: %w", err)
	}
	if rolled {
		l.logger.Printf("[Quota] rolled over monthly messages for owner=%s", ownerID)
		q.MessagesThisMonth = 0
		q.LastResetAt = now
		return q, nil
	}
	// Another caller rolled over first and may already have billed.
	q, err = l.store.GetQuota(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load quota: %w", err)
	}
	if q == nil {
		return nil, fmt.Errorf("load quota: no counters for owner %s", ownerID)
	}
	return q, nil
}

// Check reports the owner's usage of r against the plan limit.
func (l *Ledger) Check(ctx context.Context, ownerID string, r models.Resource) (Status, error) {
	q, err := l.counters(ctx, ownerID)
	if err != nil {
		return Status{}, err
	}
	st := StatusOf(q, l.Limits(q.PlanID), r)
	if st.Reached {
		l.metrics.QuotaRejected(string(r))
	}
	return st, nil
}

// Usage returns the owner's counters and plan limits.
func (l *Ledger) Usage(ctx context.Context, ownerID string) (*models.QuotaCounters, models.PlanLimits, error) {
	q, err := l.counters(ctx, ownerID)
	if err != nil {
		return nil, models.PlanLimits{}, err
	}
	return q, l.Limits(q.PlanID), nil
}

func (l *Ledger) Increment(ctx context.Context, ownerID string, r models.Resource, delta int) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("increment: negative delta %d", delta)
	}
	if _, err := l.store.EnsureQuota(ctx, ownerID, l.defaultPlan); err != nil {
		return 0, fmt.Errorf("load quota: %w", err)
	}
	v, err := l.store.AddQuota(ctx, ownerID, r, delta)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", r, err)
	}
	return v, nil
}

// Decrement lowers a counter, never below zero.
func (l *Ledger) Decrement(ctx context.Context, ownerID string, r models.Resource, delta int) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("decrement: negative delta %d", delta)
	}
	if _, err := l.store.EnsureQuota(ctx, ownerID, l.defaultPlan); err != nil {
		return 0, fmt.Errorf("load quota: %w", err)
	}
	v, err := l.store.AddQuota(ctx, ownerID, r, -delta)
	if err != nil {
		return 0, fmt.Errorf("decrement %s: %w", r, err)
	}
	return v, nil
}

// IncrementIfBelow increments only while the counter is below the plan
// limit. It returns ErrQuotaExceeded when the limit is reached.
func (l *Ledger) IncrementIfBelow(ctx context.Context, ownerID string, r models.Resource, delta int) (int, error) {
	q, err := l.counters(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	limit := l.Limits(q.PlanID).Limit(r)
	v, ok, err := l.store.AddQuotaIfBelow(ctx, ownerID, r, delta, limit)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", r, err)
	}
	if !ok {
		l.metrics.QuotaRejected(string(r))
		return v, fmt.Errorf("%w: %s limit %d reached", core.ErrQuotaExceeded, r, limit)
	}
	return v, nil
}

// ResetMonthly zeroes the owner's message counter and stamps last_reset_at,
// whether or not the owner was already reset this month.
func (l *Ledger) ResetMonthly(ctx context.Context, ownerID string) error {
	return l.store.ResetMonthly(ctx, ownerID, l.now())
}

// ResetAll runs the monthly reset for every owner not yet reset this month.
func (l *Ledger) ResetAll(ctx context.Context) (int, error) {
	n, err := l.store.ResetAllMonthly(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("reset all: %w", err)
	}
	l.logger.Printf("[Quota] monthly reset applied to %d owners", n)
	return n, nil
}
