// Package subscription implements the plan and status transitions of a user subscription.
package subscription

import (
	"errors"
	"time"

	"github.com/mystartupai/creditledger/internal/models"
)

// ErrInvalidTransition indicates the requested transition is not allowed from the current status.
var ErrInvalidTransition = errors.New("invalid subscription transition")

// State is the subscription slice of a user row.
type State struct {
	Plan               string
	Status             string
	NextBillingDate    *time.Time
	CreditsResetDate   *time.Time
	MonthlyCreditsUsed int64
}

// FromUser extracts the subscription state of u.
func FromUser(u *models.User) State {
	if u == nil {
		return State{Plan: models.PlanFreemium, Status: models.SubscriptionNone}
	}
	state := State{
		Plan:               u.CurrentPlan,
		Status:             u.SubscriptionStatus,
		NextBillingDate:    u.NextBillingDate,
		CreditsResetDate:   u.CreditsResetDate,
		MonthlyCreditsUsed: u.MonthlyCreditsUsed,
	}
	if state.Plan == "" {
		state.Plan = models.PlanFreemium
	}
	if state.Status == "" {
		state.Status = models.SubscriptionNone
	}
	return state
}

// Updates returns the user column updates that persist s.
func (s State) Updates() map[string]any {
	return map[string]any{
		"current_plan":         s.Plan,
		"subscription_status":  s.Status,
		"next_billing_date":    s.NextBillingDate,
		"credits_reset_date":   s.CreditsResetDate,
		"monthly_credits_used": s.MonthlyCreditsUsed,
	}
}

// ApplyTo copies s onto u.
func (s State) ApplyTo(u *models.User) {
	if u == nil {
		return
	}
	u.CurrentPlan = s.Plan
	u.SubscriptionStatus = s.Status
	u.NextBillingDate = s.NextBillingDate
	u.CreditsResetDate = s.CreditsResetDate
	u.MonthlyCreditsUsed = s.MonthlyCreditsUsed
}

// Purchase applies a verified plan purchase.
// From none or expired the subscription starts a new period; otherwise the plan
// changes and the paid period is extended by one month.
func Purchase(s State, plan string, now time.Time) State {
	now = now.UTC()
	next := s
	next.Plan = plan
	switch s.Status {
	case models.SubscriptionActive, models.SubscriptionCancelAtPeriodEnd:
		next.Status = models.SubscriptionActive
		base := now
		if s.NextBillingDate != nil && s.NextBillingDate.After(now) {
			base = s.NextBillingDate.UTC()
		}
		next.NextBillingDate = timePtr(AddMonths(base, 1))
		if next.CreditsResetDate == nil {
			next.CreditsResetDate = timePtr(AddMonths(now, 1))
		}
	default:
		next.Status = models.SubscriptionActive
		next.NextBillingDate = timePtr(AddMonths(now, 1))
		next.CreditsResetDate = timePtr(AddMonths(now, 1))
		next.MonthlyCreditsUsed = 0
	}
	return next
}

// Cancel schedules an active subscription to end with the current period.
func Cancel(s State, now time.Time) (State, error) {
	if s.Status != models.SubscriptionActive {
		return s, ErrInvalidTransition
	}
	next := s
	next.Status = models.SubscriptionCancelAtPeriodEnd
	return next, nil
}

// Reactivate resumes a subscription scheduled for cancellation, keeping its billing date.
func Reactivate(s State, now time.Time) (State, error) {
	if s.Status != models.SubscriptionCancelAtPeriodEnd {
		return s, ErrInvalidTransition
	}
	if s.NextBillingDate != nil && !now.Before(*s.NextBillingDate) {
		return s, ErrInvalidTransition
	}
	next := s
	next.Status = models.SubscriptionActive
	return next, nil
}

// Change describes what Advance did.
type Change struct {
	Expired bool
	Reset   bool
	Months  int
}

// Advance applies the time-driven transitions due at now: a cancelled
// subscription expires back to FREEMIUM at its billing date, while an active or
// cancelled-but-paid one rolls its reset date forward by whole months and clears
// the overage counter. Active subscriptions also roll their billing date. Months
// is the number of elapsed periods folded into the rollover.
func Advance(s State, now time.Time) (State, Change) {
	now = now.UTC()
	switch s.Status {
	case models.SubscriptionCancelAtPeriodEnd:
		if s.NextBillingDate != nil && !now.Before(*s.NextBillingDate) {
			next := s
			next.Status = models.SubscriptionExpired
			next.Plan = models.PlanFreemium
			next.MonthlyCreditsUsed = 0
			next.CreditsResetDate = nil
			return next, Change{Expired: true}
		}
		if !resetDue(s, now) {
			return s, Change{}
		}
		next, months := rollReset(s, now)
		return next, Change{Reset: true, Months: months}
	case models.SubscriptionActive:
		if !resetDue(s, now) {
			return s, Change{}
		}
		next, months := rollReset(s, now)
		if s.NextBillingDate != nil && !s.NextBillingDate.After(now) {
			billing := s.NextBillingDate.UTC()
			for !billing.After(now) {
				billing = AddMonths(billing, 1)
			}
			next.NextBillingDate = timePtr(billing)
		}
		return next, Change{Reset: true, Months: months}
	default:
		return s, Change{}
	}
}

func resetDue(s State, now time.Time) bool {
	return s.CreditsResetDate != nil && !now.Before(*s.CreditsResetDate)
}

// rollReset moves the reset date past now and clears the monthly counter.
func rollReset(s State, now time.Time) (State, int) {
	next := s
	months := 0
	reset := s.CreditsResetDate.UTC()
	for !reset.After(now) {
		reset = AddMonths(reset, 1)
		months++
	}
	next.CreditsResetDate = timePtr(reset)
	next.MonthlyCreditsUsed = 0
	return next, months
}

// Due reports whether Advance would change s at now.
func Due(s State, now time.Time) bool {
	_, change := Advance(s, now)
	return change.Expired || change.Reset
}

// AddMonths adds n calendar months to t, clamping the day to the end of the
// target month so Jan 31 + 1 month is the last day of February.
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
