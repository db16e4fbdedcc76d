package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mystartupai/creditledger/internal/catalog"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/subscription"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CancelSubscription schedules the user's subscription to end with the paid period.
func (s *Store) CancelSubscription(ctx context.Context, userID uint64) (*models.User, error) {
	return s.transition(ctx, userID, "cancel subscription", subscription.Cancel)
}

// ReactivateSubscription clears a pending cancellation.
func (s *Store) ReactivateSubscription(ctx context.Context, userID uint64) (*models.User, error) {
	return s.transition(ctx, userID, "reactivate subscription", subscription.Reactivate)
}

func (s *Store) transition(ctx context.Context, userID uint64, op string, apply func(subscription.State, time.Time) (subscription.State, error)) (*models.User, error) {
	now := s.Now()
	var updated *models.User
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errLock := lockUser(tx, userID)
		if errLock != nil {
			return errLock
		}
		next, errApply := apply(subscription.FromUser(user), now)
		if errApply != nil {
			return errApply
		}
		if errUpdate := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(next.Updates()).Error; errUpdate != nil {
			return errUpdate
		}
		next.ApplyTo(user)
		updated = user
		return nil
	})
	if errTx != nil {
		return nil, classify(op, errTx)
	}
	return updated, nil
}

// RolloverReport summarizes a RunRollover pass.
type RolloverReport struct {
	Expired int   `json:"expired"`
	Reset   int   `json:"reset"`
	Granted int64 `json:"granted"`
	Failed  int   `json:"failed"`
}

// RunRollover expires lapsed cancellations and rolls paid subscriptions whose
// reset date passed, granting the plan allotment once per rollover. A
// subscription cancelled at period end keeps rolling until the period ends.
// Each user is processed in its own transaction.
func (s *Store) RunRollover(ctx context.Context) (RolloverReport, error) {
	now := s.Now()
	var ids []uint64
	if errFind := s.db.WithContext(ctx).Model(&models.User{}).
		Where("(subscription_status = ? AND (next_billing_date <= ? OR credits_reset_date <= ?)) OR (subscription_status = ? AND credits_reset_date <= ?)",
			models.SubscriptionCancelAtPeriodEnd, now, now, models.SubscriptionActive, now).
		Order("id ASC").
		Pluck("id", &ids).Error; errFind != nil {
		return RolloverReport{}, fmt.Errorf("ledger: rollover candidates: %w", errFind)
	}

	var report RolloverReport
	var errs []error
	for _, id := range ids {
		if errCtx := ctx.Err(); errCtx != nil {
			errs = append(errs, errCtx)
			break
		}
		change, granted, errUser := s.rolloverUser(ctx, id, now)
		if errUser != nil {
			report.Failed++
			errs = append(errs, errUser)
			log.WithError(errUser).WithField("user_id", id).Warn("ledger: rollover failed")
			continue
		}
		if change.Expired {
			report.Expired++
		}
		if change.Reset {
			report.Reset++
		}
		report.Granted += granted
	}
	return report, errors.Join(errs...)
}

func (s *Store) rolloverUser(ctx context.Context, userID uint64, now time.Time) (subscription.Change, int64, error) {
	var change subscription.Change
	var granted int64
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errLock := lockUser(tx, userID)
		if errLock != nil {
			return errLock
		}
		next, applied := subscription.Advance(subscription.FromUser(user), now)
		if !applied.Expired && !applied.Reset {
			return nil
		}
		change = applied

		balance := user.Credits
		if applied.Reset {
			if allotment := catalog.PlanAllotment(next.Plan); allotment > 0 {
				balance += allotment
				entry := models.CreditTransaction{
					UserID:      user.ID,
					Type:        models.CreditTransactionBonus,
					Amount:      allotment,
					Balance:     balance,
					Description: fmt.Sprintf("Monthly %s allotment", next.Plan),
					Metadata:    marshalMetadata(map[string]any{"rollover": true, "months": applied.Months}),
				}
				if errCreate := tx.Create(&entry).Error; errCreate != nil {
					return errCreate
				}
				granted = allotment
			}
		}
		return setCredits(tx, user, balance, next.Updates())
	})
	if errTx != nil {
		return subscription.Change{}, 0, classify("rollover", errTx)
	}
	return change, granted, nil
}
