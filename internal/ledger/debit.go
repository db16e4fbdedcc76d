package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/mystartupai/creditledger/internal/models"
	"gorm.io/gorm"
)

// DebitRequest charges a metered feature.
type DebitRequest struct {
	UserID        uint64
	Amount        int64
	Feature       string
	RelatedIdeaID string
	Description   string
}

// DebitResult reports the outcome of a debit.
type DebitResult struct {
	Balance int64
	// Charged is the number of credits actually taken from the balance.
	Charged int64
	// Overage is the part of the request billed to the monthly overage counter.
	Overage     int64
	Transaction *models.CreditTransaction
}

// HasOverage reports whether part of the debit was not covered by the balance.
func (r DebitResult) HasOverage() bool { return r.Overage > 0 }

// Debit takes Amount credits from the user. When the balance is short and the
// subscription is active the balance drops to zero and the shortfall is added to
// monthly_credits_used; otherwise the debit fails with ErrInsufficientCredits and
// nothing is written.
func (s *Store) Debit(ctx context.Context, req DebitRequest) (DebitResult, error) {
	if req.Amount <= 0 {
		return DebitResult{}, ErrInvalidAmount
	}
	feature := strings.TrimSpace(req.Feature)

	var result DebitResult
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errLock := lockUser(tx, req.UserID)
		if errLock != nil {
			return errLock
		}

		charged := req.Amount
		overage := int64(0)
		if user.Credits < req.Amount {
			if user.SubscriptionStatus != models.SubscriptionActive {
				return ErrInsufficientCredits
			}
			charged = user.Credits
			overage = req.Amount - user.Credits
		}

		balance := user.Credits - charged
		entry := models.CreditTransaction{
			UserID:        user.ID,
			Type:          models.CreditTransactionUsage,
			Amount:        -charged,
			Balance:       balance,
			Description:   debitDescription(req.Description, feature, req.Amount, overage),
			FeatureUsed:   optionalString(feature),
			RelatedIdeaID: optionalString(req.RelatedIdeaID),
			Overage:       overage,
		}
		if errCreate := tx.Create(&entry).Error; errCreate != nil {
			return errCreate
		}

		var extra map[string]any
		if overage > 0 {
			extra = map[string]any{"monthly_credits_used": gorm.Expr("monthly_credits_used + ?", overage)}
		}
		if errUpdate := setCredits(tx, user, balance, extra); errUpdate != nil {
			return errUpdate
		}
		result = DebitResult{Balance: balance, Charged: charged, Overage: overage, Transaction: &entry}
		return nil
	})
	if errTx != nil {
		return DebitResult{}, classify("debit", errTx)
	}
	return result, nil
}

func debitDescription(description, feature string, amount, overage int64) string {
	if description = strings.TrimSpace(description); description != "" {
		return description
	}
	if feature == "" {
		feature = "usage"
	}
	if overage > 0 {
		return fmt.Sprintf("Used %d credits for %s (%d overage)", amount, feature, overage)
	}
	return fmt.Sprintf("Used %d credits for %s", amount, feature)
}
