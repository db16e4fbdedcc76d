package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mystartupai/creditledger/internal/db"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/subscription"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Purchase is a verified on-chain payment to be credited.
type Purchase struct {
	UserID        uint64
	Reference     string
	Signature     string
	PackageType   string
	Credits       int64
	Plan          string // Subscription plan activated by the package; empty for top-ups.
	PaymentMethod string // models.PaymentMethodSolanaSOL or models.PaymentMethodSolanaUSDC.
	Currency      string
	PaymentAmount decimal.Decimal
	Metadata      map[string]any
}

// PurchaseResult reports the outcome of ApplyPurchase.
type PurchaseResult struct {
	Balance int64
	// AlreadyApplied is set when the intent had been consumed before this call.
	AlreadyApplied bool
	Transaction    *models.CreditTransaction
	User           *models.User
}

// ApplyPurchase consumes the pending intent identified by Reference and credits
// the user in one transaction. A second call for the same reference is a no-op
// that returns the current balance with AlreadyApplied set.
func (s *Store) ApplyPurchase(ctx context.Context, p Purchase) (PurchaseResult, error) {
	if p.Credits <= 0 {
		return PurchaseResult{}, ErrInvalidAmount
	}
	p.Reference = strings.TrimSpace(p.Reference)
	p.Signature = strings.TrimSpace(p.Signature)
	if p.Reference == "" {
		return PurchaseResult{}, ErrIntentNotFound
	}
	now := s.Now()

	var result PurchaseResult
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.Signature != "" {
			var prior models.CreditTransaction
			errPrior := tx.Where("transaction_hash = ?", p.Signature).Take(&prior).Error
			switch {
			case errPrior == nil:
				if prior.PaymentReference == nil || *prior.PaymentReference != p.Reference {
					return ErrDuplicateSettlement
				}
			case !errors.Is(errPrior, gorm.ErrRecordNotFound):
				return errPrior
			}
		}

		updates := map[string]any{
			"status":      models.PaymentIntentConsumed,
			"consumed_at": now,
		}
		if p.Signature != "" {
			updates["signature"] = p.Signature
		}
		res := tx.Model(&models.PaymentIntent{}).
			Where("reference = ? AND user_id = ? AND status = ?", p.Reference, p.UserID, models.PaymentIntentPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			applied, errApplied := loadApplied(tx, p.UserID, p.Reference)
			if errApplied != nil {
				return errApplied
			}
			result = applied
			return nil
		}

		user, errLock := lockUser(tx, p.UserID)
		if errLock != nil {
			return errLock
		}
		balance := user.Credits + p.Credits
		entry := models.CreditTransaction{
			UserID:           user.ID,
			Type:             models.CreditTransactionPurchase,
			Amount:           p.Credits,
			Balance:          balance,
			Description:      purchaseDescription(p),
			PaymentMethod:    optionalString(p.PaymentMethod),
			PaymentAmount:    decimal.NullDecimal{Decimal: p.PaymentAmount, Valid: !p.PaymentAmount.IsZero()},
			Currency:         optionalString(p.Currency),
			TransactionHash:  optionalString(p.Signature),
			PaymentStatus:    optionalString(models.PaymentStatusCompleted),
			PaymentReference: optionalString(p.Reference),
			Metadata:         marshalMetadata(p.Metadata),
		}
		if errCreate := tx.Create(&entry).Error; errCreate != nil {
			return errCreate
		}

		var extra map[string]any
		if p.Plan != "" {
			next := subscription.Purchase(subscription.FromUser(user), p.Plan, now)
			extra = next.Updates()
			next.ApplyTo(user)
		}
		if errUpdate := setCredits(tx, user, balance, extra); errUpdate != nil {
			return errUpdate
		}
		result = PurchaseResult{Balance: balance, Transaction: &entry, User: user}
		return nil
	})
	if errTx != nil {
		if db.IsUniqueViolation(errTx) {
			// A concurrent settlement won the unique payment_reference or transaction_hash.
			applied, errApplied := loadApplied(s.db.WithContext(ctx), p.UserID, p.Reference)
			if errApplied == nil && applied.Transaction != nil {
				return applied, nil
			}
			return PurchaseResult{}, ErrDuplicateSettlement
		}
		return PurchaseResult{}, classify("apply purchase", errTx)
	}
	return result, nil
}

// loadApplied resolves an intent that is no longer pending.
func loadApplied(conn *gorm.DB, userID uint64, reference string) (PurchaseResult, error) {
	var intent models.PaymentIntent
	if errFind := conn.Where("reference = ? AND user_id = ?", reference, userID).Take(&intent).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return PurchaseResult{}, ErrIntentNotFound
		}
		return PurchaseResult{}, errFind
	}
	if intent.Status != models.PaymentIntentConsumed {
		return PurchaseResult{}, fmt.Errorf("ledger: intent %s in unexpected status %q", reference, intent.Status)
	}

	var user models.User
	if errUser := conn.Where("id = ?", userID).Take(&user).Error; errUser != nil {
		if errors.Is(errUser, gorm.ErrRecordNotFound) {
			return PurchaseResult{}, ErrUserNotFound
		}
		return PurchaseResult{}, errUser
	}
	result := PurchaseResult{Balance: user.Credits, AlreadyApplied: true, User: &user}

	var entry models.CreditTransaction
	errEntry := conn.Where("payment_reference = ?", reference).Take(&entry).Error
	switch {
	case errEntry == nil:
		result.Transaction = &entry
	case !errors.Is(errEntry, gorm.ErrRecordNotFound):
		return PurchaseResult{}, errEntry
	}
	return result, nil
}

// SettledBySignature returns the purchase entry a signature settled, if any.
func (s *Store) SettledBySignature(ctx context.Context, userID uint64, signature string) (*models.CreditTransaction, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, nil
	}
	var entry models.CreditTransaction
	errFind := s.db.WithContext(ctx).
		Where("transaction_hash = ? AND user_id = ?", signature, userID).
		Take(&entry).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: find settlement: %w", errFind)
	}
	return &entry, nil
}

func purchaseDescription(p Purchase) string {
	packageType := strings.TrimSpace(p.PackageType)
	if packageType == "" {
		return fmt.Sprintf("Purchased %d credits", p.Credits)
	}
	return fmt.Sprintf("Purchased %d credits (%s)", p.Credits, packageType)
}
