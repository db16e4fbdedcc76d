package payments

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mystartupai/creditledger/internal/catalog"
	"github.com/mystartupai/creditledger/internal/chain"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/metrics"
	"github.com/mystartupai/creditledger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// VerifyRequest identifies the payment to settle. Either Signature or
// Reference must be set.
type VerifyRequest struct {
	UserID        uint64
	Signature     string
	Reference     string
	PackageType   string
	PaymentMethod string
}

// VerifyResult reports a settlement.
type VerifyResult struct {
	Success          bool   `json:"success"`
	AlreadyProcessed bool   `json:"alreadyProcessed"`
	Reference        string `json:"reference"`
	Signature        string `json:"signature"`
	PackageType      string `json:"packageType"`
	CreditsAdded     int64  `json:"creditsAdded"`
	Balance          int64  `json:"newBalance"`
	TransactionID    uint64 `json:"transactionId,omitempty"`
}

// signatureScanLimit bounds the reference lookup when no signature is supplied.
const signatureScanLimit = 10

// Verify settles a payment for the requesting user. It is safe to call
// repeatedly: once the intent is consumed further calls report AlreadyProcessed.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (result VerifyResult, err error) {
	started := time.Now()
	method := strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	defer func() {
		metrics.Default().RecordVerification(method, verifyOutcome(result, err), time.Since(started))
	}()

	req.Signature = strings.TrimSpace(req.Signature)
	req.Reference = strings.TrimSpace(req.Reference)
	if req.Signature == "" && req.Reference == "" {
		return VerifyResult{}, ErrMissingSignature
	}
	if req.Signature != "" {
		if _, errSig := chain.ParseSignature(req.Signature); errSig != nil {
			return VerifyResult{}, errSig
		}
		settled, errSettled := s.store.SettledBySignature(ctx, req.UserID, req.Signature)
		if errSettled != nil {
			return VerifyResult{}, errSettled
		}
		if settled != nil {
			return s.alreadyProcessed(ctx, req.UserID, settled)
		}
	}

	intent, tx, errLocate := s.locate(ctx, req)
	if errLocate != nil {
		return VerifyResult{}, errLocate
	}
	method = intent.PaymentMethod
	if intent.Status == models.PaymentIntentConsumed {
		return s.consumed(ctx, req.UserID, intent)
	}
	if intent.Expired(s.clock()) {
		return VerifyResult{}, ErrIntentExpired
	}
	if reason := matchRequest(intent, req.PackageType, req.PaymentMethod); reason != "" {
		return VerifyResult{}, s.reject(ctx, intent, reason)
	}
	return s.settle(ctx, intent, tx)
}

// Reconcile settles reference on behalf of an operator. Unlike Verify it
// accepts expired intents so late but valid payments can still be credited.
func (s *Service) Reconcile(ctx context.Context, reference, signature string) (VerifyResult, error) {
	intent, errIntent := s.findIntent(ctx, 0, reference)
	if errIntent != nil {
		return VerifyResult{}, errIntent
	}
	if intent.Status == models.PaymentIntentConsumed {
		return s.consumed(ctx, intent.UserID, intent)
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		found, errFind := s.signatureFor(ctx, intent.Reference)
		if errFind != nil {
			return VerifyResult{}, errFind
		}
		signature = found
	}
	tx, errTx := s.confirmed(ctx, signature)
	if errTx != nil {
		if errors.Is(errTx, ErrPaymentMismatch) {
			return VerifyResult{}, s.reject(ctx, intent, errTx.Error())
		}
		return VerifyResult{}, errTx
	}
	log.WithFields(log.Fields{"reference": intent.Reference, "signature": signature}).Info("reconciling payment intent")
	return s.settle(ctx, intent, tx)
}

// locate resolves the intent and its confirmed transaction for req.
func (s *Service) locate(ctx context.Context, req VerifyRequest) (*models.PaymentIntent, *chain.Transaction, error) {
	if req.Reference != "" {
		intent, errIntent := s.findIntent(ctx, req.UserID, req.Reference)
		if errIntent != nil {
			return nil, nil, errIntent
		}
		if intent.Status == models.PaymentIntentConsumed || intent.Expired(s.clock()) {
			return intent, nil, nil
		}
		signature := req.Signature
		if signature == "" {
			found, errFind := s.signatureFor(ctx, intent.Reference)
			if errFind != nil {
				return nil, nil, errFind
			}
			signature = found
		}
		tx, errTx := s.confirmed(ctx, signature)
		if errTx != nil {
			if errors.Is(errTx, ErrPaymentMismatch) {
				return nil, nil, s.reject(ctx, intent, errTx.Error())
			}
			return nil, nil, errTx
		}
		return intent, tx, nil
	}

	tx, errTx := s.confirmed(ctx, req.Signature)
	if errTx != nil {
		return nil, nil, errTx
	}
	var pending []models.PaymentIntent
	errFind := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", req.UserID, models.PaymentIntentPending).
		Order("id DESC").
		Find(&pending).Error
	if errFind != nil {
		return nil, nil, fmt.Errorf("payments: list pending intents: %w", errFind)
	}
	for i := range pending {
		if tx.HasAccount(pending[i].Reference) {
			return &pending[i], tx, nil
		}
	}
	return nil, nil, ErrIntentNotFound
}

// signatureFor finds the most recent signature that touched reference.
func (s *Service) signatureFor(ctx context.Context, reference string) (string, error) {
	signatures, errSigs := s.chain.SignaturesForAddress(ctx, reference, signatureScanLimit)
	if errSigs != nil {
		return "", fmt.Errorf("payments: signatures for reference: %w", errSigs)
	}
	if len(signatures) == 0 {
		return "", ErrNotConfirmed
	}
	return signatures[0], nil
}

// confirmed waits for signature to settle and fetches it.
func (s *Service) confirmed(ctx context.Context, signature string) (*chain.Transaction, error) {
	status, errAwait := s.watcher.Await(ctx, signature, s.cfg.VerifyWait)
	if errAwait != nil {
		return nil, errAwait
	}
	if status.Status == chain.StatusFailed {
		return nil, fmt.Errorf("%w: transaction failed on-chain: %s", ErrPaymentMismatch, status.Err)
	}
	tx, errTx := s.chain.Transaction(ctx, signature)
	if errTx != nil {
		if errors.Is(errTx, chain.ErrTransactionNotFound) {
			return nil, ErrNotConfirmed
		}
		return nil, fmt.Errorf("payments: fetch transaction: %w", errTx)
	}
	if tx.Failed {
		return nil, fmt.Errorf("%w: transaction failed on-chain: %s", ErrPaymentMismatch, tx.Err)
	}
	return tx, nil
}

// validate checks that tx pays the intent in full.
func (s *Service) validate(intent *models.PaymentIntent, tx *chain.Transaction) string {
	if !tx.HasAccount(intent.Reference) {
		return "transaction does not reference the payment intent"
	}
	if s.cfg.Treasury != "" && intent.Recipient != s.cfg.Treasury {
		return "intent recipient is not the configured treasury"
	}
	var received, toleranceBps int64
	switch Method(intent.PaymentMethod) {
	case MethodSOL:
		received = tx.NativeDelta(intent.Recipient)
		toleranceBps = s.cfg.SOLToleranceBps
	case MethodUSDC:
		if intent.Mint == nil {
			return "intent has no token mint"
		}
		received = tx.TokenDelta(intent.Recipient, *intent.Mint)
		toleranceBps = s.cfg.USDCToleranceBps
	default:
		return fmt.Sprintf("unsupported payment method %s", intent.PaymentMethod)
	}
	required := intent.AmountBaseUnits - intent.AmountBaseUnits*toleranceBps/10000
	if received < required {
		return fmt.Sprintf("recipient received %d base units, expected at least %d", received, required)
	}
	return ""
}

// settle validates tx against intent and credits the ledger.
func (s *Service) settle(ctx context.Context, intent *models.PaymentIntent, tx *chain.Transaction) (VerifyResult, error) {
	if reason := s.validate(intent, tx); reason != "" {
		return VerifyResult{}, s.reject(ctx, intent, reason)
	}
	pkg, errPkg := catalog.Lookup(intent.PackageType)
	if errPkg != nil {
		return VerifyResult{}, errPkg
	}
	m := Method(intent.PaymentMethod)
	purchase := ledger.Purchase{
		UserID:        intent.UserID,
		Reference:     intent.Reference,
		Signature:     tx.Signature,
		PackageType:   intent.PackageType,
		Credits:       intent.Credits,
		Plan:          pkg.Plan,
		PaymentMethod: m.LedgerMethod(),
		Currency:      string(m),
		PaymentAmount: intent.Amount,
		Metadata: map[string]any{
			"slot":            tx.Slot,
			"amountBaseUnits": intent.AmountBaseUnits,
			"usdPrice":        intent.USDPrice.String(),
		},
	}

	applied, errApply := s.applyWithRetry(ctx, purchase)
	if errApply != nil {
		if errors.Is(errApply, ledger.ErrDuplicateSettlement) {
			return VerifyResult{}, s.reject(ctx, intent, "signature already settled another payment")
		}
		return VerifyResult{}, errApply
	}

	result := VerifyResult{
		Success:          true,
		AlreadyProcessed: applied.AlreadyApplied,
		Reference:        intent.Reference,
		Signature:        tx.Signature,
		PackageType:      intent.PackageType,
		Balance:          applied.Balance,
	}
	if applied.Transaction != nil {
		result.TransactionID = applied.Transaction.ID
		if applied.Transaction.TransactionHash != nil {
			result.Signature = *applied.Transaction.TransactionHash
		}
	}
	if !applied.AlreadyApplied {
		result.CreditsAdded = intent.Credits
		metrics.Default().RecordPurchase(intent.PackageType, intent.Credits)
		log.WithFields(log.Fields{
			"user_id":   intent.UserID,
			"reference": intent.Reference,
			"signature": tx.Signature,
			"credits":   intent.Credits,
			"balance":   applied.Balance,
		}).Info("payment settled")
	}
	return result, nil
}

// applyWithRetry retries transient ledger write failures with backoff.
func (s *Service) applyWithRetry(ctx context.Context, purchase ledger.Purchase) (ledger.PurchaseResult, error) {
	var lastErr error
	for attempt := 0; attempt < ledgerAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.retry.Delay(attempt-1, rand.Float64()))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ledger.PurchaseResult{}, ctx.Err()
			case <-timer.C:
			}
		}
		result, errApply := s.store.ApplyPurchase(ctx, purchase)
		if errApply == nil {
			return result, nil
		}
		if !errors.Is(errApply, ledger.ErrLedgerWriteFailed) {
			return ledger.PurchaseResult{}, errApply
		}
		lastErr = errApply
		log.WithError(errApply).WithField("reference", purchase.Reference).Warn("ledger write failed, retrying")
	}
	return ledger.PurchaseResult{}, lastErr
}

// reject records a failed attempt on the still pending intent.
func (s *Service) reject(ctx context.Context, intent *models.PaymentIntent, reason string) error {
	reason = strings.TrimPrefix(reason, ErrPaymentMismatch.Error()+": ")
	errUpdate := s.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", intent.ID, models.PaymentIntentPending).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
	if errUpdate != nil {
		log.WithError(errUpdate).WithField("reference", intent.Reference).Warn("failed to record payment rejection")
	}
	log.WithFields(log.Fields{"reference": intent.Reference, "user_id": intent.UserID}).Warnf("payment rejected: %s", reason)
	return fmt.Errorf("%w: %s", ErrPaymentMismatch, reason)
}

func (s *Service) consumed(ctx context.Context, userID uint64, intent *models.PaymentIntent) (VerifyResult, error) {
	balance, errBalance := s.store.Balance(ctx, userID)
	if errBalance != nil {
		return VerifyResult{}, errBalance
	}
	result := VerifyResult{
		Success:          true,
		AlreadyProcessed: true,
		Reference:        intent.Reference,
		PackageType:      intent.PackageType,
		Balance:          balance,
	}
	if intent.Signature != nil {
		result.Signature = *intent.Signature
	}
	return result, nil
}

func (s *Service) alreadyProcessed(ctx context.Context, userID uint64, entry *models.CreditTransaction) (VerifyResult, error) {
	balance, errBalance := s.store.Balance(ctx, userID)
	if errBalance != nil {
		return VerifyResult{}, errBalance
	}
	result := VerifyResult{
		Success:          true,
		AlreadyProcessed: true,
		Balance:          balance,
		TransactionID:    entry.ID,
	}
	if entry.PaymentReference != nil {
		result.Reference = *entry.PaymentReference
	}
	if entry.TransactionHash != nil {
		result.Signature = *entry.TransactionHash
	}
	return result, nil
}

func verifyOutcome(result VerifyResult, err error) string {
	switch {
	case err == nil && result.AlreadyProcessed:
		return "already_processed"
	case err == nil:
		return "credited"
	case errors.Is(err, ErrNotConfirmed):
		return "not_confirmed"
	case errors.Is(err, ErrPaymentMismatch):
		return "mismatch"
	case errors.Is(err, ErrIntentExpired):
		return "expired"
	case errors.Is(err, ErrIntentNotFound):
		return "not_found"
	default:
		return "error"
	}
}
