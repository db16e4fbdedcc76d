package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mystartupai/creditledger/internal/catalog"
	"github.com/mystartupai/creditledger/internal/chain"
	"github.com/mystartupai/creditledger/internal/metrics"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PaymentRequest is an issued intent rendered for the client.
type PaymentRequest struct {
	URL           string          `json:"url"`
	Reference     string          `json:"reference"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	AmountBase    int64           `json:"amountBaseUnits"`
	Mint          string          `json:"splToken,omitempty"`
	PackageType   string          `json:"packageType"`
	PaymentMethod Method          `json:"paymentMethod"`
	Credits       int64           `json:"credits"`
	USDPrice      decimal.Decimal `json:"usdPrice"`
	ExpiresAt     time.Time       `json:"expiresAt"`
}

// IntentStatus is the client view of an intent.
type IntentStatus struct {
	Reference     string          `json:"reference"`
	Status        string          `json:"status"`
	PackageType   string          `json:"packageType"`
	PaymentMethod string          `json:"paymentMethod"`
	Amount        decimal.Decimal `json:"amount"`
	Credits       int64           `json:"credits"`
	Signature     string          `json:"signature,omitempty"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	ConsumedAt    *time.Time      `json:"consumedAt,omitempty"`
}

// Intent status values reported by Status; expired is derived.
const (
	IntentStatusPending  = models.PaymentIntentPending
	IntentStatusConsumed = models.PaymentIntentConsumed
	IntentStatusExpired  = "expired"
)

// quoteAmount converts a USD price into the payment currency, rounding up to
// the currency precision so the treasury never receives less than the price.
func quoteAmount(priceUSD, rate decimal.Decimal, method Method) (decimal.Decimal, int64, error) {
	if !rate.IsPositive() {
		return decimal.Zero, 0, ErrPricingUnavailable
	}
	amount := priceUSD.Div(rate).RoundCeil(method.Decimals())
	base := amount.Shift(method.Decimals()).IntPart()
	if base <= 0 {
		return decimal.Zero, 0, fmt.Errorf("payments: quote rounds to zero")
	}
	return amount, base, nil
}

// CreatePaymentRequest issues a pending intent for packageType paid in method.
func (s *Service) CreatePaymentRequest(ctx context.Context, userID uint64, packageType, method string) (*PaymentRequest, error) {
	pkg, errPkg := catalog.Lookup(packageType)
	if errPkg != nil {
		return nil, errPkg
	}
	m, errMethod := ParseMethod(method)
	if errMethod != nil {
		return nil, errMethod
	}
	if _, errUser := s.store.GetUser(ctx, userID); errUser != nil {
		return nil, errUser
	}
	if m == MethodUSDC && strings.TrimSpace(s.cfg.USDCMint) == "" {
		return nil, fmt.Errorf("%w: usdc mint not configured", ErrInvalidPaymentMethod)
	}

	quote, errQuote := s.prices.SpotUSD(ctx, m.Symbol())
	if errQuote != nil {
		return nil, errQuote
	}
	amount, base, errAmount := quoteAmount(pkg.PriceUSD, quote.USDPrice, m)
	if errAmount != nil {
		return nil, errAmount
	}
	reference, errRef := chain.NewReference()
	if errRef != nil {
		return nil, errRef
	}

	now := s.clock()
	intent := models.PaymentIntent{
		Reference:       reference,
		UserID:          userID,
		PackageType:     pkg.Type,
		PaymentMethod:   string(m),
		Credits:         pkg.Credits,
		Amount:          amount,
		AmountBaseUnits: base,
		USDPrice:        pkg.PriceUSD,
		Recipient:       s.cfg.Treasury,
		Status:          models.PaymentIntentPending,
		ExpiresAt:       now.Add(s.cfg.IntentTTL),
	}
	if m == MethodSOL {
		intent.QuoteRate = decimal.NullDecimal{Decimal: quote.USDPrice, Valid: true}
	} else {
		mint := s.cfg.USDCMint
		intent.Mint = &mint
	}
	if errCreate := s.db.WithContext(ctx).Create(&intent).Error; errCreate != nil {
		return nil, fmt.Errorf("payments: create intent: %w", errCreate)
	}

	metrics.Default().RecordIntentCreated(pkg.Type, string(m))
	log.WithFields(log.Fields{
		"user_id":   userID,
		"reference": reference,
		"package":   pkg.Type,
		"method":    m,
		"amount":    amount.String(),
	}).Info("payment intent issued")

	req := &PaymentRequest{
		Reference:     reference,
		Recipient:     intent.Recipient,
		Amount:        amount,
		AmountBase:    base,
		PackageType:   pkg.Type,
		PaymentMethod: m,
		Credits:       pkg.Credits,
		USDPrice:      pkg.PriceUSD,
		ExpiresAt:     intent.ExpiresAt,
	}
	if intent.Mint != nil {
		req.Mint = *intent.Mint
	}
	req.URL = chain.PayRequest{
		Recipient: req.Recipient,
		Amount:    amount,
		Reference: reference,
		Mint:      req.Mint,
		Label:     s.label(),
		Message:   fmt.Sprintf("%s (%d credits)", pkg.Name, pkg.Credits),
	}.URL()
	return req, nil
}

// TransactionRequest asks for an unsigned transfer for an existing intent.
type TransactionRequest struct {
	UserID        uint64
	From          string
	Reference     string
	PackageType   string
	PaymentMethod string
}

// BuildTransaction returns the base64 unsigned transaction paying intent Reference.
func (s *Service) BuildTransaction(ctx context.Context, req TransactionRequest) (string, error) {
	if errAddr := chain.ValidateAddress(req.From); errAddr != nil {
		return "", errAddr
	}
	intent, errIntent := s.findIntent(ctx, req.UserID, req.Reference)
	if errIntent != nil {
		return "", errIntent
	}
	if intent.Status == models.PaymentIntentConsumed {
		return "", ErrAlreadyConsumed
	}
	if intent.Expired(s.clock()) {
		return "", ErrIntentExpired
	}
	if reason := matchRequest(intent, req.PackageType, req.PaymentMethod); reason != "" {
		return "", fmt.Errorf("%w: %s", ErrPaymentMismatch, reason)
	}

	transfer := chain.Transfer{
		From:      req.From,
		Recipient: intent.Recipient,
		Reference: intent.Reference,
		Amount:    uint64(intent.AmountBaseUnits),
	}
	if intent.Mint != nil {
		transfer.Mint = *intent.Mint
		transfer.Decimals = uint8(MethodUSDC.Decimals())
	}
	return chain.BuildTransfer(ctx, s.chain, transfer)
}

// Status reports the state of one of the user's intents.
func (s *Service) Status(ctx context.Context, userID uint64, reference string) (IntentStatus, error) {
	intent, errIntent := s.findIntent(ctx, userID, reference)
	if errIntent != nil {
		return IntentStatus{}, errIntent
	}
	return s.describe(intent), nil
}

// IntentFilter narrows ListIntents.
type IntentFilter struct {
	UserID uint64
	Status string // pending, consumed, expired or empty for all.
	Limit  int
	Offset int
}

// ListIntents returns intents newest first.
func (s *Service) ListIntents(ctx context.Context, filter IntentFilter) ([]IntentStatus, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	now := s.clock()
	q := s.db.WithContext(ctx).Model(&models.PaymentIntent{})
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	switch strings.ToLower(strings.TrimSpace(filter.Status)) {
	case "":
	case IntentStatusPending:
		q = q.Where("status = ? AND expires_at >= ?", models.PaymentIntentPending, now)
	case IntentStatusExpired:
		q = q.Where("status = ? AND expires_at < ?", models.PaymentIntentPending, now)
	case IntentStatusConsumed:
		q = q.Where("status = ?", models.PaymentIntentConsumed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidIntentStatus, filter.Status)
	}
	var rows []models.PaymentIntent
	if errFind := q.Order("id DESC").Limit(limit).Offset(max(filter.Offset, 0)).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("payments: list intents: %w", errFind)
	}
	out := make([]IntentStatus, 0, len(rows))
	for i := range rows {
		out = append(out, s.describe(&rows[i]))
	}
	return out, nil
}

func (s *Service) describe(intent *models.PaymentIntent) IntentStatus {
	status := intent.Status
	if status == models.PaymentIntentPending && intent.Expired(s.clock()) {
		status = IntentStatusExpired
	}
	out := IntentStatus{
		Reference:     intent.Reference,
		Status:        status,
		PackageType:   intent.PackageType,
		PaymentMethod: intent.PaymentMethod,
		Amount:        intent.Amount,
		Credits:       intent.Credits,
		Attempts:      intent.Attempts,
		LastError:     intent.LastError,
		ExpiresAt:     intent.ExpiresAt,
		ConsumedAt:    intent.ConsumedAt,
	}
	if intent.Signature != nil {
		out.Signature = *intent.Signature
	}
	return out
}

// findIntent loads reference scoped to userID; userID 0 skips the owner check.
func (s *Service) findIntent(ctx context.Context, userID uint64, reference string) (*models.PaymentIntent, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrIntentNotFound
	}
	q := s.db.WithContext(ctx).Where("reference = ?", reference)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	var intent models.PaymentIntent
	if errFind := q.Take(&intent).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("payments: find intent: %w", errFind)
	}
	return &intent, nil
}

// matchRequest compares client supplied package and method against the intent.
func matchRequest(intent *models.PaymentIntent, packageType, method string) string {
	if strings.TrimSpace(packageType) != "" && catalog.Normalize(packageType) != intent.PackageType {
		return fmt.Sprintf("package %s does not match intent package %s", catalog.Normalize(packageType), intent.PackageType)
	}
	if strings.TrimSpace(method) != "" {
		m, errMethod := ParseMethod(method)
		if errMethod != nil || string(m) != intent.PaymentMethod {
			return fmt.Sprintf("payment method %s does not match intent method %s", strings.TrimSpace(method), intent.PaymentMethod)
		}
	}
	return ""
}
