package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/catalog"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/metrics"
	"github.com/mystartupai/creditledger/internal/models"
)

// CreditHandler serves balance, history and consumption endpoints.
type CreditHandler struct {
	store *ledger.Store
}

// NewCreditHandler constructs a CreditHandler.
func NewCreditHandler(store *ledger.Store) *CreditHandler {
	return &CreditHandler{store: store}
}

// Balance returns the spendable balance.
func (h *CreditHandler) Balance(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	user, errUser := h.store.GetUser(c.Request.Context(), userID)
	if errUser != nil {
		respondError(c, errUser)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credits":            user.Credits,
		"monthlyCreditsUsed": user.MonthlyCreditsUsed,
		"currentPlan":        user.CurrentPlan,
		"subscriptionStatus": user.SubscriptionStatus,
	})
}

// History returns ledger entries newest first.
func (h *CreditHandler) History(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	entries, errHistory := h.store.History(c.Request.Context(), userID, limit, offset)
	if errHistory != nil {
		respondError(c, errHistory)
		return
	}
	out := make([]gin.H, 0, len(entries))
	for i := range entries {
		out = append(out, transactionJSON(&entries[i]))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// useCreditsRequest defines the request body for consuming credits.
type useCreditsRequest struct {
	Feature       string `json:"feature"`
	Amount        int64  `json:"amount"`
	RelatedIdeaID string `json:"relatedIdeaId"`
	Description   string `json:"description"`
}

// Use charges a metered feature. Amount defaults to the catalog cost.
func (h *CreditHandler) Use(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var body useCreditsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	feature := catalog.NormalizeFeature(body.Feature)
	if feature == "" {
		badRequest(c, "feature is required")
		return
	}
	amount := body.Amount
	if amount == 0 {
		cost, known := catalog.FeatureCost(feature)
		if !known {
			badRequest(c, "amount is required for unknown feature")
			return
		}
		amount = cost
	}

	result, errDebit := h.store.Debit(c.Request.Context(), ledger.DebitRequest{
		UserID:        userID,
		Amount:        amount,
		Feature:       feature,
		RelatedIdeaID: strings.TrimSpace(body.RelatedIdeaID),
		Description:   strings.TrimSpace(body.Description),
	})
	if errDebit != nil {
		if errors.Is(errDebit, ledger.ErrInsufficientCredits) {
			metrics.Default().RecordDebitRejected(feature)
		}
		respondError(c, errDebit)
		return
	}
	metrics.Default().RecordDebit(feature, result.Charged, result.Overage)
	c.JSON(http.StatusOK, gin.H{
		"balance":     result.Balance,
		"charged":     result.Charged,
		"overage":     result.Overage,
		"hasOverage":  result.HasOverage(),
		"transaction": transactionJSON(result.Transaction),
	})
}

// Packages returns the purchasable catalog and feature costs.
func (h *CreditHandler) Packages(c *gin.Context) {
	var purchasable []catalog.Package
	for _, pkg := range catalog.Packages() {
		if pkg.PriceUSD.IsPositive() {
			purchasable = append(purchasable, pkg)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"packages":     purchasable,
		"featureCosts": catalog.FeatureCosts(),
	})
}

func transactionJSON(tx *models.CreditTransaction) gin.H {
	if tx == nil {
		return nil
	}
	out := gin.H{
		"id":          tx.ID,
		"type":        tx.Type,
		"amount":      tx.Amount,
		"balance":     tx.Balance,
		"description": tx.Description,
		"createdAt":   tx.CreatedAt,
	}
	if tx.Overage > 0 {
		out["overage"] = tx.Overage
	}
	if tx.FeatureUsed != nil {
		out["featureUsed"] = *tx.FeatureUsed
	}
	if tx.RelatedIdeaID != nil {
		out["relatedIdeaId"] = *tx.RelatedIdeaID
	}
	if tx.PaymentMethod != nil {
		out["paymentMethod"] = *tx.PaymentMethod
	}
	if tx.PaymentAmount.Valid {
		out["paymentAmount"] = tx.PaymentAmount.Decimal.String()
	}
	if tx.Currency != nil {
		out["currency"] = *tx.Currency
	}
	if tx.TransactionHash != nil {
		out["transactionHash"] = *tx.TransactionHash
	}
	if tx.PaymentStatus != nil {
		out["paymentStatus"] = *tx.PaymentStatus
	}
	if len(tx.Metadata) > 0 {
		out["metadata"] = tx.Metadata
	}
	return out
}
