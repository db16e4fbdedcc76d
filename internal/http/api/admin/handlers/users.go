package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	dbutil "github.com/mystartupai/creditledger/internal/db"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/models"
	log "github.com/sirupsen/logrus"
)

// UserHandler exposes user accounts and their ledgers to operators.
type UserHandler struct {
	store *ledger.Store
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(store *ledger.Store) *UserHandler {
	return &UserHandler{store: store}
}

// List returns users with optional filters, newest first.
func (h *UserHandler) List(c *gin.Context) {
	var (
		idQ     = strings.TrimSpace(c.Query("id"))
		planQ   = strings.ToUpper(strings.TrimSpace(c.Query("plan")))
		searchQ = strings.TrimSpace(c.Query("search"))
		limit   = queryInt(c, "limit", 50)
		offset  = queryInt(c, "offset", 0)
	)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	conn := h.store.DB()
	q := conn.WithContext(c.Request.Context()).Model(&models.User{})
	if idQ != "" {
		if id, errParse := strconv.ParseUint(idQ, 10, 64); errParse == nil {
			q = q.Where("id = ?", id)
		}
	}
	if planQ != "" {
		q = q.Where("current_plan = ?", planQ)
	}
	if c.Query("archived") != "true" {
		q = q.Where("archived_at IS NULL")
	}
	if searchQ != "" {
		pattern := dbutil.NormalizeLikePattern(conn, "%"+searchQ+"%")
		q = q.Where(
			dbutil.CaseInsensitiveLikeExpr(conn, "username")+" OR "+
				dbutil.CaseInsensitiveLikeExpr(conn, "email")+" OR "+
				dbutil.CaseInsensitiveLikeExpr(conn, "wallet_address"),
			pattern,
			pattern,
			pattern,
		)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count users failed"})
		return
	}
	var rows []models.User
	if errFind := q.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, userJSON(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": out, "total": total})
}

// Get returns a user by ID.
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	user, errGet := h.store.GetUser(c.Request.Context(), id)
	if errGet != nil {
		respondError(c, errGet)
		return
	}
	c.JSON(http.StatusOK, userJSON(user))
}

// Ledger returns the user's ledger entries, newest first.
func (h *UserHandler) Ledger(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, errGet := h.store.GetUser(ctx, id); errGet != nil {
		respondError(c, errGet)
		return
	}
	rows, errHistory := h.store.History(ctx, id, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if errHistory != nil {
		respondError(c, errHistory)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, ledgerEntryJSON(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// Audit replays the user's ledger and reports any drift.
func (h *UserHandler) Audit(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	report, errAudit := h.store.Audit(c.Request.Context(), id)
	if errAudit != nil {
		respondError(c, errAudit)
		return
	}
	if !report.Consistent() {
		log.WithFields(log.Fields{
			"user_id":        id,
			"credits":        report.Credits,
			"replay_balance": report.ReplayBalance,
			"mismatches":     len(report.Mismatches),
		}).Warn("ledger audit found drift")
	}
	c.JSON(http.StatusOK, gin.H{"consistent": report.Consistent(), "report": report})
}

// refundRequest defines the request body for manual refunds.
type refundRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// Refund appends a refund entry crediting the user.
func (h *UserHandler) Refund(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var body refundRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	description := strings.TrimSpace(body.Description)
	if description == "" {
		description = "Manual refund"
	}
	adminID := c.GetUint64("adminID")
	entry, errGrant := h.store.Grant(c.Request.Context(), ledger.GrantRequest{
		UserID:      id,
		Type:        models.CreditTransactionRefund,
		Amount:      body.Amount,
		Description: description,
		Metadata:    map[string]any{"adminId": adminID},
	})
	if errGrant != nil {
		respondError(c, errGrant)
		return
	}
	log.WithFields(log.Fields{"user_id": id, "amount": body.Amount, "admin_id": adminID}).Info("credits refunded")
	c.JSON(http.StatusCreated, gin.H{"transaction": ledgerEntryJSON(entry), "newBalance": entry.Balance})
}

func userJSON(user *models.User) gin.H {
	return gin.H{
		"id":                 user.ID,
		"username":           user.Username,
		"name":               user.Name,
		"email":              user.Email,
		"walletAddress":      user.WalletAddress,
		"credits":            user.Credits,
		"currentPlan":        user.CurrentPlan,
		"subscriptionStatus": user.SubscriptionStatus,
		"nextBillingDate":    user.NextBillingDate,
		"creditsResetDate":   user.CreditsResetDate,
		"monthlyCreditsUsed": user.MonthlyCreditsUsed,
		"archivedAt":         user.ArchivedAt,
		"createdAt":          user.CreatedAt,
		"updatedAt":          user.UpdatedAt,
	}
}

func ledgerEntryJSON(tx *models.CreditTransaction) gin.H {
	out := gin.H{
		"id":               tx.ID,
		"type":             tx.Type,
		"amount":           tx.Amount,
		"balance":          tx.Balance,
		"description":      tx.Description,
		"paymentMethod":    tx.PaymentMethod,
		"currency":         tx.Currency,
		"transactionHash":  tx.TransactionHash,
		"paymentStatus":    tx.PaymentStatus,
		"paymentReference": tx.PaymentReference,
		"featureUsed":      tx.FeatureUsed,
		"overage":          tx.Overage,
		"metadata":         tx.Metadata,
		"createdAt":        tx.CreatedAt,
	}
	if tx.PaymentAmount.Valid {
		out["paymentAmount"] = tx.PaymentAmount.Decimal.String()
	}
	return out
}
