package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/payments"
	log "github.com/sirupsen/logrus"
)

// PaymentHandler lets operators inspect and reconcile payment intents.
type PaymentHandler struct {
	svc *payments.Service
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(svc *payments.Service) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// Intents lists payment intents, optionally filtered by user and status.
func (h *PaymentHandler) Intents(c *gin.Context) {
	filter := payments.IntentFilter{
		Status: strings.TrimSpace(c.Query("status")),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		userID, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		filter.UserID = userID
	}
	intents, errList := h.svc.ListIntents(c.Request.Context(), filter)
	if errList != nil {
		if errors.Is(errList, payments.ErrInvalidIntentStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		respondError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intents": intents})
}

// reconcileRequest defines the request body for a manual reconcile.
type reconcileRequest struct {
	Signature string `json:"signature"`
}

// Reconcile re-verifies an intent against the chain, ignoring its expiry.
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	reference := strings.TrimSpace(c.Param("reference"))
	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reference"})
		return
	}
	var body reconcileRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	result, errReconcile := h.svc.Reconcile(c.Request.Context(), reference, strings.TrimSpace(body.Signature))
	if errReconcile != nil {
		if errors.Is(errReconcile, payments.ErrNotConfirmed) {
			c.JSON(http.StatusAccepted, gin.H{"success": false, "error": "not_confirmed", "message": errReconcile.Error()})
			return
		}
		respondError(c, errReconcile)
		return
	}
	log.WithFields(log.Fields{
		"reference": reference,
		"signature": result.Signature,
		"admin_id":  c.GetUint64("adminID"),
		"replayed":  result.AlreadyProcessed,
	}).Info("payment reconciled")
	c.JSON(http.StatusOK, result)
}
