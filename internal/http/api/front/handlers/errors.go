package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/chain"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/payments"
	"github.com/mystartupai/creditledger/internal/subscription"
	log "github.com/sirupsen/logrus"
)

// apiError maps a domain error onto its wire code and HTTP status.
type apiError struct {
	err    error
	code   string
	status int
}

var apiErrors = []apiError{
	{payments.ErrInvalidPackage, "invalid_package", http.StatusBadRequest},
	{payments.ErrInvalidPaymentMethod, "invalid_payment_method", http.StatusBadRequest},
	{payments.ErrMissingSignature, "invalid_request", http.StatusBadRequest},
	{chain.ErrInvalidAddress, "invalid_address", http.StatusBadRequest},
	{chain.ErrInvalidSignature, "invalid_signature", http.StatusBadRequest},
	{ledger.ErrInvalidAmount, "invalid_amount", http.StatusBadRequest},
	{payments.ErrPricingUnavailable, "pricing_unavailable", http.StatusServiceUnavailable},
	{payments.ErrIntentNotFound, "intent_not_found", http.StatusNotFound},
	{ledger.ErrUserNotFound, "user_not_found", http.StatusNotFound},
	{payments.ErrIntentExpired, "intent_expired", http.StatusGone},
	{payments.ErrNotConfirmed, "not_confirmed", http.StatusAccepted},
	{payments.ErrPaymentMismatch, "payment_mismatch", http.StatusUnprocessableEntity},
	{payments.ErrAlreadyConsumed, "already_consumed", http.StatusConflict},
	{ledger.ErrInsufficientCredits, "insufficient_credits", http.StatusPaymentRequired},
	{subscription.ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{ledger.ErrUserExists, "user_exists", http.StatusConflict},
	{chain.ErrBadWalletSignature, "invalid_wallet_signature", http.StatusUnauthorized},
	{chain.ErrStaleWalletMessage, "stale_wallet_message", http.StatusUnauthorized},
	{ledger.ErrLedgerWriteFailed, "ledger_write_failed", http.StatusInternalServerError},
}

// ErrorStatus returns the wire code and status for err.
func ErrorStatus(err error) (string, int) {
	for _, candidate := range apiErrors {
		if errors.Is(err, candidate.err) {
			return candidate.code, candidate.status
		}
	}
	return "internal_error", http.StatusInternalServerError
}

// respondError writes err as {"error": code, "message": text}.
func respondError(c *gin.Context, err error) {
	code, status := ErrorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		message = "internal error"
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}
