package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/payments"
)

// PaymentHandler serves the Solana payment endpoints.
type PaymentHandler struct {
	svc *payments.Service
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(svc *payments.Service) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// createPaymentRequest defines the request body for issuing a payment intent.
type createPaymentRequest struct {
	PackageType   string `json:"packageType"`
	PaymentMethod string `json:"paymentMethod"`
}

// CreatePayment issues a Solana Pay request.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var body createPaymentRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	req, errCreate := h.svc.CreatePaymentRequest(c.Request.Context(), userID, body.PackageType, body.PaymentMethod)
	if errCreate != nil {
		respondError(c, errCreate)
		return
	}
	c.JSON(http.StatusOK, req)
}

// createTransactionRequest defines the request body for building a transfer.
type createTransactionRequest struct {
	FromPubkey    string `json:"fromPubkey"`
	Reference     string `json:"reference"`
	PackageType   string `json:"packageType"`
	PaymentMethod string `json:"paymentMethod"`
}

// CreateTransaction returns an unsigned transfer for the wallet to sign.
func (h *PaymentHandler) CreateTransaction(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var body createTransactionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	encoded, errBuild := h.svc.BuildTransaction(c.Request.Context(), payments.TransactionRequest{
		UserID:        userID,
		From:          body.FromPubkey,
		Reference:     body.Reference,
		PackageType:   body.PackageType,
		PaymentMethod: body.PaymentMethod,
	})
	if errBuild != nil {
		respondError(c, errBuild)
		return
	}
	c.JSON(http.StatusOK, gin.H{"serializedTransaction": encoded, "reference": body.Reference})
}

// verifyRequest defines the request body for payment verification.
type verifyRequest struct {
	Signature     string `json:"signature"`
	Reference     string `json:"reference"`
	PackageType   string `json:"packageType"`
	PaymentMethod string `json:"paymentMethod"`
}

// Verify settles a landed payment. A payment that has not confirmed yet answers
// 202 so the client keeps polling.
func (h *PaymentHandler) Verify(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var body verifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	result, errVerify := h.svc.Verify(c.Request.Context(), payments.VerifyRequest{
		UserID:        userID,
		Signature:     body.Signature,
		Reference:     body.Reference,
		PackageType:   body.PackageType,
		PaymentMethod: body.PaymentMethod,
	})
	if errVerify != nil {
		if errors.Is(errVerify, payments.ErrNotConfirmed) {
			c.JSON(http.StatusAccepted, gin.H{
				"success": false,
				"error":   "not_confirmed",
				"message": "transaction not confirmed yet, retry shortly",
			})
			return
		}
		respondError(c, errVerify)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          result.Success,
		"alreadyProcessed": result.AlreadyProcessed,
		"credits":          result.CreditsAdded,
		"newBalance":       result.Balance,
		"reference":        result.Reference,
		"signature":        result.Signature,
		"packageType":      result.PackageType,
	})
}

// Status reports an intent for client polling.
func (h *PaymentHandler) Status(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	status, errStatus := h.svc.Status(c.Request.Context(), userID, c.Param("reference"))
	if errStatus != nil {
		respondError(c, errStatus)
		return
	}
	c.JSON(http.StatusOK, status)
}
