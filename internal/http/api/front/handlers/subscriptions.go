package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/ledger"
)

// SubscriptionHandler serves subscription transitions.
type SubscriptionHandler struct {
	store *ledger.Store
}

// NewSubscriptionHandler constructs a SubscriptionHandler.
func NewSubscriptionHandler(store *ledger.Store) *SubscriptionHandler {
	return &SubscriptionHandler{store: store}
}

// Cancel schedules the subscription to end at the period end.
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	user, errCancel := h.store.CancelSubscription(c.Request.Context(), userID)
	if errCancel != nil {
		respondError(c, errCancel)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": userJSON(user)})
}

// Reactivate undoes a pending cancellation.
func (h *SubscriptionHandler) Reactivate(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	user, errReactivate := h.store.ReactivateSubscription(c.Request.Context(), userID)
	if errReactivate != nil {
		respondError(c, errReactivate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": userJSON(user)})
}
