package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// SubscriptionHandler runs subscription maintenance on demand.
type SubscriptionHandler struct {
	store *ledger.Store
}

// NewSubscriptionHandler constructs a SubscriptionHandler.
func NewSubscriptionHandler(store *ledger.Store) *SubscriptionHandler {
	return &SubscriptionHandler{store: store}
}

// Rollover runs the rollover pass immediately.
func (h *SubscriptionHandler) Rollover(c *gin.Context) {
	report, errRollover := h.store.RunRollover(c.Request.Context())
	if errRollover != nil {
		respondError(c, errRollover)
		return
	}
	metrics.Default().RecordRollover(report.Expired, report.Reset)
	log.WithFields(log.Fields{
		"expired":  report.Expired,
		"reset":    report.Reset,
		"granted":  report.Granted,
		"failed":   report.Failed,
		"admin_id": c.GetUint64("adminID"),
	}).Info("manual rollover finished")
	c.JSON(http.StatusOK, report)
}
