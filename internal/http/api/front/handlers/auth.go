package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/chain"
	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/http/middleware"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/security"
	log "github.com/sirupsen/logrus"
)

// walletLoginSkew bounds the age of a signed wallet login message.
const walletLoginSkew = 5 * time.Minute

// AuthHandler serves session endpoints.
type AuthHandler struct {
	store  *ledger.Store
	jwtCfg config.JWTConfig
	now    func() time.Time
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(store *ledger.Store, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{store: store, jwtCfg: jwtCfg, now: time.Now}
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	user := middleware.UserFrom(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "authentication required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userJSON(user)})
}

// walletLoginRequest defines the request body for wallet sign-in.
type walletLoginRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Wallet signs a user in with an ed25519 signature over a timestamped message,
// creating the account with signup credits on first use.
func (h *AuthHandler) Wallet(c *gin.Context) {
	var body walletLoginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	address := strings.TrimSpace(body.Address)
	if errVerify := chain.VerifyWalletLogin(address, body.Message, strings.TrimSpace(body.Signature), h.now(), walletLoginSkew); errVerify != nil {
		respondError(c, errVerify)
		return
	}
	user, created, errUser := h.store.FindOrCreateWalletUser(c.Request.Context(), address)
	if errUser != nil {
		respondError(c, errUser)
		return
	}
	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	token, errToken := security.GenerateUserToken(h.jwtCfg.Secret, user.ID, email, h.jwtCfg.Expiry)
	if errToken != nil {
		respondError(c, errToken)
		return
	}
	if created {
		log.WithFields(log.Fields{"user_id": user.ID, "wallet": address}).Info("wallet user created")
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": userJSON(user), "created": created})
}

func userJSON(user *models.User) gin.H {
	if user == nil {
		return nil
	}
	out := gin.H{
		"id":                 user.ID,
		"name":               user.Name,
		"credits":            user.Credits,
		"currentPlan":        user.CurrentPlan,
		"subscriptionStatus": user.SubscriptionStatus,
		"nextBillingDate":    user.NextBillingDate,
		"creditsResetDate":   user.CreditsResetDate,
		"monthlyCreditsUsed": user.MonthlyCreditsUsed,
		"usageAlert":         user.UsageAlert,
		"createdAt":          user.CreatedAt,
	}
	if user.Username != nil {
		out["username"] = *user.Username
	}
	if user.Email != nil {
		out["email"] = *user.Email
	}
	if user.WalletAddress != nil {
		out["walletAddress"] = *user.WalletAddress
	}
	return out
}
