// Package front registers the user-facing credit and payment API.
package front

import (
	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/http/api/front/handlers"
	"github.com/mystartupai/creditledger/internal/http/middleware"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/payments"
	"github.com/mystartupai/creditledger/internal/ratelimit"
)

// Deps bundles the services the front API needs.
type Deps struct {
	Store    *ledger.Store
	Payments *payments.Service
	Limiter  middleware.RateChecker
	JWT      config.JWTConfig
}

// RegisterFrontRoutes registers the /api routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Store == nil || deps.Payments == nil {
		return
	}

	api := r.Group("/api")

	authHandler := handlers.NewAuthHandler(deps.Store, deps.JWT)
	api.POST("/auth/wallet", middleware.RateLimit(deps.Limiter, ratelimit.ScopePayment), authHandler.Wallet)

	authed := api.Group("")
	authed.Use(middleware.UserAuth(deps.JWT.Secret, deps.Store))
	authed.Use(middleware.RateLimit(deps.Limiter, ratelimit.ScopeUser))

	authed.GET("/auth/me", authHandler.Me)

	creditHandler := handlers.NewCreditHandler(deps.Store)
	authed.GET("/credits/balance", creditHandler.Balance)
	authed.GET("/credits/history", creditHandler.History)
	authed.POST("/credits/use", creditHandler.Use)
	api.GET("/credits/packages", creditHandler.Packages)

	subscriptionHandler := handlers.NewSubscriptionHandler(deps.Store)
	authed.POST("/subscriptions/cancel", subscriptionHandler.Cancel)
	authed.POST("/subscriptions/reactivate", subscriptionHandler.Reactivate)

	paymentHandler := handlers.NewPaymentHandler(deps.Payments)
	solana := authed.Group("/payments/solana")
	solana.Use(middleware.RateLimit(deps.Limiter, ratelimit.ScopePayment))
	solana.POST("/create-payment", paymentHandler.CreatePayment)
	solana.POST("/create-transaction", paymentHandler.CreateTransaction)
	solana.POST("/verify", paymentHandler.Verify)
	solana.GET("/status/:reference", paymentHandler.Status)
}
