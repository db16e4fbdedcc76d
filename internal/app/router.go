package app

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/config"
	internalhttp "github.com/mystartupai/creditledger/internal/http/api/admin"
	"github.com/mystartupai/creditledger/internal/http/api/front"
	"github.com/mystartupai/creditledger/internal/http/middleware"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/metrics"
	"github.com/mystartupai/creditledger/internal/payments"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	DB          *gorm.DB
	Store       *ledger.Store
	Payments    *payments.Service
	Limiter     middleware.RateChecker
	JWT         config.JWTConfig
	CORSOrigins []string
	DSN         string
	Solana      config.SolanaConfig
	Pricing     config.PricingConfig
	Setup       *setupGate
}

// NewRouter builds the gin engine with the front, admin and ops routes.
func NewRouter(deps RouterDeps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())
	engine.Use(cors.New(corsConfig(deps.CORSOrigins)))

	engine.GET("/healthz", func(c *gin.Context) {
		sqlDB, errDB := deps.DB.DB()
		if errDB != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
			return
		}
		if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(metrics.Default().Handler()))

	registerInitRoutes(engine, deps.Setup, deps.DSN, deps.Solana, deps.Pricing)
	internalhttp.RegisterAdminRoutes(engine, internalhttp.Deps{
		DB:       deps.DB,
		Store:    deps.Store,
		Payments: deps.Payments,
		JWT:      deps.JWT,
	})
	front.RegisterFrontRoutes(engine, front.Deps{
		Store:    deps.Store,
		Payments: deps.Payments,
		Limiter:  deps.Limiter,
		JWT:      deps.JWT,
	})

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})
	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// registerInitRoutes exposes first-admin setup until an admin exists.
func registerInitRoutes(engine *gin.Engine, gate *setupGate, dsn string, sol config.SolanaConfig, pricing config.PricingConfig) {
	engine.GET("/v0/init/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, InitStatusResponse{Initialized: gate.Initialized()})
	})
	engine.GET("/v0/init/prefill", func(c *gin.Context) {
		prefill, errPrefill := buildInitPrefill(dsn, sol, pricing)
		if errPrefill != nil {
			c.JSON(http.StatusOK, gin.H{"locked": true})
			return
		}
		c.JSON(http.StatusOK, struct {
			Locked bool `json:"locked"`
			initPrefill
		}{Locked: true, initPrefill: prefill})
	})
	engine.POST("/v0/init/setup", func(c *gin.Context) {
		if gate == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "setup unavailable"})
			return
		}
		if gate.Initialized() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "System already initialized"})
			return
		}
		var req setupRequest
		if errBind := c.ShouldBindJSON(&req); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
			return
		}
		req.AdminUsername = strings.TrimSpace(req.AdminUsername)
		if req.AdminUsername == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Admin username is required"})
			return
		}
		if len(req.AdminPassword) < minAdminPasswordLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 8 characters"})
			return
		}

		errSetup := gate.Complete(c.Request.Context(), req.AdminUsername, req.AdminPassword, req.SiteName)
		switch {
		case errors.Is(errSetup, ErrAlreadyInitialized):
			c.JSON(http.StatusBadRequest, gin.H{"error": "System already initialized"})
		case errSetup != nil:
			log.WithError(errSetup).Error("first admin setup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create admin"})
		default:
			c.JSON(http.StatusOK, gin.H{"message": "Initialization successful"})
		}
	})
}

// setupRequest is the first-admin payload on an already configured server.
type setupRequest struct {
	SiteName      string `json:"site_name"`
	AdminUsername string `json:"admin_username" binding:"required"`
	AdminPassword string `json:"admin_password" binding:"required"`
}
