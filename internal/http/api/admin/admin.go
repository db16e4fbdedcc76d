package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/http/api/admin/handlers"
	"github.com/mystartupai/creditledger/internal/http/api/admin/permissions"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/payments"
	"github.com/mystartupai/creditledger/internal/security"
	"gorm.io/gorm"
)

// Deps bundles what the admin routes need.
type Deps struct {
	DB       *gorm.DB
	Store    *ledger.Store
	Payments *payments.Service
	JWT      config.JWTConfig
}

// RegisterAdminRoutes registers the /v0/admin routes.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil || deps.Store == nil || deps.Payments == nil {
		return
	}

	adminHandler := handlers.NewAdminHandler(deps.DB, deps.JWT)
	r.POST("/v0/admin/login", adminHandler.Login)

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(deps.DB, deps.JWT))
	authed.Use(adminPermissionMiddleware())

	userHandler := handlers.NewUserHandler(deps.Store)
	authed.GET("/users", userHandler.List)
	authed.GET("/users/:id", userHandler.Get)
	authed.GET("/users/:id/ledger", userHandler.Ledger)
	authed.GET("/users/:id/ledger/audit", userHandler.Audit)
	authed.POST("/users/:id/refund", userHandler.Refund)

	paymentHandler := handlers.NewPaymentHandler(deps.Payments)
	authed.GET("/payments/intents", paymentHandler.Intents)
	authed.POST("/payments/:reference/reconcile", paymentHandler.Reconcile)

	subscriptionHandler := handlers.NewSubscriptionHandler(deps.Store)
	authed.POST("/subscriptions/rollover", subscriptionHandler.Rollover)

	settingHandler := handlers.NewSettingHandler(deps.DB)
	authed.GET("/settings", settingHandler.List)
	authed.PUT("/settings/:key", settingHandler.Update)

	authed.GET("/admins", adminHandler.List)
	authed.POST("/admins", adminHandler.Create)
	authed.GET("/permissions", adminHandler.Permissions)
}

func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		adminPermissions := permissions.ParsePermissions(admin.Permissions)
		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Set("adminPermissions", adminPermissions)
		c.Set("adminIsSuperAdmin", admin.IsSuperAdmin)
		c.Next()
	}
}

// adminPermissionMiddleware requires the route's permission key unless the
// admin is a super admin.
func adminPermissionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool("adminIsSuperAdmin") {
			c.Next()
			return
		}
		key := permissions.Key(c.Request.Method, c.FullPath())
		var granted []string
		if raw, ok := c.Get("adminPermissions"); ok {
			granted, _ = raw.([]string)
		}
		if !permissions.HasPermission(granted, key) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied", "permission": key})
			return
		}
		c.Next()
	}
}
