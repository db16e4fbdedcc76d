package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/db"
	log "github.com/sirupsen/logrus"
)

// InitStatusResponse reports whether initialization is complete.
type InitStatusResponse struct {
	Initialized bool `json:"initialized"`
}

// ErrInitCompleted signals that initialization finished and the server should restart.
var ErrInitCompleted = errors.New("init completed")

// pingDatabase opens dsn once to prove the ledger database is reachable.
func pingDatabase(ctx context.Context, dsn string) error {
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return fmt.Errorf("connect: %w", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return fmt.Errorf("sql db: %w", errDB)
	}
	defer func() {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

// setupInstall validates req, then writes the config and creates the first
// admin. A failed admin creation removes the config so setup can be retried.
func setupInstall(ctx context.Context, configPath string, port int, req *InitRequest) (int, error) {
	if errNormalize := req.normalize(); errNormalize != nil {
		return http.StatusBadRequest, errNormalize
	}
	dsn, errDSN := req.Database.DSN()
	if errDSN != nil {
		return http.StatusBadRequest, errDSN
	}
	if errPing := pingDatabase(ctx, dsn); errPing != nil {
		return http.StatusBadRequest, fmt.Errorf("Database connection failed: %v", errPing)
	}
	if errWrite := WriteConfigFile(configPath, dsn, port, req.Solana, req.Pricing); errWrite != nil {
		return http.StatusInternalServerError, fmt.Errorf("Failed to write config: %v", errWrite)
	}
	if errAdmin := CreateAdminUser(dsn, req.AdminUsername, req.AdminPassword, req.SiteName); errAdmin != nil {
		if errRemove := os.Remove(configPath); errRemove != nil {
			log.Errorf("remove config file error: %v", errRemove)
		}
		return http.StatusInternalServerError, fmt.Errorf("Failed to create admin: %v", errAdmin)
	}
	log.WithFields(log.Fields{
		"network":  req.Solana.Network,
		"treasury": req.Solana.Treasury,
		"database": req.Database.Type,
	}).Info("ledger initialized")
	return http.StatusOK, nil
}

// RunInitServer serves first-run setup until a config is written.
func RunInitServer(ctx context.Context, cfg config.AppConfig, port int) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(corsConfig(nil)))

	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	initDone := make(chan struct{})

	engine.GET("/v0/init/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, InitStatusResponse{Initialized: ConfigExists(configPath)})
	})

	engine.POST("/v0/init/setup", func(c *gin.Context) {
		if ConfigExists(configPath) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "System already initialized"})
			return
		}
		var req InitRequest
		if errBind := c.ShouldBindJSON(&req); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
			return
		}
		if status, errSetup := setupInstall(c.Request.Context(), configPath, port, &req); errSetup != nil {
			c.JSON(status, gin.H{"error": errSetup.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Initialization successful"})

		go func() {
			time.Sleep(500 * time.Millisecond)
			close(initDone)
		}()
	})

	engine.NoRoute(func(c *gin.Context) {
		if ConfigExists(configPath) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "System initializing, please restart the server"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "System not initialized", "setup": "/v0/init/setup"})
	})

	addr := fmt.Sprintf(":%d", port)
	log.Infof("starting init server on %s (config not found at %s)", addr, configPath)
	srv := &http.Server{Addr: addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		select {
		case <-ctx.Done():
		case <-initDone:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("init server shutdown error: %v", errShutdown)
		}
	}()

	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return errListen
	}
	select {
	case <-initDone:
		return ErrInitCompleted
	default:
		return nil
	}
}
