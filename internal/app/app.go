package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/chain"
	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/db"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/payments"
	"github.com/mystartupai/creditledger/internal/pricing"
	"github.com/mystartupai/creditledger/internal/ratelimit"
	"github.com/mystartupai/creditledger/internal/scheduler"
	internalsettings "github.com/mystartupai/creditledger/internal/settings"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// ErrMissingJWTSecret indicates the config carries no JWT signing secret.
var ErrMissingJWTSecret = errors.New("missing jwt secret (set `jwt.secret` in config file or JWT_SECRET)")

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// RunServer boots the ledger API together with the price syncer and the
// scheduler, and blocks until ctx is done or one of them fails.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := internalsettings.Refresh(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("initial settings load failed")
	}

	jwtConfig, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(jwtConfig.Secret) == "" {
		return ErrMissingJWTSecret
	}
	solanaConfig, err := config.LoadSolanaConfig(configPath)
	if err != nil {
		return err
	}
	pricingConfig := config.LoadPricingConfig(configPath)
	serverConfig := config.LoadServerConfig(configPath, defaultPort)
	schedulerConfig := config.LoadSchedulerConfig(configPath)

	rpc := chain.NewRPCClient(solanaConfig.RPCURL, solanaConfig.Commitment)
	defer func() {
		if errClose := rpc.Close(); errClose != nil {
			log.WithError(errClose).Warn("close rpc client")
		}
	}()

	store := ledger.NewStore(conn)
	syncer := pricing.NewSyncer(conn, pricingConfig)
	oracle := pricing.NewOracle(conn, syncer, pricingConfig)
	svc := payments.NewService(store, rpc, oracle, payments.ConfigFromSolana(solanaConfig))

	limiter := ratelimit.NewManager(nil, nil, nil)
	defer func() {
		if errClose := limiter.Close(); errClose != nil {
			log.WithError(errClose).Warn("close rate limiter")
		}
	}()

	gate, err := newSetupGate(ctx, conn)
	if err != nil {
		return err
	}

	if !serverConfig.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := NewRouter(RouterDeps{
		DB:          conn,
		Store:       store,
		Payments:    svc,
		Limiter:     limiter,
		JWT:         jwtConfig,
		CORSOrigins: serverConfig.CORSOrigins,
		DSN:         dsn,
		Solana:      solanaConfig,
		Pricing:     pricingConfig,
		Setup:       gate,
	})
	srv := &http.Server{
		Addr:              serverConfig.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return syncer.Run(gctx)
	})
	g.Go(func() error {
		return scheduler.New(store, schedulerConfig).Run(gctx)
	})
	g.Go(func() error {
		log.WithFields(log.Fields{
			"addr":     srv.Addr,
			"network":  solanaConfig.Network,
			"treasury": solanaConfig.Treasury,
			"config":   configPath,
		}).Info("ledger server started")
		if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			return errListen
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Error("server shutdown")
			return errShutdown
		}
		log.Info("ledger server stopped")
		return nil
	})
	return g.Wait()
}
