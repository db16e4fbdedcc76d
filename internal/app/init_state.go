package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mystartupai/creditledger/internal/db"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/security"
	internalsettings "github.com/mystartupai/creditledger/internal/settings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadyInitialized is returned when a first admin already exists.
var ErrAlreadyInitialized = errors.New("system already initialized")

// HasAdminInitialized reports whether at least one admin account exists. An
// unmigrated database counts as uninitialized.
func HasAdminInitialized(ctx context.Context, conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, errors.New("app: nil db")
	}
	conn = conn.WithContext(ctx)
	if !conn.Migrator().HasTable(&models.Admin{}) {
		return false, nil
	}
	var admin models.Admin
	errFind := conn.Select("id").Take(&admin).Error
	switch {
	case errFind == nil:
		return true, nil
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("app: look up admins: %w", errFind)
	}
}

// setupGate serializes first-admin creation on a configured server and
// latches once an admin exists.
type setupGate struct {
	conn *gorm.DB
	mu   sync.Mutex
	done atomic.Bool
}

func newSetupGate(ctx context.Context, conn *gorm.DB) (*setupGate, error) {
	gate := &setupGate{conn: conn}
	initialized, errInit := HasAdminInitialized(ctx, conn)
	if errInit != nil {
		return nil, errInit
	}
	gate.done.Store(initialized)
	return gate, nil
}

// Initialized reports whether the first admin exists.
func (g *setupGate) Initialized() bool {
	return g != nil && g.done.Load()
}

// Complete creates the first super admin, stores the site name and reloads the
// settings snapshot.
func (g *setupGate) Complete(ctx context.Context, username, password, siteName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done.Load() {
		return ErrAlreadyInitialized
	}
	exists, errInit := HasAdminInitialized(ctx, g.conn)
	if errInit != nil {
		return errInit
	}
	if exists {
		g.done.Store(true)
		return ErrAlreadyInitialized
	}
	if errAdmin := CreateAdminUserWithConn(g.conn.WithContext(ctx), username, password, siteName); errAdmin != nil {
		return errAdmin
	}
	g.done.Store(true)
	return internalsettings.Refresh(ctx, g.conn)
}

// CreateAdminUser opens and migrates dsn, then creates the first admin.
func CreateAdminUser(dsn string, username, password, siteName string) error {
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return fmt.Errorf("open database: %w", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return fmt.Errorf("migrate database: %w", errMigrate)
	}
	return CreateAdminUserWithConn(conn, username, password, siteName)
}

// CreateAdminUserWithConn creates a super admin and stores the site name shown
// in Solana Pay labels, in one transaction.
func CreateAdminUserWithConn(conn *gorm.DB, username, password, siteName string) error {
	if conn == nil {
		return errors.New("app: nil db")
	}
	hashed, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}
	siteName = strings.TrimSpace(siteName)
	if siteName == "" {
		siteName = internalsettings.DefaultSiteName
	}
	siteValue, errMarshal := json.Marshal(siteName)
	if errMarshal != nil {
		return fmt.Errorf("marshal site name: %w", errMarshal)
	}

	now := time.Now().UTC()
	return conn.Transaction(func(tx *gorm.DB) error {
		admin := models.Admin{
			Username:     strings.TrimSpace(username),
			Password:     hashed,
			Active:       true,
			IsSuperAdmin: true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if errCreate := tx.Create(&admin).Error; errCreate != nil {
			return fmt.Errorf("create admin: %w", errCreate)
		}
		setting := models.Setting{Key: internalsettings.SiteNameKey, Value: datatypes.JSON(siteValue), UpdatedAt: now}
		errUpsert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&setting).Error
		if errUpsert != nil {
			return fmt.Errorf("store site name: %w", errUpsert)
		}
		return nil
	})
}
