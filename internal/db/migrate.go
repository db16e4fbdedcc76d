package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mystartupai/creditledger/internal/models"
	internalsettings "github.com/mystartupai/creditledger/internal/settings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

func autoMigrate(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.User{},
		&models.CreditTransaction{},
		&models.PaymentIntent{},
		&models.PriceQuote{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := autoMigrate(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}

	if errHistoryIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_history
		ON credit_transactions (user_id, id DESC)
	`).Error; errHistoryIdx != nil {
		return fmt.Errorf("db: create history index: %w", errHistoryIdx)
	}
	if errPendingIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_payment_intents_user_pending
		ON payment_intents (user_id, expires_at)
		WHERE status = 'pending'
	`).Error; errPendingIdx != nil {
		return fmt.Errorf("db: create pending intents index: %w", errPendingIdx)
	}
	if errAmountCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'chk_payment_intents_amount_positive'
			) THEN
				ALTER TABLE payment_intents
				ADD CONSTRAINT chk_payment_intents_amount_positive CHECK (amount_base_units > 0);
			END IF;
		END $$;
	`).Error; errAmountCheck != nil {
		return fmt.Errorf("db: add intent amount check: %w", errAmountCheck)
	}

	return ensureDefaultSettings(conn)
}

// migrateSQLite applies SQLite schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := autoMigrate(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}

	if errHistoryIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_history
		ON credit_transactions (user_id, id DESC)
	`).Error; errHistoryIdx != nil {
		return fmt.Errorf("db: create history index: %w", errHistoryIdx)
	}
	if errPendingIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_payment_intents_user_pending
		ON payment_intents (user_id, expires_at)
		WHERE status = 'pending'
	`).Error; errPendingIdx != nil {
		return fmt.Errorf("db: create pending intents index: %w", errPendingIdx)
	}

	return ensureDefaultSettings(conn)
}

func ensureDefaultSettings(conn *gorm.DB) error {
	if errSeed := ensureIntSetting(conn, internalsettings.RateLimitKey, internalsettings.DefaultRateLimit); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureIntSetting(conn, internalsettings.PaymentRateLimitKey, internalsettings.DefaultPaymentRateLimit); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureIntSetting(conn, internalsettings.PaymentRateLimitWindowKey, internalsettings.DefaultPaymentRateLimitWindow); errSeed != nil {
		return errSeed
	}
	return nil
}

// ensureIntSetting ensures an integer setting exists and defaults when empty.
func ensureIntSetting(conn *gorm.DB, key string, value int) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	rawValue := datatypes.JSON(payload)

	var existing models.Setting
	if errFind := conn.Where("key = ?", key).First(&existing).Error; errFind == nil {
		trimmed := strings.TrimSpace(string(existing.Value))
		if len(existing.Value) == 0 || trimmed == "" || trimmed == "null" {
			if errUpdate := conn.Model(&existing).Updates(map[string]any{
				"value":      rawValue,
				"updated_at": time.Now().UTC(),
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: update %s setting: %w", key, errUpdate)
			}
		}
		return nil
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	setting := models.Setting{
		Key:       key,
		Value:     rawValue,
		UpdatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}
