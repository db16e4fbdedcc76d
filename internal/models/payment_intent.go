package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment intent statuses. Expiry is derived from ExpiresAt.
const (
	PaymentIntentPending  = "pending"
	PaymentIntentConsumed = "consumed"
)

// PaymentIntent is an issued, not yet settled Solana payment request.
type PaymentIntent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Reference string `gorm:"type:varchar(64);not null;uniqueIndex"` // Base58 reference public key.
	UserID    uint64 `gorm:"not null;index"`                        // Requesting user ID.

	PackageType   string `gorm:"type:varchar(32);not null"` // Catalog package identifier.
	PaymentMethod string `gorm:"type:varchar(8);not null"`  // SOL or USDC.
	Credits       int64  `gorm:"not null"`                  // Credits granted on settlement.

	Amount          decimal.Decimal     `gorm:"type:varchar(64);not null"` // Expected amount in currency units.
	AmountBaseUnits int64               `gorm:"not null"`                  // Expected amount in lamports or token base units.
	USDPrice        decimal.Decimal     `gorm:"type:varchar(64);not null"` // Package price in USD.
	QuoteRate       decimal.NullDecimal `gorm:"type:varchar(64)"`          // SOL/USD rate used for the quote.

	Recipient string  `gorm:"type:varchar(64);not null"` // Treasury wallet.
	Mint      *string `gorm:"type:varchar(64)"`          // SPL mint for token payments.

	Status     string     `gorm:"type:varchar(16);not null;default:'pending';index"` // pending or consumed.
	Signature  *string    `gorm:"type:varchar(128);index"`                            // Settling signature.
	ConsumedAt *time.Time // Settlement timestamp.
	Attempts   int        `gorm:"not null;default:0"` // Rejected verification attempts.
	LastError  string     `gorm:"type:text"`          // Last rejection reason.

	ExpiresAt time.Time `gorm:"not null;index"` // Verification deadline.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Expired reports whether the intent can no longer be settled at now.
func (p *PaymentIntent) Expired(now time.Time) bool {
	return p != nil && !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}
