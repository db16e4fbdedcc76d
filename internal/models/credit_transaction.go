package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Credit transaction types.
const (
	CreditTransactionPurchase = "purchase"
	CreditTransactionUsage    = "usage"
	CreditTransactionRefund   = "refund"
	CreditTransactionBonus    = "bonus"
)

// Payment methods recorded on purchase transactions.
const (
	PaymentMethodSolanaSOL  = "solana_sol"
	PaymentMethodSolanaUSDC = "solana_usdc"
)

// Payment status values recorded on purchase transactions.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// CreditTransaction is one append-only entry of a user's credit ledger.
type CreditTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key; defines replay order.

	UserID uint64 `gorm:"not null;index"` // Owning user ID.

	Type        string `gorm:"type:varchar(16);not null;index"` // purchase, usage, refund or bonus.
	Amount      int64  `gorm:"not null"`                        // Signed credit delta.
	Balance     int64  `gorm:"not null"`                        // Balance after applying Amount.
	Description string `gorm:"type:text"`                       // Human readable description.

	PaymentMethod    *string             `gorm:"type:varchar(16)"`             // solana_sol or solana_usdc.
	PaymentAmount    decimal.NullDecimal `gorm:"type:varchar(64)"`             // Amount paid in Currency units.
	Currency         *string             `gorm:"type:varchar(8)"`              // SOL or USDC.
	TransactionHash  *string             `gorm:"type:varchar(128);uniqueIndex"` // On-chain signature.
	PaymentStatus    *string             `gorm:"type:varchar(16)"`             // Payment lifecycle status.
	PaymentReference *string             `gorm:"type:varchar(64);uniqueIndex"`  // Consumed payment intent reference.

	FeatureUsed   *string `gorm:"type:varchar(64);index"` // Metered feature for usage entries.
	RelatedIdeaID *string `gorm:"type:varchar(64)"`       // Idea the usage was spent on.
	Overage       int64   `gorm:"not null;default:0"`     // Credits of the request not covered by balance.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Free-form context.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
