package models

import "time"

// Plan identifiers stored on users.
const (
	// PlanFreemium is the default plan granted at signup.
	PlanFreemium = "FREEMIUM"
	// PlanCore is the entry paid plan.
	PlanCore = "CORE"
	// PlanPro is the top paid plan.
	PlanPro = "PRO"
)

// Subscription status values stored on users.
const (
	SubscriptionNone              = "none"
	SubscriptionActive            = "active"
	SubscriptionCancelAtPeriodEnd = "cancel_at_period_end"
	SubscriptionExpired           = "expired"
)

// User represents an end-user account and its cached credit balance.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username      *string `gorm:"type:text;uniqueIndex"`        // Optional unique login name.
	Name          string  `gorm:"type:text"`                    // Display name.
	Email         *string `gorm:"type:text;uniqueIndex"`        // Email address.
	WalletAddress *string `gorm:"type:varchar(64);uniqueIndex"` // Base58 Solana wallet used for login.
	GoogleID      *string `gorm:"type:text;uniqueIndex"`        // Google subject identifier.

	Credits int64 `gorm:"not null;default:0;check:chk_users_credits_nonnegative,credits >= 0"` // Cached balance, equals the ledger replay.

	CurrentPlan        string     `gorm:"type:varchar(16);not null;default:'FREEMIUM'"` // Active plan identifier.
	SubscriptionStatus string     `gorm:"type:varchar(32);not null;default:'none'"`     // Subscription state.
	NextBillingDate    *time.Time `gorm:"index"`                                        // End of the paid period.
	CreditsResetDate   *time.Time `gorm:"index"`                                        // Next monthly usage reset.
	MonthlyCreditsUsed int64      `gorm:"not null;default:0"`                           // Overage consumed this period.
	UsageAlert         bool       `gorm:"not null;default:true"`                        // Low-balance alert preference.

	ArchivedAt *time.Time `gorm:"index"` // Soft archive marker; users are never hard-deleted.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
