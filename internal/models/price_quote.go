package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote stores the latest USD spot price of a currency.
type PriceQuote struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Symbol   string          `gorm:"type:varchar(16);not null;uniqueIndex"` // Currency symbol, e.g. SOL.
	USDPrice decimal.Decimal `gorm:"type:varchar(64);not null"`             // Price of one unit in USD.
	Source   string          `gorm:"type:text"`                             // Feed URL the price came from.

	FetchedAt time.Time `gorm:"not null"`                // Time the feed was read.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
