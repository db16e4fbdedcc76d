package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mystartupai/creditledger/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreQuotes upserts the latest quote per symbol.
func StoreQuotes(ctx context.Context, db *gorm.DB, quotes []models.PriceQuote, source string, fetchedAt time.Time) error {
	if db == nil {
		return fmt.Errorf("store price quotes: nil db")
	}
	if len(quotes) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	fetchedAt = fetchedAt.UTC()
	for i := range quotes {
		quotes[i].Source = source
		quotes[i].FetchedAt = fetchedAt
		quotes[i].UpdatedAt = fetchedAt
	}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"usd_price", "source", "fetched_at", "updated_at"}),
	}).Create(&quotes).Error; err != nil {
		return fmt.Errorf("store price quotes: upsert: %w", err)
	}
	return nil
}

// LoadQuote returns the stored quote for symbol, or nil when none exists.
func LoadQuote(ctx context.Context, db *gorm.DB, symbol string) (*models.PriceQuote, error) {
	var quote models.PriceQuote
	if err := db.WithContext(ctx).Where("symbol = ?", symbol).Take(&quote).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load price quote: %w", err)
	}
	return &quote, nil
}
