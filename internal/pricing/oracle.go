// Package pricing keeps USD spot prices for payment currencies fresh and
// answers conversion queries for the payment issuer.
package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mystartupai/creditledger/internal/config"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ErrPricingUnavailable indicates no sufficiently fresh quote exists.
var ErrPricingUnavailable = errors.New("pricing unavailable")

// Quote is a USD price observation.
type Quote struct {
	Symbol    string
	USDPrice  decimal.Decimal
	FetchedAt time.Time
}

// Oracle serves spot prices from the price_quotes table, refreshing through the
// syncer when the stored quote is missing or older than maxAge.
type Oracle struct {
	db     *gorm.DB
	syncer *Syncer
	maxAge time.Duration
	now    func() time.Time
	group  singleflight.Group
}

// NewOracle constructs an Oracle. syncer may be nil to disable on-demand refresh.
func NewOracle(db *gorm.DB, syncer *Syncer, cfg config.PricingConfig) *Oracle {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Oracle{db: db, syncer: syncer, maxAge: maxAge, now: time.Now}
}

// SpotUSD returns the USD price of one unit of symbol. USDC is pegged at 1.
func (o *Oracle) SpotUSD(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == SymbolUSDC {
		return Quote{Symbol: SymbolUSDC, USDPrice: decimal.NewFromInt(1), FetchedAt: o.now().UTC()}, nil
	}

	quote, fresh := o.load(ctx, symbol)
	if fresh {
		return quote, nil
	}
	if o.syncer == nil {
		return Quote{}, ErrPricingUnavailable
	}

	_, errSync, _ := o.group.Do("sync", func() (any, error) {
		return nil, o.syncer.SyncOnce(ctx)
	})
	if errSync != nil {
		log.WithError(errSync).Warn("price oracle: refresh failed")
	}
	quote, fresh = o.load(ctx, symbol)
	if !fresh {
		return Quote{}, ErrPricingUnavailable
	}
	return quote, nil
}

func (o *Oracle) load(ctx context.Context, symbol string) (Quote, bool) {
	row, err := LoadQuote(ctx, o.db, symbol)
	if err != nil {
		log.WithError(err).Warn("price oracle: load quote failed")
		return Quote{}, false
	}
	if row == nil || !row.USDPrice.IsPositive() {
		return Quote{}, false
	}
	quote := Quote{Symbol: row.Symbol, USDPrice: row.USDPrice, FetchedAt: row.FetchedAt.UTC()}
	return quote, o.now().Sub(quote.FetchedAt) <= o.maxAge
}
