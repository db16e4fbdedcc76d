// Package payments issues Solana payment intents, verifies settling
// transactions on-chain and hands verified payments to the ledger.
package payments

import (
	"context"
	"time"

	"github.com/mystartupai/creditledger/internal/chain"
	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/pricing"
	internalsettings "github.com/mystartupai/creditledger/internal/settings"
	"gorm.io/gorm"
)

// PriceSource yields USD spot prices.
type PriceSource interface {
	SpotUSD(ctx context.Context, symbol string) (pricing.Quote, error)
}

// Config holds the settlement parameters shared by all requests.
type Config struct {
	Treasury         string
	USDCMint         string
	IntentTTL        time.Duration
	VerifyWait       time.Duration
	SOLToleranceBps  int64
	USDCToleranceBps int64
	Label            string
}

// ConfigFromSolana maps loaded Solana settings onto a payments Config.
func ConfigFromSolana(cfg config.SolanaConfig) Config {
	return Config{
		Treasury:         cfg.Treasury,
		USDCMint:         cfg.USDCMint,
		IntentTTL:        cfg.IntentTTL,
		VerifyWait:       cfg.VerifyWait,
		SOLToleranceBps:  int64(cfg.SOLToleranceBps),
		USDCToleranceBps: int64(cfg.USDCToleranceBps),
		Label:            cfg.Label,
	}
}

const (
	defaultIntentTTL  = 15 * time.Minute
	defaultVerifyWait = 10 * time.Second
	ledgerAttempts    = 3
)

// Service implements the payment intent lifecycle.
type Service struct {
	store   *ledger.Store
	db      *gorm.DB
	chain   chain.Client
	watcher *chain.Watcher
	prices  PriceSource
	cfg     Config
	now     func() time.Time
	retry   chain.Backoff
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWatcher overrides the confirmation watcher.
func WithWatcher(w *chain.Watcher) Option {
	return func(s *Service) {
		if w != nil {
			s.watcher = w
		}
	}
}

// WithRetryBackoff overrides the delay between ledger write retries.
func WithRetryBackoff(b chain.Backoff) Option {
	return func(s *Service) { s.retry = b }
}

// NewService constructs a payments Service.
func NewService(store *ledger.Store, client chain.Client, prices PriceSource, cfg Config, opts ...Option) *Service {
	if cfg.IntentTTL <= 0 {
		cfg.IntentTTL = defaultIntentTTL
	}
	if cfg.VerifyWait <= 0 {
		cfg.VerifyWait = defaultVerifyWait
	}
	s := &Service{
		store:   store,
		db:      store.DB(),
		chain:   client,
		watcher: chain.NewWatcher(client, chain.Backoff{}),
		prices:  prices,
		cfg:     cfg,
		now:     time.Now,
		retry:   chain.Backoff{Initial: 100 * time.Millisecond, Multiplier: 2, Jitter: 0.2, Max: time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the active settlement parameters.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) clock() time.Time { return s.now().UTC() }

func (s *Service) label() string {
	if s.cfg.Label != "" {
		return s.cfg.Label
	}
	return internalsettings.StringValue(internalsettings.SiteNameKey, internalsettings.DefaultSiteName)
}
