package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/metrics"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultSyncInterval   = time.Minute
	defaultRequestTimeout = 10 * time.Second
	maxFeedBytes          = 1 << 20
)

// Syncer keeps the price_quotes table synced with the configured feed.
type Syncer struct {
	db       *gorm.DB
	url      string
	interval time.Duration
	client   *http.Client
	now      func() time.Time
}

// NewSyncer constructs a price syncer.
func NewSyncer(db *gorm.DB, cfg config.PricingConfig) *Syncer {
	if db == nil {
		return nil
	}
	return &Syncer{
		db:       db,
		url:      cfg.FeedURL,
		interval: cfg.Interval,
		client:   &http.Client{Timeout: defaultRequestTimeout},
		now:      time.Now,
	}
}

// Run syncs immediately and then on every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	interval := s.interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	log.Infof("price syncer started (interval=%s)", interval)

	if err := s.SyncOnce(ctx); err != nil {
		log.WithError(err).Warn("price syncer: initial sync failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				log.WithError(err).Warn("price syncer: sync failed")
			}
		}
	}
}

// SyncOnce fetches and persists the latest quotes.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("price syncer: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	url := strings.TrimSpace(s.url)
	if url == "" {
		return fmt.Errorf("price syncer: empty url")
	}
	client := s.client
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	clock := s.now
	if clock == nil {
		clock = time.Now
	}

	requestCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("price syncer: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		metrics.Default().RecordPriceSync(false)
		return fmt.Errorf("price syncer: request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("price syncer: close response body failed")
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		metrics.Default().RecordPriceSync(false)
		return fmt.Errorf("price syncer: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		metrics.Default().RecordPriceSync(false)
		return fmt.Errorf("price syncer: read response: %w", err)
	}

	quotes, err := ParseFeed(body)
	if err != nil {
		metrics.Default().RecordPriceSync(false)
		return err
	}
	if len(quotes) == 0 {
		metrics.Default().RecordPriceSync(false)
		return fmt.Errorf("price syncer: feed has no known prices")
	}

	if err := StoreQuotes(ctx, s.db, quotes, url, clock()); err != nil {
		metrics.Default().RecordPriceSync(false)
		return err
	}
	for _, quote := range quotes {
		price, _ := quote.USDPrice.Float64()
		metrics.Default().SetSpotPrice(quote.Symbol, price)
	}
	metrics.Default().RecordPriceSync(true)
	return nil
}
