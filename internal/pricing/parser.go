package pricing

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mystartupai/creditledger/internal/models"
	"github.com/shopspring/decimal"
)

// Currency symbols quoted against USD.
const (
	SymbolSOL  = "SOL"
	SymbolUSDC = "USDC"
)

// feedIDs maps simple-price feed ids onto currency symbols.
var feedIDs = map[string]string{
	"solana":   SymbolSOL,
	"usd-coin": SymbolUSDC,
}

// ParseFeed decodes a simple-price payload of the form {"solana":{"usd":142.5}}.
// Unknown ids and non-positive prices are skipped.
func ParseFeed(body []byte) ([]models.PriceQuote, error) {
	var payload map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("pricing: decode feed: %w", err)
	}
	quotes := make([]models.PriceQuote, 0, len(payload))
	for id, prices := range payload {
		symbol, ok := feedIDs[strings.ToLower(strings.TrimSpace(id))]
		if !ok {
			continue
		}
		usd, ok := prices["usd"]
		if !ok || !usd.IsPositive() {
			continue
		}
		quotes = append(quotes, models.PriceQuote{Symbol: symbol, USDPrice: usd})
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })
	return quotes, nil
}
