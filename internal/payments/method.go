package payments

import (
	"strings"

	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/pricing"
)

// Method is a supported payment currency.
type Method string

// Supported payment methods.
const (
	MethodSOL  Method = "SOL"
	MethodUSDC Method = "USDC"
)

// ParseMethod accepts SOL/USDC in any case and the solana_sol/solana_usdc ledger spellings.
func ParseMethod(raw string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SOL", "SOLANA_SOL":
		return MethodSOL, nil
	case "USDC", "SOLANA_USDC":
		return MethodUSDC, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}

// Decimals is the native precision of the currency.
func (m Method) Decimals() int32 {
	if m == MethodUSDC {
		return 6
	}
	return 9
}

// Symbol is the price oracle symbol.
func (m Method) Symbol() string {
	if m == MethodUSDC {
		return pricing.SymbolUSDC
	}
	return pricing.SymbolSOL
}

// LedgerMethod is the payment_method value stored on purchase entries.
func (m Method) LedgerMethod() string {
	if m == MethodUSDC {
		return models.PaymentMethodSolanaUSDC
	}
	return models.PaymentMethodSolanaSOL
}
