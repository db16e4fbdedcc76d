package payments

import (
	"errors"

	"github.com/mystartupai/creditledger/internal/catalog"
	"github.com/mystartupai/creditledger/internal/chain"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/pricing"
)

var (
	// ErrInvalidPackage indicates an unknown or non-purchasable package.
	ErrInvalidPackage = catalog.ErrInvalidPackage
	// ErrInvalidPaymentMethod indicates a payment method other than SOL or USDC.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrPricingUnavailable indicates the SOL/USD rate could not be obtained.
	ErrPricingUnavailable = pricing.ErrPricingUnavailable
	// ErrIntentNotFound indicates no matching payment intent exists for the user.
	ErrIntentNotFound = ledger.ErrIntentNotFound
	// ErrIntentExpired indicates the intent is past its verification deadline.
	ErrIntentExpired = errors.New("payment intent expired")
	// ErrAlreadyConsumed indicates the intent was settled already.
	ErrAlreadyConsumed = errors.New("payment intent already consumed")
	// ErrNotConfirmed indicates the transaction has not landed yet; retry later.
	ErrNotConfirmed = chain.ErrNotConfirmed
	// ErrPaymentMismatch indicates the on-chain transfer does not satisfy the intent.
	ErrPaymentMismatch = errors.New("payment mismatch")
	// ErrMissingSignature indicates neither a signature nor a reference was supplied.
	ErrMissingSignature = errors.New("signature or reference required")
	// ErrInvalidIntentStatus indicates an unknown intent status filter.
	ErrInvalidIntentStatus = errors.New("invalid intent status")
)
