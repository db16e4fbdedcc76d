// Package chain wraps the Solana JSON-RPC API behind the narrow surface the
// payment flow needs: blockhashes, signature status, parsed balance deltas and
// unsigned transfer transactions.
package chain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTransactionNotFound indicates the RPC node does not know the transaction yet.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrNotConfirmed indicates the transaction did not reach the required commitment in time.
	ErrNotConfirmed = errors.New("transaction not confirmed")
	// ErrInvalidAddress indicates a malformed base58 public key.
	ErrInvalidAddress = errors.New("invalid solana address")
	// ErrInvalidSignature indicates a malformed base58 signature.
	ErrInvalidSignature = errors.New("invalid solana signature")
)

// Status is the observed state of a submitted transaction.
type Status int

const (
	// StatusPending means the signature is unknown or below the required commitment.
	StatusPending Status = iota
	// StatusConfirmed means the transaction landed successfully at the required commitment.
	StatusConfirmed
	// StatusFailed means the transaction landed with an execution error.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// SignatureStatus is one observation of a signature.
type SignatureStatus struct {
	Signature    string
	Status       Status
	Slot         uint64
	Confirmation string // processed, confirmed or finalized as reported by the node.
	Err          string
}

// Done reports whether the status is terminal.
func (s SignatureStatus) Done() bool {
	return s.Status != StatusPending
}

// TokenDelta is the net change of one SPL token balance.
type TokenDelta struct {
	Owner string
	Mint  string
	Delta int64
}

// Transaction is the settlement-relevant view of a landed transaction.
type Transaction struct {
	Signature    string
	Slot         uint64
	BlockTime    *time.Time
	Failed       bool
	Err          string
	AccountKeys  []string         // Static keys followed by lookup-table keys.
	NativeDeltas map[string]int64 // Lamport change per account.
	TokenDeltas  []TokenDelta
}

// HasAccount reports whether key is referenced by the transaction.
func (t *Transaction) HasAccount(key string) bool {
	if t == nil {
		return false
	}
	for _, account := range t.AccountKeys {
		if account == key {
			return true
		}
	}
	return false
}

// NativeDelta returns the lamport change of account.
func (t *Transaction) NativeDelta(account string) int64 {
	if t == nil {
		return 0
	}
	return t.NativeDeltas[account]
}

// TokenDelta returns the summed change of all token accounts of mint owned by owner.
func (t *Transaction) TokenDelta(owner, mint string) int64 {
	if t == nil {
		return 0
	}
	var total int64
	for _, delta := range t.TokenDeltas {
		if delta.Owner == owner && delta.Mint == mint {
			total += delta.Delta
		}
	}
	return total
}

// Client is the subset of Solana RPC used by payments.
type Client interface {
	LatestBlockhash(ctx context.Context) (string, error)
	SignatureStatus(ctx context.Context, signature string) (SignatureStatus, error)
	Transaction(ctx context.Context, signature string) (*Transaction, error)
	SignaturesForAddress(ctx context.Context, address string, limit int) ([]string, error)
}
