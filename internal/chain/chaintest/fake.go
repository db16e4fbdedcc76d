// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mystartupai/creditledger/internal/chain"
)

// Client is a scripted chain.Client.
type Client struct {
	mu           sync.Mutex
	Blockhash    string
	statuses     map[string][]chain.SignatureStatus
	transactions map[string]*chain.Transaction
	byAddress    map[string][]string
	StatusCalls  int
}

// New returns an empty fake with a valid random blockhash.
func New() *Client {
	return &Client{
		Blockhash:    RandomAddress(),
		statuses:     make(map[string][]chain.SignatureStatus),
		transactions: make(map[string]*chain.Transaction),
		byAddress:    make(map[string][]string),
	}
}

// RandomAddress returns a fresh base58 public key.
func RandomAddress() string {
	return solana.NewWallet().PublicKey().String()
}

// RandomSignature returns a well-formed base58 signature.
func RandomSignature() string {
	wallet := solana.NewWallet()
	sig, err := wallet.PrivateKey.Sign([]byte(wallet.PublicKey().String()))
	if err != nil {
		panic(err)
	}
	return sig.String()
}

// Land records tx as confirmed and indexes it under every account key.
func (c *Client) Land(tx *chain.Transaction) {
	status := chain.SignatureStatus{Signature: tx.Signature, Status: chain.StatusConfirmed, Slot: tx.Slot, Confirmation: "confirmed"}
	if tx.Failed {
		status.Status = chain.StatusFailed
		status.Err = tx.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions[tx.Signature] = tx
	c.statuses[tx.Signature] = []chain.SignatureStatus{status}
	for _, key := range tx.AccountKeys {
		c.byAddress[key] = append([]string{tx.Signature}, c.byAddress[key]...)
	}
}

// Script sets the sequence of statuses returned for signature; the last one repeats.
func (c *Client) Script(signature string, statuses ...chain.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[signature] = statuses
}

// LatestBlockhash implements chain.Client.
func (c *Client) LatestBlockhash(context.Context) (string, error) {
	return c.Blockhash, nil
}

// SignatureStatus implements chain.Client.
func (c *Client) SignatureStatus(_ context.Context, signature string) (chain.SignatureStatus, error) {
	if _, errParse := chain.ParseSignature(signature); errParse != nil {
		return chain.SignatureStatus{}, errParse
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StatusCalls++
	queue := c.statuses[signature]
	if len(queue) == 0 {
		return chain.SignatureStatus{Signature: signature, Status: chain.StatusPending}, nil
	}
	status := queue[0]
	if len(queue) > 1 {
		c.statuses[signature] = queue[1:]
	}
	return status, nil
}

// Transaction implements chain.Client.
func (c *Client) Transaction(_ context.Context, signature string) (*chain.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.transactions[signature]
	if !ok {
		return nil, chain.ErrTransactionNotFound
	}
	return tx, nil
}

// SignaturesForAddress implements chain.Client.
func (c *Client) SignaturesForAddress(_ context.Context, address string, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.byAddress[address]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ chain.Client = (*Client)(nil)
