package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient implements Client against a Solana JSON-RPC endpoint.
type RPCClient struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
}

// NewRPCClient dials endpoint lazily. commitment is "confirmed" or "finalized".
func NewRPCClient(endpoint, commitment string) *RPCClient {
	return &RPCClient{
		rpc:        rpc.New(endpoint),
		commitment: parseCommitment(commitment),
	}
}

func parseCommitment(commitment string) rpc.CommitmentType {
	switch strings.ToLower(strings.TrimSpace(commitment)) {
	case string(rpc.CommitmentFinalized):
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// Close releases the underlying HTTP transport.
func (c *RPCClient) Close() error {
	if c == nil || c.rpc == nil {
		return nil
	}
	return c.rpc.Close()
}

// LatestBlockhash returns a finalized recent blockhash.
func (c *RPCClient) LatestBlockhash(ctx context.Context) (string, error) {
	out, errGet := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if errGet != nil {
		return "", fmt.Errorf("chain: latest blockhash: %w", errGet)
	}
	if out == nil || out.Value == nil {
		return "", fmt.Errorf("chain: latest blockhash: empty response")
	}
	return out.Value.Blockhash.String(), nil
}

// SignatureStatus reports the current status of signature.
func (c *RPCClient) SignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	sig, errParse := ParseSignature(signature)
	if errParse != nil {
		return SignatureStatus{}, errParse
	}
	status := SignatureStatus{Signature: signature, Status: StatusPending}
	out, errGet := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if errGet != nil {
		if errors.Is(errGet, rpc.ErrNotFound) {
			return status, nil
		}
		return status, fmt.Errorf("chain: signature status: %w", errGet)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return status, nil
	}
	value := out.Value[0]
	status.Slot = value.Slot
	status.Confirmation = string(value.ConfirmationStatus)
	if value.Err != nil {
		status.Status = StatusFailed
		status.Err = fmt.Sprint(value.Err)
		return status, nil
	}
	if meetsCommitment(value.ConfirmationStatus, c.commitment) {
		status.Status = StatusConfirmed
	}
	return status, nil
}

func meetsCommitment(observed rpc.ConfirmationStatusType, required rpc.CommitmentType) bool {
	switch observed {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return required != rpc.CommitmentFinalized
	default:
		return false
	}
}

// Transaction fetches a landed transaction and derives its balance deltas.
func (c *RPCClient) Transaction(ctx context.Context, signature string) (*Transaction, error) {
	sig, errParse := ParseSignature(signature)
	if errParse != nil {
		return nil, errParse
	}
	maxVersion := rpc.MaxSupportedTransactionVersion0
	out, errGet := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errGet != nil {
		if errors.Is(errGet, rpc.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("chain: get transaction: %w", errGet)
	}
	if out == nil || out.Transaction == nil || out.Meta == nil {
		return nil, ErrTransactionNotFound
	}
	decoded, errDecode := out.Transaction.GetTransaction()
	if errDecode != nil {
		return nil, fmt.Errorf("chain: decode transaction: %w", errDecode)
	}
	return buildTransaction(signature, out.Slot, out.BlockTime, decoded, out.Meta)
}

func buildTransaction(signature string, slot uint64, blockTime *solana.UnixTimeSeconds, decoded *solana.Transaction, meta *rpc.TransactionMeta) (*Transaction, error) {
	keys := make([]string, 0, len(decoded.Message.AccountKeys)+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.ReadOnly))
	for _, key := range decoded.Message.AccountKeys {
		keys = append(keys, key.String())
	}
	for _, key := range meta.LoadedAddresses.Writable {
		keys = append(keys, key.String())
	}
	for _, key := range meta.LoadedAddresses.ReadOnly {
		keys = append(keys, key.String())
	}

	tx := &Transaction{
		Signature:    signature,
		Slot:         slot,
		AccountKeys:  keys,
		NativeDeltas: make(map[string]int64, len(keys)),
	}
	if blockTime != nil {
		t := blockTime.Time().UTC()
		tx.BlockTime = &t
	}
	if meta.Err != nil {
		tx.Failed = true
		tx.Err = fmt.Sprint(meta.Err)
	}
	for i, key := range keys {
		if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			break
		}
		tx.NativeDeltas[key] = int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
	}

	deltas, errDeltas := tokenDeltas(meta.PreTokenBalances, meta.PostTokenBalances)
	if errDeltas != nil {
		return nil, errDeltas
	}
	tx.TokenDeltas = deltas
	return tx, nil
}

type tokenKey struct {
	index uint16
	owner string
	mint  string
}

func tokenDeltas(pre, post []rpc.TokenBalance) ([]TokenDelta, error) {
	amounts := make(map[tokenKey]int64)
	var order []tokenKey
	apply := func(balances []rpc.TokenBalance, sign int64) error {
		for _, balance := range balances {
			key := tokenKey{index: balance.AccountIndex, mint: balance.Mint.String()}
			if balance.Owner != nil {
				key.owner = balance.Owner.String()
			}
			if _, seen := amounts[key]; !seen {
				order = append(order, key)
				amounts[key] = 0
			}
			if balance.UiTokenAmount == nil {
				continue
			}
			raw, errParse := strconv.ParseInt(balance.UiTokenAmount.Amount, 10, 64)
			if errParse != nil {
				return fmt.Errorf("chain: token amount %q: %w", balance.UiTokenAmount.Amount, errParse)
			}
			amounts[key] += sign * raw
		}
		return nil
	}
	if errPre := apply(pre, -1); errPre != nil {
		return nil, errPre
	}
	if errPost := apply(post, 1); errPost != nil {
		return nil, errPost
	}
	out := make([]TokenDelta, 0, len(order))
	for _, key := range order {
		out = append(out, TokenDelta{Owner: key.owner, Mint: key.mint, Delta: amounts[key]})
	}
	return out, nil
}

// SignaturesForAddress lists recent signatures referencing address, newest first.
func (c *RPCClient) SignaturesForAddress(ctx context.Context, address string, limit int) ([]string, error) {
	key, errParse := ParseAddress(address)
	if errParse != nil {
		return nil, errParse
	}
	opts := &rpc.GetSignaturesForAddressOpts{Commitment: c.commitment}
	if limit > 0 {
		opts.Limit = &limit
	}
	out, errGet := c.rpc.GetSignaturesForAddressWithOpts(ctx, key, opts)
	if errGet != nil {
		return nil, fmt.Errorf("chain: signatures for address: %w", errGet)
	}
	signatures := make([]string, 0, len(out))
	for _, entry := range out {
		if entry == nil {
			continue
		}
		signatures = append(signatures, entry.Signature.String())
	}
	return signatures, nil
}

// ParseAddress decodes a base58 public key.
func ParseAddress(address string) (solana.PublicKey, error) {
	key, errParse := solana.PublicKeyFromBase58(strings.TrimSpace(address))
	if errParse != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidAddress, errParse)
	}
	return key, nil
}

// ParseSignature decodes a base58 transaction signature.
func ParseSignature(signature string) (solana.Signature, error) {
	sig, errParse := solana.SignatureFromBase58(strings.TrimSpace(signature))
	if errParse != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrInvalidSignature, errParse)
	}
	return sig, nil
}

// ValidateAddress reports whether address is a well-formed public key.
func ValidateAddress(address string) error {
	_, errParse := ParseAddress(address)
	return errParse
}

var _ Client = (*RPCClient)(nil)
