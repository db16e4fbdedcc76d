package chain

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
)

// Transfer describes the payment a wallet should sign.
type Transfer struct {
	From      string
	Recipient string
	Reference string
	// Mint is the SPL token mint; empty for native SOL.
	Mint     string
	Decimals uint8
	// Amount is expressed in lamports or token base units.
	Amount uint64
}

// NewReference returns a fresh random public key used to tag a payment on-chain.
func NewReference() (string, error) {
	key, errKey := solana.NewRandomPrivateKey()
	if errKey != nil {
		return "", fmt.Errorf("chain: new reference: %w", errKey)
	}
	return key.PublicKey().String(), nil
}

// BuildTransfer builds the unsigned transaction for t, fee-paid by the sender,
// and returns it base64 encoded with empty signature slots.
func BuildTransfer(ctx context.Context, client Client, t Transfer) (string, error) {
	if t.Amount == 0 {
		return "", fmt.Errorf("chain: build transfer: zero amount")
	}
	from, errFrom := ParseAddress(t.From)
	if errFrom != nil {
		return "", errFrom
	}
	recipient, errRecipient := ParseAddress(t.Recipient)
	if errRecipient != nil {
		return "", errRecipient
	}
	reference, errReference := ParseAddress(t.Reference)
	if errReference != nil {
		return "", errReference
	}

	var transfer solana.Instruction
	if strings.TrimSpace(t.Mint) == "" {
		transfer = system.NewTransferInstruction(t.Amount, from, recipient).Build()
	} else {
		mint, errMint := ParseAddress(t.Mint)
		if errMint != nil {
			return "", errMint
		}
		source, _, errSource := solana.FindAssociatedTokenAddress(from, mint)
		if errSource != nil {
			return "", fmt.Errorf("chain: sender token account: %w", errSource)
		}
		destination, _, errDestination := solana.FindAssociatedTokenAddress(recipient, mint)
		if errDestination != nil {
			return "", fmt.Errorf("chain: recipient token account: %w", errDestination)
		}
		transfer = token.NewTransferCheckedInstruction(t.Amount, t.Decimals, source, mint, destination, from, nil).Build()
	}
	tagged, errTag := withReference(transfer, reference)
	if errTag != nil {
		return "", errTag
	}

	blockhash, errHash := client.LatestBlockhash(ctx)
	if errHash != nil {
		return "", errHash
	}
	hash, errParseHash := solana.HashFromBase58(blockhash)
	if errParseHash != nil {
		return "", fmt.Errorf("chain: blockhash: %w", errParseHash)
	}

	tx, errTx := solana.NewTransaction([]solana.Instruction{tagged}, hash, solana.TransactionPayer(from))
	if errTx != nil {
		return "", fmt.Errorf("chain: new transaction: %w", errTx)
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	encoded, errEncode := tx.ToBase64()
	if errEncode != nil {
		return "", fmt.Errorf("chain: encode transaction: %w", errEncode)
	}
	return encoded, nil
}

// withReference appends reference as a read-only, non-signer key so the payment
// can be found with getSignaturesForAddress(reference).
func withReference(instruction solana.Instruction, reference solana.PublicKey) (solana.Instruction, error) {
	data, errData := instruction.Data()
	if errData != nil {
		return nil, fmt.Errorf("chain: instruction data: %w", errData)
	}
	accounts := append(solana.AccountMetaSlice{}, instruction.Accounts()...)
	accounts = append(accounts, solana.NewAccountMeta(reference, false, false))
	return solana.NewInstruction(instruction.ProgramID(), accounts, data), nil
}

// PayRequest is a Solana Pay transfer request.
type PayRequest struct {
	Recipient string
	Amount    decimal.Decimal
	Reference string
	Mint      string
	Label     string
	Message   string
}

// URL renders the request as a solana: URL.
func (r PayRequest) URL() string {
	params := url.Values{}
	params.Set("amount", r.Amount.String())
	if r.Mint != "" {
		params.Set("spl-token", r.Mint)
	}
	params.Set("reference", r.Reference)
	if r.Label != "" {
		params.Set("label", r.Label)
	}
	if r.Message != "" {
		params.Set("message", r.Message)
	}
	return "solana:" + r.Recipient + "?" + strings.ReplaceAll(params.Encode(), "+", "%20")
}
