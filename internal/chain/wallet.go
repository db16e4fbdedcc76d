package chain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// WalletLoginPrefix starts every wallet login message.
const WalletLoginPrefix = "MyStartup.ai login: "

var (
	// ErrBadWalletSignature indicates the signature does not match the address and message.
	ErrBadWalletSignature = errors.New("wallet signature mismatch")
	// ErrStaleWalletMessage indicates the signed timestamp is outside the accepted window.
	ErrStaleWalletMessage = errors.New("wallet login message expired")
)

// WalletLoginMessage returns the message a wallet signs to log in at t.
func WalletLoginMessage(t time.Time) string {
	return WalletLoginPrefix + strconv.FormatInt(t.Unix(), 10)
}

// VerifyWalletLogin checks an ed25519 signature by address over message and that
// the embedded timestamp is within maxSkew of now.
func VerifyWalletLogin(address, message, signature string, now time.Time, maxSkew time.Duration) error {
	key, errKey := ParseAddress(address)
	if errKey != nil {
		return errKey
	}
	sig, errSig := ParseSignature(signature)
	if errSig != nil {
		return errSig
	}
	if !strings.HasPrefix(message, WalletLoginPrefix) {
		return fmt.Errorf("%w: unexpected message", ErrBadWalletSignature)
	}
	stamp, errStamp := strconv.ParseInt(strings.TrimPrefix(message, WalletLoginPrefix), 10, 64)
	if errStamp != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadWalletSignature)
	}
	signedAt := time.Unix(stamp, 0)
	if skew := now.Sub(signedAt); skew > maxSkew || skew < -maxSkew {
		return ErrStaleWalletMessage
	}
	if !sig.Verify(key, []byte(message)) {
		return ErrBadWalletSignature
	}
	return nil
}

// SignMessage signs message with a base58 private key. Used by tooling and tests.
func SignMessage(privateKey, message string) (string, error) {
	key, errKey := solana.PrivateKeyFromBase58(privateKey)
	if errKey != nil {
		return "", fmt.Errorf("chain: private key: %w", errKey)
	}
	sig, errSign := key.Sign([]byte(message))
	if errSign != nil {
		return "", fmt.Errorf("chain: sign: %w", errSign)
	}
	return sig.String(), nil
}
