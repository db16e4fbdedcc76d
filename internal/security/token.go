// Package security issues and validates session tokens and hashes admin passwords.
package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token audiences keep user and admin sessions from being interchangeable.
const (
	audienceUser  = "ledger-user"
	audienceAdmin = "ledger-admin"
	issuer        = "creditledger"
)

// ErrInvalidToken indicates a malformed, expired or foreign token.
var ErrInvalidToken = errors.New("invalid token")

// UserClaims identifies an authenticated end user.
type UserClaims struct {
	UserID uint64 `json:"uid"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AdminClaims identifies an authenticated operator.
type AdminClaims struct {
	AdminID  uint64 `json:"aid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func registered(subject uint64, audience string, now time.Time, expiry time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   strconv.FormatUint(subject, 10),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
}

// GenerateUserToken signs a session token for userID.
func GenerateUserToken(secret string, userID uint64, email string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("security: missing jwt secret")
	}
	claims := UserClaims{UserID: userID, Email: email, RegisteredClaims: registered(userID, audienceUser, time.Now(), expiry)}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign user token: %w", errSign)
	}
	return signed, nil
}

// ParseUserToken validates token and returns its claims.
func ParseUserToken(secret, token string) (*UserClaims, error) {
	claims := &UserClaims{}
	if errParse := parse(secret, token, audienceUser, claims); errParse != nil {
		return nil, errParse
	}
	if claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateAdminToken signs a session token for an operator.
func GenerateAdminToken(secret string, adminID uint64, username string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("security: missing jwt secret")
	}
	claims := AdminClaims{AdminID: adminID, Username: username, RegisteredClaims: registered(adminID, audienceAdmin, time.Now(), expiry)}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign admin token: %w", errSign)
	}
	return signed, nil
}

// ParseAdminToken validates token and returns its claims.
func ParseAdminToken(secret, token string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	if errParse := parse(secret, token, audienceAdmin, claims); errParse != nil {
		return nil, errParse
	}
	if claims.AdminID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func parse(secret, token, audience string, claims jwt.Claims) error {
	if secret == "" || token == "" {
		return ErrInvalidToken
	}
	parsed, errParse := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
	)
	if errParse != nil || !parsed.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidToken, errParse)
	}
	return nil
}
