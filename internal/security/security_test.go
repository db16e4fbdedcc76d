package security

import (
	"errors"
	"testing"
	"time"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "s3cret-pass") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") || CheckPassword("", "s3cret-pass") {
		t.Fatalf("expected mismatch")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestUserTokenRoundTrip(t *testing.T) {
	token, err := GenerateUserToken("secret", 42, "a@example.com", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseUserToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 42 || claims.Email != "a@example.com" || claims.Subject != "42" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := ParseUserToken("other", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestTokensAreNotInterchangeable(t *testing.T) {
	adminToken, err := GenerateAdminToken("secret", 1, "root", time.Hour)
	if err != nil {
		t.Fatalf("generate admin: %v", err)
	}
	if _, err := ParseUserToken("secret", adminToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("admin token accepted as user token: %v", err)
	}
	claims, err := ParseAdminToken("secret", adminToken)
	if err != nil || claims.AdminID != 1 || claims.Username != "root" {
		t.Fatalf("unexpected admin claims %+v %v", claims, err)
	}
}

func TestExpiredToken(t *testing.T) {
	token, err := GenerateUserToken("secret", 7, "", -2*time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseUserToken("secret", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestGenerateRandomString(t *testing.T) {
	a, err := GenerateRandomString(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, _ := GenerateRandomString(32)
	if len(a) != 43 || a == b {
		t.Fatalf("unexpected random strings %q %q", a, b)
	}
}
