package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter counts requests per key in windows that open on the first request.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

// Scope indicates which route class a limit applies to.
type Scope int

const (
	ScopeNone Scope = iota
	// ScopeUser covers ordinary authenticated API traffic.
	ScopeUser
	// ScopePayment covers intent issuance and verification, which hit the RPC node.
	ScopePayment
)

// String returns the key segment for s.
func (s Scope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopePayment:
		return "pay"
	default:
		return "none"
	}
}

// Decision describes the resolved budget for a scope.
type Decision struct {
	Limit  int
	Window time.Duration
	Scope  Scope
}
