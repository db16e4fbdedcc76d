package ratelimit

import "time"

// ResolveLimit resolves the effective budget for scope from cfg. User traffic is
// counted per second; payment traffic uses its own window.
func ResolveLimit(cfg SettingsConfig, scope Scope) Decision {
	switch scope {
	case ScopePayment:
		if cfg.PaymentLimit > 0 {
			window := time.Duration(cfg.PaymentWindowSeconds) * time.Second
			if window <= 0 {
				window = time.Second
			}
			return Decision{Limit: cfg.PaymentLimit, Window: window, Scope: ScopePayment}
		}
		// Payment routes still honor the global limit when no dedicated one is set.
		if cfg.Limit > 0 {
			return Decision{Limit: cfg.Limit, Window: time.Second, Scope: ScopePayment}
		}
	case ScopeUser:
		if cfg.Limit > 0 {
			return Decision{Limit: cfg.Limit, Window: time.Second, Scope: ScopeUser}
		}
	}
	return Decision{}
}
