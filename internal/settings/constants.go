package settings

// DB config keys and defaults for settings.
const (
	// SiteNameKey is the DB config key for the site name shown in payment labels.
	SiteNameKey = "SITE_NAME"
	// DefaultSiteName is the fallback site name.
	DefaultSiteName = "MyStartup.ai"
	// RateLimitKey controls the default per-user rate limit per second.
	RateLimitKey = "RATE_LIMIT"
	// PaymentRateLimitKey controls the per-user request budget for payment endpoints.
	PaymentRateLimitKey = "PAYMENT_RATE_LIMIT"
	// PaymentRateLimitWindowKey is the length in seconds of the payment budget window.
	PaymentRateLimitWindowKey = "PAYMENT_RATE_LIMIT_WINDOW"
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
	// SignupCreditsKey overrides the credits granted on signup.
	SignupCreditsKey = "SIGNUP_CREDITS"
	// DefaultRateLimit is the fallback rate limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultPaymentRateLimit is the fallback payment request budget per window.
	DefaultPaymentRateLimit = 30
	// DefaultPaymentRateLimitWindow is the fallback payment window in seconds.
	DefaultPaymentRateLimitWindow = 60
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "ledger:rl"
)
