package ratelimit

import (
	"strings"

	internalsettings "github.com/mystartupai/creditledger/internal/settings"
)

// SettingsConfig captures rate limit settings stored in DB config.
type SettingsConfig struct {
	Limit                int
	PaymentLimit         int
	PaymentWindowSeconds int
	RedisEnabled         bool
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	RedisPrefix          string
}

// LoadSettingsConfig loads the current rate limit settings snapshot.
func LoadSettingsConfig() SettingsConfig {
	cfg := SettingsConfig{
		Limit:                internalsettings.IntValue(internalsettings.RateLimitKey, internalsettings.DefaultRateLimit),
		PaymentLimit:         internalsettings.IntValue(internalsettings.PaymentRateLimitKey, internalsettings.DefaultPaymentRateLimit),
		PaymentWindowSeconds: internalsettings.IntValue(internalsettings.PaymentRateLimitWindowKey, internalsettings.DefaultPaymentRateLimitWindow),
		RedisEnabled:         internalsettings.BoolValue(internalsettings.RateLimitRedisEnabledKey, false),
		RedisAddr:            internalsettings.StringValue(internalsettings.RateLimitRedisAddrKey, ""),
		RedisPassword:        internalsettings.StringValue(internalsettings.RateLimitRedisPasswordKey, ""),
		RedisDB:              internalsettings.IntValue(internalsettings.RateLimitRedisDBKey, 0),
		RedisPrefix:          internalsettings.StringValue(internalsettings.RateLimitRedisPrefixKey, internalsettings.DefaultRateLimitRedisPrefix),
	}
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	cfg.RedisPassword = strings.TrimSpace(cfg.RedisPassword)
	cfg.RedisPrefix = strings.TrimSpace(cfg.RedisPrefix)
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	return cfg
}
