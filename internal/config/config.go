package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath     = "CONFIG_PATH"
	EnvDBConnection   = "DB_CONNECTION"
	EnvJWTSecret      = "JWT_SECRET"
	EnvJWTExpiry      = "JWT_EXPIRY"
	EnvSolanaRPCURL   = "SOLANA_RPC_URL"
	EnvSolanaTreasury = "SOLANA_TREASURY"
	EnvSolanaUSDCMint = "SOLANA_USDC_MINT"
	EnvSolanaNetwork  = "SOLANA_NETWORK"
	EnvPriceFeedURL   = "PRICE_FEED_URL"
	EnvCORSOrigins    = "CORS_ORIGINS"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	var cfg fileConfig
	if readYAML(configPath, &cfg) {
		result = cfg.JWT
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// Solana network defaults.
const (
	NetworkMainnet = "mainnet-beta"
	NetworkDevnet  = "devnet"
	NetworkTestnet = "testnet"

	// MainnetUSDCMint is the canonical USDC mint on mainnet-beta.
	MainnetUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	// DevnetUSDCMint is the Circle devnet USDC mint.
	DevnetUSDCMint = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

	defaultIntentTTL        = 15 * time.Minute
	defaultVerifyWait       = 10 * time.Second
	defaultSOLToleranceBps  = 50
	defaultUSDCToleranceBps = 0
	defaultCommitment       = "confirmed"
	defaultPaymentLabel     = "MyStartup.ai"
)

// SolanaConfig holds payment settlement settings.
type SolanaConfig struct {
	Network          string        `yaml:"network"`
	RPCURL           string        `yaml:"rpc-url"`
	Commitment       string        `yaml:"commitment"`
	Treasury         string        `yaml:"treasury"`
	USDCMint         string        `yaml:"usdc-mint"`
	IntentTTL        time.Duration `yaml:"intent-ttl"`
	VerifyWait       time.Duration `yaml:"verify-wait"`
	SOLToleranceBps  int           `yaml:"sol-tolerance-bps"`
	USDCToleranceBps int           `yaml:"usdc-tolerance-bps"`
	Label            string        `yaml:"label"`
}

// ErrMissingTreasury indicates no recipient wallet is configured.
var ErrMissingTreasury = errors.New("missing solana treasury (set `solana.treasury` in config file or SOLANA_TREASURY)")

// LoadSolanaConfig loads Solana settings from the YAML config file.
func LoadSolanaConfig(configPath string) (SolanaConfig, error) {
	// fileConfig maps the YAML fields needed for Solana settings.
	type fileConfig struct {
		Solana SolanaConfig `yaml:"solana"`
	}

	var cfg fileConfig
	readYAML(configPath, &cfg)
	result := cfg.Solana

	if network := strings.TrimSpace(os.Getenv(EnvSolanaNetwork)); network != "" {
		result.Network = network
	}
	if rpcURL := strings.TrimSpace(os.Getenv(EnvSolanaRPCURL)); rpcURL != "" {
		result.RPCURL = rpcURL
	}
	if treasury := strings.TrimSpace(os.Getenv(EnvSolanaTreasury)); treasury != "" {
		result.Treasury = treasury
	}
	if mint := strings.TrimSpace(os.Getenv(EnvSolanaUSDCMint)); mint != "" {
		result.USDCMint = mint
	}

	result.Network = strings.ToLower(strings.TrimSpace(result.Network))
	if result.Network == "" {
		result.Network = NetworkDevnet
	}
	if strings.TrimSpace(result.RPCURL) == "" {
		result.RPCURL = "https://api." + result.Network + ".solana.com"
	}
	if strings.TrimSpace(result.USDCMint) == "" {
		if result.Network == NetworkMainnet {
			result.USDCMint = MainnetUSDCMint
		} else {
			result.USDCMint = DevnetUSDCMint
		}
	}
	if strings.TrimSpace(result.Commitment) == "" {
		result.Commitment = defaultCommitment
	}
	if result.IntentTTL <= 0 {
		result.IntentTTL = defaultIntentTTL
	}
	if result.VerifyWait <= 0 {
		result.VerifyWait = defaultVerifyWait
	}
	if result.SOLToleranceBps <= 0 {
		result.SOLToleranceBps = defaultSOLToleranceBps
	}
	if result.USDCToleranceBps < 0 {
		result.USDCToleranceBps = defaultUSDCToleranceBps
	}
	if strings.TrimSpace(result.Label) == "" {
		result.Label = defaultPaymentLabel
	}
	if strings.TrimSpace(result.Treasury) == "" {
		return result, ErrMissingTreasury
	}
	return result, nil
}

const (
	defaultPriceFeedURL      = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"
	defaultPriceSyncInterval = time.Minute
	defaultPriceMaxAge       = 5 * time.Minute
)

// PricingConfig holds the SOL/USD price feed settings.
type PricingConfig struct {
	FeedURL  string        `yaml:"feed-url"`
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max-age"`
}

// LoadPricingConfig loads price feed settings from the YAML config file.
func LoadPricingConfig(configPath string) PricingConfig {
	type fileConfig struct {
		Pricing PricingConfig `yaml:"pricing"`
	}

	var cfg fileConfig
	readYAML(configPath, &cfg)
	result := cfg.Pricing

	if feed := strings.TrimSpace(os.Getenv(EnvPriceFeedURL)); feed != "" {
		result.FeedURL = feed
	}
	if strings.TrimSpace(result.FeedURL) == "" {
		result.FeedURL = defaultPriceFeedURL
	}
	if result.Interval <= 0 {
		result.Interval = defaultPriceSyncInterval
	}
	if result.MaxAge <= 0 {
		result.MaxAge = defaultPriceMaxAge
	}
	return result
}

const (
	defaultRolloverSchedule = "@every 5m"
	defaultSettingsSchedule = "@every 30s"
)

// SchedulerConfig holds cron schedules for background jobs.
type SchedulerConfig struct {
	RolloverSchedule string `yaml:"rollover-schedule"`
	SettingsSchedule string `yaml:"settings-schedule"`
}

// LoadSchedulerConfig loads background job schedules from the YAML config file.
func LoadSchedulerConfig(configPath string) SchedulerConfig {
	type fileConfig struct {
		Scheduler SchedulerConfig `yaml:"scheduler"`
	}

	var cfg fileConfig
	readYAML(configPath, &cfg)
	result := cfg.Scheduler
	if strings.TrimSpace(result.RolloverSchedule) == "" {
		result.RolloverSchedule = defaultRolloverSchedule
	}
	if strings.TrimSpace(result.SettingsSchedule) == "" {
		result.SettingsSchedule = defaultSettingsSchedule
	}
	return result
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Debug       bool     `yaml:"debug"`
	CORSOrigins []string `yaml:"cors-origins"`
}

// LoadServerConfig loads listener settings, falling back to defaultPort.
func LoadServerConfig(configPath string, defaultPort int) ServerConfig {
	var result ServerConfig
	readYAML(configPath, &result)

	if raw := strings.TrimSpace(os.Getenv(EnvCORSOrigins)); raw != "" {
		result.CORSOrigins = splitList(raw)
	}
	if len(result.CORSOrigins) == 0 {
		result.CORSOrigins = []string{"*"}
	}
	if result.Port <= 0 {
		result.Port = defaultPort
	}
	return result
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// readYAML decodes the config file into out and reports whether it succeeded.
func readYAML(configPath string, out any) bool {
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		return false
	}
	return yaml.Unmarshal(data, out) == nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
