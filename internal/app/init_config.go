package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mystartupai/creditledger/internal/security"
	"gopkg.in/yaml.v3"
)

// configFile is the YAML layout read back by the config loaders.
type configFile struct {
	Host        string         `yaml:"host"`
	Port        int            `yaml:"port"`
	DatabaseDSN string         `yaml:"database-dsn"`
	Debug       bool           `yaml:"debug"`
	JWT         jwtSection     `yaml:"jwt"`
	Solana      solanaSection  `yaml:"solana"`
	Pricing     pricingSection `yaml:"pricing,omitempty"`
}

type jwtSection struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

type solanaSection struct {
	Network          string `yaml:"network"`
	RPCURL           string `yaml:"rpc-url,omitempty"`
	Treasury         string `yaml:"treasury"`
	USDCMint         string `yaml:"usdc-mint,omitempty"`
	IntentTTL        string `yaml:"intent-ttl,omitempty"`
	SOLToleranceBps  *int   `yaml:"sol-tolerance-bps,omitempty"`
	USDCToleranceBps *int   `yaml:"usdc-tolerance-bps,omitempty"`
}

type pricingSection struct {
	FeedURL  string `yaml:"feed-url,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	_, errStat := os.Stat(configPath)
	return !os.IsNotExist(errStat)
}

// WriteConfigFile writes the config produced by first-run setup. A fresh JWT
// signing secret is generated for every install.
func WriteConfigFile(configPath, dsn string, port int, sol SolanaRequest, pricing PricingRequest) error {
	secret, errSecret := security.GenerateRandomString(32)
	if errSecret != nil {
		return fmt.Errorf("generate jwt secret: %w", errSecret)
	}
	cfg := configFile{
		Port:        port,
		DatabaseDSN: dsn,
		JWT:         jwtSection{Secret: secret, Expiry: "720h"},
		Solana: solanaSection{
			Network:          sol.Network,
			RPCURL:           sol.RPCURL,
			Treasury:         sol.Treasury,
			USDCMint:         sol.USDCMint,
			IntentTTL:        sol.IntentTTL,
			SOLToleranceBps:  sol.SOLToleranceBps,
			USDCToleranceBps: sol.USDCToleranceBps,
		},
		Pricing: pricingSection{FeedURL: pricing.FeedURL, Interval: pricing.Interval},
	}

	data, errMarshal := yaml.Marshal(cfg)
	if errMarshal != nil {
		return fmt.Errorf("marshal config: %w", errMarshal)
	}
	if errMkdir := os.MkdirAll(filepath.Dir(configPath), 0o755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}
	if errWrite := os.WriteFile(configPath, data, 0o600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}
	return nil
}
