package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/db"
)

// initPrefill describes the running configuration for the setup page.
// Credentials are reported only as "set" flags.
type initPrefill struct {
	Database databasePrefill `json:"database"`
	Solana   solanaPrefill   `json:"solana"`
	Pricing  pricingPrefill  `json:"pricing"`
}

type databasePrefill struct {
	Type        string `json:"type"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	User        string `json:"user,omitempty"`
	Name        string `json:"name,omitempty"`
	Path        string `json:"path,omitempty"`
	TLS         bool   `json:"tls"`
	PasswordSet bool   `json:"password_set"`
}

type solanaPrefill struct {
	Network          string `json:"network"`
	RPCEndpoint      string `json:"rpc_endpoint"`
	RPCKeySet        bool   `json:"rpc_key_set"`
	Commitment       string `json:"commitment"`
	Treasury         string `json:"treasury"`
	USDCMint         string `json:"usdc_mint"`
	IntentTTL        string `json:"intent_ttl"`
	SOLToleranceBps  int    `json:"sol_tolerance_bps"`
	USDCToleranceBps int    `json:"usdc_tolerance_bps"`
}

type pricingPrefill struct {
	FeedEndpoint string `json:"feed_endpoint"`
	Interval     string `json:"interval"`
	MaxAge       string `json:"max_age"`
}

func buildInitPrefill(dsn string, sol config.SolanaConfig, pricing config.PricingConfig) (initPrefill, error) {
	database, errDB := prefillDatabase(dsn)
	if errDB != nil {
		return initPrefill{}, errDB
	}
	rpcEndpoint, rpcKeySet := redactEndpoint(sol.RPCURL)
	feedEndpoint, _ := redactEndpoint(pricing.FeedURL)
	return initPrefill{
		Database: database,
		Solana: solanaPrefill{
			Network:          sol.Network,
			RPCEndpoint:      rpcEndpoint,
			RPCKeySet:        rpcKeySet,
			Commitment:       sol.Commitment,
			Treasury:         sol.Treasury,
			USDCMint:         sol.USDCMint,
			IntentTTL:        sol.IntentTTL.String(),
			SOLToleranceBps:  sol.SOLToleranceBps,
			USDCToleranceBps: sol.USDCToleranceBps,
		},
		Pricing: pricingPrefill{
			FeedEndpoint: feedEndpoint,
			Interval:     pricing.Interval.String(),
			MaxAge:       pricing.MaxAge.String(),
		},
	}, nil
}

// prefillDatabase describes dsn. Postgres DSNs in URL or keyword form are
// parsed by pgconn.
func prefillDatabase(dsn string) (databasePrefill, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return databasePrefill{}, errors.New("app: empty dsn")
	}
	if db.IsSQLiteDSN(trimmed) {
		path := trimmed
		if strings.HasPrefix(strings.ToLower(path), "file:") {
			path = path[len("file:"):]
		}
		path, _, _ = strings.Cut(path, "?")
		return databasePrefill{Type: "sqlite", Path: strings.TrimSpace(path)}, nil
	}

	pgCfg, errParse := pgconn.ParseConfig(trimmed)
	if errParse != nil {
		return databasePrefill{}, fmt.Errorf("app: parse postgres dsn: %w", errParse)
	}
	return databasePrefill{
		Type:        "postgres",
		Host:        pgCfg.Host,
		Port:        int(pgCfg.Port),
		User:        pgCfg.User,
		Name:        pgCfg.Database,
		TLS:         pgCfg.TLSConfig != nil,
		PasswordSet: pgCfg.Password != "",
	}, nil
}

// redactEndpoint reduces an RPC or feed URL to scheme and host. Hosted RPC
// providers carry API keys in the query, path or userinfo, so keySet reports
// whether any of those were present.
func redactEndpoint(raw string) (endpoint string, keySet bool) {
	u, errParse := url.Parse(strings.TrimSpace(raw))
	if errParse != nil || u.Host == "" {
		return "", false
	}
	keySet = u.User != nil || u.RawQuery != "" || strings.Trim(u.Path, "/") != ""
	return u.Scheme + "://" + u.Host, keySet
}
