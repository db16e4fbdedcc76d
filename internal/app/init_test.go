package app

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mystartupai/creditledger/internal/chain/chaintest"
	"github.com/mystartupai/creditledger/internal/config"
)

func sqliteInitRequest(treasury string) InitRequest {
	return InitRequest{
		AdminUsername: " root ",
		AdminPassword: "long-enough",
		Database:      DatabaseRequest{Type: "sqlite"},
		Solana:        SolanaRequest{Treasury: treasury},
	}
}

func intPtr(v int) *int { return &v }

func TestInitRequestNormalize_Defaults(t *testing.T) {
	req := sqliteInitRequest(chaintest.RandomAddress())
	if err := req.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.AdminUsername != "root" || req.SiteName == "" {
		t.Fatalf("admin defaults not applied: %+v", req)
	}
	if req.Database.Path != defaultSQLitePath {
		t.Fatalf("expected default sqlite path, got %q", req.Database.Path)
	}
	if req.Solana.Network != config.NetworkDevnet || req.Solana.USDCMint != config.DevnetUSDCMint {
		t.Fatalf("solana defaults not applied: %+v", req.Solana)
	}

	mainnet := sqliteInitRequest(chaintest.RandomAddress())
	mainnet.Solana.Network = "Mainnet-Beta"
	if err := mainnet.normalize(); err != nil {
		t.Fatalf("normalize mainnet: %v", err)
	}
	if mainnet.Solana.USDCMint != config.MainnetUSDCMint {
		t.Fatalf("expected mainnet usdc mint, got %q", mainnet.Solana.USDCMint)
	}
}

func TestInitRequestNormalize_Rejects(t *testing.T) {
	treasury := chaintest.RandomAddress()
	cases := []struct {
		name   string
		mutate func(*InitRequest)
		want   string
	}{
		{"short password", func(r *InitRequest) { r.AdminPassword = "short" }, "Password"},
		{"blank username", func(r *InitRequest) { r.AdminUsername = "  " }, "username"},
		{"bad treasury", func(r *InitRequest) { r.Solana.Treasury = "not-base58!" }, "treasury"},
		{"bad mint", func(r *InitRequest) { r.Solana.USDCMint = "mint?" }, "mint"},
		{"unknown network", func(r *InitRequest) { r.Solana.Network = "localnet" }, "network"},
		{"rpc scheme", func(r *InitRequest) { r.Solana.RPCURL = "ws://api.devnet.solana.com" }, "RPC"},
		{"ttl too short", func(r *InitRequest) { r.Solana.IntentTTL = "10s" }, "TTL"},
		{"ttl unparsable", func(r *InitRequest) { r.Solana.IntentTTL = "soon" }, "TTL"},
		{"sol tolerance", func(r *InitRequest) { r.Solana.SOLToleranceBps = intPtr(maxToleranceBps + 1) }, "SOL tolerance"},
		{"usdc tolerance", func(r *InitRequest) { r.Solana.USDCToleranceBps = intPtr(-1) }, "USDC tolerance"},
		{"feed scheme", func(r *InitRequest) { r.Pricing.FeedURL = "ftp://prices.example" }, "feed"},
		{"sync interval", func(r *InitRequest) { r.Pricing.Interval = "1s" }, "interval"},
		{"database type", func(r *InitRequest) { r.Database.Type = "mysql" }, "database type"},
		{"postgres port", func(r *InitRequest) {
			r.Database = DatabaseRequest{Type: "postgres", Host: "db", Port: 70000, User: "u", Name: "n", Password: "p"}
		}, "port"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := sqliteInitRequest(treasury)
			tc.mutate(&req)
			err := req.normalize()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDatabaseRequestDSN_EscapesCredentials(t *testing.T) {
	req := DatabaseRequest{Type: "postgres", Host: "db.internal", Port: 5432, User: "ledger", Password: "p@ss/w:rd?", Name: "credits"}
	if err := req.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	dsn, err := req.DSN()
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse dsn %q: %v", dsn, err)
	}
	password, _ := parsed.User.Password()
	if password != "p@ss/w:rd?" || parsed.Host != "db.internal:5432" || parsed.Path != "/credits" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if parsed.Query().Get("sslmode") != "disable" {
		t.Fatalf("expected default sslmode, got %q", dsn)
	}

	prefill, err := prefillDatabase(dsn)
	if err != nil {
		t.Fatalf("prefill: %v", err)
	}
	if prefill.Host != "db.internal" || prefill.User != "ledger" || !prefill.PasswordSet {
		t.Fatalf("dsn did not survive pgconn: %+v", prefill)
	}
}

func TestWriteConfigFile_RoundTrip(t *testing.T) {
	t.Setenv(config.EnvDBConnection, "")
	t.Setenv(config.EnvJWTSecret, "")
	t.Setenv(config.EnvSolanaTreasury, "")
	t.Setenv(config.EnvSolanaNetwork, "")
	t.Setenv(config.EnvSolanaRPCURL, "")
	t.Setenv(config.EnvSolanaUSDCMint, "")
	t.Setenv(config.EnvPriceFeedURL, "")

	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	dsn := buildSQLiteDSN(filepath.Join(t.TempDir(), "ledger.db"))
	sol := SolanaRequest{
		Network:          config.NetworkMainnet,
		RPCURL:           "https://mainnet.helius-rpc.com/?api-key=k",
		Treasury:         chaintest.RandomAddress(),
		IntentTTL:        "30m",
		SOLToleranceBps:  intPtr(75),
		USDCToleranceBps: intPtr(10),
	}
	feed := PricingRequest{FeedURL: "https://prices.example/sol", Interval: "2m"}
	req := InitRequest{AdminUsername: "root", AdminPassword: "long-enough", Database: DatabaseRequest{Type: "sqlite"}, Solana: sol, Pricing: feed}
	if err := req.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := WriteConfigFile(path, dsn, 9000, req.Solana, req.Pricing); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if !ConfigExists(path) {
		t.Fatalf("expected config file at %s", path)
	}

	gotDSN, err := config.LoadDatabaseDSN(path)
	if err != nil || gotDSN != dsn {
		t.Fatalf("dsn round trip: %q err=%v", gotDSN, err)
	}
	jwtCfg, err := config.LoadJWTConfig(path)
	if err != nil || jwtCfg.Secret == "" || jwtCfg.Expiry != 720*time.Hour {
		t.Fatalf("expected generated jwt secret, got %+v err=%v", jwtCfg, err)
	}
	solanaCfg, err := config.LoadSolanaConfig(path)
	if err != nil {
		t.Fatalf("load solana config: %v", err)
	}
	if solanaCfg.Treasury != sol.Treasury || solanaCfg.USDCMint != config.MainnetUSDCMint || solanaCfg.RPCURL != sol.RPCURL {
		t.Fatalf("unexpected solana config %+v", solanaCfg)
	}
	if solanaCfg.IntentTTL != 30*time.Minute || solanaCfg.SOLToleranceBps != 75 || solanaCfg.USDCToleranceBps != 10 {
		t.Fatalf("unexpected payment tuning %+v", solanaCfg)
	}
	pricingCfg := config.LoadPricingConfig(path)
	if pricingCfg.FeedURL != feed.FeedURL || pricingCfg.Interval != 2*time.Minute {
		t.Fatalf("unexpected pricing config %+v", pricingCfg)
	}
	if server := config.LoadServerConfig(path, 1); server.Port != 9000 {
		t.Fatalf("unexpected port %d", server.Port)
	}
}
