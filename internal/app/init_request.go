package app

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mystartupai/creditledger/internal/chain"
	"github.com/mystartupai/creditledger/internal/config"
	internalsettings "github.com/mystartupai/creditledger/internal/settings"
)

const (
	// defaultSQLitePath is the default SQLite database file name.
	defaultSQLitePath = "ledger.db"
	// minAdminPasswordLength is the shortest accepted admin password.
	minAdminPasswordLength = 8
	// maxToleranceBps caps the underpayment tolerance an operator may configure.
	maxToleranceBps = 1000
	minIntentTTL    = time.Minute
	maxIntentTTL    = 24 * time.Hour
	minPriceSync    = 10 * time.Second
)

// InitRequest is the first-run setup payload: where the ledger lives, where
// payments settle, where prices come from, and who administers it.
type InitRequest struct {
	SiteName      string          `json:"site_name"`
	AdminUsername string          `json:"admin_username" binding:"required"`
	AdminPassword string          `json:"admin_password" binding:"required"`
	Database      DatabaseRequest `json:"database"`
	Solana        SolanaRequest   `json:"solana"`
	Pricing       PricingRequest  `json:"pricing"`
}

// DatabaseRequest selects the ledger database.
type DatabaseRequest struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SSLMode  string `json:"ssl_mode"`
}

// SolanaRequest configures payment settlement. Empty optional fields fall back
// to the per-network defaults applied when the config is loaded.
type SolanaRequest struct {
	Network          string `json:"network"`
	RPCURL           string `json:"rpc_url"`
	Treasury         string `json:"treasury"`
	USDCMint         string `json:"usdc_mint"`
	IntentTTL        string `json:"intent_ttl"`
	SOLToleranceBps  *int   `json:"sol_tolerance_bps"`
	USDCToleranceBps *int   `json:"usdc_tolerance_bps"`
}

// PricingRequest configures the SOL/USD feed.
type PricingRequest struct {
	FeedURL  string `json:"feed_url"`
	Interval string `json:"interval"`
}

// normalize trims every field, applies defaults and rejects unusable input.
func (r *InitRequest) normalize() error {
	r.SiteName = strings.TrimSpace(r.SiteName)
	if r.SiteName == "" {
		r.SiteName = internalsettings.DefaultSiteName
	}
	r.AdminUsername = strings.TrimSpace(r.AdminUsername)
	if r.AdminUsername == "" {
		return errors.New("Admin username is required")
	}
	if len(r.AdminPassword) < minAdminPasswordLength {
		return fmt.Errorf("Password must be at least %d characters", minAdminPasswordLength)
	}
	if errDB := r.Database.normalize(); errDB != nil {
		return errDB
	}
	if errSolana := r.Solana.normalize(); errSolana != nil {
		return errSolana
	}
	return r.Pricing.normalize()
}

func (d *DatabaseRequest) normalize() error {
	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	if d.Type == "" {
		d.Type = "postgres"
	}
	d.Host = strings.TrimSpace(d.Host)
	d.User = strings.TrimSpace(d.User)
	d.Name = strings.TrimSpace(d.Name)
	d.Path = strings.TrimSpace(d.Path)
	d.SSLMode = strings.TrimSpace(d.SSLMode)

	switch d.Type {
	case "postgres":
		switch {
		case d.Host == "":
			return errors.New("Database host is required")
		case d.Port <= 0 || d.Port > 65535:
			return errors.New("Invalid database port")
		case d.User == "":
			return errors.New("Database username is required")
		case d.Name == "":
			return errors.New("Database name is required")
		case strings.TrimSpace(d.Password) == "":
			return errors.New("Database password is required")
		}
		if d.SSLMode == "" {
			d.SSLMode = "disable"
		}
	case "sqlite":
		if d.Path == "" {
			d.Path = defaultSQLitePath
		}
	default:
		return errors.New("Unsupported database type")
	}
	return nil
}

// DSN renders the connection string for the selected database.
func (d DatabaseRequest) DSN() (string, error) {
	switch d.Type {
	case "postgres":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(d.User, d.Password),
			Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
			Path:     "/" + d.Name,
			RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
		}
		return u.String(), nil
	case "sqlite":
		return buildSQLiteDSN(d.Path), nil
	default:
		return "", errors.New("Unsupported database type")
	}
}

// buildSQLiteDSN constructs a SQLite DSN tuned for a single ledger writer.
func buildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_synchronous=NORMAL"
}

func (s *SolanaRequest) normalize() error {
	s.Network = strings.ToLower(strings.TrimSpace(s.Network))
	switch s.Network {
	case "":
		s.Network = config.NetworkDevnet
	case config.NetworkDevnet, config.NetworkMainnet, config.NetworkTestnet:
	default:
		return errors.New("Unsupported Solana network")
	}

	s.Treasury = strings.TrimSpace(s.Treasury)
	if errAddr := chain.ValidateAddress(s.Treasury); errAddr != nil {
		return errors.New("Invalid Solana treasury address")
	}
	s.USDCMint = strings.TrimSpace(s.USDCMint)
	if s.USDCMint == "" {
		s.USDCMint = config.DevnetUSDCMint
		if s.Network == config.NetworkMainnet {
			s.USDCMint = config.MainnetUSDCMint
		}
	} else if errMint := chain.ValidateAddress(s.USDCMint); errMint != nil {
		return errors.New("Invalid USDC mint address")
	}

	s.RPCURL = strings.TrimSpace(s.RPCURL)
	if s.RPCURL != "" && !isHTTPURL(s.RPCURL) {
		return errors.New("Solana RPC URL must be an http(s) URL")
	}

	s.IntentTTL = strings.TrimSpace(s.IntentTTL)
	if s.IntentTTL != "" {
		ttl, errTTL := time.ParseDuration(s.IntentTTL)
		if errTTL != nil || ttl < minIntentTTL || ttl > maxIntentTTL {
			return fmt.Errorf("Payment intent TTL must be between %s and %s", minIntentTTL, maxIntentTTL)
		}
	}
	if errTol := checkTolerance("SOL", s.SOLToleranceBps); errTol != nil {
		return errTol
	}
	return checkTolerance("USDC", s.USDCToleranceBps)
}

func checkTolerance(asset string, bps *int) error {
	if bps != nil && (*bps < 0 || *bps > maxToleranceBps) {
		return fmt.Errorf("%s tolerance must be between 0 and %d bps", asset, maxToleranceBps)
	}
	return nil
}

func (p *PricingRequest) normalize() error {
	p.FeedURL = strings.TrimSpace(p.FeedURL)
	if p.FeedURL != "" && !isHTTPURL(p.FeedURL) {
		return errors.New("Price feed URL must be an http(s) URL")
	}
	p.Interval = strings.TrimSpace(p.Interval)
	if p.Interval != "" {
		interval, errInterval := time.ParseDuration(p.Interval)
		if errInterval != nil || interval < minPriceSync {
			return fmt.Errorf("Price sync interval must be at least %s", minPriceSync)
		}
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, errParse := url.Parse(raw)
	if errParse != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
