package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/chain/chaintest"
	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/db"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/payments"
	"github.com/mystartupai/creditledger/internal/pricing"
	"github.com/shopspring/decimal"
)

type flatPrices struct{}

func (flatPrices) SpotUSD(_ context.Context, symbol string) (pricing.Quote, error) {
	return pricing.Quote{Symbol: symbol, USDPrice: decimal.NewFromInt(150), FetchedAt: time.Now()}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *setupGate) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := "file:" + filepath.Join(t.TempDir(), "router.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	store := ledger.NewStore(conn)
	svc := payments.NewService(store, chaintest.New(), flatPrices{}, payments.Config{Treasury: chaintest.RandomAddress()})
	gate, errGate := newSetupGate(context.Background(), conn)
	if errGate != nil {
		t.Fatalf("setup gate: %v", errGate)
	}
	engine := NewRouter(RouterDeps{
		DB:          conn,
		Store:       store,
		Payments:    svc,
		JWT:         config.JWTConfig{Secret: "router-secret", Expiry: time.Hour},
		CORSOrigins: []string{"https://app.mystartup.ai"},
		DSN:         dsn,
		Solana: config.SolanaConfig{
			Network:         config.NetworkDevnet,
			RPCURL:          "https://devnet.helius-rpc.com/?api-key=router-key",
			Treasury:        chaintest.RandomAddress(),
			USDCMint:        config.DevnetUSDCMint,
			IntentTTL:       15 * time.Minute,
			SOLToleranceBps: 50,
		},
		Pricing: config.PricingConfig{FeedURL: "https://api.coingecko.com/api/v3/simple/price", Interval: time.Minute},
		Setup:   gate,
	})
	return engine, gate
}

func serve(engine *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var raw []byte
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestRouter_HealthMetricsAndNotFound(t *testing.T) {
	engine, _ := newTestRouter(t)

	rec := serve(engine, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}

	rec = serve(engine, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: %d", rec.Code)
	}

	rec = serve(engine, http.MethodGet, "/nope", nil, nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "not_found") {
		t.Fatalf("expected json 404, got %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(engine, http.MethodGet, "/api/credits/packages", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("front routes not mounted: %d", rec.Code)
	}
	rec = serve(engine, http.MethodGet, "/v0/admin/users", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("admin routes not mounted: %d", rec.Code)
	}
}

func TestRouter_CORS(t *testing.T) {
	engine, _ := newTestRouter(t)
	rec := serve(engine, http.MethodOptions, "/api/credits/balance", nil, map[string]string{
		"Origin":                        "https://app.mystartup.ai",
		"Access-Control-Request-Method": http.MethodGet,
	})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.mystartup.ai" {
		t.Fatalf("unexpected allow origin %q (status %d)", got, rec.Code)
	}
	rec = serve(engine, http.MethodOptions, "/api/credits/balance", nil, map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": http.MethodGet,
	})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin for foreign site %q", got)
	}
}

func TestRouter_InitSetup(t *testing.T) {
	engine, gate := newTestRouter(t)

	rec := serve(engine, http.MethodGet, "/v0/init/status", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"initialized":false`) {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(engine, http.MethodGet, "/v0/init/prefill", nil, nil)
	body := rec.Body.String()
	for _, want := range []string{`"locked":true`, `"type":"sqlite"`, `"rpc_endpoint":"https://devnet.helius-rpc.com"`, `"rpc_key_set":true`, `"intent_ttl":"15m0s"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("prefill missing %s: %s", want, body)
		}
	}
	if strings.Contains(body, "router-key") {
		t.Fatalf("prefill leaked rpc key: %s", body)
	}

	rec = serve(engine, http.MethodPost, "/v0/init/setup", map[string]string{"admin_username": "root", "admin_password": "short"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", rec.Code)
	}
	rec = serve(engine, http.MethodPost, "/v0/init/setup", map[string]string{"admin_username": "root", "admin_password": "long-enough", "site_name": "Ledger"}, nil)
	if rec.Code != http.StatusOK || !gate.Initialized() {
		t.Fatalf("setup: %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(engine, http.MethodPost, "/v0/init/setup", map[string]string{"admin_username": "again", "admin_password": "long-enough"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected second setup to be refused, got %d", rec.Code)
	}

	rec = serve(engine, http.MethodPost, "/v0/admin/login", map[string]string{"username": "root", "password": "long-enough"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as first admin: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_ConcurrentSetupCreatesOneAdmin(t *testing.T) {
	engine, gate := newTestRouter(t)

	const attempts = 8
	codes := make([]int, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := serve(engine, http.MethodPost, "/v0/init/setup", map[string]string{
				"admin_username": "root" + strconv.Itoa(i),
				"admin_password": "long-enough",
			}, nil)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, code := range codes {
		switch code {
		case http.StatusOK:
			succeeded++
		case http.StatusBadRequest:
		default:
			t.Fatalf("attempt %d: unexpected status %d", i, code)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one setup to succeed, got %d (%v)", succeeded, codes)
	}
	var admins int64
	if err := gate.conn.Model(&models.Admin{}).Count(&admins).Error; err != nil {
		t.Fatalf("count admins: %v", err)
	}
	if admins != 1 {
		t.Fatalf("expected one admin, got %d", admins)
	}
}
