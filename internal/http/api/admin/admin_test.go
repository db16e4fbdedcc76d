package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/catalog"
	"github.com/mystartupai/creditledger/internal/chain/chaintest"
	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/db"
	"github.com/mystartupai/creditledger/internal/http/api/admin/permissions"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/payments"
	"github.com/mystartupai/creditledger/internal/pricing"
	"github.com/mystartupai/creditledger/internal/security"
	internalsettings "github.com/mystartupai/creditledger/internal/settings"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fixedPrices struct{}

func (fixedPrices) SpotUSD(_ context.Context, symbol string) (pricing.Quote, error) {
	return pricing.Quote{Symbol: symbol, USDPrice: decimal.NewFromInt(100), FetchedAt: time.Now()}, nil
}

type testServer struct {
	router *gin.Engine
	conn   *gorm.DB
	store  *ledger.Store
	svc    *payments.Service
	jwt    config.JWTConfig
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "admin.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	s := &testServer{
		conn:  conn,
		store: ledger.NewStore(conn),
		jwt:   config.JWTConfig{Secret: "admin-secret", Expiry: time.Hour},
	}
	s.svc = payments.NewService(s.store, chaintest.New(), fixedPrices{}, payments.Config{
		Treasury:   chaintest.RandomAddress(),
		VerifyWait: 20 * time.Millisecond,
	})
	s.router = gin.New()
	RegisterAdminRoutes(s.router, Deps{DB: conn, Store: s.store, Payments: s.svc, JWT: s.jwt})
	return s
}

func (s *testServer) createAdmin(t *testing.T, username, password string, super bool, perms ...string) {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	raw, err := permissions.MarshalPermissions(perms)
	if err != nil {
		t.Fatalf("marshal permissions: %v", err)
	}
	admin := models.Admin{Username: username, Password: hash, Active: true, IsSuperAdmin: super, Permissions: raw}
	if errCreate := s.conn.Create(&admin).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}
}

func (s *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/v0/admin/login", "", gin.H{"username": username, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %v", username, rec.Code, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("missing token in %v", body)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var raw []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		raw = encoded
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestLoginAndPermissions(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "root", "root-password", true)
	s.createAdmin(t, "viewer", "viewer-password", false, "GET /v0/admin/users")

	if rec, _ := s.do(t, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "root", "password": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}
	if rec, _ := s.do(t, http.MethodGet, "/v0/admin/users", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	userToken, err := security.GenerateUserToken(s.jwt.Secret, 1, "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("user token: %v", err)
	}
	if rec, _ := s.do(t, http.MethodGet, "/v0/admin/users", userToken, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("user token must not open the admin API, got %d", rec.Code)
	}

	viewer := s.login(t, "viewer", "viewer-password")
	if rec, body := s.do(t, http.MethodGet, "/v0/admin/users", viewer, nil); rec.Code != http.StatusOK {
		t.Fatalf("viewer list users: %d %v", rec.Code, body)
	}
	rec, body := s.do(t, http.MethodPost, "/v0/admin/subscriptions/rollover", viewer, nil)
	if rec.Code != http.StatusForbidden || body["permission"] != "POST /v0/admin/subscriptions/rollover" {
		t.Fatalf("expected 403 for missing permission, got %d %v", rec.Code, body)
	}

	root := s.login(t, "root", "root-password")
	rec, body = s.do(t, http.MethodPost, "/v0/admin/subscriptions/rollover", root, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rollover: %d %v", rec.Code, body)
	}
	if _, ok := body["expired"]; !ok {
		t.Fatalf("expected rollover report, got %v", body)
	}

	var stored models.Admin
	if errFind := s.conn.Where("username = ?", "root").First(&stored).Error; errFind != nil {
		t.Fatalf("load admin: %v", errFind)
	}
	if stored.LastLoginAt == nil {
		t.Fatalf("expected last login to be recorded")
	}
}

func TestDisabledAdminRejected(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "ops", "ops-password", true)
	token := s.login(t, "ops", "ops-password")

	if errUpdate := s.conn.Model(&models.Admin{}).Where("username = ?", "ops").Update("active", false).Error; errUpdate != nil {
		t.Fatalf("disable: %v", errUpdate)
	}
	if rec, _ := s.do(t, http.MethodGet, "/v0/admin/users", token, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled admin, got %d", rec.Code)
	}
	if rec, _ := s.do(t, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "ops", "password": "ops-password"}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 login for disabled admin, got %d", rec.Code)
	}
}

func TestRefundLedgerAndAudit(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "root", "root-password", true)
	token := s.login(t, "root", "root-password")
	user, err := s.store.CreateUser(context.Background(), ledger.NewUser{Email: "founder@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	base := "/v0/admin/users/" + itoa(user.ID)

	rec, body := s.do(t, http.MethodPost, base+"/refund", token, gin.H{"amount": 50, "description": "support ticket"})
	if rec.Code != http.StatusCreated || body["newBalance"] != float64(user.Credits+50) {
		t.Fatalf("refund: %d %v", rec.Code, body)
	}
	if rec, body := s.do(t, http.MethodPost, base+"/refund", token, gin.H{"amount": 0}); rec.Code != http.StatusBadRequest || body["error"] != "invalid_amount" {
		t.Fatalf("expected invalid_amount, got %d %v", rec.Code, body)
	}
	if rec, body := s.do(t, http.MethodPost, "/v0/admin/users/9999/refund", token, gin.H{"amount": 5}); rec.Code != http.StatusNotFound || body["error"] != "user_not_found" {
		t.Fatalf("expected user_not_found, got %d %v", rec.Code, body)
	}

	rec, body = s.do(t, http.MethodGet, base+"/ledger", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger: %d %v", rec.Code, body)
	}
	entries, _ := body["transactions"].([]any)
	if len(entries) != 2 {
		t.Fatalf("expected signup and refund entries, got %v", body)
	}
	newest, _ := entries[0].(map[string]any)
	if newest["type"] != models.CreditTransactionRefund {
		t.Fatalf("expected newest entry to be the refund, got %v", newest)
	}

	rec, body = s.do(t, http.MethodGet, base+"/ledger/audit", token, nil)
	if rec.Code != http.StatusOK || body["consistent"] != true {
		t.Fatalf("audit: %d %v", rec.Code, body)
	}

	// Drift the cached balance behind the ledger's back.
	if errUpdate := s.conn.Model(&models.User{}).Where("id = ?", user.ID).Update("credits", 1).Error; errUpdate != nil {
		t.Fatalf("drift: %v", errUpdate)
	}
	rec, body = s.do(t, http.MethodGet, base+"/ledger/audit", token, nil)
	if rec.Code != http.StatusOK || body["consistent"] != false {
		t.Fatalf("expected drift to be reported, got %d %v", rec.Code, body)
	}

	rec, body = s.do(t, http.MethodGet, "/v0/admin/users?search=FOUNDER", token, nil)
	if rec.Code != http.StatusOK || body["total"] != float64(1) {
		t.Fatalf("search users: %d %v", rec.Code, body)
	}
	if rec, _ := s.do(t, http.MethodGet, "/v0/admin/users/abc", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestPaymentIntentsAndReconcile(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "root", "root-password", true)
	token := s.login(t, "root", "root-password")
	user, err := s.store.CreateUser(context.Background(), ledger.NewUser{Email: "buyer@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	req, err := s.svc.CreatePaymentRequest(context.Background(), user.ID, catalog.PackageCore, string(payments.MethodSOL))
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	rec, body := s.do(t, http.MethodGet, "/v0/admin/payments/intents?status=pending&user_id="+itoa(user.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("intents: %d %v", rec.Code, body)
	}
	intents, _ := body["intents"].([]any)
	if len(intents) != 1 || intents[0].(map[string]any)["reference"] != req.Reference {
		t.Fatalf("unexpected intents %v", body)
	}
	if rec, _ := s.do(t, http.MethodGet, "/v0/admin/payments/intents?status=bogus", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}

	rec, body = s.do(t, http.MethodPost, "/v0/admin/payments/"+chaintest.RandomAddress()+"/reconcile", token, gin.H{"signature": ""})
	if rec.Code != http.StatusNotFound || body["error"] != "intent_not_found" {
		t.Fatalf("expected intent_not_found, got %d %v", rec.Code, body)
	}
	// Nothing landed for the reference yet.
	rec, body = s.do(t, http.MethodPost, "/v0/admin/payments/"+req.Reference+"/reconcile", token, nil)
	if rec.Code != http.StatusAccepted || body["error"] != "not_confirmed" {
		t.Fatalf("expected 202 not_confirmed, got %d %v", rec.Code, body)
	}
}

func TestSettingsAndAdmins(t *testing.T) {
	s := newTestServer(t)
	s.createAdmin(t, "root", "root-password", true)
	s.createAdmin(t, "manager", "manager-password", false, "GET /v0/admin/admins", "POST /v0/admin/admins")
	root := s.login(t, "root", "root-password")

	if rec, _ := s.do(t, http.MethodPut, "/v0/admin/settings/"+internalsettings.RateLimitKey, root, gin.H{"value": "abc"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric rate limit, got %d", rec.Code)
	}
	if rec, _ := s.do(t, http.MethodPut, "/v0/admin/settings/NOT_A_SETTING", root, gin.H{"value": 1}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown key, got %d", rec.Code)
	}
	if rec, body := s.do(t, http.MethodPut, "/v0/admin/settings/"+internalsettings.RateLimitKey, root, gin.H{"value": 12}); rec.Code != http.StatusOK {
		t.Fatalf("update setting: %d %v", rec.Code, body)
	}
	if got := internalsettings.IntValue(internalsettings.RateLimitKey, 0); got != 12 {
		t.Fatalf("expected snapshot refresh, got %d", got)
	}
	if rec, body := s.do(t, http.MethodPut, "/v0/admin/settings/"+internalsettings.RateLimitRedisPasswordKey, root, gin.H{"value": "hunter2"}); rec.Code != http.StatusOK || body["value"] != "********" {
		t.Fatalf("expected masked secret, got %d %v", rec.Code, body)
	}
	rec, body := s.do(t, http.MethodGet, "/v0/admin/settings", root, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list settings: %d %v", rec.Code, body)
	}

	manager := s.login(t, "manager", "manager-password")
	if rec, _ := s.do(t, http.MethodPost, "/v0/admin/admins", manager, gin.H{"username": "boss", "password": "boss-password", "isSuperAdmin": true}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 creating super admin, got %d", rec.Code)
	}
	if rec, _ := s.do(t, http.MethodPost, "/v0/admin/admins", manager, gin.H{"username": "ops", "password": "ops-password", "permissions": []string{"GET /v0/admin/nope"}}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown permission, got %d", rec.Code)
	}
	rec, body = s.do(t, http.MethodPost, "/v0/admin/admins", manager, gin.H{"username": "ops", "password": "ops-password", "permissions": []string{"GET /v0/admin/users", "GET /v0/admin/users"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create admin: %d %v", rec.Code, body)
	}
	if perms, _ := body["permissions"].([]any); len(perms) != 1 {
		t.Fatalf("expected de-duplicated permissions, got %v", body)
	}
	if rec, _ := s.do(t, http.MethodPost, "/v0/admin/admins", manager, gin.H{"username": "ops", "password": "ops-password"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate admin, got %d", rec.Code)
	}
	rec, body = s.do(t, http.MethodGet, "/v0/admin/admins", manager, nil)
	if admins, _ := body["admins"].([]any); rec.Code != http.StatusOK || len(admins) != 3 {
		t.Fatalf("list admins: %d %v", rec.Code, body)
	}
	if rec, _ := s.do(t, http.MethodGet, "/v0/admin/permissions", manager, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for permissions listing, got %d", rec.Code)
	}
}

func TestDefinitionsCoverRoutes(t *testing.T) {
	s := newTestServer(t)
	defs := permissions.DefinitionMap()
	for _, route := range s.router.Routes() {
		if route.Path == "/v0/admin/login" {
			continue
		}
		if _, ok := defs[permissions.Key(route.Method, route.Path)]; !ok {
			t.Fatalf("route %s %s has no permission definition", route.Method, route.Path)
		}
	}
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
