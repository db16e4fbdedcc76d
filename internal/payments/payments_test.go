package payments

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mystartupai/creditledger/internal/chain"
	"github.com/mystartupai/creditledger/internal/chain/chaintest"
	"github.com/mystartupai/creditledger/internal/db"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/pricing"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type staticPrices struct {
	sol decimal.Decimal
	err error
}

func (p staticPrices) SpotUSD(_ context.Context, symbol string) (pricing.Quote, error) {
	if p.err != nil {
		return pricing.Quote{}, p.err
	}
	if symbol == pricing.SymbolUSDC {
		return pricing.Quote{Symbol: symbol, USDPrice: decimal.NewFromInt(1), FetchedAt: fixedNow}, nil
	}
	return pricing.Quote{Symbol: symbol, USDPrice: p.sol, FetchedAt: fixedNow}, nil
}

type harness struct {
	svc      *Service
	store    *ledger.Store
	client   *chaintest.Client
	treasury string
	mint     string
	now      time.Time
	user     *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "payments.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	h := &harness{
		client:   chaintest.New(),
		treasury: chaintest.RandomAddress(),
		mint:     chaintest.RandomAddress(),
		now:      fixedNow,
	}
	clock := func() time.Time { return h.now }
	h.store = ledger.NewStore(conn, ledger.WithClock(clock))
	h.svc = NewService(h.store, h.client, staticPrices{sol: decimal.RequireFromString("145.5")}, Config{
		Treasury:        h.treasury,
		USDCMint:        h.mint,
		IntentTTL:       15 * time.Minute,
		VerifyWait:      50 * time.Millisecond,
		SOLToleranceBps: 50,
		Label:           "MyStartup.ai",
	},
		WithClock(clock),
		WithWatcher(chain.NewWatcher(h.client, chain.Backoff{Initial: time.Millisecond, Multiplier: 1.5, Max: 5 * time.Millisecond})),
		WithRetryBackoff(chain.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond}),
	)
	user, errUser := h.store.CreateUser(context.Background(), ledger.NewUser{Email: "founder@example.com", Name: "Founder"})
	if errUser != nil {
		t.Fatalf("create user: %v", errUser)
	}
	h.user = user
	return h
}

// landSOL records a confirmed transfer of lamports to the treasury tagged with reference.
func (h *harness) landSOL(reference string, lamports int64) string {
	payer := chaintest.RandomAddress()
	tx := &chain.Transaction{
		Signature:   chaintest.RandomSignature(),
		Slot:        4242,
		AccountKeys: []string{payer, h.treasury, solana.SystemProgramID.String(), reference},
		NativeDeltas: map[string]int64{
			payer:      -lamports - 5000,
			h.treasury: lamports,
		},
	}
	h.client.Land(tx)
	return tx.Signature
}

func (h *harness) intent(t *testing.T, reference string) models.PaymentIntent {
	t.Helper()
	var intent models.PaymentIntent
	if err := h.store.DB().Where("reference = ?", reference).Take(&intent).Error; err != nil {
		t.Fatalf("load intent: %v", err)
	}
	return intent
}

func TestCreatePaymentRequest_SOL(t *testing.T) {
	h := newHarness(t)

	req, err := h.svc.CreatePaymentRequest(context.Background(), h.user.ID, "core", "sol")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Amount.String() != "0.199312715" || req.AmountBase != 199_312_715 {
		t.Fatalf("unexpected amount %s (%d)", req.Amount, req.AmountBase)
	}
	if req.Credits != 2000 || req.PackageType != "CORE" {
		t.Fatalf("unexpected package %s credits %d", req.PackageType, req.Credits)
	}
	prefix := "solana:" + h.treasury + "?amount=0.199312715"
	if !strings.HasPrefix(req.URL, prefix) {
		t.Fatalf("expected url prefix %s, got %s", prefix, req.URL)
	}
	if !strings.Contains(req.URL, "reference="+req.Reference) || !strings.Contains(req.URL, "label=MyStartup.ai") {
		t.Fatalf("url missing reference or label: %s", req.URL)
	}
	if strings.Contains(req.URL, "spl-token") {
		t.Fatalf("sol request must not carry spl-token: %s", req.URL)
	}

	intent := h.intent(t, req.Reference)
	if intent.Status != models.PaymentIntentPending || intent.UserID != h.user.ID {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if !intent.ExpiresAt.Equal(fixedNow.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", intent.ExpiresAt)
	}
	if !intent.QuoteRate.Valid || intent.QuoteRate.Decimal.String() != "145.5" {
		t.Fatalf("expected quote rate recorded, got %+v", intent.QuoteRate)
	}
}

func TestCreatePaymentRequest_USDC(t *testing.T) {
	h := newHarness(t)

	req, err := h.svc.CreatePaymentRequest(context.Background(), h.user.ID, "QUICK_500", "USDC")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Amount.String() != "9" || req.AmountBase != 9_000_000 {
		t.Fatalf("unexpected amount %s (%d)", req.Amount, req.AmountBase)
	}
	if req.Mint != h.mint || !strings.Contains(req.URL, "spl-token="+h.mint) {
		t.Fatalf("expected spl-token %s in %s", h.mint, req.URL)
	}
}

func TestCreatePaymentRequest_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.CreatePaymentRequest(ctx, h.user.ID, "GOLD", "SOL"); !errors.Is(err, ErrInvalidPackage) {
		t.Fatalf("expected ErrInvalidPackage, got %v", err)
	}
	if _, err := h.svc.CreatePaymentRequest(ctx, h.user.ID, "FREEMIUM", "SOL"); !errors.Is(err, ErrInvalidPackage) {
		t.Fatalf("expected ErrInvalidPackage for free plan, got %v", err)
	}
	if _, err := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "BTC"); !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got %v", err)
	}
	if _, err := h.svc.CreatePaymentRequest(ctx, 9999, "CORE", "SOL"); !errors.Is(err, ledger.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	h.svc.prices = staticPrices{err: ErrPricingUnavailable}
	if _, err := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "SOL"); !errors.Is(err, ErrPricingUnavailable) {
		t.Fatalf("expected ErrPricingUnavailable, got %v", err)
	}
	var count int64
	h.store.DB().Model(&models.PaymentIntent{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no intents, got %d", count)
	}
}

func TestVerify_CreditsOnceAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, err := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "SOL")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sig := h.landSOL(req.Reference, req.AmountBase)

	res, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: sig, Reference: req.Reference, PackageType: "CORE", PaymentMethod: "SOL"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Success || res.AlreadyProcessed || res.CreditsAdded != 2000 || res.Balance != 2200 {
		t.Fatalf("unexpected result %+v", res)
	}

	again, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: sig, Reference: req.Reference})
	if err != nil {
		t.Fatalf("verify again: %v", err)
	}
	if !again.AlreadyProcessed || again.Balance != 2200 || again.CreditsAdded != 0 {
		t.Fatalf("expected already processed, got %+v", again)
	}

	user, _ := h.store.GetUser(ctx, h.user.ID)
	if user.CurrentPlan != models.PlanCore || user.SubscriptionStatus != models.SubscriptionActive {
		t.Fatalf("expected active CORE, got %s/%s", user.CurrentPlan, user.SubscriptionStatus)
	}
	intent := h.intent(t, req.Reference)
	if intent.Status != models.PaymentIntentConsumed || intent.Signature == nil || *intent.Signature != sig {
		t.Fatalf("expected consumed intent with signature, got %+v", intent)
	}
}

func TestVerify_LocatesIntentFromSignatureOrReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bySig, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "QUICK_500", "SOL")
	sig := h.landSOL(bySig.Reference, bySig.AmountBase)
	res, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: sig})
	if err != nil {
		t.Fatalf("verify by signature: %v", err)
	}
	if res.Reference != bySig.Reference || res.Balance != 700 {
		t.Fatalf("unexpected result %+v", res)
	}

	byRef, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "QUICK_1000", "SOL")
	h.landSOL(byRef.Reference, byRef.AmountBase)
	res, err = h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Reference: byRef.Reference})
	if err != nil {
		t.Fatalf("verify by reference: %v", err)
	}
	if res.Balance != 1700 {
		t.Fatalf("expected 1700, got %d", res.Balance)
	}

	unknown := h.landSOL(chaintest.RandomAddress(), 1000)
	if _, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: unknown}); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}
}

func TestVerify_UnderpaymentKeepsIntentPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "SOL")

	short := h.landSOL(req.Reference, req.AmountBase/2)
	if _, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: short, Reference: req.Reference}); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected ErrPaymentMismatch, got %v", err)
	}
	intent := h.intent(t, req.Reference)
	if intent.Status != models.PaymentIntentPending || intent.Attempts != 1 || intent.LastError == "" {
		t.Fatalf("expected pending intent with one attempt, got %+v", intent)
	}
	if balance, _ := h.store.Balance(ctx, h.user.ID); balance != 200 {
		t.Fatalf("balance changed to %d", balance)
	}

	// Within the 50 bps tolerance.
	full := h.landSOL(req.Reference, req.AmountBase-req.AmountBase*50/10000)
	res, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: full, Reference: req.Reference})
	if err != nil {
		t.Fatalf("verify corrected payment: %v", err)
	}
	if res.Balance != 2200 {
		t.Fatalf("expected 2200, got %d", res.Balance)
	}
}

func TestVerify_WrongRecipientKeepsIntentPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "SOL")

	payer := chaintest.RandomAddress()
	elsewhere := chaintest.RandomAddress()
	misdirected := &chain.Transaction{
		Signature:   chaintest.RandomSignature(),
		Slot:        4243,
		AccountKeys: []string{payer, elsewhere, solana.SystemProgramID.String(), req.Reference},
		NativeDeltas: map[string]int64{
			payer:     -req.AmountBase - 5000,
			elsewhere: req.AmountBase,
		},
	}
	h.client.Land(misdirected)

	if _, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: misdirected.Signature, Reference: req.Reference}); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected ErrPaymentMismatch, got %v", err)
	}
	intent := h.intent(t, req.Reference)
	if intent.Status != models.PaymentIntentPending || intent.Attempts != 1 || intent.LastError == "" {
		t.Fatalf("expected pending intent with one attempt, got %+v", intent)
	}
	if balance, _ := h.store.Balance(ctx, h.user.ID); balance != 200 {
		t.Fatalf("balance changed to %d", balance)
	}

	sig := h.landSOL(req.Reference, req.AmountBase)
	res, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: sig, Reference: req.Reference})
	if err != nil {
		t.Fatalf("verify treasury payment: %v", err)
	}
	if res.Balance != 2200 {
		t.Fatalf("expected 2200, got %d", res.Balance)
	}
}

func TestVerify_MismatchedPackageOrFailedTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "SOL")
	sig := h.landSOL(req.Reference, req.AmountBase)

	if _, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: sig, Reference: req.Reference, PackageType: "PRO"}); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected mismatch for package, got %v", err)
	}
	if _, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: sig, Reference: req.Reference, PaymentMethod: "USDC"}); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected mismatch for method, got %v", err)
	}

	failed := &chain.Transaction{
		Signature:    chaintest.RandomSignature(),
		Failed:       true,
		Err:          "InstructionError",
		AccountKeys:  []string{chaintest.RandomAddress(), h.treasury, req.Reference},
		NativeDeltas: map[string]int64{},
	}
	h.client.Land(failed)
	if _, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: failed.Signature, Reference: req.Reference}); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected mismatch for failed transaction, got %v", err)
	}
	if intent := h.intent(t, req.Reference); intent.Attempts != 3 || intent.Status != models.PaymentIntentPending {
		t.Fatalf("expected three recorded attempts, got %+v", intent)
	}
}

func TestVerify_NotConfirmedYet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "SOL")
	sig := chaintest.RandomSignature()
	h.client.Script(sig, chain.SignatureStatus{Signature: sig, Status: chain.StatusPending})

	if _, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: sig, Reference: req.Reference}); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if _, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Reference: req.Reference}); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed without signatures, got %v", err)
	}
	if intent := h.intent(t, req.Reference); intent.Attempts != 0 {
		t.Fatalf("pending confirmation must not count as an attempt, got %d", intent.Attempts)
	}
	if _, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: "not-a-signature"}); !errors.Is(err, chain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_ExpiredIntentNeedsReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "SOL")
	sig := h.landSOL(req.Reference, req.AmountBase)

	h.now = fixedNow.Add(16 * time.Minute)
	if _, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: sig, Reference: req.Reference}); !errors.Is(err, ErrIntentExpired) {
		t.Fatalf("expected ErrIntentExpired, got %v", err)
	}
	if balance, _ := h.store.Balance(ctx, h.user.ID); balance != 200 {
		t.Fatalf("expired verification changed balance to %d", balance)
	}
	status, _ := h.svc.Status(ctx, h.user.ID, req.Reference)
	if status.Status != IntentStatusExpired {
		t.Fatalf("expected expired status, got %s", status.Status)
	}

	res, err := h.svc.Reconcile(ctx, req.Reference, "")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Balance != 2200 || res.Signature != sig {
		t.Fatalf("unexpected reconcile result %+v", res)
	}
	again, err := h.svc.Reconcile(ctx, req.Reference, sig)
	if err != nil || !again.AlreadyProcessed {
		t.Fatalf("expected idempotent reconcile, got %+v %v", again, err)
	}
}

func TestVerify_USDCTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "PRO", "USDC")

	tx := &chain.Transaction{
		Signature:    chaintest.RandomSignature(),
		AccountKeys:  []string{chaintest.RandomAddress(), chaintest.RandomAddress(), req.Reference},
		NativeDeltas: map[string]int64{},
		TokenDeltas:  []chain.TokenDelta{{Owner: h.treasury, Mint: h.mint, Delta: 79_000_000}},
	}
	h.client.Land(tx)
	res, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: tx.Signature, Reference: req.Reference, PaymentMethod: "solana_usdc"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Balance != 7200 {
		t.Fatalf("expected 7200, got %d", res.Balance)
	}
	entries, _ := h.store.History(ctx, h.user.ID, 1, 0)
	if len(entries) != 1 || entries[0].PaymentMethod == nil || *entries[0].PaymentMethod != models.PaymentMethodSolanaUSDC {
		t.Fatalf("expected usdc purchase entry, got %+v", entries)
	}
}

func TestVerify_ConcurrentCallsCreditOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "SOL")
	sig := h.landSOL(req.Reference, req.AmountBase)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
		failures []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.Verify(ctx, VerifyRequest{UserID: h.user.ID, Signature: sig, Reference: req.Reference})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if !res.AlreadyProcessed {
				credited++
			}
		}()
	}
	wg.Wait()
	if len(failures) > 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if credited != 1 {
		t.Fatalf("expected exactly one credit, got %d", credited)
	}
	if balance, _ := h.store.Balance(ctx, h.user.ID); balance != 2200 {
		t.Fatalf("expected 2200, got %d", balance)
	}
	report, err := h.store.Audit(ctx, h.user.ID)
	if err != nil || !report.Consistent() {
		t.Fatalf("expected consistent ledger, got %+v %v", report, err)
	}
}

func TestBuildTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "SOL")
	from := chaintest.RandomAddress()

	encoded, err := h.svc.BuildTransaction(ctx, TransactionRequest{UserID: h.user.ID, From: from, Reference: req.Reference, PackageType: "CORE", PaymentMethod: "SOL"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	tx, err := solana.TransactionFromBase64(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.Message.AccountKeys[0].String() != from || !tx.Message.AccountKeys.Has(solana.MustPublicKeyFromBase58(req.Reference)) {
		t.Fatalf("unexpected account keys %v", tx.Message.AccountKeys)
	}

	if _, err := h.svc.BuildTransaction(ctx, TransactionRequest{UserID: h.user.ID + 1, From: from, Reference: req.Reference}); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound for foreign user, got %v", err)
	}
	if _, err := h.svc.BuildTransaction(ctx, TransactionRequest{UserID: h.user.ID, From: from, Reference: req.Reference, PackageType: "PRO"}); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected ErrPaymentMismatch, got %v", err)
	}
	if _, err := h.svc.BuildTransaction(ctx, TransactionRequest{UserID: h.user.ID, From: "bogus", Reference: req.Reference}); !errors.Is(err, chain.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestListIntents_FiltersByDerivedStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "CORE", "SOL")
	h.now = fixedNow.Add(20 * time.Minute)
	second, _ := h.svc.CreatePaymentRequest(ctx, h.user.ID, "QUICK_500", "SOL")

	expired, err := h.svc.ListIntents(ctx, IntentFilter{Status: "expired"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(expired) != 1 || expired[0].Reference != first.Reference {
		t.Fatalf("unexpected expired intents %+v", expired)
	}
	pending, _ := h.svc.ListIntents(ctx, IntentFilter{UserID: h.user.ID, Status: "pending"})
	if len(pending) != 1 || pending[0].Reference != second.Reference {
		t.Fatalf("unexpected pending intents %+v", pending)
	}
	if _, err := h.svc.ListIntents(ctx, IntentFilter{Status: "bogus"}); !errors.Is(err, ErrInvalidIntentStatus) {
		t.Fatalf("expected error for unknown status")
	}
}

func TestParseMethod(t *testing.T) {
	cases := map[string]Method{"sol": MethodSOL, "SOLANA_SOL": MethodSOL, " usdc ": MethodUSDC, "solana_usdc": MethodUSDC}
	for raw, want := range cases {
		got, err := ParseMethod(raw)
		if err != nil || got != want {
			t.Fatalf("ParseMethod(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseMethod("eth"); !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got %v", err)
	}
}
