package db

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mystartupai/creditledger/internal/models"
	internalsettings "github.com/mystartupai/creditledger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func TestMigrateSQLite_CreatesTablesAndSeeds(t *testing.T) {
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "ledger-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	// Second run must be a no-op.
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate twice: %v", errMigrate)
	}

	for _, model := range []any{&models.User{}, &models.CreditTransaction{}, &models.PaymentIntent{}, &models.PriceQuote{}, &models.Admin{}} {
		if !conn.Migrator().HasTable(model) {
			t.Fatalf("expected table for %T", model)
		}
	}

	var setting models.Setting
	if errFind := conn.Where("key = ?", internalsettings.PaymentRateLimitKey).First(&setting).Error; errFind != nil {
		t.Fatalf("find seeded setting: %v", errFind)
	}
	if string(setting.Value) != fmt.Sprint(internalsettings.DefaultPaymentRateLimit) {
		t.Fatalf("unexpected seeded value %s", string(setting.Value))
	}
}

func TestMigrateSQLite_UniquePaymentReference(t *testing.T) {
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "ledger-unique.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	ref := "ref-1"
	first := models.CreditTransaction{UserID: 1, Type: models.CreditTransactionPurchase, Amount: 10, Balance: 10, PaymentReference: &ref}
	if errCreate := conn.Create(&first).Error; errCreate != nil {
		t.Fatalf("create first: %v", errCreate)
	}
	second := models.CreditTransaction{UserID: 1, Type: models.CreditTransactionPurchase, Amount: 10, Balance: 20, PaymentReference: &ref}
	errDup := conn.Create(&second).Error
	if !IsUniqueViolation(errDup) {
		t.Fatalf("expected unique violation, got %v", errDup)
	}

	// Entries without a reference never collide.
	for i := 0; i < 2; i++ {
		usage := models.CreditTransaction{UserID: 1, Type: models.CreditTransactionUsage, Amount: -1, Balance: 9}
		if errCreate := conn.Create(&usage).Error; errCreate != nil {
			t.Fatalf("create usage %d: %v", i, errCreate)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Fatalf("nil must not be a unique violation")
	}
	if !IsUniqueViolation(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("expected postgres 23505 to be detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation must not be treated as unique")
	}
	if IsUniqueViolation(errors.New("connection reset")) {
		t.Fatalf("unrelated error must not be detected")
	}
}

func TestIsSQLiteDSN(t *testing.T) {
	cases := map[string]bool{
		"file:ledger.db?_busy_timeout=5000":             true,
		"ledger.sqlite":                                 true,
		":memory:":                                      true,
		"postgres://u:p@localhost:5432/ledger":          false,
		"host=localhost user=ledger dbname=ledger":      false,
		"postgresql://u:p@db.internal/ledger?sslmode=x": false,
	}
	for dsn, want := range cases {
		if got := IsSQLiteDSN(dsn); got != want {
			t.Fatalf("IsSQLiteDSN(%q)=%v, want %v", dsn, got, want)
		}
	}
}

func TestOpen_LogsErrorsButNotMissingRows(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevLevel := log.StandardLogger().Out, log.GetLevel()
	log.SetOutput(&buf)
	log.SetLevel(log.InfoLevel)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetLevel(prevLevel)
	})

	conn, err := Open("file:" + filepath.Join(t.TempDir(), "ledger-log.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	buf.Reset()

	var user models.User
	if errFind := conn.Where("id = ?", 9999).First(&user).Error; !errors.Is(errFind, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", errFind)
	}
	if strings.Contains(buf.String(), "record not found") {
		t.Fatalf("missing row must not be logged, got %q", buf.String())
	}

	if errExec := conn.Exec("SELECT * FROM no_such_table").Error; errExec == nil {
		t.Fatalf("expected query error")
	}
	if !strings.Contains(buf.String(), "no_such_table") || !strings.Contains(buf.String(), "level=warning") {
		t.Fatalf("expected query error logged through logrus, got %q", buf.String())
	}
}
