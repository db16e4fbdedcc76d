package app

import (
	"path/filepath"
	"testing"

	"github.com/mystartupai/creditledger/internal/db"
	"github.com/mystartupai/creditledger/internal/models"
)

func TestCreateAdminUserWithConn_SetsSuperAdmin(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "ledger-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	if errCreate := CreateAdminUserWithConn(conn, "admin", "password", "MyStartup.ai"); errCreate != nil {
		t.Fatalf("CreateAdminUserWithConn: %v", errCreate)
	}

	var admin models.Admin
	if errFind := conn.First(&admin).Error; errFind != nil {
		t.Fatalf("find admin: %v", errFind)
	}
	if !admin.IsSuperAdmin {
		t.Fatalf("expected first admin to be super admin")
	}
}
