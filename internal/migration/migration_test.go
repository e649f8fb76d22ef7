package migration

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestApplySchemaIsRepeatable(t *testing.T) {
	db := openMemory(t)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := ApplySchema(ctx, db); err != nil {
			t.Fatalf("apply schema pass %d: %v", i+1, err)
		}
	}

	for _, table := range []string{"accounts", "credit_ledger_entries", "transactions", "payment_events", "subscriptions", "usage_units", "audit_logs", "error_logs"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}

func TestNegativeBalanceRejectedByConstraint(t *testing.T) {
	db := openMemory(t)
	if err := ApplySchema(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	err := db.Exec(`INSERT INTO accounts (id, available_credits, created_at, updated_at) VALUES (1, -1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`).Error
	if err == nil {
		t.Fatalf("expected check constraint violation")
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (id INT);\n\n CREATE INDEX b ON a (id);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(got))
	}
}
