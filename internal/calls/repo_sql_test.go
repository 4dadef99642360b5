package calls

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"callpilot/pkg/utils"
)

func openSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := utils.OpenSQLite(ctx, utils.SQLiteConfig{Path: filepath.Join(t.TempDir(), "calls.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(db, DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := NewSQLStore(db, DialectSQLite)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestSQLStore_SQLite(t *testing.T) {
	runStoreContract(t, func(t *testing.T) (Store, func(func() time.Time)) {
		s := openSQLiteStore(t)
		return s, func(f func() time.Time) { s.clock = f }
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openSQLiteStore(t)
	if err := Migrate(s.db, DialectSQLite); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestNewSQLStore_RejectsUnknownDialect(t *testing.T) {
	if _, err := NewSQLStore(nil, DialectSQLite); err == nil {
		t.Fatalf("expected error for nil db")
	}
	s := openSQLiteStore(t)
	if _, err := NewSQLStore(s.db, Dialect("mysql")); err == nil {
		t.Fatalf("expected error for unknown dialect")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	got := pg.rebind(`SELECT * FROM calls WHERE status IN (?,?) AND created_at < ?`)
	want := `SELECT * FROM calls WHERE status IN ($1,$2) AND created_at < $3`
	if got != want {
		t.Fatalf("rebind:\n got %s\nwant %s", got, want)
	}
	lite := &SQLStore{dialect: DialectSQLite}
	if q := lite.rebind("a = ?"); q != "a = ?" {
		t.Fatalf("sqlite should keep ? placeholders, got %s", q)
	}
}
