package migration_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jonny/sentinel/internal/adapter/outbound/persistence/sqlite/migration"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoad_OrderedAndNumbered(t *testing.T) {
	ms, err := migration.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ms) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(ms))
	}
	for i := 1; i < len(ms); i++ {
		if ms[i].Version <= ms[i-1].Version {
			t.Errorf("migrations out of order: %d after %d", ms[i].Version, ms[i-1].Version)
		}
	}
}

func TestRun_AppliesOnce(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	applied, err := migration.Run(ctx, db)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	ms, _ := migration.Load()
	if len(applied) != len(ms) {
		t.Errorf("applied %v, want all %d", applied, len(ms))
	}
	v, err := migration.Version(ctx, db)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != ms[len(ms)-1].Version {
		t.Errorf("version = %d, want %d", v, ms[len(ms)-1].Version)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO honeytokens (id, token_type, token_value, match_key, table_name, column_name, created_at)
		VALUES ('h1','email','a@b.c','a@b.c','users','email',0)`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	applied, err = migration.Run(ctx, db)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second run applied %v", applied)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM honeytokens`).Scan(&n); err != nil || n != 1 {
		t.Errorf("existing rows must survive a rerun: n=%d err=%v", n, err)
	}
}

func TestRun_OnlyAboveStoredVersion(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	if _, err := migration.Version(ctx, db); err != nil {
		t.Fatalf("Version: %v", err)
	}
	ms, _ := migration.Load()
	if _, err := db.ExecContext(ctx, ms[0].SQL); err != nil {
		t.Fatalf("seed v1: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (1)`); err != nil {
		t.Fatalf("seed version: %v", err)
	}

	applied, err := migration.Run(ctx, db)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(applied) == 0 || applied[0] != 2 {
		t.Errorf("expected to start at version 2, applied %v", applied)
	}
}
