package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jonny/sentinel/internal/adapter/outbound/persistence/sqlite/migration"
)

var validJournalModes = map[string]bool{
	"wal": true, "delete": true, "truncate": true,
	"persist": true, "memory": true, "off": true,
}

// Config holds SQLite connection configuration.
type Config struct {
	Path              string
	MaxOpenConns      int
	PragmaJournalMode string
	PragmaBusyTimeout int
	// SkipMigrations leaves the schema untouched; used by the migrate command to
	// report before applying.
	SkipMigrations bool
}

// Store wraps a *sql.DB and exposes it for repository use.
type Store struct {
	DB *sql.DB
}

// NewStore opens the SQLite database at cfg.Path, applies pragmas, and runs
// pending migrations.
func NewStore(cfg Config) (*Store, error) {
	if cfg.PragmaJournalMode != "" && !validJournalModes[strings.ToLower(cfg.PragmaJournalMode)] {
		return nil, fmt.Errorf("invalid pragma journal mode: %q", cfg.PragmaJournalMode)
	}
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d", cfg.Path, cfg.PragmaBusyTimeout)
	if cfg.PragmaJournalMode != "" {
		dsn += "&_journal_mode=" + cfg.PragmaJournalMode
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if !cfg.SkipMigrations {
		if _, err := migration.Run(context.Background(), db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return &Store{DB: db}, nil
}

// Migrate applies pending migrations and returns the applied versions.
func (s *Store) Migrate(ctx context.Context) ([]int, error) {
	return migration.Run(ctx, s.DB)
}

// SchemaVersion returns the stored schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return migration.Version(ctx, s.DB)
}

// Ping checks the connection; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.DB.Close() }

// --- column helpers ---

// Timestamps are stored as epoch milliseconds, booleans as 0/1.

type scanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func marshalJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func unmarshalMap(raw string) map[string]any {
	m := make(map[string]any)
	if raw == "" {
		return m
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return make(map[string]any)
	}
	return m
}

func pageBounds(size, page int) (int, int) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	return size, page * size
}
