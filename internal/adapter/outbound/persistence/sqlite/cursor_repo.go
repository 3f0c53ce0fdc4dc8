package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// CursorRepo persists scan positions so a restart resumes where the last
// process stopped.
type CursorRepo struct {
	db *sql.DB
}

func NewCursorRepo(store *Store) *CursorRepo {
	return &CursorRepo{db: store.DB}
}

var _ outbound.CursorRepository = (*CursorRepo)(nil)

func (r *CursorRepo) GetCursor(ctx context.Context, name string) (model.ScanCursor, bool, error) {
	var c model.ScanCursor
	var at int64
	err := r.db.QueryRowContext(ctx,
		`SELECT at, query_id, token_id FROM scan_cursors WHERE name = ?`, name).
		Scan(&at, &c.QueryID, &c.TokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScanCursor{}, false, nil
	}
	if err != nil {
		return model.ScanCursor{}, false, fmt.Errorf("reading cursor %s: %w", name, err)
	}
	c.At = fromMillis(at)
	return c, true, nil
}

func (r *CursorRepo) SaveCursor(ctx context.Context, name string, c model.ScanCursor) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO scan_cursors (name, at, query_id, token_id, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			at = excluded.at, query_id = excluded.query_id,
			token_id = excluded.token_id, updated_at = excluded.updated_at`,
		name, toMillis(c.At), c.QueryID, c.TokenID, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("saving cursor %s: %w", name, err)
	}
	return nil
}
