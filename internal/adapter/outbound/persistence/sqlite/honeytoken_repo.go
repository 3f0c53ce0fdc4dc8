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

// HoneytokenRepo implements outbound.HoneytokenRepository using SQLite.
type HoneytokenRepo struct {
	db *sql.DB
}

func NewHoneytokenRepo(store *Store) *HoneytokenRepo {
	return &HoneytokenRepo{db: store.DB}
}

var _ outbound.HoneytokenRepository = (*HoneytokenRepo)(nil)

const honeytokenColumns = `id, token_type, token_value, table_name, column_name, created_at, accessed_at, access_count`

func (r *HoneytokenRepo) Create(ctx context.Context, h model.Honeytoken) (model.Honeytoken, error) {
	const q = `INSERT INTO honeytokens
		(id, token_type, token_value, match_key, table_name, column_name, created_at, accessed_at, access_count)
		VALUES (?,?,?,?,?,?,?,?,?)`
	_, err := r.db.ExecContext(ctx, q,
		h.ID, string(h.TokenType), h.TokenValue, h.MatchKey(), h.TableName, h.ColumnName,
		toMillis(h.CreatedAt), nullableMillis(h.AccessedAt), h.AccessCount,
	)
	if err != nil {
		return model.Honeytoken{}, fmt.Errorf("inserting honeytoken: %w", err)
	}
	return h, nil
}

func (r *HoneytokenRepo) List(ctx context.Context) ([]model.Honeytoken, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+honeytokenColumns+` FROM honeytokens ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing honeytokens: %w", err)
	}
	defer rows.Close()
	var out []model.Honeytoken
	for rows.Next() {
		h, err := scanHoneytoken(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning honeytoken: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *HoneytokenRepo) FindByMatchKey(ctx context.Context, key string) (*model.Honeytoken, error) {
	h, err := scanHoneytoken(r.db.QueryRowContext(ctx,
		`SELECT `+honeytokenColumns+` FROM honeytokens WHERE match_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding honeytoken: %w", err)
	}
	return &h, nil
}

// RecordAccess increments the counter in a single statement so concurrent
// detections never lose a hit.
func (r *HoneytokenRepo) RecordAccess(ctx context.Context, id string, at time.Time) (model.Honeytoken, error) {
	q := `UPDATE honeytokens SET access_count = access_count + 1, accessed_at = ?
		WHERE id = ? RETURNING ` + honeytokenColumns
	h, err := scanHoneytoken(r.db.QueryRowContext(ctx, q, toMillis(at), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Honeytoken{}, model.NewNotFoundError("honeytoken", id)
	}
	if err != nil {
		return model.Honeytoken{}, fmt.Errorf("recording honeytoken access: %w", err)
	}
	return h, nil
}

func (r *HoneytokenRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM honeytokens`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting honeytokens: %w", err)
	}
	return n, nil
}

func scanHoneytoken(s scanner) (model.Honeytoken, error) {
	var h model.Honeytoken
	var typ string
	var created int64
	var accessed sql.NullInt64
	if err := s.Scan(&h.ID, &typ, &h.TokenValue, &h.TableName, &h.ColumnName, &created, &accessed, &h.AccessCount); err != nil {
		return model.Honeytoken{}, err
	}
	h.TokenType = model.TokenType(typ)
	h.CreatedAt = fromMillis(created)
	h.AccessedAt = millisPtr(accessed)
	return h, nil
}
