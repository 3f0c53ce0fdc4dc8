package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// ActivityRepo stores the export, login and query events the detection rules read.
type ActivityRepo struct {
	db *sql.DB
}

func NewActivityRepo(store *Store) *ActivityRepo {
	return &ActivityRepo{db: store.DB}
}

var _ outbound.ActivityRepository = (*ActivityRepo)(nil)

func (r *ActivityRepo) RecordExport(ctx context.Context, e model.ExportEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO export_events
		(id, user_id, row_count, byte_count, destination, occurred_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.UserID, e.RowCount, e.ByteCount, e.Destination, toMillis(e.OccurredAt))
	if err != nil {
		return fmt.Errorf("inserting export event: %w", err)
	}
	return nil
}

func (r *ActivityRepo) RecordLogin(ctx context.Context, e model.LoginEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO login_events
		(id, user_id, source_ip, success, occurred_at) VALUES (?,?,?,?,?)`,
		e.ID, e.UserID, e.SourceIP, boolInt(e.Success), toMillis(e.OccurredAt))
	if err != nil {
		return fmt.Errorf("inserting login event: %w", err)
	}
	return nil
}

func (r *ActivityRepo) RecordQuery(ctx context.Context, e model.QueryEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO query_events
		(id, user_id, source_ip, query_text, occurred_at) VALUES (?,?,?,?,?)`,
		e.ID, e.UserID, e.SourceIP, e.QueryText, toMillis(e.OccurredAt))
	if err != nil {
		return fmt.Errorf("inserting query event: %w", err)
	}
	return nil
}

func (r *ActivityRepo) ListExports(ctx context.Context, since, until time.Time) ([]model.ExportEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, row_count, byte_count, destination, occurred_at
		FROM export_events WHERE occurred_at >= ? AND occurred_at < ? ORDER BY occurred_at ASC, id ASC`,
		toMillis(since), toMillis(until))
	if err != nil {
		return nil, fmt.Errorf("listing export events: %w", err)
	}
	defer rows.Close()
	var out []model.ExportEvent
	for rows.Next() {
		var e model.ExportEvent
		var at int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.RowCount, &e.ByteCount, &e.Destination, &at); err != nil {
			return nil, fmt.Errorf("scanning export event: %w", err)
		}
		e.OccurredAt = fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ActivityRepo) ListLogins(ctx context.Context, since, until time.Time) ([]model.LoginEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, source_ip, success, occurred_at
		FROM login_events WHERE occurred_at >= ? AND occurred_at < ? ORDER BY occurred_at ASC, id ASC`,
		toMillis(since), toMillis(until))
	if err != nil {
		return nil, fmt.Errorf("listing login events: %w", err)
	}
	defer rows.Close()
	var out []model.LoginEvent
	for rows.Next() {
		var e model.LoginEvent
		var at int64
		var success int
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceIP, &success, &at); err != nil {
			return nil, fmt.Errorf("scanning login event: %w", err)
		}
		e.Success = success != 0
		e.OccurredAt = fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ActivityRepo) ListQueries(ctx context.Context, since, until time.Time) ([]model.QueryEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, source_ip, query_text, occurred_at
		FROM query_events WHERE occurred_at >= ? AND occurred_at < ? ORDER BY occurred_at ASC, id ASC`,
		toMillis(since), toMillis(until))
	if err != nil {
		return nil, fmt.Errorf("listing query events: %w", err)
	}
	defer rows.Close()
	var out []model.QueryEvent
	for rows.Next() {
		var e model.QueryEvent
		var at int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceIP, &e.QueryText, &at); err != nil {
			return nil, fmt.Errorf("scanning query event: %w", err)
		}
		e.OccurredAt = fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
