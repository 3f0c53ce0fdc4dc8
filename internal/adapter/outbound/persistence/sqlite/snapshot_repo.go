package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// SnapshotRepo implements outbound.SnapshotRepository using SQLite.
type SnapshotRepo struct {
	db *sql.DB
}

func NewSnapshotRepo(store *Store) *SnapshotRepo {
	return &SnapshotRepo{db: store.DB}
}

var _ outbound.SnapshotRepository = (*SnapshotRepo)(nil)

const snapshotColumns = `id, environment, git_commit, database_backup, config_files, created_at, verified`

func (r *SnapshotRepo) Create(ctx context.Context, s model.Snapshot) (model.Snapshot, error) {
	const q = `INSERT INTO snapshots (` + snapshotColumns + `) VALUES (?,?,?,?,?,?,?)`
	_, err := r.db.ExecContext(ctx, q,
		s.ID, string(s.Environment), s.GitCommit, nullableString(s.DatabaseBackup),
		nullableString(s.ConfigFiles), toMillis(s.CreatedAt), boolInt(s.Verified),
	)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("inserting snapshot: %w", err)
	}
	return s, nil
}

func (r *SnapshotRepo) GetByID(ctx context.Context, id string) (model.Snapshot, error) {
	s, err := scanSnapshot(r.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, model.NewNotFoundError("snapshot", id)
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("fetching snapshot: %w", err)
	}
	return s, nil
}

func (r *SnapshotRepo) ListByEnvironment(ctx context.Context, env model.Environment) ([]model.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE environment = ? ORDER BY created_at DESC, id DESC`, string(env))
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()
	var out []model.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SnapshotRepo) MarkVerified(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE snapshots SET verified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("verifying snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NewNotFoundError("snapshot", id)
	}
	return nil
}

func scanSnapshot(s scanner) (model.Snapshot, error) {
	var snap model.Snapshot
	var env string
	var backup, files sql.NullString
	var created int64
	var verified int
	if err := s.Scan(&snap.ID, &env, &snap.GitCommit, &backup, &files, &created, &verified); err != nil {
		return model.Snapshot{}, err
	}
	snap.Environment = model.Environment(env)
	snap.DatabaseBackup = stringPtr(backup)
	snap.ConfigFiles = stringPtr(files)
	snap.CreatedAt = fromMillis(created)
	snap.Verified = verified != 0
	return snap, nil
}
