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

// ConfigMonitorRepo implements outbound.ConfigMonitorRepository using SQLite.
type ConfigMonitorRepo struct {
	db *sql.DB
}

func NewConfigMonitorRepo(store *Store) *ConfigMonitorRepo {
	return &ConfigMonitorRepo{db: store.DB}
}

var _ outbound.ConfigMonitorRepository = (*ConfigMonitorRepo)(nil)

const configColumns = `id, file_path, file_hash, file_mode, sensitivity, last_modified, monitored_since, change_detected_at`

func (r *ConfigMonitorRepo) Create(ctx context.Context, c model.ConfigMonitoring) (model.ConfigMonitoring, error) {
	const q = `INSERT INTO config_monitoring (` + configColumns + `) VALUES (?,?,?,?,?,?,?,?)`
	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.FilePath, c.FileHash, c.FileMode, string(c.Tier),
		toMillis(c.LastModified), toMillis(c.MonitoredSince), nullableMillis(c.ChangeDetectedAt),
	)
	if err != nil {
		return model.ConfigMonitoring{}, fmt.Errorf("inserting config monitor: %w", err)
	}
	return c, nil
}

func (r *ConfigMonitorRepo) GetByID(ctx context.Context, id string) (model.ConfigMonitoring, error) {
	c, err := scanConfig(r.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM config_monitoring WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ConfigMonitoring{}, model.NewNotFoundError("config monitor", id)
	}
	if err != nil {
		return model.ConfigMonitoring{}, fmt.Errorf("fetching config monitor: %w", err)
	}
	return c, nil
}

func (r *ConfigMonitorRepo) GetByPath(ctx context.Context, path string) (*model.ConfigMonitoring, error) {
	c, err := scanConfig(r.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM config_monitoring WHERE file_path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching config monitor by path: %w", err)
	}
	return &c, nil
}

func (r *ConfigMonitorRepo) List(ctx context.Context) ([]model.ConfigMonitoring, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+configColumns+` FROM config_monitoring ORDER BY file_path ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing config monitors: %w", err)
	}
	defer rows.Close()
	var out []model.ConfigMonitoring
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning config monitor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ConfigMonitorRepo) MarkChangeDetected(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE config_monitoring SET change_detected_at = ? WHERE id = ? AND change_detected_at IS NULL`,
		toMillis(at), id)
	if err != nil {
		return false, fmt.Errorf("marking config change: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking config change: %w", err)
	}
	return n > 0, nil
}

// Acknowledge stores the adopted baseline and clears change_detected_at.
func (r *ConfigMonitorRepo) Acknowledge(ctx context.Context, c model.ConfigMonitoring) error {
	res, err := r.db.ExecContext(ctx, `UPDATE config_monitoring
		SET file_hash = ?, file_mode = ?, last_modified = ?, change_detected_at = NULL WHERE id = ?`,
		c.FileHash, c.FileMode, toMillis(c.LastModified), c.ID)
	if err != nil {
		return fmt.Errorf("acknowledging config change: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NewNotFoundError("config monitor", c.ID)
	}
	return nil
}

func (r *ConfigMonitorRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM config_monitoring`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting config monitors: %w", err)
	}
	return n, nil
}

func scanConfig(s scanner) (model.ConfigMonitoring, error) {
	var c model.ConfigMonitoring
	var tier string
	var lastMod, since int64
	var detected sql.NullInt64
	if err := s.Scan(&c.ID, &c.FilePath, &c.FileHash, &c.FileMode, &tier, &lastMod, &since, &detected); err != nil {
		return model.ConfigMonitoring{}, err
	}
	c.Tier = model.SensitivityTier(tier)
	c.LastModified = fromMillis(lastMod)
	c.MonitoredSince = fromMillis(since)
	c.ChangeDetectedAt = millisPtr(detected)
	return c, nil
}
