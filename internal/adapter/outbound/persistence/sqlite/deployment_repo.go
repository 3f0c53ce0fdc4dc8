package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// DeploymentRepo implements outbound.DeploymentRepository using SQLite.
type DeploymentRepo struct {
	db *sql.DB
}

func NewDeploymentRepo(store *Store) *DeploymentRepo {
	return &DeploymentRepo{db: store.DB}
}

var _ outbound.DeploymentRepository = (*DeploymentRepo)(nil)

const deploymentColumns = `id, environment, version, status, pipeline_config, snapshot_id, deployed_by,
	deployed_at, rollback_available, health_checks, logs`

func (r *DeploymentRepo) Create(ctx context.Context, d model.Deployment) (model.Deployment, error) {
	cfg, err := marshalJSON(d.PipelineConfig, "{}")
	if err != nil {
		return model.Deployment{}, fmt.Errorf("marshaling pipeline config: %w", err)
	}
	checks, err := marshalJSON(d.HealthChecks, "[]")
	if err != nil {
		return model.Deployment{}, fmt.Errorf("marshaling health checks: %w", err)
	}
	const q = `INSERT INTO deployments (` + deploymentColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?)`
	_, err = r.db.ExecContext(ctx, q,
		d.ID, string(d.Environment), d.Version, string(d.Status), cfg, nullableString(d.SnapshotID),
		d.DeployedBy, toMillis(d.DeployedAt), boolInt(d.RollbackAvailable), checks, d.Logs,
	)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("inserting deployment: %w", err)
	}
	return d, nil
}

func (r *DeploymentRepo) GetByID(ctx context.Context, id string) (model.Deployment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Deployment{}, model.NewNotFoundError("deployment", id)
	}
	if err != nil {
		return model.Deployment{}, fmt.Errorf("fetching deployment: %w", err)
	}
	return d, nil
}

// Complete writes the outcome only while the row is still in_progress.
func (r *DeploymentRepo) Complete(ctx context.Context, d model.Deployment) (bool, error) {
	checks, err := marshalJSON(d.HealthChecks, "[]")
	if err != nil {
		return false, fmt.Errorf("marshaling health checks: %w", err)
	}
	const q = `UPDATE deployments SET status = ?, health_checks = ?, logs = ?
		WHERE id = ? AND status = 'in_progress'`
	res, err := r.db.ExecContext(ctx, q, string(d.Status), checks, d.Logs, d.ID)
	if err != nil {
		return false, fmt.Errorf("completing deployment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("completing deployment: %w", err)
	}
	return n > 0, nil
}

func (r *DeploymentRepo) ListRecent(ctx context.Context, limit int) ([]model.Deployment, error) {
	return r.query(ctx, `SELECT `+deploymentColumns+` FROM deployments ORDER BY deployed_at DESC, id DESC LIMIT ?`, limit)
}

func (r *DeploymentRepo) ListAll(ctx context.Context) ([]model.Deployment, error) {
	return r.query(ctx, `SELECT `+deploymentColumns+` FROM deployments ORDER BY deployed_at DESC, id DESC`)
}

func (r *DeploymentRepo) ListBySnapshot(ctx context.Context, snapshotID string) ([]model.Deployment, error) {
	return r.query(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE snapshot_id = ?
		ORDER BY deployed_at ASC, id ASC`, snapshotID)
}

func (r *DeploymentRepo) query(ctx context.Context, q string, args ...any) ([]model.Deployment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	defer rows.Close()
	var out []model.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployments: %w", err)
	}
	return out, nil
}

func scanDeployment(s scanner) (model.Deployment, error) {
	var d model.Deployment
	var env, status, cfg, checks string
	var snapshotID sql.NullString
	var deployedAt int64
	var rollback int
	err := s.Scan(&d.ID, &env, &d.Version, &status, &cfg, &snapshotID, &d.DeployedBy,
		&deployedAt, &rollback, &checks, &d.Logs)
	if err != nil {
		return model.Deployment{}, err
	}
	d.Environment = model.Environment(env)
	d.Status = model.DeploymentStatus(status)
	d.SnapshotID = stringPtr(snapshotID)
	d.DeployedAt = fromMillis(deployedAt)
	d.RollbackAvailable = rollback != 0
	if err := json.Unmarshal([]byte(cfg), &d.PipelineConfig); err != nil || d.PipelineConfig == nil {
		d.PipelineConfig = make(map[string]string)
	}
	if err := json.Unmarshal([]byte(checks), &d.HealthChecks); err != nil || d.HealthChecks == nil {
		d.HealthChecks = []model.HealthCheck{}
	}
	return d, nil
}
