package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// AlertRepo implements outbound.AlertRepository using SQLite.
type AlertRepo struct {
	db *sql.DB
}

func NewAlertRepo(store *Store) *AlertRepo {
	return &AlertRepo{db: store.DB}
}

var _ outbound.AlertRepository = (*AlertRepo)(nil)

const alertColumns = `id, type, severity, title, description, ai_explanation, trigger_data, status,
	assigned_to, detected_at, resolved_at, rollback_suggested, evidence`

func (r *AlertRepo) Create(ctx context.Context, a model.SecurityAlert) (model.SecurityAlert, error) {
	trigger, err := marshalJSON(a.TriggerData, "{}")
	if err != nil {
		return model.SecurityAlert{}, fmt.Errorf("marshaling trigger data: %w", err)
	}
	evidence, err := marshalJSON(a.Evidence, "{}")
	if err != nil {
		return model.SecurityAlert{}, fmt.Errorf("marshaling evidence: %w", err)
	}

	const q = `INSERT INTO security_alerts (` + alertColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err = r.db.ExecContext(ctx, q,
		a.ID, string(a.Type), string(a.Severity), a.Title, a.Description, a.AIExplanation,
		trigger, string(a.Status), nullableString(a.AssignedTo),
		toMillis(a.DetectedAt), nullableMillis(a.ResolvedAt), boolInt(a.RollbackSuggested), evidence,
	)
	if err != nil {
		return model.SecurityAlert{}, fmt.Errorf("inserting alert: %w", err)
	}
	return a, nil
}

func (r *AlertRepo) GetByID(ctx context.Context, id string) (model.SecurityAlert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM security_alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SecurityAlert{}, model.NewNotFoundError("security alert", id)
	}
	if err != nil {
		return model.SecurityAlert{}, fmt.Errorf("fetching alert: %w", err)
	}
	return a, nil
}

// Update writes the triage fields and evidence. Type, severity and detection
// time are fixed at insert.
func (r *AlertRepo) Update(ctx context.Context, a model.SecurityAlert) (model.SecurityAlert, error) {
	evidence, err := marshalJSON(a.Evidence, "{}")
	if err != nil {
		return model.SecurityAlert{}, fmt.Errorf("marshaling evidence: %w", err)
	}
	const q = `UPDATE security_alerts SET status=?, assigned_to=?, resolved_at=?, ai_explanation=?, evidence=?
		WHERE id=?`
	res, err := r.db.ExecContext(ctx, q,
		string(a.Status), nullableString(a.AssignedTo), nullableMillis(a.ResolvedAt),
		a.AIExplanation, evidence, a.ID,
	)
	if err != nil {
		return model.SecurityAlert{}, fmt.Errorf("updating alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.SecurityAlert{}, model.NewNotFoundError("security alert", a.ID)
	}
	return a, nil
}

var allowedAlertOrderColumns = map[string]bool{
	"detected_at": true, "severity": true, "status": true, "type": true, "title": true,
}

// List returns a filtered page of alerts, newest first unless ordered otherwise.
func (r *AlertRepo) List(ctx context.Context, filter outbound.AlertFilter, page outbound.PageRequest) (outbound.PageResult[model.SecurityAlert], error) {
	where, args := buildAlertWhere(filter)

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM security_alerts"+where, args...).Scan(&total); err != nil {
		return outbound.PageResult[model.SecurityAlert]{}, fmt.Errorf("counting alerts: %w", err)
	}

	order := "detected_at DESC, id DESC"
	if page.OrderBy != "" {
		if !allowedAlertOrderColumns[page.OrderBy] {
			return outbound.PageResult[model.SecurityAlert]{}, fmt.Errorf("invalid order column: %q", page.OrderBy)
		}
		dir := "ASC"
		if page.Desc {
			dir = "DESC"
		}
		order = page.OrderBy + " " + dir
	}
	size, offset := pageBounds(page.Size, page.Page)

	q := fmt.Sprintf(`SELECT %s FROM security_alerts%s ORDER BY %s LIMIT ? OFFSET ?`, alertColumns, where, order)
	rows, err := r.db.QueryContext(ctx, q, append(args, size, offset)...)
	if err != nil {
		return outbound.PageResult[model.SecurityAlert]{}, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var items []model.SecurityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return outbound.PageResult[model.SecurityAlert]{}, fmt.Errorf("scanning alert: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return outbound.PageResult[model.SecurityAlert]{}, fmt.Errorf("iterating alerts: %w", err)
	}
	return outbound.PageResult[model.SecurityAlert]{Items: items, TotalCount: total, Page: page.Page, Size: size}, nil
}

func (r *AlertRepo) FindByDebounceKey(ctx context.Context, key string, since time.Time) (*model.SecurityAlert, error) {
	q := `SELECT ` + alertColumns + ` FROM security_alerts
		WHERE json_extract(trigger_data, '$.debounceKey') = ? AND detected_at >= ?
		ORDER BY detected_at DESC LIMIT 1`
	a, err := scanAlert(r.db.QueryRowContext(ctx, q, key, toMillis(since)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding debounced alert: %w", err)
	}
	return &a, nil
}

func (r *AlertRepo) CountActive(ctx context.Context) (int64, int64, error) {
	const q = `SELECT COUNT(*), COALESCE(SUM(CASE WHEN severity = 'critical' THEN 1 ELSE 0 END), 0)
		FROM security_alerts WHERE status IN ('new','investigating')`
	var active, critical int64
	if err := r.db.QueryRowContext(ctx, q).Scan(&active, &critical); err != nil {
		return 0, 0, fmt.Errorf("counting active alerts: %w", err)
	}
	return active, critical, nil
}

func scanAlert(s scanner) (model.SecurityAlert, error) {
	var a model.SecurityAlert
	var typ, sev, status, trigger, evidence string
	var assigned sql.NullString
	var detected int64
	var resolved sql.NullInt64
	var rollback int
	err := s.Scan(&a.ID, &typ, &sev, &a.Title, &a.Description, &a.AIExplanation, &trigger, &status,
		&assigned, &detected, &resolved, &rollback, &evidence)
	if err != nil {
		return model.SecurityAlert{}, err
	}
	a.Type = model.AlertType(typ)
	a.Severity = model.Severity(sev)
	a.Status = model.AlertStatus(status)
	a.TriggerData = unmarshalMap(trigger)
	a.Evidence = unmarshalMap(evidence)
	a.AssignedTo = stringPtr(assigned)
	a.DetectedAt = fromMillis(detected)
	a.ResolvedAt = millisPtr(resolved)
	a.RollbackSuggested = rollback != 0
	return a, nil
}

func buildAlertWhere(f outbound.AlertFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ActiveOnly {
		clauses = append(clauses, "status IN ('new','investigating')")
	}
	if f.Since != nil {
		clauses = append(clauses, "detected_at >= ?")
		args = append(args, toMillis(*f.Since))
	}
	if f.Until != nil {
		clauses = append(clauses, "detected_at <= ?")
		args = append(args, toMillis(*f.Until))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
