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

// AuditRepo implements outbound.AuditRepository using SQLite. Rows are never
// deleted; only the approval columns change after insert.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(store *Store) *AuditRepo {
	return &AuditRepo{db: store.DB}
}

var _ outbound.AuditRepository = (*AuditRepo)(nil)

const auditColumns = `id, action_type, description, ai_reasoning, context_data, user_id, timestamp,
	requires_approval, approved, approved_by, approved_at, approval_notes, reference_id`

// notDecided matches entries that no later entry references.
const notDecided = `NOT EXISTS (SELECT 1 FROM audit_logs ref WHERE ref.reference_id = audit_logs.id)`

func (r *AuditRepo) Create(ctx context.Context, e model.AuditLog) error {
	contextData, err := marshalJSON(e.ContextData, "{}")
	if err != nil {
		return fmt.Errorf("marshaling audit context: %w", err)
	}
	const q = `INSERT INTO audit_logs (` + auditColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err = r.db.ExecContext(ctx, q,
		e.ID, e.ActionType, e.Description, nullableString(e.AIReasoning), contextData,
		nullableString(e.UserID), toMillis(e.Timestamp),
		boolInt(e.RequiresApproval), boolInt(e.Approved), nullableString(e.ApprovedBy),
		nullableMillis(e.ApprovedAt), nullableString(e.ApprovalNotes), nullableString(e.ReferenceID),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

func (r *AuditRepo) GetByID(ctx context.Context, id string) (model.AuditLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = ?`, id)
	e, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuditLog{}, model.NewNotFoundError("audit entry", id)
	}
	if err != nil {
		return model.AuditLog{}, fmt.Errorf("fetching audit log: %w", err)
	}
	return e, nil
}

func (r *AuditRepo) Approve(ctx context.Context, id, approver, notes string, at time.Time) (bool, error) {
	var n any
	if notes != "" {
		n = notes
	}
	const q = `UPDATE audit_logs SET approved = 1, approved_by = ?, approved_at = ?, approval_notes = ?
		WHERE id = ? AND approved = 0 AND requires_approval = 1`
	res, err := r.db.ExecContext(ctx, q, approver, toMillis(at), n, id)
	if err != nil {
		return false, fmt.Errorf("approving audit log: %w", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approving audit log: %w", err)
	}
	return changed > 0, nil
}

var allowedAuditOrderColumns = map[string]bool{
	"timestamp": true, "action_type": true, "user_id": true,
}

// List returns a filtered page of entries, newest first unless ordered otherwise.
func (r *AuditRepo) List(ctx context.Context, filter outbound.AuditFilter, page outbound.PageRequest) (outbound.PageResult[model.AuditLog], error) {
	where, args, err := buildAuditWhere(filter)
	if err != nil {
		return outbound.PageResult[model.AuditLog]{}, err
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return outbound.PageResult[model.AuditLog]{}, fmt.Errorf("counting audit logs: %w", err)
	}

	order := "timestamp DESC, id DESC"
	if page.OrderBy != "" {
		if !allowedAuditOrderColumns[page.OrderBy] {
			return outbound.PageResult[model.AuditLog]{}, fmt.Errorf("invalid order column: %q", page.OrderBy)
		}
		dir := "ASC"
		if page.Desc {
			dir = "DESC"
		}
		order = page.OrderBy + " " + dir
	}
	size, offset := pageBounds(page.Size, page.Page)

	q := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY %s LIMIT ? OFFSET ?`, auditColumns, where, order)
	items, err := r.query(ctx, q, append(args, size, offset)...)
	if err != nil {
		return outbound.PageResult[model.AuditLog]{}, err
	}
	return outbound.PageResult[model.AuditLog]{Items: items, TotalCount: total, Page: page.Page, Size: size}, nil
}

func (r *AuditRepo) ListPending(ctx context.Context, actionType string) ([]model.AuditLog, error) {
	q := `SELECT ` + auditColumns + ` FROM audit_logs
		WHERE action_type = ? AND requires_approval = 1 AND approved = 0 AND ` + notDecided + `
		ORDER BY timestamp ASC, id ASC`
	return r.query(ctx, q, actionType)
}

func (r *AuditRepo) Statistics(ctx context.Context) (model.AuditStatistics, error) {
	q := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN ai_reasoning IS NOT NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN user_id IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN requires_approval = 1 AND approved = 0 AND ` + notDecided + ` THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN approved = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN action_type LIKE '%\_rejected' ESCAPE '\' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN json_extract(context_data, '$.severity') = 'critical' THEN 1 ELSE 0 END), 0)
		FROM audit_logs`
	stats := model.AuditStatistics{ByActionType: make(map[string]int64)}
	err := r.db.QueryRowContext(ctx, q).Scan(&stats.Total, &stats.AIOriginated, &stats.SystemOriginated,
		&stats.PendingApproval, &stats.Approved, &stats.Rejected, &stats.Critical)
	if err != nil {
		return model.AuditStatistics{}, fmt.Errorf("computing audit statistics: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT action_type, COUNT(*) FROM audit_logs GROUP BY action_type`)
	if err != nil {
		return model.AuditStatistics{}, fmt.Errorf("counting action types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return model.AuditStatistics{}, fmt.Errorf("scanning action type count: %w", err)
		}
		stats.ByActionType[t] = n
	}
	return stats, rows.Err()
}

func (r *AuditRepo) query(ctx context.Context, q string, args ...any) ([]model.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit logs: %w", err)
	}
	defer rows.Close()
	var out []model.AuditLog
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}
	return out, nil
}

func scanAudit(s scanner) (model.AuditLog, error) {
	var e model.AuditLog
	var reasoning, userID, approvedBy, notes, ref sql.NullString
	var contextData string
	var ts int64
	var approvedAt sql.NullInt64
	var requires, approved int
	err := s.Scan(&e.ID, &e.ActionType, &e.Description, &reasoning, &contextData, &userID, &ts,
		&requires, &approved, &approvedBy, &approvedAt, &notes, &ref)
	if err != nil {
		return model.AuditLog{}, err
	}
	e.AIReasoning = stringPtr(reasoning)
	e.ContextData = unmarshalMap(contextData)
	e.UserID = stringPtr(userID)
	e.Timestamp = fromMillis(ts)
	e.RequiresApproval = requires != 0
	e.Approved = approved != 0
	e.ApprovedBy = stringPtr(approvedBy)
	e.ApprovedAt = millisPtr(approvedAt)
	e.ApprovalNotes = stringPtr(notes)
	e.ReferenceID = stringPtr(ref)
	return e, nil
}

func buildAuditWhere(f outbound.AuditFilter) (string, []any, error) {
	var clauses []string
	var args []any
	switch f.Category {
	case "", model.AuditCategoryAll:
	case model.AuditCategoryAI:
		clauses = append(clauses, "ai_reasoning IS NOT NULL")
	case model.AuditCategoryPending:
		clauses = append(clauses, "requires_approval = 1 AND approved = 0 AND "+notDecided)
	case model.AuditCategoryApproved:
		clauses = append(clauses, "approved = 1")
	case model.AuditCategoryCritical:
		clauses = append(clauses, "json_extract(context_data, '$.severity') = 'critical'")
	default:
		return "", nil, model.NewValidationError("category", fmt.Sprintf("unknown audit category %q", f.Category))
	}
	if f.ActionType != "" {
		clauses = append(clauses, "action_type = ?")
		args = append(args, f.ActionType)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ReferenceID != "" {
		clauses = append(clauses, "reference_id = ?")
		args = append(args, f.ReferenceID)
	}
	if f.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, toMillis(*f.Since))
	}
	if f.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, toMillis(*f.Until))
	}
	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}
