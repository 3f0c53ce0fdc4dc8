package outbound

import (
	"context"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
)

// PageRequest pages are zero-based. A non-positive Size means 20.
type PageRequest struct {
	Page    int
	Size    int
	OrderBy string
	Desc    bool
}

type PageResult[T any] struct {
	Items      []T
	TotalCount int64
	Page       int
	Size       int
}

type AlertFilter struct {
	Type       model.AlertType
	Severity   model.Severity
	Status     model.AlertStatus
	ActiveOnly bool
	Since      *time.Time
	Until      *time.Time
}

type AuditFilter struct {
	Category    model.AuditCategory
	ActionType  string
	UserID      string
	ReferenceID string
	Since       *time.Time
	Until       *time.Time
}

type AlertRepository interface {
	Create(ctx context.Context, alert model.SecurityAlert) (model.SecurityAlert, error)
	GetByID(ctx context.Context, id string) (model.SecurityAlert, error)
	Update(ctx context.Context, alert model.SecurityAlert) (model.SecurityAlert, error)
	List(ctx context.Context, filter AlertFilter, page PageRequest) (PageResult[model.SecurityAlert], error)
	// FindByDebounceKey returns the newest alert carrying key detected at or
	// after since, or nil.
	FindByDebounceKey(ctx context.Context, key string, since time.Time) (*model.SecurityAlert, error)
	CountActive(ctx context.Context) (active, critical int64, err error)
}

type AuditRepository interface {
	Create(ctx context.Context, log model.AuditLog) error
	GetByID(ctx context.Context, id string) (model.AuditLog, error)
	// Approve stamps the approval fields only if the entry requires approval and
	// is not yet approved. It reports whether a row changed.
	Approve(ctx context.Context, id, approver, notes string, at time.Time) (bool, error)
	List(ctx context.Context, filter AuditFilter, page PageRequest) (PageResult[model.AuditLog], error)
	// ListPending returns unapproved, unrejected entries of actionType, oldest first.
	ListPending(ctx context.Context, actionType string) ([]model.AuditLog, error)
	Statistics(ctx context.Context) (model.AuditStatistics, error)
}

type DeploymentRepository interface {
	Create(ctx context.Context, d model.Deployment) (model.Deployment, error)
	GetByID(ctx context.Context, id string) (model.Deployment, error)
	// Complete writes the outcome of an in-progress deployment. It reports false
	// when the row was no longer in progress.
	Complete(ctx context.Context, d model.Deployment) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]model.Deployment, error)
	ListAll(ctx context.Context) ([]model.Deployment, error)
	ListBySnapshot(ctx context.Context, snapshotID string) ([]model.Deployment, error)
}

type SnapshotRepository interface {
	Create(ctx context.Context, s model.Snapshot) (model.Snapshot, error)
	GetByID(ctx context.Context, id string) (model.Snapshot, error)
	// ListByEnvironment returns snapshots newest first.
	ListByEnvironment(ctx context.Context, env model.Environment) ([]model.Snapshot, error)
	MarkVerified(ctx context.Context, id string) error
}

type HoneytokenRepository interface {
	Create(ctx context.Context, h model.Honeytoken) (model.Honeytoken, error)
	List(ctx context.Context) ([]model.Honeytoken, error)
	FindByMatchKey(ctx context.Context, key string) (*model.Honeytoken, error)
	// RecordAccess atomically increments access_count and stamps accessed_at,
	// returning the updated row.
	RecordAccess(ctx context.Context, id string, at time.Time) (model.Honeytoken, error)
	Count(ctx context.Context) (int64, error)
}

type ConfigMonitorRepository interface {
	Create(ctx context.Context, c model.ConfigMonitoring) (model.ConfigMonitoring, error)
	GetByID(ctx context.Context, id string) (model.ConfigMonitoring, error)
	GetByPath(ctx context.Context, path string) (*model.ConfigMonitoring, error)
	List(ctx context.Context) ([]model.ConfigMonitoring, error)
	// MarkChangeDetected sets change_detected_at if it is still null and reports
	// whether this call set it.
	MarkChangeDetected(ctx context.Context, id string, at time.Time) (bool, error)
	Acknowledge(ctx context.Context, c model.ConfigMonitoring) error
	Count(ctx context.Context) (int64, error)
}

type ActivityRepository interface {
	RecordExport(ctx context.Context, e model.ExportEvent) error
	RecordLogin(ctx context.Context, e model.LoginEvent) error
	RecordQuery(ctx context.Context, e model.QueryEvent) error
	// The List methods return events with since <= occurred_at < until, oldest first.
	ListExports(ctx context.Context, since, until time.Time) ([]model.ExportEvent, error)
	ListLogins(ctx context.Context, since, until time.Time) ([]model.LoginEvent, error)
	ListQueries(ctx context.Context, since, until time.Time) ([]model.QueryEvent, error)
}

// CursorRepository keeps scan positions across restarts.
type CursorRepository interface {
	// GetCursor returns false when name has never been saved.
	GetCursor(ctx context.Context, name string) (model.ScanCursor, bool, error)
	SaveCursor(ctx context.Context, name string, c model.ScanCursor) error
}
