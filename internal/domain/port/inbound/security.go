package inbound

import (
	"context"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

type SecurityStatus struct {
	ActiveAlerts         int64      `json:"active_alerts"`
	CriticalAlerts       int64      `json:"critical_alerts"`
	HoneytokensDeployed  int64      `json:"honeytokens_deployed"`
	IsMonitoring         bool       `json:"is_monitoring"`
	ConfigFilesMonitored int64      `json:"config_files_monitored"`
	LastCheck            *time.Time `json:"last_check"`
}

type InitiateRollbackCommand struct {
	Environment string `json:"environment" validate:"required"`
	SnapshotID  string `json:"snapshot_id" validate:"required"`
	Reason      string `json:"reason" validate:"required,max=2000"`
	RequestedBy string `json:"requested_by" validate:"required,max=200"`
}

type StartDeploymentCommand struct {
	Environment    string            `json:"environment" validate:"required"`
	Version        string            `json:"version" validate:"required,max=200"`
	DeployedBy     string            `json:"deployed_by" validate:"required,max=200"`
	GitCommit      string            `json:"git_commit" validate:"required,hexadecimal,min=7,max=64"`
	PipelineConfig map[string]string `json:"pipeline_config"`
	DatabaseBackup string            `json:"database_backup" validate:"omitempty,max=1024"`
	ConfigFiles    string            `json:"config_files" validate:"omitempty,max=1024"`
}

type CompleteDeploymentCommand struct {
	DeploymentID string              `json:"deployment_id" validate:"required"`
	Success      bool                `json:"success"`
	HealthChecks []model.HealthCheck `json:"health_checks"`
	Logs         string              `json:"logs"`
}

type DeployHoneytokenCommand struct {
	TokenType  string `json:"token_type" validate:"required"`
	TableName  string `json:"table_name" validate:"required,max=128"`
	ColumnName string `json:"column_name" validate:"required,max=128"`
	TokenValue string `json:"token_value" validate:"omitempty,max=512"`
	DeployedBy string `json:"deployed_by" validate:"max=200"`
}

type HoneytokenAccess struct {
	TokenValue string `json:"token_value" validate:"required"`
	QueryText  string `json:"query_text"`
	SourceIP   string `json:"source_ip" validate:"omitempty,ip"`
	UserID     string `json:"user_id"`
}

type RegisterConfigFileCommand struct {
	Path         string `json:"path" validate:"required"`
	Tier         string `json:"tier" validate:"omitempty,oneof=critical high medium low"`
	RegisteredBy string `json:"registered_by"`
}

type UpdateAlertStatusCommand struct {
	AlertID    string `json:"alert_id" validate:"required"`
	Status     string `json:"status" validate:"required"`
	AssignedTo string `json:"assigned_to"`
	Actor      string `json:"actor" validate:"required"`
}

// SecurityPort is the query/command surface offered to the UI and automation.
type SecurityPort interface {
	GetSecurityStatus(ctx context.Context) (SecurityStatus, error)
	GetAllSecurityAlerts(ctx context.Context, filter outbound.AlertFilter, page outbound.PageRequest) (outbound.PageResult[model.SecurityAlert], error)
	GetSecurityAlert(ctx context.Context, id string) (model.SecurityAlert, error)
	UpdateAlertStatus(ctx context.Context, cmd UpdateAlertStatusCommand) (model.SecurityAlert, error)

	GetAuditLogs(ctx context.Context, filter outbound.AuditFilter, page outbound.PageRequest) (outbound.PageResult[model.AuditLog], error)
	GetAuditStatistics(ctx context.Context) (model.AuditStatistics, error)
	ApproveAction(ctx context.Context, id, approver, notes string) (model.AuditLog, error)
	RejectAction(ctx context.Context, id, reason, rejectedBy string) (model.AuditLog, error)

	GetRollbackOptions(ctx context.Context, env string) ([]model.RollbackOption, error)
	InitiateRollback(ctx context.Context, cmd InitiateRollbackCommand) (model.AuditLog, error)

	GetRecentDeployments(ctx context.Context, limit int) ([]model.Deployment, error)
	GetAllDeployments(ctx context.Context) ([]model.Deployment, error)
	StartDeployment(ctx context.Context, cmd StartDeploymentCommand) (model.Deployment, error)
	CompleteDeployment(ctx context.Context, cmd CompleteDeploymentCommand) (model.Deployment, error)
	VerifySnapshot(ctx context.Context, id, actor string) (model.Snapshot, error)

	DeployHoneytoken(ctx context.Context, cmd DeployHoneytokenCommand) (model.Honeytoken, error)
	ReportHoneytokenAccess(ctx context.Context, access HoneytokenAccess) (*model.SecurityAlert, error)
	RegisterConfigFile(ctx context.Context, cmd RegisterConfigFileCommand) (model.ConfigMonitoring, error)
	AcknowledgeConfigChange(ctx context.Context, id, actor string) (model.ConfigMonitoring, error)
	ListConfigFiles(ctx context.Context) ([]model.ConfigMonitoring, error)

	RecordExport(ctx context.Context, e model.ExportEvent) error
	RecordLogin(ctx context.Context, e model.LoginEvent) error
	RecordQuery(ctx context.Context, e model.QueryEvent) error

	TriggerCheck(ctx context.Context) error
}
