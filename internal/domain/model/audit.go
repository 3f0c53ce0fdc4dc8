package model

import (
	"strings"
	"time"
)

// Well-known audit action types. ActionType is free-form; these are the tags the
// system itself writes.
const (
	ActionHoneytokenAccessed       = "honeytoken_accessed"
	ActionHoneytokenDeployed       = "honeytoken_deployed"
	ActionExportAnomalyDetected    = "export_anomaly_detected"
	ActionConfigDriftDetected      = "config_drift_detected"
	ActionLoginAnomalyDetected     = "login_anomaly_detected"
	ActionDetectionRuleFailed      = "detection_rule_failed"
	ActionAlertStatusChanged       = "alert_status_changed"
	ActionConfigChangeAcknowledged = "config_change_acknowledged"
	ActionConfigFileRegistered     = "config_file_registered"
	ActionRollbackRequested        = "rollback_requested"
	ActionRollbackRejected         = "rollback_rejected"
	ActionRollbackCompleted        = "rollback_completed"
	ActionRollbackFailed           = "rollback_failed"
	ActionDeploymentStarted        = "deployment_started"
	ActionDeploymentCompleted      = "deployment_completed"
	ActionDeploymentFailed         = "deployment_failed"
	ActionSnapshotVerified         = "snapshot_verified"
)

// Context keys shared by writers and the query layer.
const (
	ContextKeySeverity    = "severity"
	ContextKeyOriginalID  = "originalId"
	ContextKeyReason      = "reason"
	ContextKeyEnvironment = "environment"
	ContextKeySnapshotID  = "snapshotId"
	ContextKeyAlertID     = "alertId"
)

// AuditLog is one entry in the append-only ledger. Only the approval fields may
// change after insert, once, from unapproved to approved.
type AuditLog struct {
	ID               string         `json:"id"`
	ActionType       string         `json:"action_type"`
	Description      string         `json:"description"`
	AIReasoning      *string        `json:"ai_reasoning"`
	ContextData      map[string]any `json:"context_data"`
	UserID           *string        `json:"user_id"`
	Timestamp        time.Time      `json:"timestamp"`
	RequiresApproval bool           `json:"requires_approval"`
	Approved         bool           `json:"approved"`
	ApprovedBy       *string        `json:"approved_by"`
	ApprovedAt       *time.Time     `json:"approved_at"`
	ApprovalNotes    *string        `json:"approval_notes"`
	ReferenceID      *string        `json:"reference_id"`
}

// NewAuditLog creates an entry stamped now. An empty userID marks a
// system-originated entry.
func NewAuditLog(actionType, description, userID string) AuditLog {
	a := AuditLog{
		ID:          generateID(),
		ActionType:  actionType,
		Description: description,
		ContextData: make(map[string]any),
		Timestamp:   Now(),
	}
	if userID != "" {
		a.UserID = &userID
	}
	return a
}

func (a AuditLog) WithReasoning(reasoning string) AuditLog {
	if reasoning == "" {
		a.AIReasoning = nil
		return a
	}
	a.AIReasoning = &reasoning
	return a
}

func (a AuditLog) WithContext(key string, value any) AuditLog {
	ctx := make(map[string]any, len(a.ContextData)+1)
	for k, v := range a.ContextData {
		ctx[k] = v
	}
	ctx[key] = value
	a.ContextData = ctx
	return a
}

func (a AuditLog) WithReference(id string) AuditLog {
	a.ReferenceID = &id
	return a.WithContext(ContextKeyOriginalID, id)
}

// Pending reports whether the entry still awaits approval.
func (a AuditLog) Pending() bool {
	return a.RequiresApproval && !a.Approved
}

// IsSystem reports whether no human actor is attached.
func (a AuditLog) IsSystem() bool {
	return a.UserID == nil
}

// ApprovedByActor reports whether the entry was approved by actor.
func (a AuditLog) ApprovedByActor(actor string) bool {
	return a.Approved && a.ApprovedBy != nil && *a.ApprovedBy == actor
}

// ContextString returns a string context value or "".
func (a AuditLog) ContextString(key string) string {
	if v, ok := a.ContextData[key].(string); ok {
		return v
	}
	return ""
}

// RejectedActionType derives the tag of the entry recording a rejection:
// "rollback_requested" becomes "rollback_rejected", anything else gets a
// "_rejected" suffix.
func RejectedActionType(actionType string) string {
	return strings.TrimSuffix(actionType, "_requested") + "_rejected"
}

type AuditCategory string

const (
	AuditCategoryAll      AuditCategory = "all"
	AuditCategoryAI       AuditCategory = "ai"
	AuditCategoryPending  AuditCategory = "pending"
	AuditCategoryApproved AuditCategory = "approved"
	AuditCategoryCritical AuditCategory = "critical"
)

// ParseAuditCategory maps s onto a category; the empty string means all.
func ParseAuditCategory(s string) (AuditCategory, bool) {
	switch c := AuditCategory(strings.ToLower(s)); c {
	case "":
		return AuditCategoryAll, true
	case AuditCategoryAll, AuditCategoryAI, AuditCategoryPending, AuditCategoryApproved, AuditCategoryCritical:
		return c, true
	}
	return "", false
}

// AuditStatistics is computed on read.
type AuditStatistics struct {
	Total            int64            `json:"total"`
	AIOriginated     int64            `json:"ai_originated"`
	SystemOriginated int64            `json:"system_originated"`
	PendingApproval  int64            `json:"pending_approval"`
	Approved         int64            `json:"approved"`
	Rejected         int64            `json:"rejected"`
	Critical         int64            `json:"critical"`
	ByActionType     map[string]int64 `json:"by_action_type"`
}
