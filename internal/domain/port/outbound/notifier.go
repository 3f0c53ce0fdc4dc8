package outbound

import "context"

type AlertNotification struct {
	AlertID           string
	Type              string
	Title             string
	Description       string
	Severity          string
	Explanation       string
	RollbackSuggested bool
}

type ApprovalNotification struct {
	AuditID     string
	ActionType  string
	Description string
	Environment string
	SnapshotID  string
	Reason      string
	RequestedBy string
}

type RollbackNotification struct {
	RequestID   string
	Environment string
	SnapshotID  string
	Success     bool
	ApprovedBy  string
	Logs        string
}

// Notifier pushes events to operators. Failures are logged by callers, never fatal.
type Notifier interface {
	NotifyAlert(ctx context.Context, n AlertNotification) error
	RequestApproval(ctx context.Context, n ApprovalNotification) error
	NotifyRollback(ctx context.Context, n RollbackNotification) error
}
