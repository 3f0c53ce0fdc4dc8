package notification

import (
	"context"
	"log/slog"

	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// NoopNotifier logs notifications instead of sending them.
// Used in local development when Slack is not configured.
type NoopNotifier struct {
	logger *slog.Logger
}

var _ outbound.Notifier = (*NoopNotifier)(nil)

// NewNoopNotifier creates a new NoopNotifier.
func NewNoopNotifier(logger *slog.Logger) *NoopNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopNotifier{logger: logger}
}

func (n *NoopNotifier) NotifyAlert(_ context.Context, a outbound.AlertNotification) error {
	n.logger.Info("noop: alert notification",
		"alert_id", a.AlertID,
		"type", a.Type,
		"title", a.Title,
		"severity", a.Severity,
		"rollback_suggested", a.RollbackSuggested,
	)
	return nil
}

func (n *NoopNotifier) RequestApproval(_ context.Context, req outbound.ApprovalNotification) error {
	n.logger.Info("noop: approval request",
		"audit_id", req.AuditID,
		"action_type", req.ActionType,
		"environment", req.Environment,
		"requested_by", req.RequestedBy,
	)
	return nil
}

func (n *NoopNotifier) NotifyRollback(_ context.Context, r outbound.RollbackNotification) error {
	n.logger.Info("noop: rollback outcome",
		"request_id", r.RequestID,
		"environment", r.Environment,
		"success", r.Success,
	)
	return nil
}
