package inbound

import "context"

// InteractionPort handles approval decisions made from messaging platforms.
type InteractionPort interface {
	HandleDecision(ctx context.Context, d ApprovalDecision) (string, error)
	StatusSummary(ctx context.Context) (string, error)
}

type ApprovalDecision struct {
	AuditID string
	Approve bool
	Actor   string
	Reason  string
}
