package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// AuditService owns the audit ledger and its approval workflow.
type AuditService struct {
	repo   outbound.AuditRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewAuditService(repo outbound.AuditRepository, logger *slog.Logger) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{repo: repo, logger: logger, now: model.Now}
}

// Record validates and persists entry. Approval fields are always cleared; use
// RequireApproval for gated actions. A store failure is returned as a
// PersistenceError and must not be ignored.
func (s *AuditService) Record(ctx context.Context, entry model.AuditLog) (model.AuditLog, error) {
	if err := requireNonEmpty("actionType", entry.ActionType); err != nil {
		return model.AuditLog{}, err
	}
	if err := requireNonEmpty("description", entry.Description); err != nil {
		return model.AuditLog{}, err
	}
	if entry.ID == "" {
		entry.ID = model.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	} else {
		entry.Timestamp = model.StoredTime(entry.Timestamp)
	}
	if entry.ContextData == nil {
		entry.ContextData = make(map[string]any)
	}
	entry.Approved = false
	entry.ApprovedBy = nil
	entry.ApprovedAt = nil
	entry.ApprovalNotes = nil

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("audit write failed", "action_type", entry.ActionType, "error", err)
		return model.AuditLog{}, persistErr("create audit log", err)
	}
	return entry, nil
}

// RequireApproval records entry as a pending approval.
func (s *AuditService) RequireApproval(ctx context.Context, entry model.AuditLog) (model.AuditLog, error) {
	entry.RequiresApproval = true
	return s.Record(ctx, entry)
}

func (s *AuditService) Get(ctx context.Context, id string) (model.AuditLog, error) {
	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return model.AuditLog{}, persistErr("get audit log", err)
	}
	return entry, nil
}

// Approve sets the approval fields once. Re-approval by the same approver is a
// no-op reported with changed=false; any other approver gets already_approved.
func (s *AuditService) Approve(ctx context.Context, id, approver, notes string) (entry model.AuditLog, changed bool, err error) {
	if err := requireNonEmpty("approver", approver); err != nil {
		return model.AuditLog{}, false, err
	}
	entry, err = s.Get(ctx, id)
	if err != nil {
		return model.AuditLog{}, false, err
	}
	if err := s.checkApprovable(ctx, entry, approver); err != nil || entry.Approved {
		return entry, false, err
	}

	ok, err := s.repo.Approve(ctx, id, approver, notes, s.now())
	if err != nil {
		return model.AuditLog{}, false, persistErr("approve audit log", err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.AuditLog{}, false, err
	}
	if !ok {
		// Lost a race with another approval.
		if current.ApprovedByActor(approver) {
			return current, false, nil
		}
		return current, false, alreadyApproved(current)
	}
	s.logger.Info("audit entry approved", "id", id, "action_type", current.ActionType, "approver", approver)
	return current, true, nil
}

func (s *AuditService) checkApprovable(ctx context.Context, entry model.AuditLog, approver string) error {
	if !entry.RequiresApproval {
		return model.NewValidationError("id", fmt.Sprintf("audit entry %s does not require approval", entry.ID))
	}
	if entry.Approved {
		if entry.ApprovedByActor(approver) {
			return nil
		}
		return alreadyApproved(entry)
	}
	rejected, err := s.isRejected(ctx, entry)
	if err != nil {
		return err
	}
	if rejected {
		return model.NewConflictError(model.ConflictAlreadyRejected,
			fmt.Sprintf("audit entry %s was rejected", entry.ID))
	}
	return nil
}

func alreadyApproved(entry model.AuditLog) error {
	by := ""
	if entry.ApprovedBy != nil {
		by = *entry.ApprovedBy
	}
	return model.NewConflictError(model.ConflictAlreadyApproved,
		fmt.Sprintf("audit entry %s was already approved by %s", entry.ID, by))
}

func (s *AuditService) isRejected(ctx context.Context, entry model.AuditLog) (bool, error) {
	res, err := s.repo.List(ctx, outbound.AuditFilter{
		ReferenceID: entry.ID,
		ActionType:  model.RejectedActionType(entry.ActionType),
	}, outbound.PageRequest{Page: 0, Size: 1})
	if err != nil {
		return false, persistErr("lookup rejection", err)
	}
	return res.TotalCount > 0, nil
}

// Reject leaves the original entry untouched and appends a *_rejected entry
// referencing it.
func (s *AuditService) Reject(ctx context.Context, id, reason, rejectedBy string) (model.AuditLog, error) {
	if err := requireNonEmpty("reason", reason); err != nil {
		return model.AuditLog{}, err
	}
	entry, err := s.Get(ctx, id)
	if err != nil {
		return model.AuditLog{}, err
	}
	if !entry.RequiresApproval {
		return model.AuditLog{}, model.NewValidationError("id", fmt.Sprintf("audit entry %s does not require approval", id))
	}
	if entry.Approved {
		return model.AuditLog{}, alreadyApproved(entry)
	}
	rejected, err := s.isRejected(ctx, entry)
	if err != nil {
		return model.AuditLog{}, err
	}
	if rejected {
		return model.AuditLog{}, model.NewConflictError(model.ConflictAlreadyRejected,
			fmt.Sprintf("audit entry %s was already rejected", id))
	}

	rejection := model.NewAuditLog(model.RejectedActionType(entry.ActionType),
		fmt.Sprintf("Rejected: %s", entry.Description), rejectedBy).
		WithReference(entry.ID).
		WithContext(model.ContextKeyReason, reason)
	for _, k := range []string{model.ContextKeyEnvironment, model.ContextKeySnapshotID, model.ContextKeySeverity} {
		if v, ok := entry.ContextData[k]; ok {
			rejection = rejection.WithContext(k, v)
		}
	}
	return s.Record(ctx, rejection)
}

func (s *AuditService) List(ctx context.Context, filter outbound.AuditFilter, page outbound.PageRequest) (outbound.PageResult[model.AuditLog], error) {
	if filter.Category == "" {
		filter.Category = model.AuditCategoryAll
	}
	res, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return outbound.PageResult[model.AuditLog]{}, persistErr("list audit logs", err)
	}
	return res, nil
}

// Pending returns open approval requests of actionType, oldest first.
func (s *AuditService) Pending(ctx context.Context, actionType string) ([]model.AuditLog, error) {
	out, err := s.repo.ListPending(ctx, actionType)
	if err != nil {
		return nil, persistErr("list pending audit logs", err)
	}
	return out, nil
}

func (s *AuditService) Statistics(ctx context.Context) (model.AuditStatistics, error) {
	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return model.AuditStatistics{}, persistErr("audit statistics", err)
	}
	return stats, nil
}
