package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// Repositories groups the store dependencies of the security service.
type Repositories struct {
	Alerts      outbound.AlertRepository
	Audits      outbound.AuditRepository
	Deployments outbound.DeploymentRepository
	Snapshots   outbound.SnapshotRepository
	Honeytokens outbound.HoneytokenRepository
	Configs     outbound.ConfigMonitorRepository
	Activity    outbound.ActivityRepository
}

// SecurityService implements the command and query surface on top of the
// detection, audit and rollback components.
type SecurityService struct {
	alerts   outbound.AlertRepository
	activity outbound.ActivityRepository
	audit    *AuditService
	registry *HoneytokenRegistry
	drift    *DriftWatcher
	detector *AnomalyDetector
	monitor  *Monitor
	rollback *RollbackController
	pipeline *DeploymentPipeline
	policy   *PolicyEvaluator
	logger   *slog.Logger
}

type SecurityDeps struct {
	Repos    Repositories
	Audit    *AuditService
	Registry *HoneytokenRegistry
	Drift    *DriftWatcher
	Detector *AnomalyDetector
	Monitor  *Monitor
	Rollback *RollbackController
	Pipeline *DeploymentPipeline
	Policy   *PolicyEvaluator
	Logger   *slog.Logger
}

func NewSecurityService(d SecurityDeps) *SecurityService {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Policy == nil {
		d.Policy = NewPolicyEvaluator(nil)
	}
	return &SecurityService{
		alerts:   d.Repos.Alerts,
		activity: d.Repos.Activity,
		audit:    d.Audit,
		registry: d.Registry,
		drift:    d.Drift,
		detector: d.Detector,
		monitor:  d.Monitor,
		rollback: d.Rollback,
		pipeline: d.Pipeline,
		policy:   d.Policy,
		logger:   d.Logger,
	}
}

var _ inbound.SecurityPort = (*SecurityService)(nil)
var _ inbound.InteractionPort = (*SecurityService)(nil)

func (s *SecurityService) GetSecurityStatus(ctx context.Context) (inbound.SecurityStatus, error) {
	active, critical, err := s.alerts.CountActive(ctx)
	if err != nil {
		return inbound.SecurityStatus{}, persistErr("count alerts", err)
	}
	tokens, err := s.registry.Count(ctx)
	if err != nil {
		return inbound.SecurityStatus{}, err
	}
	files, err := s.drift.Count(ctx)
	if err != nil {
		return inbound.SecurityStatus{}, err
	}
	status := inbound.SecurityStatus{
		ActiveAlerts:         active,
		CriticalAlerts:       critical,
		HoneytokensDeployed:  tokens,
		ConfigFilesMonitored: files,
		LastCheck:            s.detector.LastCheck(),
	}
	if s.monitor != nil {
		status.IsMonitoring = s.monitor.IsMonitoring()
	}
	return status, nil
}

func (s *SecurityService) GetAllSecurityAlerts(ctx context.Context, filter outbound.AlertFilter, page outbound.PageRequest) (outbound.PageResult[model.SecurityAlert], error) {
	res, err := s.alerts.List(ctx, filter, page)
	if err != nil {
		return outbound.PageResult[model.SecurityAlert]{}, persistErr("list alerts", err)
	}
	return res, nil
}

func (s *SecurityService) GetSecurityAlert(ctx context.Context, id string) (model.SecurityAlert, error) {
	a, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		return model.SecurityAlert{}, persistErr("get alert", err)
	}
	return a, nil
}

// UpdateAlertStatus moves an alert through its triage states.
func (s *SecurityService) UpdateAlertStatus(ctx context.Context, cmd inbound.UpdateAlertStatusCommand) (model.SecurityAlert, error) {
	if err := validateCommand(cmd); err != nil {
		return model.SecurityAlert{}, err
	}
	status, err := model.ParseAlertStatus(cmd.Status)
	if err != nil {
		return model.SecurityAlert{}, model.NewValidationError("status", err.Error())
	}
	alert, err := s.GetSecurityAlert(ctx, cmd.AlertID)
	if err != nil {
		return model.SecurityAlert{}, err
	}
	prev := alert.Status
	updated, err := alert.TransitionTo(status, s.audit.now())
	if err != nil {
		return model.SecurityAlert{}, err
	}
	if cmd.AssignedTo != "" {
		assignee := cmd.AssignedTo
		updated.AssignedTo = &assignee
	}
	updated, err = s.alerts.Update(ctx, updated)
	if err != nil {
		return model.SecurityAlert{}, persistErr("update alert", err)
	}
	_, err = s.audit.Record(ctx, model.NewAuditLog(model.ActionAlertStatusChanged,
		fmt.Sprintf("Alert %q moved from %s to %s", alert.Title, prev, status), cmd.Actor).
		WithContext(model.ContextKeyAlertID, alert.ID).
		WithContext(model.ContextKeySeverity, string(alert.Severity)).
		WithContext("from", string(prev)).
		WithContext("to", string(status)))
	return updated, err
}

func (s *SecurityService) GetAuditLogs(ctx context.Context, filter outbound.AuditFilter, page outbound.PageRequest) (outbound.PageResult[model.AuditLog], error) {
	return s.audit.List(ctx, filter, page)
}

func (s *SecurityService) GetAuditStatistics(ctx context.Context) (model.AuditStatistics, error) {
	return s.audit.Statistics(ctx)
}

// ApproveAction approves a pending entry. Approving a rollback request runs the
// restore before returning; a restore failure is returned as an
// ExternalServiceError after everything has been recorded.
func (s *SecurityService) ApproveAction(ctx context.Context, id, approver, notes string) (model.AuditLog, error) {
	if err := requireNonEmpty("approver", approver); err != nil {
		return model.AuditLog{}, err
	}
	entry, err := s.audit.Get(ctx, id)
	if err != nil {
		return model.AuditLog{}, err
	}
	if entry.ActionType == model.ActionRollbackRequested && !entry.ApprovedByActor(approver) {
		env, err := s.rollback.environmentOf(entry)
		if err != nil {
			return model.AuditLog{}, err
		}
		if !entry.Approved {
			requester := ""
			if entry.UserID != nil {
				requester = *entry.UserID
			}
			if err := s.policy.CheckApprover(env, requester, approver); err != nil {
				return model.AuditLog{}, err
			}
		}
	}

	approved, changed, err := s.audit.Approve(ctx, id, approver, notes)
	if err != nil || !changed {
		return approved, err
	}
	if approved.ActionType == model.ActionRollbackRequested {
		if _, err := s.rollback.Execute(ctx, approved); err != nil {
			return approved, err
		}
	}
	return approved, nil
}

// RejectAction records a rejection of a pending entry.
func (s *SecurityService) RejectAction(ctx context.Context, id, reason, rejectedBy string) (model.AuditLog, error) {
	rejection, err := s.audit.Reject(ctx, id, reason, rejectedBy)
	if err != nil {
		return model.AuditLog{}, err
	}
	if rejection.ActionType == model.ActionRollbackRejected {
		if orig, err := s.audit.Get(ctx, id); err == nil {
			s.rollback.Rejected(orig)
		}
	}
	return rejection, nil
}

func (s *SecurityService) GetRollbackOptions(ctx context.Context, env string) ([]model.RollbackOption, error) {
	return s.rollback.Options(ctx, env)
}

func (s *SecurityService) InitiateRollback(ctx context.Context, cmd inbound.InitiateRollbackCommand) (model.AuditLog, error) {
	return s.rollback.Initiate(ctx, cmd)
}

func (s *SecurityService) GetRecentDeployments(ctx context.Context, limit int) ([]model.Deployment, error) {
	return s.pipeline.Recent(ctx, limit)
}

func (s *SecurityService) GetAllDeployments(ctx context.Context) ([]model.Deployment, error) {
	return s.pipeline.All(ctx)
}

func (s *SecurityService) StartDeployment(ctx context.Context, cmd inbound.StartDeploymentCommand) (model.Deployment, error) {
	return s.pipeline.Start(ctx, cmd)
}

func (s *SecurityService) CompleteDeployment(ctx context.Context, cmd inbound.CompleteDeploymentCommand) (model.Deployment, error) {
	return s.pipeline.Complete(ctx, cmd)
}

func (s *SecurityService) VerifySnapshot(ctx context.Context, id, actor string) (model.Snapshot, error) {
	return s.pipeline.VerifySnapshot(ctx, id, actor)
}

func (s *SecurityService) DeployHoneytoken(ctx context.Context, cmd inbound.DeployHoneytokenCommand) (model.Honeytoken, error) {
	return s.registry.Deploy(ctx, cmd)
}

func (s *SecurityService) ReportHoneytokenAccess(ctx context.Context, access inbound.HoneytokenAccess) (*model.SecurityAlert, error) {
	return s.detector.ReportHoneytokenAccess(ctx, access)
}

func (s *SecurityService) RegisterConfigFile(ctx context.Context, cmd inbound.RegisterConfigFileCommand) (model.ConfigMonitoring, error) {
	return s.drift.Register(ctx, cmd)
}

func (s *SecurityService) AcknowledgeConfigChange(ctx context.Context, id, actor string) (model.ConfigMonitoring, error) {
	return s.drift.Acknowledge(ctx, id, actor)
}

func (s *SecurityService) ListConfigFiles(ctx context.Context) ([]model.ConfigMonitoring, error) {
	return s.drift.List(ctx)
}

func (s *SecurityService) RecordExport(ctx context.Context, e model.ExportEvent) error {
	if err := requireNonEmpty("userId", e.UserID); err != nil {
		return err
	}
	if e.RowCount < 0 || e.ByteCount < 0 {
		return model.NewValidationError("rowCount", "counts must not be negative")
	}
	return persistErr("record export", s.activity.RecordExport(ctx, e))
}

func (s *SecurityService) RecordLogin(ctx context.Context, e model.LoginEvent) error {
	if err := requireNonEmpty("userId", e.UserID); err != nil {
		return err
	}
	return persistErr("record login", s.activity.RecordLogin(ctx, e))
}

func (s *SecurityService) RecordQuery(ctx context.Context, e model.QueryEvent) error {
	if err := requireNonEmpty("queryText", e.QueryText); err != nil {
		return err
	}
	return persistErr("record query", s.activity.RecordQuery(ctx, e))
}

// TriggerCheck runs a detection tick now.
func (s *SecurityService) TriggerCheck(ctx context.Context) error {
	var err error
	if s.monitor != nil {
		_, err = s.monitor.Trigger(ctx)
	} else {
		_, err = s.detector.Tick(ctx)
	}
	return err
}

// HandleDecision implements inbound.InteractionPort.
func (s *SecurityService) HandleDecision(ctx context.Context, d inbound.ApprovalDecision) (string, error) {
	if d.Approve {
		entry, err := s.ApproveAction(ctx, d.AuditID, d.Actor, d.Reason)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Approved by %s: %s", d.Actor, entry.Description), nil
	}
	reason := d.Reason
	if strings.TrimSpace(reason) == "" {
		reason = "rejected by " + d.Actor
	}
	rejection, err := s.RejectAction(ctx, d.AuditID, reason, d.Actor)
	if err != nil {
		return "", err
	}
	return rejection.Description, nil
}

// StatusSummary implements inbound.InteractionPort.
func (s *SecurityService) StatusSummary(ctx context.Context) (string, error) {
	st, err := s.GetSecurityStatus(ctx)
	if err != nil {
		return "", err
	}
	monitoring := "stopped"
	if st.IsMonitoring {
		monitoring = "running"
	}
	last := "never"
	if st.LastCheck != nil {
		last = st.LastCheck.Format("2006-01-02 15:04:05 UTC")
	}
	return fmt.Sprintf("Monitoring %s (last check %s). Active alerts: %d (%d critical). Honeytokens: %d. Config files: %d.",
		monitoring, last, st.ActiveAlerts, st.CriticalAlerts, st.HoneytokensDeployed, st.ConfigFilesMonitored), nil
}
