package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

const (
	RollbackOutcomeSuccess = "success"
	RollbackOutcomeFailed  = "failed"
	RollbackOutcomeTimeout = "timeout"
)

type RollbackConfig struct {
	RestoreTimeout time.Duration
	// PendingExpiry lets a new request displace a pending one older than this.
	// Zero keeps pending requests forever.
	PendingExpiry time.Duration
}

type pendingRollback struct {
	requestID   string
	requestedAt time.Time
}

// RollbackController enumerates restore targets and runs approved rollbacks.
// At most one rollback request per environment is open at a time, from
// Initiate until it is executed or rejected.
type RollbackController struct {
	snapshots   outbound.SnapshotRepository
	deployments outbound.DeploymentRepository
	audit       *AuditService
	restorer    outbound.SnapshotRestorer
	notifier    outbound.Notifier
	metrics     outbound.MetricsRecorder
	cfg         RollbackConfig
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	pending map[model.Environment]pendingRollback
}

type RollbackDeps struct {
	Snapshots   outbound.SnapshotRepository
	Deployments outbound.DeploymentRepository
	Audit       *AuditService
	Restorer    outbound.SnapshotRestorer
	Notifier    outbound.Notifier
	Metrics     outbound.MetricsRecorder
	Logger      *slog.Logger
}

func NewRollbackController(d RollbackDeps, cfg RollbackConfig) *RollbackController {
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = 10 * time.Minute
	}
	if d.Metrics == nil {
		d.Metrics = outbound.NopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &RollbackController{
		snapshots:   d.Snapshots,
		deployments: d.Deployments,
		audit:       d.Audit,
		restorer:    d.Restorer,
		notifier:    d.Notifier,
		metrics:     d.Metrics,
		cfg:         cfg,
		logger:      d.Logger,
		now:         model.Now,
		pending:     make(map[model.Environment]pendingRollback),
	}
}

// Hydrate rebuilds the per-environment locks from pending rollback requests
// left in the audit log by a previous process.
func (c *RollbackController) Hydrate(ctx context.Context) error {
	entries, err := c.audit.Pending(ctx, model.ActionRollbackRequested)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		env, err := model.ParseEnvironment(e.ContextString(model.ContextKeyEnvironment))
		if err != nil {
			c.logger.Warn("pending rollback has no valid environment", "audit_id", e.ID)
			continue
		}
		c.pending[env] = pendingRollback{requestID: e.ID, requestedAt: e.Timestamp}
	}
	if len(entries) > 0 {
		c.logger.Info("restored pending rollback requests", "count", len(c.pending))
	}
	return nil
}

// PendingRequest returns the open request id for env, if any.
func (c *RollbackController) PendingRequest(env model.Environment) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[env]
	return p.requestID, ok
}

// Options lists env's snapshots newest first. Unverified snapshots are kept and
// carry a warning; the newest verified one is recommended.
func (c *RollbackController) Options(ctx context.Context, envName string) ([]model.RollbackOption, error) {
	env, err := model.ParseEnvironment(envName)
	if err != nil {
		return nil, model.NewValidationError("environment", err.Error())
	}
	snaps, err := c.snapshots.ListByEnvironment(ctx, env)
	if err != nil {
		return nil, persistErr("list snapshots", err)
	}
	opts := make([]model.RollbackOption, 0, len(snaps))
	recommended := false
	for _, s := range snaps {
		if s.Environment != env {
			continue
		}
		deps, err := c.deployments.ListBySnapshot(ctx, s.ID)
		if err != nil {
			return nil, persistErr("list deployments for snapshot", err)
		}
		opt := model.RollbackOption{
			Snapshot:    s,
			Verified:    s.Verified,
			Description: describeSnapshot(s, deps),
		}
		if !s.Verified {
			opt.Warning = "snapshot has not been verified; restoring it may not succeed"
		} else if !recommended {
			opt.Recommended = true
			recommended = true
		}
		opts = append(opts, opt)
	}
	return opts, nil
}

// describeSnapshot names the state a snapshot captures. deps are oldest first;
// the first forward deployment is the one the snapshot was taken for.
func describeSnapshot(s model.Snapshot, deps []model.Deployment) string {
	when := s.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")
	for _, d := range deps {
		if d.PipelineConfig["rollback"] == "true" {
			continue
		}
		return fmt.Sprintf("State before %s deployed by %s (commit %s, %s)", d.Version, d.DeployedBy, s.ShortCommit(), when)
	}
	return fmt.Sprintf("Snapshot of commit %s (%s)", s.ShortCommit(), when)
}

// Initiate records a rollback request awaiting approval. Nothing is restored
// until the request is approved.
func (c *RollbackController) Initiate(ctx context.Context, cmd inbound.InitiateRollbackCommand) (model.AuditLog, error) {
	if err := validateCommand(cmd); err != nil {
		return model.AuditLog{}, err
	}
	env, err := model.ParseEnvironment(cmd.Environment)
	if err != nil {
		return model.AuditLog{}, model.NewValidationError("environment", err.Error())
	}
	snap, err := c.snapshots.GetByID(ctx, cmd.SnapshotID)
	if err != nil {
		return model.AuditLog{}, persistErr("get snapshot", err)
	}
	if snap.Environment != env {
		return model.AuditLog{}, model.NewValidationError("snapshotId",
			fmt.Sprintf("snapshot %s belongs to %s, not %s", snap.ID, snap.Environment, env))
	}

	entry := model.NewAuditLog(model.ActionRollbackRequested,
		fmt.Sprintf("Rollback of %s to snapshot %s (commit %s) requested", env, snap.ID, snap.ShortCommit()),
		cmd.RequestedBy).
		WithContext(model.ContextKeyEnvironment, string(env)).
		WithContext(model.ContextKeySnapshotID, snap.ID).
		WithContext(model.ContextKeyReason, cmd.Reason).
		WithContext("gitCommit", snap.GitCommit).
		WithContext("snapshotVerified", snap.Verified)

	if err := c.acquire(ctx, env, entry.ID); err != nil {
		return model.AuditLog{}, err
	}
	saved, err := c.audit.RequireApproval(ctx, entry)
	if err != nil {
		c.release(env, entry.ID)
		return model.AuditLog{}, err
	}
	c.logger.Info("rollback requested", "environment", env, "snapshot_id", snap.ID, "request_id", saved.ID, "requested_by", cmd.RequestedBy)

	if c.notifier != nil {
		if err := c.notifier.RequestApproval(ctx, outbound.ApprovalNotification{
			AuditID:     saved.ID,
			ActionType:  saved.ActionType,
			Description: saved.Description,
			Environment: string(env),
			SnapshotID:  snap.ID,
			Reason:      cmd.Reason,
			RequestedBy: cmd.RequestedBy,
		}); err != nil {
			c.logger.Warn("approval notification failed", "request_id", saved.ID, "error", err)
		}
	}
	return saved, nil
}

func (c *RollbackController) acquire(ctx context.Context, env model.Environment, requestID string) error {
	c.mu.Lock()
	existing, held := c.pending[env]
	if !held {
		c.pending[env] = pendingRollback{requestID: requestID, requestedAt: c.now()}
		c.mu.Unlock()
		return nil
	}
	expired := c.cfg.PendingExpiry > 0 && c.now().Sub(existing.requestedAt) > c.cfg.PendingExpiry
	c.mu.Unlock()

	if !expired {
		return model.NewConflictError(model.ConflictRollbackAlreadyPending,
			fmt.Sprintf("rollback %s for %s is still awaiting approval", existing.requestID, env))
	}
	if _, err := c.audit.Reject(ctx, existing.requestID, "request expired", ""); err != nil &&
		!errors.Is(err, model.ErrConflict) {
		return err
	}
	c.logger.Info("expired stale rollback request", "environment", env, "request_id", existing.requestID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[env]; ok && cur.requestID != existing.requestID {
		return model.NewConflictError(model.ConflictRollbackAlreadyPending,
			fmt.Sprintf("rollback %s for %s is still awaiting approval", cur.requestID, env))
	}
	c.pending[env] = pendingRollback{requestID: requestID, requestedAt: c.now()}
	return nil
}

func (c *RollbackController) release(env model.Environment, requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[env]; ok && cur.requestID == requestID {
		delete(c.pending, env)
	}
}

// Rejected releases the lock held by a rejected request.
func (c *RollbackController) Rejected(request model.AuditLog) {
	env, err := model.ParseEnvironment(request.ContextString(model.ContextKeyEnvironment))
	if err != nil {
		return
	}
	c.release(env, request.ID)
}

func (c *RollbackController) environmentOf(request model.AuditLog) (model.Environment, error) {
	env, err := model.ParseEnvironment(request.ContextString(model.ContextKeyEnvironment))
	if err != nil {
		return "", model.NewValidationError("environment", fmt.Sprintf("rollback request %s: %v", request.ID, err))
	}
	return env, nil
}

// Execute restores the snapshot named by an approved request. The completion
// audit entry is written before the rollback deployment row, and the lock is
// released whatever the outcome. A failed or timed-out restore is returned as
// an ExternalServiceError after being fully recorded.
//
// The approval is already durable, so the restore and its records run detached
// from the caller: a request deadline or client disconnect must not leave an
// approved request without an outcome. Only RestoreTimeout bounds the restore.
func (c *RollbackController) Execute(ctx context.Context, request model.AuditLog) (model.Deployment, error) {
	ctx = context.WithoutCancel(ctx)
	env, err := c.environmentOf(request)
	if err != nil {
		return model.Deployment{}, err
	}
	defer c.release(env, request.ID)

	snap, err := c.snapshots.GetByID(ctx, request.ContextString(model.ContextKeySnapshotID))
	if err != nil {
		return model.Deployment{}, persistErr("get snapshot", err)
	}
	approver := ""
	if request.ApprovedBy != nil {
		approver = *request.ApprovedBy
	}

	rctx, cancel := context.WithTimeout(ctx, c.cfg.RestoreTimeout)
	result, rerr := c.restorer.Restore(rctx, outbound.RestoreRequest{
		SnapshotID:     snap.ID,
		Environment:    env,
		GitCommit:      snap.GitCommit,
		DatabaseBackup: deref(snap.DatabaseBackup),
		ConfigFiles:    deref(snap.ConfigFiles),
	})
	timedOut := rerr != nil && (errors.Is(rerr, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded))
	cancel()

	success := rerr == nil && result.Success
	outcome := RollbackOutcomeSuccess
	logs := result.Logs
	var execErr error
	switch {
	case timedOut:
		outcome = RollbackOutcomeTimeout
		logs = appendLog(logs, fmt.Sprintf("restore timed out after %s", c.cfg.RestoreTimeout))
		execErr = model.NewExternalServiceError("snapshot restore", true, rerr)
	case rerr != nil:
		outcome = RollbackOutcomeFailed
		logs = appendLog(logs, "restore failed: "+rerr.Error())
		execErr = model.NewExternalServiceError("snapshot restore", false, rerr)
	case !result.Success:
		outcome = RollbackOutcomeFailed
		execErr = model.NewExternalServiceError("snapshot restore", false, errors.New("restore reported failure"))
	}

	actionType, verb := model.ActionRollbackCompleted, "completed"
	if !success {
		actionType, verb = model.ActionRollbackFailed, "failed"
	}
	version := "rollback-" + snap.ShortCommit()
	deployment := model.NewRollbackDeployment(env, snap, version, approver, success, logs)
	deployment.PipelineConfig["rollback"] = "true"
	deployment.PipelineConfig["requestId"] = request.ID

	if _, err := c.audit.Record(ctx, model.NewAuditLog(actionType,
		fmt.Sprintf("Rollback of %s to snapshot %s %s", env, snap.ID, verb), approver).
		WithReference(request.ID).
		WithContext(model.ContextKeyEnvironment, string(env)).
		WithContext(model.ContextKeySnapshotID, snap.ID).
		WithContext("deploymentId", deployment.ID).
		WithContext("outcome", outcome)); err != nil {
		return model.Deployment{}, err
	}
	saved, err := c.deployments.Create(ctx, deployment)
	if err != nil {
		return model.Deployment{}, persistErr("create rollback deployment", err)
	}

	c.metrics.RollbackFinished(string(env), outcome)
	c.logger.Info("rollback finished", "environment", env, "snapshot_id", snap.ID, "outcome", outcome, "deployment_id", saved.ID)
	if c.notifier != nil {
		if err := c.notifier.NotifyRollback(ctx, outbound.RollbackNotification{
			RequestID:   request.ID,
			Environment: string(env),
			SnapshotID:  snap.ID,
			Success:     success,
			ApprovedBy:  approver,
			Logs:        logs,
		}); err != nil {
			c.logger.Warn("rollback notification failed", "request_id", request.ID, "error", err)
		}
	}
	return saved, execErr
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func appendLog(logs, line string) string {
	if logs == "" {
		return line
	}
	return logs + "\n" + line
}
