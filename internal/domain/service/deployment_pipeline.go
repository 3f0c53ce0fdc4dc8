package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

const (
	defaultRecentDeployments = 10
	maxRecentDeployments     = 500
)

// DeploymentPipeline records deployments and the snapshots that undo them.
// History is append-only apart from the single in_progress -> success|failed step.
type DeploymentPipeline struct {
	deployments outbound.DeploymentRepository
	snapshots   outbound.SnapshotRepository
	audit       *AuditService
	logger      *slog.Logger
	now         func() time.Time
}

func NewDeploymentPipeline(deployments outbound.DeploymentRepository, snapshots outbound.SnapshotRepository, audit *AuditService, logger *slog.Logger) *DeploymentPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeploymentPipeline{
		deployments: deployments,
		snapshots:   snapshots,
		audit:       audit,
		logger:      logger,
		now:         model.Now,
	}
}

// Start captures a pre-deploy snapshot and opens an in_progress deployment
// linked to it.
func (p *DeploymentPipeline) Start(ctx context.Context, cmd inbound.StartDeploymentCommand) (model.Deployment, error) {
	if err := validateCommand(cmd); err != nil {
		return model.Deployment{}, err
	}
	env, err := model.ParseEnvironment(cmd.Environment)
	if err != nil {
		return model.Deployment{}, model.NewValidationError("environment", err.Error())
	}

	snap := model.NewSnapshot(env, cmd.GitCommit).WithBackups(cmd.DatabaseBackup, cmd.ConfigFiles)
	snap.CreatedAt = p.now()
	snap, err = p.snapshots.Create(ctx, snap)
	if err != nil {
		return model.Deployment{}, persistErr("create snapshot", err)
	}

	d := model.NewDeployment(env, cmd.Version, cmd.DeployedBy).WithSnapshot(snap.ID)
	d.DeployedAt = p.now()
	for k, v := range cmd.PipelineConfig {
		d.PipelineConfig[k] = v
	}
	d, err = p.deployments.Create(ctx, d)
	if err != nil {
		return model.Deployment{}, persistErr("create deployment", err)
	}

	_, err = p.audit.Record(ctx, model.NewAuditLog(model.ActionDeploymentStarted,
		fmt.Sprintf("Deployment of %s to %s started", d.Version, env), cmd.DeployedBy).
		WithContext(model.ContextKeyEnvironment, string(env)).
		WithContext(model.ContextKeySnapshotID, snap.ID).
		WithContext("deploymentId", d.ID).
		WithContext("version", d.Version))
	if err != nil {
		return d, err
	}
	p.logger.Info("deployment started", "deployment_id", d.ID, "environment", env, "version", d.Version)
	return d, nil
}

// Complete moves an in_progress deployment to success or failed.
func (p *DeploymentPipeline) Complete(ctx context.Context, cmd inbound.CompleteDeploymentCommand) (model.Deployment, error) {
	if err := validateCommand(cmd); err != nil {
		return model.Deployment{}, err
	}
	d, err := p.deployments.GetByID(ctx, cmd.DeploymentID)
	if err != nil {
		return model.Deployment{}, persistErr("get deployment", err)
	}
	finished, err := d.Finish(cmd.Success, cmd.HealthChecks, cmd.Logs)
	if err != nil {
		return model.Deployment{}, err
	}
	ok, err := p.deployments.Complete(ctx, finished)
	if err != nil {
		return model.Deployment{}, persistErr("complete deployment", err)
	}
	if !ok {
		return model.Deployment{}, model.NewConflictError(model.ConflictInvalidTransition,
			fmt.Sprintf("deployment %s is no longer in_progress", d.ID))
	}

	action, verb := model.ActionDeploymentCompleted, "succeeded"
	if !cmd.Success {
		action, verb = model.ActionDeploymentFailed, "failed"
	}
	_, err = p.audit.Record(ctx, model.NewAuditLog(action,
		fmt.Sprintf("Deployment of %s to %s %s", d.Version, d.Environment, verb), d.DeployedBy).
		WithContext(model.ContextKeyEnvironment, string(d.Environment)).
		WithContext("deploymentId", d.ID).
		WithContext("healthChecks", len(finished.HealthChecks)))
	return finished, err
}

// VerifySnapshot marks a snapshot as a trusted rollback target.
func (p *DeploymentPipeline) VerifySnapshot(ctx context.Context, id, actor string) (model.Snapshot, error) {
	if err := requireNonEmpty("actor", actor); err != nil {
		return model.Snapshot{}, err
	}
	snap, err := p.snapshots.GetByID(ctx, id)
	if err != nil {
		return model.Snapshot{}, persistErr("get snapshot", err)
	}
	if snap.Verified {
		return snap, nil
	}
	if err := p.snapshots.MarkVerified(ctx, id); err != nil {
		return model.Snapshot{}, persistErr("verify snapshot", err)
	}
	snap.Verified = true
	_, err = p.audit.Record(ctx, model.NewAuditLog(model.ActionSnapshotVerified,
		fmt.Sprintf("Snapshot %s of %s verified", snap.ID, snap.Environment), actor).
		WithContext(model.ContextKeyEnvironment, string(snap.Environment)).
		WithContext(model.ContextKeySnapshotID, snap.ID))
	return snap, err
}

// Recent returns up to limit deployments, newest first. A non-positive limit
// means the default of 10.
func (p *DeploymentPipeline) Recent(ctx context.Context, limit int) ([]model.Deployment, error) {
	if limit <= 0 {
		limit = defaultRecentDeployments
	}
	if limit > maxRecentDeployments {
		limit = maxRecentDeployments
	}
	out, err := p.deployments.ListRecent(ctx, limit)
	return out, persistErr("list recent deployments", err)
}

func (p *DeploymentPipeline) All(ctx context.Context) ([]model.Deployment, error) {
	out, err := p.deployments.ListAll(ctx)
	return out, persistErr("list deployments", err)
}
