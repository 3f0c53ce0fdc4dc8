package model

import (
	"fmt"
	"strings"
	"time"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ParseEnvironment accepts the canonical names and the short forms dev/stage/prod.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "dev":
		return EnvDevelopment, nil
	case "staging", "stage":
		return EnvStaging, nil
	case "production", "prod":
		return EnvProduction, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

type DeploymentStatus string

const (
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentSuccess    DeploymentStatus = "success"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
)

// HealthCheck is one post-deploy probe result.
type HealthCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Deployment history is append-only: a rollback is a new row, not an edit.
type Deployment struct {
	ID                string            `json:"id"`
	Environment       Environment       `json:"environment"`
	Version           string            `json:"version"`
	Status            DeploymentStatus  `json:"status"`
	PipelineConfig    map[string]string `json:"pipeline_config"`
	SnapshotID        *string           `json:"snapshot_id"`
	DeployedBy        string            `json:"deployed_by"`
	DeployedAt        time.Time         `json:"deployed_at"`
	RollbackAvailable bool              `json:"rollback_available"`
	HealthChecks      []HealthCheck     `json:"health_checks"`
	Logs              string            `json:"logs"`
}

func NewDeployment(env Environment, version, deployedBy string) Deployment {
	return Deployment{
		ID:             generateID(),
		Environment:    env,
		Version:        version,
		Status:         DeploymentInProgress,
		PipelineConfig: make(map[string]string),
		DeployedBy:     deployedBy,
		DeployedAt:     Now(),
		HealthChecks:   []HealthCheck{},
	}
}

// NewRollbackDeployment records a restore of snapshot. status is rolled_back on
// success and failed otherwise.
func NewRollbackDeployment(env Environment, snapshot Snapshot, version, deployedBy string, success bool, logs string) Deployment {
	d := NewDeployment(env, version, deployedBy)
	id := snapshot.ID
	d.SnapshotID = &id
	d.Logs = logs
	if success {
		d.Status = DeploymentRolledBack
	} else {
		d.Status = DeploymentFailed
	}
	return d
}

func (d Deployment) WithSnapshot(snapshotID string) Deployment {
	d.SnapshotID = &snapshotID
	d.RollbackAvailable = true
	return d
}

// Finish moves an in-progress deployment to success or failed.
func (d Deployment) Finish(success bool, checks []HealthCheck, logs string) (Deployment, error) {
	if d.Status != DeploymentInProgress {
		return d, NewConflictError(ConflictInvalidTransition,
			fmt.Sprintf("deployment %s is %s, not in_progress", d.ID, d.Status))
	}
	if success {
		d.Status = DeploymentSuccess
	} else {
		d.Status = DeploymentFailed
	}
	if checks != nil {
		d.HealthChecks = checks
	}
	if logs != "" {
		if d.Logs != "" {
			d.Logs += "\n"
		}
		d.Logs += logs
	}
	return d, nil
}
