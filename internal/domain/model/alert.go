package model

import (
	"fmt"
	"time"
)

type AlertType string

const (
	AlertTypeHoneytokenBreach AlertType = "honeytoken_breach"
	AlertTypeExportAnomaly    AlertType = "export_anomaly"
	AlertTypeConfigDrift      AlertType = "config_drift"
	AlertTypeLoginAnomaly     AlertType = "login_anomaly"
)

// ParseAlertType returns the AlertType for s or an error for unknown values.
func ParseAlertType(s string) (AlertType, error) {
	switch t := AlertType(s); t {
	case AlertTypeHoneytokenBreach, AlertTypeExportAnomaly, AlertTypeConfigDrift, AlertTypeLoginAnomaly:
		return t, nil
	}
	return "", fmt.Errorf("unknown alert type %q", s)
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity returns the Severity for s or an error for unknown values.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(s); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Rank orders severities from low (0) to critical (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast returns the higher of s and floor.
func (s Severity) AtLeast(floor Severity) Severity {
	if floor.Rank() > s.Rank() {
		return floor
	}
	return s
}

type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "new"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// ParseAlertStatus returns the AlertStatus for s or an error for unknown values.
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch st := AlertStatus(s); st {
	case AlertStatusNew, AlertStatusInvestigating, AlertStatusResolved, AlertStatusFalsePositive:
		return st, nil
	}
	return "", fmt.Errorf("unknown alert status %q", s)
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusFalsePositive
}

// SecurityAlert is a persisted detection. Alerts are never deleted.
type SecurityAlert struct {
	ID                string         `json:"id"`
	Type              AlertType      `json:"type"`
	Severity          Severity       `json:"severity"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	AIExplanation     string         `json:"ai_explanation"`
	TriggerData       map[string]any `json:"trigger_data"`
	Status            AlertStatus    `json:"status"`
	AssignedTo        *string        `json:"assigned_to"`
	DetectedAt        time.Time      `json:"detected_at"`
	ResolvedAt        *time.Time     `json:"resolved_at"`
	RollbackSuggested bool           `json:"rollback_suggested"`
	Evidence          map[string]any `json:"evidence"`
}

// NewSecurityAlert creates a SecurityAlert in status new.
func NewSecurityAlert(alertType AlertType, severity Severity, title, description string) SecurityAlert {
	return SecurityAlert{
		ID:          generateID(),
		Type:        alertType,
		Severity:    severity,
		Title:       title,
		Description: description,
		TriggerData: make(map[string]any),
		Status:      AlertStatusNew,
		DetectedAt:  Now(),
		Evidence:    make(map[string]any),
	}
}

// WithExplanation returns a copy of the alert carrying the explainer's prose.
func (a SecurityAlert) WithExplanation(explanation string) SecurityAlert {
	a.AIExplanation = explanation
	return a
}

// WithRollbackSuggested returns a copy with the rollback flag set.
func (a SecurityAlert) WithRollbackSuggested(v bool) SecurityAlert {
	a.RollbackSuggested = v
	return a
}

// TransitionTo returns a copy of the alert moved to status. resolvedAt is stamped
// when entering a terminal status. Transitions out of a terminal status and
// backwards to new are refused.
func (a SecurityAlert) TransitionTo(status AlertStatus, now time.Time) (SecurityAlert, error) {
	if a.Status.IsTerminal() {
		return a, NewConflictError(ConflictInvalidTransition,
			fmt.Sprintf("alert %s is already %s", a.ID, a.Status))
	}
	switch status {
	case AlertStatusInvestigating:
		if a.Status != AlertStatusNew && a.Status != AlertStatusInvestigating {
			return a, NewConflictError(ConflictInvalidTransition,
				fmt.Sprintf("cannot move alert from %s to %s", a.Status, status))
		}
		a.Status = status
		a.ResolvedAt = nil
	case AlertStatusResolved, AlertStatusFalsePositive:
		t := StoredTime(now)
		a.Status = status
		a.ResolvedAt = &t
	default:
		return a, NewConflictError(ConflictInvalidTransition,
			fmt.Sprintf("cannot move alert from %s to %s", a.Status, status))
	}
	return a, nil
}

// IsActive reports whether the alert still needs attention.
func (a SecurityAlert) IsActive() bool {
	return !a.Status.IsTerminal()
}

// ShouldSuggestRollback applies the rollback suggestion rule: every critical
// alert, and high alerts for honeytoken breaches or config drift.
func ShouldSuggestRollback(alertType AlertType, severity Severity) bool {
	if severity == SeverityCritical {
		return true
	}
	if severity == SeverityHigh {
		return alertType == AlertTypeHoneytokenBreach || alertType == AlertTypeConfigDrift
	}
	return false
}
