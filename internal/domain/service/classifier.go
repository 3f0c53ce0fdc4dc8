package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// ExplanationUnavailable replaces the explainer's prose when it fails or times out.
const ExplanationUnavailable = "AI explanation unavailable"

// Evidence and trigger keys written on every alert.
const (
	EvidenceOccurrences = "occurrences"
	EvidenceFirstSeenAt = "firstSeenAt"
	EvidenceLastSeenAt  = "lastSeenAt"
	TriggerDebounceKey  = "debounceKey"
	TriggerRule         = "rule"
)

// Detection is a raw rule hit before classification.
type Detection struct {
	Rule        string
	Type        model.AlertType
	Severity    model.Severity
	Title       string
	Description string
	Trigger     map[string]any
	Evidence    map[string]any
	// DebounceKey groups repeats of the same condition. Empty disables debounce.
	DebounceKey string
}

// Classifier turns detections into persisted alerts with an explanation and a
// matching audit entry.
type Classifier struct {
	alerts    outbound.AlertRepository
	audit     *AuditService
	explainer outbound.Explainer
	notifier  outbound.Notifier
	metrics   outbound.MetricsRecorder
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type ClassifierDeps struct {
	Alerts    outbound.AlertRepository
	Audit     *AuditService
	Explainer outbound.Explainer
	Notifier  outbound.Notifier
	Metrics   outbound.MetricsRecorder
	Timeout   time.Duration
	Logger    *slog.Logger
}

func NewClassifier(d ClassifierDeps) *Classifier {
	if d.Timeout <= 0 {
		d.Timeout = 20 * time.Second
	}
	if d.Metrics == nil {
		d.Metrics = outbound.NopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Classifier{
		alerts:    d.Alerts,
		audit:     d.Audit,
		explainer: d.Explainer,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		timeout:   d.Timeout,
		logger:    d.Logger,
		now:       model.Now,
	}
}

// Classify persists det as a new alert. The explainer is best effort; the alert
// is written even when it fails. Store failures are returned.
func (c *Classifier) Classify(ctx context.Context, det Detection) (model.SecurityAlert, error) {
	now := c.now()
	alert := model.NewSecurityAlert(det.Type, det.Severity, det.Title, det.Description)
	alert.DetectedAt = now
	for k, v := range det.Trigger {
		alert.TriggerData[k] = v
	}
	alert.TriggerData[TriggerRule] = det.Rule
	if det.DebounceKey != "" {
		alert.TriggerData[TriggerDebounceKey] = det.DebounceKey
	}
	for k, v := range det.Evidence {
		alert.Evidence[k] = v
	}
	alert.Evidence[EvidenceOccurrences] = 1
	alert.Evidence[EvidenceFirstSeenAt] = now.Format(time.RFC3339Nano)
	alert.Evidence[EvidenceLastSeenAt] = now.Format(time.RFC3339Nano)
	alert = alert.WithRollbackSuggested(model.ShouldSuggestRollback(det.Type, det.Severity))

	expl := c.explain(ctx, alert)
	alert = alert.WithExplanation(expl.Explanation)

	saved, err := c.alerts.Create(ctx, alert)
	if err != nil {
		return model.SecurityAlert{}, persistErr("create alert", err)
	}

	reasoning := expl.Explanation
	if expl.Recommendation != "" {
		reasoning += "\n\nRecommendation: " + expl.Recommendation
	}
	entry := model.NewAuditLog(detectionActionType(saved.Type), saved.Title, "").
		WithReasoning(reasoning).
		WithContext(model.ContextKeyAlertID, saved.ID).
		WithContext("type", string(saved.Type)).
		WithContext(model.ContextKeySeverity, string(saved.Severity)).
		WithContext("rollbackSuggested", saved.RollbackSuggested).
		WithContext("recommendation", expl.Recommendation)
	if _, err := c.audit.Record(ctx, entry); err != nil {
		return saved, err
	}

	c.metrics.AlertRaised(string(saved.Type), string(saved.Severity))
	c.logger.Warn("security alert raised",
		"alert_id", saved.ID,
		"type", saved.Type,
		"severity", saved.Severity,
		"rollback_suggested", saved.RollbackSuggested,
	)
	if c.notifier != nil {
		if err := c.notifier.NotifyAlert(ctx, outbound.AlertNotification{
			AlertID:           saved.ID,
			Type:              string(saved.Type),
			Title:             saved.Title,
			Description:       saved.Description,
			Severity:          string(saved.Severity),
			Explanation:       saved.AIExplanation,
			RollbackSuggested: saved.RollbackSuggested,
		}); err != nil {
			c.logger.Warn("alert notification failed", "alert_id", saved.ID, "error", err)
		}
	}
	return saved, nil
}

func (c *Classifier) explain(ctx context.Context, alert model.SecurityAlert) outbound.Explanation {
	if c.explainer == nil {
		return outbound.Explanation{Explanation: ExplanationUnavailable}
	}
	ectx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	expl, err := c.explainer.Explain(ectx, outbound.ExplanationRequest{
		AlertType: alert.Type,
		Severity:  alert.Severity,
		Title:     alert.Title,
		Evidence:  alert.Evidence,
	})
	if err == nil && expl.Explanation != "" {
		return expl
	}
	if err == nil {
		err = errors.New("empty explanation")
	}
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ectx.Err(), context.DeadlineExceeded)
	c.logger.Warn("explainer unavailable",
		"alert_type", alert.Type,
		"error", model.NewExternalServiceError("explainer", timeout, err),
	)
	return outbound.Explanation{Explanation: ExplanationUnavailable}
}

// Refresh records a repeat of a debounced condition on an existing alert.
func (c *Classifier) Refresh(ctx context.Context, alert model.SecurityAlert, det Detection) (model.SecurityAlert, error) {
	now := c.now()
	evidence := make(map[string]any, len(alert.Evidence)+len(det.Evidence))
	for k, v := range alert.Evidence {
		evidence[k] = v
	}
	for k, v := range det.Evidence {
		evidence[k] = v
	}
	evidence[EvidenceOccurrences] = occurrences(alert.Evidence) + 1
	evidence[EvidenceLastSeenAt] = now.Format(time.RFC3339Nano)
	if _, ok := evidence[EvidenceFirstSeenAt]; !ok {
		evidence[EvidenceFirstSeenAt] = alert.DetectedAt.Format(time.RFC3339Nano)
	}
	alert.Evidence = evidence
	updated, err := c.alerts.Update(ctx, alert)
	if err != nil {
		return model.SecurityAlert{}, persistErr("update alert evidence", err)
	}
	c.logger.Debug("debounced repeat detection", "alert_id", alert.ID, "rule", det.Rule,
		"occurrences", evidence[EvidenceOccurrences])
	return updated, nil
}

// occurrences reads the counter whether it came from memory (int) or JSON (float64).
func occurrences(evidence map[string]any) int {
	switch v := evidence[EvidenceOccurrences].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 1
}

func detectionActionType(t model.AlertType) string {
	switch t {
	case model.AlertTypeHoneytokenBreach:
		return model.ActionHoneytokenAccessed
	case model.AlertTypeExportAnomaly:
		return model.ActionExportAnomalyDetected
	case model.AlertTypeConfigDrift:
		return model.ActionConfigDriftDetected
	case model.AlertTypeLoginAnomaly:
		return model.ActionLoginAnomalyDetected
	}
	return fmt.Sprintf("%s_detected", t)
}
