package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
	"github.com/jonny/sentinel/internal/domain/service"
)

func seedAlert(t *testing.T, h *harness, sev model.Severity) model.SecurityAlert {
	t.Helper()
	a := model.NewSecurityAlert(model.AlertTypeExportAnomaly, sev, "Unusual data export volume", "rows")
	if _, err := h.alerts.Create(context.Background(), a); err != nil {
		t.Fatalf("seed alert: %v", err)
	}
	return a
}

func TestSecurity_Status(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedAlert(t, h, model.SeverityCritical)
	seedAlert(t, h, model.SeverityMedium)
	resolved := seedAlert(t, h, model.SeverityCritical)
	if _, err := h.svc.UpdateAlertStatus(ctx, inbound.UpdateAlertStatusCommand{AlertID: resolved.ID, Status: "resolved", Actor: "ana"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, _ = h.svc.DeployHoneytoken(ctx, inbound.DeployHoneytokenCommand{TokenType: "email", TableName: "users", ColumnName: "email"})
	h.hasher.set("/etc/app.yaml", "H1", 0o644)
	_, _ = h.svc.RegisterConfigFile(ctx, inbound.RegisterConfigFileCommand{Path: "/etc/app.yaml"})

	st, err := h.svc.GetSecurityStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	want := inbound.SecurityStatus{ActiveAlerts: 2, CriticalAlerts: 1, HoneytokensDeployed: 1, ConfigFilesMonitored: 1}
	if st.ActiveAlerts != want.ActiveAlerts || st.CriticalAlerts != want.CriticalAlerts ||
		st.HoneytokensDeployed != want.HoneytokensDeployed || st.ConfigFilesMonitored != want.ConfigFilesMonitored {
		t.Errorf("got %+v, want %+v", st, want)
	}
	if st.IsMonitoring || st.LastCheck != nil {
		t.Error("monitoring has not run")
	}

	if err := h.svc.TriggerCheck(ctx); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	st, _ = h.svc.GetSecurityStatus(ctx)
	if st.LastCheck == nil {
		t.Error("lastCheck should be set after a manual check")
	}
}

func TestSecurity_UpdateAlertStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := seedAlert(t, h, model.SeverityHigh)

	got, err := h.svc.UpdateAlertStatus(ctx, inbound.UpdateAlertStatusCommand{
		AlertID: a.ID, Status: "investigating", AssignedTo: "ana", Actor: "lead",
	})
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if got.Status != model.AlertStatusInvestigating || got.AssignedTo == nil || *got.AssignedTo != "ana" {
		t.Errorf("unexpected alert %+v", got)
	}

	got, err = h.svc.UpdateAlertStatus(ctx, inbound.UpdateAlertStatusCommand{AlertID: a.ID, Status: "false_positive", Actor: "ana"})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if got.ResolvedAt == nil {
		t.Error("resolvedAt should be stamped")
	}

	_, err = h.svc.UpdateAlertStatus(ctx, inbound.UpdateAlertStatusCommand{AlertID: a.ID, Status: "investigating", Actor: "ana"})
	if !model.IsConflict(err, model.ConflictInvalidTransition) {
		t.Errorf("expected invalid_transition from terminal state, got %v", err)
	}

	entries := h.audits.byAction(model.ActionAlertStatusChanged)
	if len(entries) != 2 || entries[0].ContextString("to") != "investigating" {
		t.Errorf("expected two status change entries, got %+v", entries)
	}
}

func TestSecurity_UpdateAlertStatusErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := seedAlert(t, h, model.SeverityLow)

	tests := []struct {
		name string
		cmd  inbound.UpdateAlertStatusCommand
		want error
	}{
		{"unknown status", inbound.UpdateAlertStatusCommand{AlertID: a.ID, Status: "closed", Actor: "x"}, model.ErrValidation},
		{"missing actor", inbound.UpdateAlertStatusCommand{AlertID: a.ID, Status: "resolved"}, model.ErrValidation},
		{"unknown alert", inbound.UpdateAlertStatusCommand{AlertID: "nope", Status: "resolved", Actor: "x"}, model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.svc.UpdateAlertStatus(ctx, tt.cmd); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSecurity_RecordActivityValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.RecordExport(ctx, model.NewExportEvent("", 1, 1, "s3", time.Time{})); !errors.Is(err, model.ErrValidation) {
		t.Errorf("export without user: %v", err)
	}
	if err := h.svc.RecordExport(ctx, model.NewExportEvent("bob", -1, 1, "s3", time.Time{})); !errors.Is(err, model.ErrValidation) {
		t.Errorf("negative rows: %v", err)
	}
	if err := h.svc.RecordQuery(ctx, model.NewQueryEvent("bob", "", " ", time.Time{})); !errors.Is(err, model.ErrValidation) {
		t.Errorf("empty query: %v", err)
	}
	if err := h.svc.RecordLogin(ctx, model.NewLoginEvent("bob", "10.0.0.1", true, time.Time{})); err != nil {
		t.Errorf("valid login: %v", err)
	}
	h.activity.loginErr = errStoreDown
	if err := h.svc.RecordLogin(ctx, model.NewLoginEvent("bob", "10.0.0.1", true, time.Time{})); !errors.Is(err, model.ErrPersistence) {
		t.Errorf("store failure should surface as persistence error, got %v", err)
	}
}

func TestSecurity_HandleDecisionApproveRollback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.addSnapshot(model.EnvStaging, "abc1234", true, time.Hour)
	req, err := h.svc.InitiateRollback(ctx, inbound.InitiateRollbackCommand{
		Environment: "staging", SnapshotID: snap.ID, Reason: "bad release", RequestedBy: "dev",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	msg, err := h.svc.HandleDecision(ctx, inbound.ApprovalDecision{AuditID: req.ID, Approve: true, Actor: "lead"})
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	if !strings.Contains(msg, "Approved by lead") {
		t.Errorf("unexpected reply %q", msg)
	}
	if h.restorer.callCount() != 1 {
		t.Errorf("approval should run the restore once, got %d", h.restorer.callCount())
	}
}

func TestSecurity_HandleDecisionReject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.addSnapshot(model.EnvStaging, "abc1234", true, time.Hour)
	req, _ := h.svc.InitiateRollback(ctx, inbound.InitiateRollbackCommand{
		Environment: "staging", SnapshotID: snap.ID, Reason: "bad release", RequestedBy: "dev",
	})

	msg, err := h.svc.HandleDecision(ctx, inbound.ApprovalDecision{AuditID: req.ID, Actor: "lead"})
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	if !strings.HasPrefix(msg, "Rejected:") {
		t.Errorf("unexpected reply %q", msg)
	}
	rejections := h.audits.byAction(model.ActionRollbackRejected)
	if len(rejections) != 1 || rejections[0].ContextString(model.ContextKeyReason) != "rejected by lead" {
		t.Errorf("expected default rejection reason, got %+v", rejections)
	}
	if _, ok := h.rollback.PendingRequest(model.EnvStaging); ok {
		t.Error("rejection should release the environment lock")
	}
}

func TestSecurity_StatusSummary(t *testing.T) {
	h := newHarness(t)
	seedAlert(t, h, model.SeverityCritical)

	msg, err := h.svc.StatusSummary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !containsAll(msg, "Monitoring stopped", "last check never", "Active alerts: 1 (1 critical)") {
		t.Errorf("unexpected summary %q", msg)
	}
}

func TestSecurity_AlertListFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedAlert(t, h, model.SeverityHigh)
	a := seedAlert(t, h, model.SeverityLow)
	_, _ = h.svc.UpdateAlertStatus(ctx, inbound.UpdateAlertStatusCommand{AlertID: a.ID, Status: "resolved", Actor: "x"})

	res, err := h.svc.GetAllSecurityAlerts(ctx, outbound.AlertFilter{ActiveOnly: true}, outbound.PageRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.TotalCount != 1 {
		t.Errorf("expected one active alert, got %d", res.TotalCount)
	}
}

func TestSecurity_MonitorStatus(t *testing.T) {
	h := newHarness(t)
	mon := service.NewMonitor(h.detector, time.Hour, h.metrics, discardLogger())
	svc := service.NewSecurityService(service.SecurityDeps{
		Repos:    service.Repositories{Alerts: h.alerts, Activity: h.activity},
		Audit:    h.audit,
		Registry: h.registry,
		Drift:    h.drift,
		Detector: h.detector,
		Monitor:  mon,
		Rollback: h.rollback,
		Pipeline: h.pipeline,
	})
	ctx := context.Background()
	if err := mon.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mon.Stop(ctx)

	st, err := svc.GetSecurityStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.IsMonitoring {
		t.Error("expected monitoring to be reported")
	}
	if err := svc.TriggerCheck(ctx); err != nil {
		t.Fatalf("trigger via monitor: %v", err)
	}
	if h.detector.LastCheck() == nil {
		t.Error("trigger should run a tick")
	}
}
