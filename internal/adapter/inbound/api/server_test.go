package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonny/sentinel/internal/adapter/inbound/api"
	"github.com/jonny/sentinel/internal/adapter/inbound/api/middleware"
	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// mockSecurity implements inbound.SecurityPort. Unset hooks return zero values.
type mockSecurity struct {
	listAlerts   func(outbound.AlertFilter, outbound.PageRequest) (outbound.PageResult[model.SecurityAlert], error)
	getAlert     func(id string) (model.SecurityAlert, error)
	updateStatus func(inbound.UpdateAlertStatusCommand) (model.SecurityAlert, error)
	approve      func(id, approver, notes string) (model.AuditLog, error)
	reject       func(id, reason, by string) (model.AuditLog, error)
	rollback     func(inbound.InitiateRollbackCommand) (model.AuditLog, error)
	access       func(inbound.HoneytokenAccess) (*model.SecurityAlert, error)

	recentLimit int
	allCalled   bool
	logins      []model.LoginEvent
	checks      int
}

func (m *mockSecurity) GetSecurityStatus(ctx context.Context) (inbound.SecurityStatus, error) {
	return inbound.SecurityStatus{ActiveAlerts: 3, IsMonitoring: true}, nil
}

func (m *mockSecurity) GetAllSecurityAlerts(ctx context.Context, f outbound.AlertFilter, p outbound.PageRequest) (outbound.PageResult[model.SecurityAlert], error) {
	if m.listAlerts != nil {
		return m.listAlerts(f, p)
	}
	return outbound.PageResult[model.SecurityAlert]{}, nil
}

func (m *mockSecurity) GetSecurityAlert(ctx context.Context, id string) (model.SecurityAlert, error) {
	if m.getAlert != nil {
		return m.getAlert(id)
	}
	return model.SecurityAlert{ID: id}, nil
}

func (m *mockSecurity) UpdateAlertStatus(ctx context.Context, cmd inbound.UpdateAlertStatusCommand) (model.SecurityAlert, error) {
	if m.updateStatus != nil {
		return m.updateStatus(cmd)
	}
	return model.SecurityAlert{ID: cmd.AlertID}, nil
}

func (m *mockSecurity) GetAuditLogs(ctx context.Context, f outbound.AuditFilter, p outbound.PageRequest) (outbound.PageResult[model.AuditLog], error) {
	return outbound.PageResult[model.AuditLog]{Page: p.Page, Size: 20}, nil
}

func (m *mockSecurity) GetAuditStatistics(ctx context.Context) (model.AuditStatistics, error) {
	return model.AuditStatistics{Total: 7}, nil
}

func (m *mockSecurity) ApproveAction(ctx context.Context, id, approver, notes string) (model.AuditLog, error) {
	if m.approve != nil {
		return m.approve(id, approver, notes)
	}
	return model.AuditLog{ID: id}, nil
}

func (m *mockSecurity) RejectAction(ctx context.Context, id, reason, by string) (model.AuditLog, error) {
	if m.reject != nil {
		return m.reject(id, reason, by)
	}
	return model.AuditLog{ID: id}, nil
}

func (m *mockSecurity) GetRollbackOptions(ctx context.Context, env string) ([]model.RollbackOption, error) {
	if env == "" {
		return nil, model.NewValidationError("environment", "required")
	}
	return nil, nil
}

func (m *mockSecurity) InitiateRollback(ctx context.Context, cmd inbound.InitiateRollbackCommand) (model.AuditLog, error) {
	if m.rollback != nil {
		return m.rollback(cmd)
	}
	return model.AuditLog{}, nil
}

func (m *mockSecurity) GetRecentDeployments(ctx context.Context, limit int) ([]model.Deployment, error) {
	m.recentLimit = limit
	return nil, nil
}

func (m *mockSecurity) GetAllDeployments(ctx context.Context) ([]model.Deployment, error) {
	m.allCalled = true
	return nil, nil
}

func (m *mockSecurity) StartDeployment(ctx context.Context, cmd inbound.StartDeploymentCommand) (model.Deployment, error) {
	return model.Deployment{Version: cmd.Version}, nil
}

func (m *mockSecurity) CompleteDeployment(ctx context.Context, cmd inbound.CompleteDeploymentCommand) (model.Deployment, error) {
	return model.Deployment{ID: cmd.DeploymentID}, nil
}

func (m *mockSecurity) VerifySnapshot(ctx context.Context, id, actor string) (model.Snapshot, error) {
	return model.Snapshot{ID: id}, nil
}

func (m *mockSecurity) DeployHoneytoken(ctx context.Context, cmd inbound.DeployHoneytokenCommand) (model.Honeytoken, error) {
	return model.Honeytoken{TableName: cmd.TableName}, nil
}

func (m *mockSecurity) ReportHoneytokenAccess(ctx context.Context, a inbound.HoneytokenAccess) (*model.SecurityAlert, error) {
	if m.access != nil {
		return m.access(a)
	}
	return nil, nil
}

func (m *mockSecurity) RegisterConfigFile(ctx context.Context, cmd inbound.RegisterConfigFileCommand) (model.ConfigMonitoring, error) {
	return model.ConfigMonitoring{FilePath: cmd.Path}, nil
}

func (m *mockSecurity) AcknowledgeConfigChange(ctx context.Context, id, actor string) (model.ConfigMonitoring, error) {
	return model.ConfigMonitoring{ID: id}, nil
}

func (m *mockSecurity) ListConfigFiles(ctx context.Context) ([]model.ConfigMonitoring, error) {
	return nil, nil
}

func (m *mockSecurity) RecordExport(ctx context.Context, e model.ExportEvent) error { return nil }

func (m *mockSecurity) RecordLogin(ctx context.Context, e model.LoginEvent) error {
	m.logins = append(m.logins, e)
	return nil
}

func (m *mockSecurity) RecordQuery(ctx context.Context, e model.QueryEvent) error { return nil }

func (m *mockSecurity) TriggerCheck(ctx context.Context) error {
	m.checks++
	return nil
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
		Field   string `json:"field"`
	} `json:"error"`
	Meta *struct {
		Total int64 `json:"total"`
		Page  int   `json:"page"`
		Size  int   `json:"size"`
	} `json:"meta"`
}

func newTestServer(t *testing.T, sec *mockSecurity, cfg api.ServerConfig) http.Handler {
	t.Helper()
	if cfg.Principals == nil {
		cfg.Principals = []middleware.Principal{
			{Token: "shared-token"},
			{Name: "alice", Token: "alice-token"},
		}
	}
	cfg.RequestsPerMinute = 6000
	return api.NewServer(cfg, sec, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes()
}

func do(t *testing.T, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp response
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, resp
}

func TestRoutes_RequireBearerToken(t *testing.T) {
	h := newTestServer(t, &mockSecurity{}, api.ServerConfig{})

	rec, _ := do(t, h, http.MethodGet, "/api/v1/status", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}

	rec, resp := do(t, h, http.MethodGet, "/api/v1/status", "shared-token", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("code = %d, resp = %+v", rec.Code, resp)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestListAlerts_ParsesFilterAndPage(t *testing.T) {
	var gotFilter outbound.AlertFilter
	var gotPage outbound.PageRequest
	sec := &mockSecurity{
		listAlerts: func(f outbound.AlertFilter, p outbound.PageRequest) (outbound.PageResult[model.SecurityAlert], error) {
			gotFilter, gotPage = f, p
			return outbound.PageResult[model.SecurityAlert]{
				Items:      []model.SecurityAlert{{ID: "a1"}},
				TotalCount: 41,
				Page:       p.Page,
				Size:       p.Size,
			}, nil
		},
	}
	h := newTestServer(t, sec, api.ServerConfig{})

	rec, resp := do(t, h, http.MethodGet,
		"/api/v1/alerts?severity=critical&type=config_drift&active=true&since=2026-01-01T00:00:00Z&page=2&size=5",
		"shared-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body %s", rec.Code, rec.Body.String())
	}
	if gotFilter.Severity != model.SeverityCritical || gotFilter.Type != model.AlertTypeConfigDrift || !gotFilter.ActiveOnly {
		t.Errorf("filter = %+v", gotFilter)
	}
	if gotFilter.Since == nil || !gotFilter.Since.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %v", gotFilter.Since)
	}
	if gotPage.Page != 2 || gotPage.Size != 5 {
		t.Errorf("page = %+v", gotPage)
	}
	if resp.Meta == nil || resp.Meta.Total != 41 || resp.Meta.Page != 2 {
		t.Errorf("meta = %+v", resp.Meta)
	}
}

func TestListAlerts_InvalidQuery(t *testing.T) {
	called := false
	sec := &mockSecurity{
		listAlerts: func(outbound.AlertFilter, outbound.PageRequest) (outbound.PageResult[model.SecurityAlert], error) {
			called = true
			return outbound.PageResult[model.SecurityAlert]{}, nil
		},
	}
	h := newTestServer(t, sec, api.ServerConfig{})

	tests := []struct {
		query string
		field string
	}{
		{"severity=urgent", "severity"},
		{"status=closed", "status"},
		{"since=yesterday", "since"},
		{"page=-1", "page"},
		{"size=1000", "size"},
		{"active=maybe", "active"},
	}
	for _, tt := range tests {
		rec, resp := do(t, h, http.MethodGet, "/api/v1/alerts?"+tt.query, "shared-token", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d, want 400", tt.query, rec.Code)
			continue
		}
		if resp.Error == nil || resp.Error.Field != tt.field {
			t.Errorf("%s: error = %+v, want field %s", tt.query, resp.Error, tt.field)
		}
	}
	if called {
		t.Error("service must not be called for invalid queries")
	}
}

func TestGetAlert_NotFound(t *testing.T) {
	sec := &mockSecurity{
		getAlert: func(id string) (model.SecurityAlert, error) {
			return model.SecurityAlert{}, model.NewNotFoundError("alert", id)
		},
	}
	h := newTestServer(t, sec, api.ServerConfig{})

	rec, resp := do(t, h, http.MethodGet, "/api/v1/alerts/missing", "shared-token", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
	if resp.Success || resp.Error == nil || resp.Error.Code != http.StatusNotFound {
		t.Errorf("resp = %+v", resp)
	}
}

func TestUpdateAlertStatus_InvalidTransition(t *testing.T) {
	var got inbound.UpdateAlertStatusCommand
	sec := &mockSecurity{
		updateStatus: func(cmd inbound.UpdateAlertStatusCommand) (model.SecurityAlert, error) {
			got = cmd
			return model.SecurityAlert{}, model.NewConflictError(model.ConflictInvalidTransition, "already resolved")
		},
	}
	h := newTestServer(t, sec, api.ServerConfig{})

	rec, resp := do(t, h, http.MethodPatch, "/api/v1/alerts/a1/status", "shared-token",
		`{"status":"investigating","actor":"bob"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("code = %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Reason != string(model.ConflictInvalidTransition) {
		t.Errorf("error = %+v", resp.Error)
	}
	if got.AlertID != "a1" || got.Actor != "bob" || got.Status != "investigating" {
		t.Errorf("cmd = %+v", got)
	}
}

func TestApprove_PrincipalOverridesBody(t *testing.T) {
	var gotApprover, gotNotes string
	sec := &mockSecurity{
		approve: func(id, approver, notes string) (model.AuditLog, error) {
			gotApprover, gotNotes = approver, notes
			return model.AuditLog{ID: id, Approved: true}, nil
		},
	}
	h := newTestServer(t, sec, api.ServerConfig{})

	rec, _ := do(t, h, http.MethodPost, "/api/v1/audit/r1/approve", "alice-token",
		`{"approver":"mallory","notes":"lgtm"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if gotApprover != "alice" || gotNotes != "lgtm" {
		t.Errorf("approver = %q notes = %q", gotApprover, gotNotes)
	}

	do(t, h, http.MethodPost, "/api/v1/audit/r1/approve", "shared-token", `{"approver":"bob"}`)
	if gotApprover != "bob" {
		t.Errorf("unnamed token should use body approver, got %q", gotApprover)
	}
}

func TestApprove_Conflict(t *testing.T) {
	sec := &mockSecurity{
		approve: func(id, approver, notes string) (model.AuditLog, error) {
			return model.AuditLog{}, model.NewConflictError(model.ConflictAlreadyApproved, "approved by alice")
		},
	}
	h := newTestServer(t, sec, api.ServerConfig{})

	rec, resp := do(t, h, http.MethodPost, "/api/v1/audit/r1/approve", "shared-token", `{"approver":"bob"}`)
	if rec.Code != http.StatusConflict || resp.Error.Reason != "already_approved" {
		t.Errorf("code = %d error = %+v", rec.Code, resp.Error)
	}
}

func TestReject_PassesReason(t *testing.T) {
	var gotReason, gotBy string
	sec := &mockSecurity{
		reject: func(id, reason, by string) (model.AuditLog, error) {
			gotReason, gotBy = reason, by
			return model.AuditLog{ID: id}, nil
		},
	}
	h := newTestServer(t, sec, api.ServerConfig{})

	rec, _ := do(t, h, http.MethodPost, "/api/v1/audit/r1/reject", "shared-token",
		`{"rejected_by":"carol","reason":"wrong snapshot"}`)
	if rec.Code != http.StatusOK || gotReason != "wrong snapshot" || gotBy != "carol" {
		t.Errorf("code = %d reason = %q by = %q", rec.Code, gotReason, gotBy)
	}
}

func TestInitiateRollback(t *testing.T) {
	var got inbound.InitiateRollbackCommand
	sec := &mockSecurity{
		rollback: func(cmd inbound.InitiateRollbackCommand) (model.AuditLog, error) {
			got = cmd
			return model.AuditLog{ID: "req-1", RequiresApproval: true}, nil
		},
	}
	h := newTestServer(t, sec, api.ServerConfig{})

	rec, resp := do(t, h, http.MethodPost, "/api/v1/rollback", "shared-token",
		`{"environment":"production","snapshot_id":"s1","reason":"breach","requested_by":"dave"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d body %s", rec.Code, rec.Body.String())
	}
	if got.Environment != "production" || got.SnapshotID != "s1" || got.RequestedBy != "dave" {
		t.Errorf("cmd = %+v", got)
	}
	var entry model.AuditLog
	if err := json.Unmarshal(resp.Data, &entry); err != nil || entry.ID != "req-1" {
		t.Errorf("entry = %+v err = %v", entry, err)
	}
}

func TestRollbackOptions_RequiresEnvironment(t *testing.T) {
	h := newTestServer(t, &mockSecurity{}, api.ServerConfig{})

	rec, _ := do(t, h, http.MethodGet, "/api/v1/rollback/options", "shared-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d", rec.Code)
	}
	rec, resp := do(t, h, http.MethodGet, "/api/v1/rollback/options?environment=staging", "shared-token", "")
	if rec.Code != http.StatusOK || string(resp.Data) != "[]" {
		t.Errorf("code = %d data = %s", rec.Code, resp.Data)
	}
}

func TestListDeployments_Limit(t *testing.T) {
	sec := &mockSecurity{}
	h := newTestServer(t, sec, api.ServerConfig{})

	do(t, h, http.MethodGet, "/api/v1/deployments", "shared-token", "")
	if sec.recentLimit != 10 {
		t.Errorf("default limit = %d", sec.recentLimit)
	}
	do(t, h, http.MethodGet, "/api/v1/deployments?limit=3", "shared-token", "")
	if sec.recentLimit != 3 {
		t.Errorf("limit = %d", sec.recentLimit)
	}
	do(t, h, http.MethodGet, "/api/v1/deployments?limit=all", "shared-token", "")
	if !sec.allCalled {
		t.Error("limit=all should list every deployment")
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	h := newTestServer(t, &mockSecurity{}, api.ServerConfig{})

	rec, resp := do(t, h, http.MethodPost, "/api/v1/deployments", "shared-token", `{"versoin":"1.0"}`)
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Field != "body" {
		t.Errorf("code = %d error = %+v", rec.Code, resp.Error)
	}
}

func TestHoneytokenAccess(t *testing.T) {
	var got inbound.HoneytokenAccess
	sec := &mockSecurity{
		access: func(a inbound.HoneytokenAccess) (*model.SecurityAlert, error) {
			got = a
			if a.TokenValue == "canary" {
				return &model.SecurityAlert{ID: "alert-1", Severity: model.SeverityCritical}, nil
			}
			return nil, nil
		},
	}
	h := newTestServer(t, sec, api.ServerConfig{})

	rec, _ := do(t, h, http.MethodPost, "/api/v1/honeytokens/access", "shared-token", `{"token_value":"nothing"}`)
	if rec.Code != http.StatusNoContent {
		t.Errorf("unknown token: code = %d", rec.Code)
	}
	if got.SourceIP != "192.0.2.1" {
		t.Errorf("source ip defaults to remote address, got %q", got.SourceIP)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/v1/honeytokens/access", "shared-token", `{"token_value":"canary","source_ip":"10.1.1.1"}`)
	if rec.Code != http.StatusCreated || got.SourceIP != "10.1.1.1" {
		t.Errorf("code = %d ip = %q", rec.Code, got.SourceIP)
	}
}

func TestIngest_HMACSignedWhenSecretSet(t *testing.T) {
	sec := &mockSecurity{}
	h := newTestServer(t, sec, api.ServerConfig{IngestSecret: "ingest-secret"})
	body := `{"user_id":"u1","source_ip":"10.0.0.5","success":false}`

	rec, _ := do(t, h, http.MethodPost, "/api/v1/activity/logins", "shared-token", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bearer token alone: code = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/activity/logins", strings.NewReader(body))
	req.Header.Set("X-Sentinel-Signature", middleware.Sign("ingest-secret", []byte(body)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("signed: code = %d body %s", w.Code, w.Body.String())
	}
	if len(sec.logins) != 1 || sec.logins[0].UserID != "u1" || sec.logins[0].ID == "" {
		t.Errorf("logins = %+v", sec.logins)
	}
}

func TestTriggerCheckAndStatistics(t *testing.T) {
	sec := &mockSecurity{}
	h := newTestServer(t, sec, api.ServerConfig{})

	rec, _ := do(t, h, http.MethodPost, "/api/v1/checks", "shared-token", "")
	if rec.Code != http.StatusOK || sec.checks != 1 {
		t.Errorf("code = %d checks = %d", rec.Code, sec.checks)
	}

	rec, resp := do(t, h, http.MethodGet, "/api/v1/audit/statistics", "shared-token", "")
	var stats model.AuditStatistics
	if err := json.Unmarshal(resp.Data, &stats); err != nil || rec.Code != http.StatusOK || stats.Total != 7 {
		t.Errorf("code = %d stats = %+v err = %v", rec.Code, stats, err)
	}

	rec, _ = do(t, h, http.MethodGet, "/api/v1/audit?category=bogus", "shared-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad category: code = %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newTestServer(t, &mockSecurity{}, api.ServerConfig{})
	rec, resp := do(t, h, http.MethodGet, "/nope", "", "")
	if rec.Code != http.StatusNotFound || resp.Error == nil {
		t.Errorf("code = %d resp = %+v", rec.Code, resp)
	}
}
