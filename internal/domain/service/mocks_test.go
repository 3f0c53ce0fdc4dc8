package service_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// --- in-memory repositories ---

type memAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]model.SecurityAlert
	err    error
}

func newMemAlertRepo() *memAlertRepo {
	return &memAlertRepo{alerts: make(map[string]model.SecurityAlert)}
}

func (r *memAlertRepo) Create(_ context.Context, a model.SecurityAlert) (model.SecurityAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return model.SecurityAlert{}, r.err
	}
	r.alerts[a.ID] = a
	return a, nil
}

func (r *memAlertRepo) GetByID(_ context.Context, id string) (model.SecurityAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return model.SecurityAlert{}, model.NewNotFoundError("security alert", id)
	}
	return a, nil
}

func (r *memAlertRepo) Update(_ context.Context, a model.SecurityAlert) (model.SecurityAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[a.ID]; !ok {
		return model.SecurityAlert{}, model.NewNotFoundError("security alert", a.ID)
	}
	r.alerts[a.ID] = a
	return a, nil
}

func (r *memAlertRepo) all() []model.SecurityAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SecurityAlert, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *memAlertRepo) List(_ context.Context, f outbound.AlertFilter, _ outbound.PageRequest) (outbound.PageResult[model.SecurityAlert], error) {
	var items []model.SecurityAlert
	for _, a := range r.all() {
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.ActiveOnly && !a.IsActive() {
			continue
		}
		items = append(items, a)
	}
	return outbound.PageResult[model.SecurityAlert]{Items: items, TotalCount: int64(len(items))}, nil
}

func (r *memAlertRepo) FindByDebounceKey(_ context.Context, key string, since time.Time) (*model.SecurityAlert, error) {
	for _, a := range r.all() {
		if a.TriggerData["debounceKey"] == key && !a.DetectedAt.Before(since) {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *memAlertRepo) CountActive(_ context.Context) (int64, int64, error) {
	var active, critical int64
	for _, a := range r.all() {
		if a.IsActive() {
			active++
			if a.Severity == model.SeverityCritical {
				critical++
			}
		}
	}
	return active, critical, nil
}

var _ outbound.AlertRepository = (*memAlertRepo)(nil)

type memAuditRepo struct {
	mu        sync.Mutex
	entries   []model.AuditLog
	createErr error
}

func (r *memAuditRepo) Create(ctx context.Context, e model.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *memAuditRepo) GetByID(_ context.Context, id string) (model.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return model.AuditLog{}, model.NewNotFoundError("audit log", id)
}

func (r *memAuditRepo) Approve(_ context.Context, id, approver, notes string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.ID != id {
			continue
		}
		if !e.RequiresApproval || e.Approved {
			return false, nil
		}
		e.Approved = true
		e.ApprovedBy = &approver
		e.ApprovedAt = &at
		if notes != "" {
			e.ApprovalNotes = &notes
		}
		r.entries[i] = e
		return true, nil
	}
	return false, nil
}

func (r *memAuditRepo) referenced(id string) bool {
	for _, e := range r.entries {
		if e.ReferenceID != nil && *e.ReferenceID == id {
			return true
		}
	}
	return false
}

func (r *memAuditRepo) List(_ context.Context, f outbound.AuditFilter, _ outbound.PageRequest) (outbound.PageResult[model.AuditLog], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []model.AuditLog
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if f.ActionType != "" && e.ActionType != f.ActionType {
			continue
		}
		if f.ReferenceID != "" && (e.ReferenceID == nil || *e.ReferenceID != f.ReferenceID) {
			continue
		}
		switch f.Category {
		case model.AuditCategoryAI:
			if e.AIReasoning == nil {
				continue
			}
		case model.AuditCategoryPending:
			if !e.Pending() || r.referenced(e.ID) {
				continue
			}
		case model.AuditCategoryApproved:
			if !e.Approved {
				continue
			}
		case model.AuditCategoryCritical:
			if e.ContextString(model.ContextKeySeverity) != "critical" {
				continue
			}
		}
		items = append(items, e)
	}
	return outbound.PageResult[model.AuditLog]{Items: items, TotalCount: int64(len(items))}, nil
}

func (r *memAuditRepo) ListPending(_ context.Context, actionType string) ([]model.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditLog
	for _, e := range r.entries {
		if e.ActionType == actionType && e.Pending() && !r.referenced(e.ID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memAuditRepo) Statistics(_ context.Context) (model.AuditStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := model.AuditStatistics{ByActionType: map[string]int64{}}
	for _, e := range r.entries {
		stats.Total++
		stats.ByActionType[e.ActionType]++
	}
	return stats, nil
}

func (r *memAuditRepo) byAction(actionType string) []model.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditLog
	for _, e := range r.entries {
		if e.ActionType == actionType {
			out = append(out, e)
		}
	}
	return out
}

var _ outbound.AuditRepository = (*memAuditRepo)(nil)

type memDeploymentRepo struct {
	mu   sync.Mutex
	rows []model.Deployment
}

func (r *memDeploymentRepo) Create(ctx context.Context, d model.Deployment) (model.Deployment, error) {
	if err := ctx.Err(); err != nil {
		return model.Deployment{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, d)
	return d, nil
}

func (r *memDeploymentRepo) GetByID(_ context.Context, id string) (model.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.rows {
		if d.ID == id {
			return d, nil
		}
	}
	return model.Deployment{}, model.NewNotFoundError("deployment", id)
}

func (r *memDeploymentRepo) Complete(_ context.Context, d model.Deployment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, row := range r.rows {
		if row.ID == d.ID && row.Status == model.DeploymentInProgress {
			r.rows[i] = d
			return true, nil
		}
	}
	return false, nil
}

func (r *memDeploymentRepo) ListRecent(_ context.Context, limit int) ([]model.Deployment, error) {
	all, _ := r.ListAll(context.Background())
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memDeploymentRepo) ListAll(_ context.Context) ([]model.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Deployment, 0, len(r.rows))
	for i := len(r.rows) - 1; i >= 0; i-- {
		out = append(out, r.rows[i])
	}
	return out, nil
}

func (r *memDeploymentRepo) ListBySnapshot(_ context.Context, snapshotID string) ([]model.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Deployment
	for _, d := range r.rows {
		if d.SnapshotID != nil && *d.SnapshotID == snapshotID {
			out = append(out, d)
		}
	}
	return out, nil
}

var _ outbound.DeploymentRepository = (*memDeploymentRepo)(nil)

type memSnapshotRepo struct {
	mu   sync.Mutex
	rows map[string]model.Snapshot
}

func newMemSnapshotRepo(snaps ...model.Snapshot) *memSnapshotRepo {
	r := &memSnapshotRepo{rows: make(map[string]model.Snapshot)}
	for _, s := range snaps {
		r.rows[s.ID] = s
	}
	return r
}

func (r *memSnapshotRepo) Create(_ context.Context, s model.Snapshot) (model.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ID] = s
	return s, nil
}

func (r *memSnapshotRepo) GetByID(_ context.Context, id string) (model.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return model.Snapshot{}, model.NewNotFoundError("snapshot", id)
	}
	return s, nil
}

func (r *memSnapshotRepo) ListByEnvironment(_ context.Context, env model.Environment) ([]model.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Snapshot
	for _, s := range r.rows {
		if s.Environment == env {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memSnapshotRepo) MarkVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return model.NewNotFoundError("snapshot", id)
	}
	s.Verified = true
	r.rows[id] = s
	return nil
}

var _ outbound.SnapshotRepository = (*memSnapshotRepo)(nil)

type memHoneytokenRepo struct {
	mu     sync.Mutex
	tokens map[string]model.Honeytoken
	// failAccessOn makes the nth RecordAccess call (1-based) fail once.
	failAccessOn int
	accessCalls  int
}

func newMemHoneytokenRepo() *memHoneytokenRepo {
	return &memHoneytokenRepo{tokens: make(map[string]model.Honeytoken)}
}

func (r *memHoneytokenRepo) Create(_ context.Context, h model.Honeytoken) (model.Honeytoken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[h.ID] = h
	return h, nil
}

func (r *memHoneytokenRepo) List(_ context.Context) ([]model.Honeytoken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Honeytoken, 0, len(r.tokens))
	for _, h := range r.tokens {
		out = append(out, h)
	}
	return out, nil
}

func (r *memHoneytokenRepo) FindByMatchKey(_ context.Context, key string) (*model.Honeytoken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.tokens {
		if h.MatchKey() == key {
			return &h, nil
		}
	}
	return nil, nil
}

func (r *memHoneytokenRepo) RecordAccess(_ context.Context, id string, at time.Time) (model.Honeytoken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessCalls++
	if r.accessCalls == r.failAccessOn {
		return model.Honeytoken{}, errStoreDown
	}
	h, ok := r.tokens[id]
	if !ok {
		return model.Honeytoken{}, model.NewNotFoundError("honeytoken", id)
	}
	h.AccessCount++
	h.AccessedAt = &at
	r.tokens[id] = h
	return h, nil
}

func (r *memHoneytokenRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.tokens)), nil
}

var _ outbound.HoneytokenRepository = (*memHoneytokenRepo)(nil)

type memConfigRepo struct {
	mu   sync.Mutex
	rows map[string]model.ConfigMonitoring
}

func newMemConfigRepo() *memConfigRepo {
	return &memConfigRepo{rows: make(map[string]model.ConfigMonitoring)}
}

func (r *memConfigRepo) Create(_ context.Context, c model.ConfigMonitoring) (model.ConfigMonitoring, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[c.ID] = c
	return c, nil
}

func (r *memConfigRepo) GetByID(_ context.Context, id string) (model.ConfigMonitoring, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return model.ConfigMonitoring{}, model.NewNotFoundError("config monitor", id)
	}
	return c, nil
}

func (r *memConfigRepo) GetByPath(_ context.Context, path string) (*model.ConfigMonitoring, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.rows {
		if c.FilePath == path {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memConfigRepo) List(_ context.Context) ([]model.ConfigMonitoring, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ConfigMonitoring, 0, len(r.rows))
	for _, c := range r.rows {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

func (r *memConfigRepo) MarkChangeDetected(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok || c.ChangeDetectedAt != nil {
		return false, nil
	}
	c.ChangeDetectedAt = &at
	r.rows[id] = c
	return true, nil
}

func (r *memConfigRepo) Acknowledge(_ context.Context, c model.ConfigMonitoring) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[c.ID] = c
	return nil
}

func (r *memConfigRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows)), nil
}

var _ outbound.ConfigMonitorRepository = (*memConfigRepo)(nil)

type memActivityRepo struct {
	mu       sync.Mutex
	exports  []model.ExportEvent
	logins   []model.LoginEvent
	queries  []model.QueryEvent
	loginErr error
}

func (r *memActivityRepo) RecordExport(_ context.Context, e model.ExportEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exports = append(r.exports, e)
	return nil
}

func (r *memActivityRepo) RecordLogin(_ context.Context, e model.LoginEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loginErr != nil {
		return r.loginErr
	}
	r.logins = append(r.logins, e)
	return nil
}

func (r *memActivityRepo) RecordQuery(_ context.Context, e model.QueryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, e)
	return nil
}

func inRange(t, since, until time.Time) bool {
	return !t.Before(since) && t.Before(until)
}

func (r *memActivityRepo) ListExports(_ context.Context, since, until time.Time) ([]model.ExportEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ExportEvent
	for _, e := range r.exports {
		if inRange(e.OccurredAt, since, until) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memActivityRepo) ListLogins(_ context.Context, since, until time.Time) ([]model.LoginEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loginErr != nil {
		return nil, r.loginErr
	}
	var out []model.LoginEvent
	for _, e := range r.logins {
		if inRange(e.OccurredAt, since, until) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memActivityRepo) ListQueries(_ context.Context, since, until time.Time) ([]model.QueryEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.QueryEvent
	for _, e := range r.queries {
		if inRange(e.OccurredAt, since, until) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

var _ outbound.ActivityRepository = (*memActivityRepo)(nil)

type memCursorRepo struct {
	mu      sync.Mutex
	cursors map[string]model.ScanCursor
	saveErr error
	saves   int
}

func newMemCursorRepo() *memCursorRepo {
	return &memCursorRepo{cursors: make(map[string]model.ScanCursor)}
}

func (r *memCursorRepo) GetCursor(_ context.Context, name string) (model.ScanCursor, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[name]
	return c, ok, nil
}

func (r *memCursorRepo) SaveCursor(_ context.Context, name string, c model.ScanCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.cursors[name] = c
	return nil
}

// --- collaborators ---

type mockExplainer struct {
	resp  outbound.Explanation
	err   error
	delay time.Duration
	calls int
}

func (m *mockExplainer) Explain(ctx context.Context, _ outbound.ExplanationRequest) (outbound.Explanation, error) {
	m.calls++
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return outbound.Explanation{}, ctx.Err()
		}
	}
	return m.resp, m.err
}

func (m *mockExplainer) HealthCheck(_ context.Context) error { return nil }

var _ outbound.Explainer = (*mockExplainer)(nil)

type mockRestorer struct {
	mu     sync.Mutex
	result outbound.RestoreResult
	err    error
	delay  time.Duration
	calls  []outbound.RestoreRequest
}

func (m *mockRestorer) Restore(ctx context.Context, req outbound.RestoreRequest) (outbound.RestoreResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return outbound.RestoreResult{}, ctx.Err()
		}
	}
	return m.result, m.err
}

func (m *mockRestorer) HealthCheck(_ context.Context) error { return nil }

func (m *mockRestorer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ outbound.SnapshotRestorer = (*mockRestorer)(nil)

type mockNotifier struct {
	mu        sync.Mutex
	alerts    []outbound.AlertNotification
	approvals []outbound.ApprovalNotification
	rollbacks []outbound.RollbackNotification
	err       error
}

func (m *mockNotifier) NotifyAlert(_ context.Context, n outbound.AlertNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, n)
	return m.err
}

func (m *mockNotifier) RequestApproval(_ context.Context, n outbound.ApprovalNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals = append(m.approvals, n)
	return m.err
}

func (m *mockNotifier) NotifyRollback(_ context.Context, n outbound.RollbackNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks = append(m.rollbacks, n)
	return m.err
}

var _ outbound.Notifier = (*mockNotifier)(nil)

type fakeHasher struct {
	mu     sync.Mutex
	states map[string]model.FileState
	errs   map[string]error
}

func newFakeHasher() *fakeHasher {
	return &fakeHasher{states: map[string]model.FileState{}, errs: map[string]error{}}
}

func (h *fakeHasher) set(path, hash string, mode uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[path] = model.FileState{Exists: true, Hash: hash, Mode: mode}
}

func (h *fakeHasher) remove(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.states, path)
}

func (h *fakeHasher) Stat(_ context.Context, path string) (model.FileState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.errs[path]; err != nil {
		return model.FileState{}, err
	}
	return h.states[path], nil
}

var _ outbound.FileHasher = (*fakeHasher)(nil)

type countingMetrics struct {
	mu        sync.Mutex
	alerts    map[string]int
	failed    map[string]int
	skipped   int
	rollbacks map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{alerts: map[string]int{}, failed: map[string]int{}, rollbacks: map[string]int{}}
}

func (m *countingMetrics) AlertRaised(t, s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[t+"/"+s]++
}

func (m *countingMetrics) RuleFailed(rule string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[rule]++
}

func (m *countingMetrics) TickSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

func (m *countingMetrics) TickDuration(time.Duration) {}

func (m *countingMetrics) RollbackFinished(env, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks[env+"/"+outcome]++
}

var _ outbound.MetricsRecorder = (*countingMetrics)(nil)

var errStoreDown = errors.New("database is locked")

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
