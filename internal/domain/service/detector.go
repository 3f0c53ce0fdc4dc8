package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// Rule names, also used as metric labels.
const (
	RuleHoneytoken = "honeytoken_access"
	RuleExport     = "export_volume"
	RuleConfig     = "config_drift"
	RuleLogin      = "login_anomaly"
)

type ExportRuleConfig struct {
	MediumMultiplier float64
	HighMultiplier   float64
	AbsoluteFloor    int64
	MinRows          int64
	Debounce         time.Duration
}

type LoginRuleConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	Debounce         time.Duration
}

// DetectorConfig holds rule thresholds. A zero debounce takes the default; a
// negative one disables debouncing for that rule.
type DetectorConfig struct {
	Export         ExportRuleConfig
	Login          LoginRuleConfig
	ConfigDebounce time.Duration
	// QueryLookback bounds the first honeytoken scan after start.
	QueryLookback time.Duration
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	if c.Export.MediumMultiplier <= 0 {
		c.Export.MediumMultiplier = 1.5
	}
	if c.Export.HighMultiplier <= 0 {
		c.Export.HighMultiplier = 3.0
	}
	if c.Export.AbsoluteFloor <= 0 {
		c.Export.AbsoluteFloor = 100000
	}
	if c.Export.MinRows < 0 {
		c.Export.MinRows = 0
	}
	if c.Login.FailureThreshold <= 0 {
		c.Login.FailureThreshold = 5
	}
	if c.Login.FailureWindow <= 0 {
		c.Login.FailureWindow = 5 * time.Minute
	}
	if c.QueryLookback <= 0 {
		c.QueryLookback = 5 * time.Minute
	}
	if c.Export.Debounce == 0 {
		c.Export.Debounce = 15 * time.Minute
	}
	if c.Login.Debounce == 0 {
		c.Login.Debounce = 15 * time.Minute
	}
	if c.ConfigDebounce == 0 {
		c.ConfigDebounce = time.Hour
	}
	return c
}

// TickResult summarises one detection pass.
type TickResult struct {
	Skipped     bool
	Alerts      []model.SecurityAlert
	Debounced   int
	FailedRules []string
}

type rule struct {
	name string
	run  func(ctx context.Context, now time.Time) ([]Detection, error)
}

// AnomalyDetector runs the detection rules. Tick is single-flight: a call made
// while another is running returns Skipped.
type AnomalyDetector struct {
	registry   *HoneytokenRegistry
	baselines  *BaselineTracker
	drift      *DriftWatcher
	classifier *Classifier
	alerts     outbound.AlertRepository
	activity   outbound.ActivityRepository
	audit      *AuditService
	metrics    outbound.MetricsRecorder
	cfg        DetectorConfig
	logger     *slog.Logger
	now        func() time.Time

	inFlight *semaphore.Weighted
	rules    []rule

	cursors outbound.CursorRepository

	mu          sync.Mutex
	queryCursor model.ScanCursor
	lastCheck   *time.Time
}

type DetectorDeps struct {
	Registry   *HoneytokenRegistry
	Baselines  *BaselineTracker
	Drift      *DriftWatcher
	Classifier *Classifier
	Alerts     outbound.AlertRepository
	Activity   outbound.ActivityRepository
	Audit      *AuditService
	Metrics    outbound.MetricsRecorder
	Logger     *slog.Logger
	// Cursors persists the honeytoken scan position. Nil keeps it in memory.
	Cursors outbound.CursorRepository
}

func NewAnomalyDetector(d DetectorDeps, cfg DetectorConfig) *AnomalyDetector {
	if d.Metrics == nil {
		d.Metrics = outbound.NopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	det := &AnomalyDetector{
		registry:   d.Registry,
		baselines:  d.Baselines,
		drift:      d.Drift,
		classifier: d.Classifier,
		alerts:     d.Alerts,
		activity:   d.Activity,
		audit:      d.Audit,
		metrics:    d.Metrics,
		cursors:    d.Cursors,
		cfg:        cfg.withDefaults(),
		logger:     d.Logger,
		now:        model.Now,
		inFlight:   semaphore.NewWeighted(1),
	}
	det.rules = []rule{
		{name: RuleHoneytoken, run: det.detectHoneytokenQueries},
		{name: RuleExport, run: det.detectExportAnomaly},
		{name: RuleConfig, run: det.detectConfigDrift},
		{name: RuleLogin, run: det.detectLoginAnomaly},
	}
	return det
}

// LastCheck returns when the last tick finished, or nil.
func (d *AnomalyDetector) LastCheck() *time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastCheck == nil {
		return nil
	}
	t := *d.lastCheck
	return &t
}

// Tick runs every rule once. A failing rule is recorded and the others still
// run; detections it produced before failing are still raised. The returned
// error is non-nil only when a result could not be persisted.
func (d *AnomalyDetector) Tick(ctx context.Context) (TickResult, error) {
	if !d.inFlight.TryAcquire(1) {
		d.metrics.TickSkipped()
		d.logger.Debug("detection tick skipped, previous tick still running")
		return TickResult{Skipped: true}, nil
	}
	defer d.inFlight.Release(1)

	start := time.Now()
	now := d.now()
	var res TickResult
	var errs []error
	for _, r := range d.rules {
		dets, err := d.runRule(ctx, r, now)
		if err != nil {
			res.FailedRules = append(res.FailedRules, r.name)
			if aerr := d.recordRuleFailure(ctx, r.name, err); aerr != nil {
				errs = append(errs, aerr)
			}
		}
		for _, det := range dets {
			alert, debounced, err := d.raise(ctx, det, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
				continue
			}
			if debounced {
				res.Debounced++
				continue
			}
			res.Alerts = append(res.Alerts, alert)
		}
	}

	finished := d.now()
	d.mu.Lock()
	d.lastCheck = &finished
	d.mu.Unlock()
	d.metrics.TickDuration(time.Since(start))
	d.logger.Debug("detection tick finished",
		"alerts", len(res.Alerts),
		"debounced", res.Debounced,
		"failed_rules", res.FailedRules,
		"duration", time.Since(start),
	)
	return res, errors.Join(errs...)
}

func (d *AnomalyDetector) runRule(ctx context.Context, r rule, now time.Time) (dets []Detection, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return r.run(ctx, now)
}

func (d *AnomalyDetector) recordRuleFailure(ctx context.Context, name string, cause error) error {
	d.metrics.RuleFailed(name)
	d.logger.Error("detection rule failed", "rule", name, "error", cause)
	msg := cause.Error()
	if i := strings.IndexByte(msg, '\n'); i > 0 {
		msg = msg[:i]
	}
	_, err := d.audit.Record(ctx, model.NewAuditLog(model.ActionDetectionRuleFailed,
		fmt.Sprintf("Detection rule %s failed: %s", name, msg), "").
		WithContext("rule", name).
		WithContext("error", msg))
	return err
}

// raise applies the debounce window and then classifies. Honeytoken breaches
// carry no debounce key and always produce a new alert.
func (d *AnomalyDetector) raise(ctx context.Context, det Detection, now time.Time) (model.SecurityAlert, bool, error) {
	if window := d.debounceWindow(det.Type); det.DebounceKey != "" && window > 0 {
		existing, err := d.alerts.FindByDebounceKey(ctx, det.DebounceKey, now.Add(-window))
		if err != nil {
			return model.SecurityAlert{}, false, persistErr("find debounced alert", err)
		}
		if existing != nil {
			updated, err := d.classifier.Refresh(ctx, *existing, det)
			return updated, true, err
		}
	}
	alert, err := d.classifier.Classify(ctx, det)
	return alert, false, err
}

func (d *AnomalyDetector) debounceWindow(t model.AlertType) time.Duration {
	switch t {
	case model.AlertTypeExportAnomaly:
		return d.cfg.Export.Debounce
	case model.AlertTypeLoginAnomaly:
		return d.cfg.Login.Debounce
	case model.AlertTypeConfigDrift:
		return d.cfg.ConfigDebounce
	}
	return 0
}

// ReportHoneytokenAccess is the explicit query-interception trigger. It returns
// nil when value is not a registered honeytoken.
func (d *AnomalyDetector) ReportHoneytokenAccess(ctx context.Context, access inbound.HoneytokenAccess) (*model.SecurityAlert, error) {
	if err := validateCommand(access); err != nil {
		return nil, err
	}
	token, err := d.registry.Lookup(ctx, access.TokenValue)
	if err != nil || token == nil {
		return nil, err
	}
	det, err := d.honeytokenHit(ctx, *token, access.QueryText, access.SourceIP, access.UserID, "report")
	if err != nil {
		return nil, err
	}
	alert, err := d.classifier.Classify(ctx, det)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (d *AnomalyDetector) honeytokenHit(ctx context.Context, token model.Honeytoken, queryText, sourceIP, userID, via string) (Detection, error) {
	updated, err := d.registry.RecordAccess(ctx, token.ID)
	if err != nil {
		return Detection{}, err
	}
	return Detection{
		Rule:     RuleHoneytoken,
		Type:     model.AlertTypeHoneytokenBreach,
		Severity: model.SeverityCritical,
		Title:    fmt.Sprintf("Honeytoken accessed in %s.%s", token.TableName, token.ColumnName),
		Description: fmt.Sprintf("A decoy %s value seeded in %s.%s was read. Decoys are never used by the application, so this access is unauthorized.",
			token.TokenType, token.TableName, token.ColumnName),
		Trigger: map[string]any{
			"honeytokenId": token.ID,
			"via":          via,
		},
		Evidence: map[string]any{
			"query":       queryText,
			"sourceIp":    sourceIP,
			"userId":      userID,
			"table":       token.TableName,
			"column":      token.ColumnName,
			"tokenType":   string(token.TokenType),
			"accessCount": updated.AccessCount,
		},
	}, nil
}

// queryCursorName keys the honeytoken scan position in the cursor store.
const queryCursorName = "honeytoken_queries"

// detectHoneytokenQueries scans query events after the saved cursor. Each
// recorded access moves the cursor forward before the next one is attempted,
// so a failure part way through neither loses nor double counts an access.
// Detections built before a failure are returned with the error.
func (d *AnomalyDetector) detectHoneytokenQueries(ctx context.Context, now time.Time) ([]Detection, error) {
	cur, err := d.loadQueryCursor(ctx)
	if err != nil {
		return nil, err
	}
	since := cur.At
	if cur.QueryID == "" {
		since = now.Add(-d.cfg.QueryLookback)
	}
	queries, err := d.activity.ListQueries(ctx, since, now)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}

	var dets []Detection
	var last *model.QueryEvent
	for i := range queries {
		q := queries[i]
		if cur.Covers(q) {
			continue
		}
		hits, err := d.registry.MatchText(ctx, q.QueryText)
		if err != nil {
			return dets, err
		}
		sort.Slice(hits, func(a, b int) bool { return hits[a].ID < hits[b].ID })
		for _, h := range hits {
			if cur.Resumes(q) && h.ID <= cur.TokenID {
				continue
			}
			det, err := d.honeytokenHit(ctx, h, q.QueryText, q.SourceIP, q.UserID, "query_log")
			if err != nil {
				return dets, err
			}
			det.Evidence["queryId"] = q.ID
			det.Evidence["queriedAt"] = q.OccurredAt.Format(time.RFC3339Nano)
			dets = append(dets, det)
			if err := d.saveQueryCursor(ctx, model.ScanCursor{At: q.OccurredAt, QueryID: q.ID, TokenID: h.ID}); err != nil {
				return dets, err
			}
		}
		last = &queries[i]
	}
	if last != nil {
		if err := d.saveQueryCursor(ctx, model.ScanCursor{At: last.OccurredAt, QueryID: last.ID}); err != nil {
			return dets, err
		}
	}
	return dets, nil
}

// loadQueryCursor prefers the in-memory position and falls back to the store
// on the first scan after start.
func (d *AnomalyDetector) loadQueryCursor(ctx context.Context) (model.ScanCursor, error) {
	d.mu.Lock()
	cur := d.queryCursor
	d.mu.Unlock()
	if cur.QueryID != "" || d.cursors == nil {
		return cur, nil
	}
	stored, ok, err := d.cursors.GetCursor(ctx, queryCursorName)
	if err != nil {
		return model.ScanCursor{}, persistErr("load query cursor", err)
	}
	if !ok {
		return model.ScanCursor{}, nil
	}
	d.mu.Lock()
	d.queryCursor = stored
	d.mu.Unlock()
	return stored, nil
}

// saveQueryCursor moves the in-memory position even when the store write
// fails, so this process never rescans what it already counted.
func (d *AnomalyDetector) saveQueryCursor(ctx context.Context, c model.ScanCursor) error {
	d.mu.Lock()
	d.queryCursor = c
	d.mu.Unlock()
	if d.cursors == nil {
		return nil
	}
	return persistErr("save query cursor", d.cursors.SaveCursor(ctx, queryCursorName, c))
}

func (d *AnomalyDetector) detectExportAnomaly(ctx context.Context, now time.Time) ([]Detection, error) {
	cfg := d.cfg.Export
	current, err := d.baselines.CurrentExports(ctx, now)
	if err != nil {
		return nil, err
	}
	if current.Rows < cfg.MinRows || current.Rows == 0 {
		return nil, nil
	}
	rows, bytes, err := d.baselines.ExportBaseline(ctx, now)
	if err != nil {
		return nil, err
	}

	var sev model.Severity
	ratio := 0.0
	if rows.HasData() {
		ratio = float64(current.Rows) / rows.Mean
		switch {
		case ratio > cfg.HighMultiplier:
			sev = model.SeverityHigh
		case ratio > cfg.MediumMultiplier:
			sev = model.SeverityMedium
		}
	}
	if current.Rows >= cfg.AbsoluteFloor {
		if sev == "" {
			sev = model.SeverityHigh
		}
		sev = sev.AtLeast(model.SeverityHigh)
	}
	if sev == "" {
		return nil, nil
	}

	desc := fmt.Sprintf("%s rows (%s) exported in the last %s",
		humanize.Comma(current.Rows), humanize.Bytes(uint64(max(current.Bytes, 0))), d.baselines.Window())
	if rows.HasData() {
		desc += fmt.Sprintf(", %.1fx the baseline of %.0f rows per window", ratio, rows.Mean)
	} else {
		desc += fmt.Sprintf(", above the absolute floor of %s rows", humanize.Comma(cfg.AbsoluteFloor))
	}
	return []Detection{{
		Rule:        RuleExport,
		Type:        model.AlertTypeExportAnomaly,
		Severity:    sev,
		Title:       "Unusual data export volume",
		Description: desc,
		Trigger: map[string]any{
			"windowStart": current.Start.Format(time.RFC3339),
		},
		Evidence: map[string]any{
			"currentRows":    current.Rows,
			"currentBytes":   current.Bytes,
			"baselineRows":   rows.Mean,
			"baselineStdDev": rows.StdDev,
			"baselineBytes":  bytes.Mean,
			"ratio":          ratio,
			"topUsers":       topUsers(current.Users, 5),
		},
		DebounceKey: "export_anomaly:" + string(sev),
	}}, nil
}

func topUsers(rowsByUser map[string]int64, n int) []string {
	users := make([]string, 0, len(rowsByUser))
	for u := range rowsByUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if rowsByUser[users[i]] != rowsByUser[users[j]] {
			return rowsByUser[users[i]] > rowsByUser[users[j]]
		}
		return users[i] < users[j]
	})
	if len(users) > n {
		users = users[:n]
	}
	return users
}

func (d *AnomalyDetector) detectConfigDrift(ctx context.Context, now time.Time) ([]Detection, error) {
	drifts, err := d.drift.Check(ctx)
	if len(drifts) == 0 {
		return nil, err
	}
	if err != nil {
		d.logger.Warn("some config files could not be checked", "error", err)
	}

	sort.Slice(drifts, func(i, j int) bool { return drifts[i].Monitor.FilePath < drifts[j].Monitor.FilePath })
	sev := model.SeverityLow
	files := make([]map[string]any, 0, len(drifts))
	keys := make([]string, 0, len(drifts))
	paths := make([]string, 0, len(drifts))
	for _, dr := range drifts {
		sev = sev.AtLeast(dr.Monitor.DriftSeverity(dr.Kind))
		files = append(files, map[string]any{
			"configId":     dr.Monitor.ID,
			"path":         dr.Monitor.FilePath,
			"changeKind":   string(dr.Kind),
			"expectedHash": dr.Monitor.FileHash,
			"actualHash":   dr.State.Hash,
			"expectedMode": fmt.Sprintf("%o", dr.Monitor.FileMode),
			"actualMode":   fmt.Sprintf("%o", dr.State.Mode),
			"sensitivity":  string(dr.Monitor.Tier),
		})
		keys = append(keys, fmt.Sprintf("%s@%s:%s", dr.Monitor.FilePath, dr.State.Hash, dr.Kind))
		paths = append(paths, dr.Monitor.FilePath)
	}

	title := fmt.Sprintf("Configuration drift in %s", paths[0])
	if len(paths) > 1 {
		title = fmt.Sprintf("Configuration drift in %d files", len(paths))
	}
	return []Detection{{
		Rule:        RuleConfig,
		Type:        model.AlertTypeConfigDrift,
		Severity:    sev,
		Title:       title,
		Description: fmt.Sprintf("Monitored files changed without acknowledgement: %s", strings.Join(paths, ", ")),
		Trigger:     map[string]any{"paths": paths},
		Evidence:    map[string]any{"files": files},
		DebounceKey: "config_drift:" + strings.Join(keys, ","),
	}}, nil
}

type loginFlags struct {
	flood     bool
	failures  int
	newSource []string
	offHours  []int
}

func (f loginFlags) count() int {
	n := 0
	if f.flood {
		n++
	}
	if len(f.newSource) > 0 {
		n++
	}
	if len(f.offHours) > 0 {
		n++
	}
	return n
}

func (d *AnomalyDetector) detectLoginAnomaly(ctx context.Context, now time.Time) ([]Detection, error) {
	cfg := d.cfg.Login
	window := d.baselines.Window()
	failSince := now.Add(-cfg.FailureWindow)
	since := now.Add(-window)
	if failSince.Before(since) {
		since = failSince
	}
	events, err := d.activity.ListLogins(ctx, since, now)
	if err != nil {
		return nil, fmt.Errorf("list logins: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	profiles, err := d.baselines.LoginProfiles(ctx, now)
	if err != nil {
		return nil, err
	}

	flags := make(map[string]*loginFlags)
	get := func(u string) *loginFlags {
		f, ok := flags[u]
		if !ok {
			f = &loginFlags{}
			flags[u] = f
		}
		return f
	}
	windowStart := now.Add(-window)
	for _, e := range events {
		if !e.Success && !e.OccurredAt.Before(failSince) {
			get(e.UserID).failures++
		}
		if !e.Success || e.OccurredAt.Before(windowStart) {
			continue
		}
		p, ok := profiles[e.UserID]
		if !ok || !p.Mature {
			continue
		}
		if e.SourceIP != "" && !p.KnownIPs[e.SourceIP] {
			f := get(e.UserID)
			f.newSource = appendUnique(f.newSource, e.SourceIP)
		}
		if h := e.OccurredAt.UTC().Hour(); !p.ActiveHours[h] {
			f := get(e.UserID)
			f.offHours = appendUniqueInt(f.offHours, h)
		}
	}

	users := make([]string, 0, len(flags))
	sev := model.SeverityMedium
	details := make([]map[string]any, 0, len(flags))
	for u, f := range flags {
		f.flood = f.failures >= cfg.FailureThreshold
		if f.count() == 0 {
			continue
		}
		if f.count() >= 2 {
			sev = model.SeverityHigh
		}
		users = append(users, u)
	}
	if len(users) == 0 {
		return nil, nil
	}
	sort.Strings(users)
	conditions := map[string]bool{}
	for _, u := range users {
		f := flags[u]
		detail := map[string]any{"userId": u}
		if f.flood {
			detail["failedLogins"] = f.failures
			conditions["failed_login_flood"] = true
		}
		if len(f.newSource) > 0 {
			detail["newSources"] = f.newSource
			conditions["new_source"] = true
		}
		if len(f.offHours) > 0 {
			detail["offHours"] = f.offHours
			conditions["off_hours"] = true
		}
		details = append(details, detail)
	}
	condList := make([]string, 0, len(conditions))
	for c := range conditions {
		condList = append(condList, c)
	}
	sort.Strings(condList)

	return []Detection{{
		Rule:        RuleLogin,
		Type:        model.AlertTypeLoginAnomaly,
		Severity:    sev,
		Title:       fmt.Sprintf("Suspicious login activity for %d account(s)", len(users)),
		Description: fmt.Sprintf("Login anomalies (%s) for: %s", strings.Join(condList, ", "), strings.Join(users, ", ")),
		Trigger:     map[string]any{"users": users, "conditions": condList},
		Evidence:    map[string]any{"accounts": details},
		DebounceKey: "login_anomaly:" + string(sev) + ":" + strings.Join(users, ","),
	}}, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueInt(list []int, v int) []int {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
