package service_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
	"github.com/jonny/sentinel/internal/domain/service"
)

type harnessConfig struct {
	detector  service.DetectorConfig
	baseline  service.BaselineConfig
	rollback  service.RollbackConfig
	policies  []model.ApprovalPolicy
	explainer outbound.Explainer
	timeout   time.Duration
}

type harness struct {
	alerts      *memAlertRepo
	audits      *memAuditRepo
	deployments *memDeploymentRepo
	snapshots   *memSnapshotRepo
	tokens      *memHoneytokenRepo
	configs     *memConfigRepo
	activity    *memActivityRepo
	cursors     *memCursorRepo
	explainer   *mockExplainer
	restorer    *mockRestorer
	notifier    *mockNotifier
	hasher      *fakeHasher
	metrics     *countingMetrics

	audit      *service.AuditService
	registry   *service.HoneytokenRegistry
	drift      *service.DriftWatcher
	baselines  *service.BaselineTracker
	classifier *service.Classifier
	detector   *service.AnomalyDetector
	rollback   *service.RollbackController
	pipeline   *service.DeploymentPipeline
	svc        *service.SecurityService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, opts ...func(*harnessConfig)) *harness {
	t.Helper()
	cfg := harnessConfig{
		baseline: service.BaselineConfig{Window: 5 * time.Minute, Windows: 24, MinHistory: 3},
		rollback: service.RollbackConfig{RestoreTimeout: time.Second},
		timeout:  time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}

	h := &harness{
		alerts:      newMemAlertRepo(),
		audits:      &memAuditRepo{},
		deployments: &memDeploymentRepo{},
		snapshots:   newMemSnapshotRepo(),
		tokens:      newMemHoneytokenRepo(),
		configs:     newMemConfigRepo(),
		activity:    &memActivityRepo{},
		cursors:     newMemCursorRepo(),
		explainer: &mockExplainer{resp: outbound.Explanation{
			Explanation:    "Someone read a decoy value.",
			Recommendation: "Revoke the session.",
		}},
		restorer: &mockRestorer{result: outbound.RestoreResult{Success: true, Logs: "image restored"}},
		notifier: &mockNotifier{},
		hasher:   newFakeHasher(),
		metrics:  newCountingMetrics(),
	}
	explainer := cfg.explainer
	if explainer == nil {
		explainer = h.explainer
	}
	logger := discardLogger()

	h.audit = service.NewAuditService(h.audits, logger)
	h.registry = service.NewHoneytokenRegistry(h.tokens, h.audit)
	h.drift = service.NewDriftWatcher(h.configs, h.hasher, h.audit)
	h.baselines = service.NewBaselineTracker(h.activity, cfg.baseline)
	h.classifier = service.NewClassifier(service.ClassifierDeps{
		Alerts:    h.alerts,
		Audit:     h.audit,
		Explainer: explainer,
		Notifier:  h.notifier,
		Metrics:   h.metrics,
		Timeout:   cfg.timeout,
		Logger:    logger,
	})
	h.detector = service.NewAnomalyDetector(service.DetectorDeps{
		Registry:   h.registry,
		Baselines:  h.baselines,
		Drift:      h.drift,
		Classifier: h.classifier,
		Alerts:     h.alerts,
		Activity:   h.activity,
		Audit:      h.audit,
		Metrics:    h.metrics,
		Logger:     logger,
		Cursors:    h.cursors,
	}, cfg.detector)
	h.rollback = service.NewRollbackController(service.RollbackDeps{
		Snapshots:   h.snapshots,
		Deployments: h.deployments,
		Audit:       h.audit,
		Restorer:    h.restorer,
		Notifier:    h.notifier,
		Metrics:     h.metrics,
		Logger:      logger,
	}, cfg.rollback)
	h.pipeline = service.NewDeploymentPipeline(h.deployments, h.snapshots, h.audit, logger)
	h.svc = service.NewSecurityService(service.SecurityDeps{
		Repos: service.Repositories{
			Alerts:      h.alerts,
			Audits:      h.audits,
			Deployments: h.deployments,
			Snapshots:   h.snapshots,
			Honeytokens: h.tokens,
			Configs:     h.configs,
			Activity:    h.activity,
		},
		Audit:    h.audit,
		Registry: h.registry,
		Drift:    h.drift,
		Detector: h.detector,
		Rollback: h.rollback,
		Pipeline: h.pipeline,
		Policy:   service.NewPolicyEvaluator(cfg.policies),
		Logger:   logger,
	})
	return h
}

// addSnapshot stores a snapshot created age ago.
func (h *harness) addSnapshot(env model.Environment, commit string, verified bool, age time.Duration) model.Snapshot {
	s := model.NewSnapshot(env, commit)
	s.CreatedAt = time.Now().UTC().Add(-age)
	s.Verified = verified
	h.snapshots.rows[s.ID] = s
	return s
}
