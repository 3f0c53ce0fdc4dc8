package main

import (
	"fmt"
	"log/slog"

	"github.com/jonny/sentinel/internal/adapter/outbound/filesystem"
	"github.com/jonny/sentinel/internal/adapter/outbound/kubernetes"
	"github.com/jonny/sentinel/internal/adapter/outbound/llm/ollama"
	"github.com/jonny/sentinel/internal/adapter/outbound/metrics"
	"github.com/jonny/sentinel/internal/adapter/outbound/notification"
	slacknotifier "github.com/jonny/sentinel/internal/adapter/outbound/notification/slack"
	"github.com/jonny/sentinel/internal/adapter/outbound/persistence/sqlite"
	"github.com/jonny/sentinel/internal/config"
	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
	"github.com/jonny/sentinel/internal/domain/service"
	"github.com/jonny/sentinel/pkg/version"
)

// app is the assembled component graph for the serve command.
type app struct {
	store     *sqlite.Store
	security  *service.SecurityService
	monitor   *service.Monitor
	drift     *service.DriftWatcher
	rollback  *service.RollbackController
	recorder  *metrics.Recorder
	explainer outbound.Explainer
	restorer  outbound.SnapshotRestorer
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(cfg.Database.SQLite, false)
	if err != nil {
		return nil, err
	}

	repos := service.Repositories{
		Alerts:      sqlite.NewAlertRepo(store),
		Audits:      sqlite.NewAuditRepo(store),
		Deployments: sqlite.NewDeploymentRepo(store),
		Snapshots:   sqlite.NewSnapshotRepo(store),
		Honeytokens: sqlite.NewHoneytokenRepo(store),
		Configs:     sqlite.NewConfigMonitorRepo(store),
		Activity:    sqlite.NewActivityRepo(store),
	}

	a := &app{store: store}

	var recorder outbound.MetricsRecorder = outbound.NopMetrics{}
	if cfg.Metrics.Enabled {
		a.recorder = metrics.NewRecorder()
		recorder = a.recorder
	}

	if cfg.LLM.Enabled {
		client, err := ollama.NewClient(ollama.Config{
			BaseURL:      cfg.LLM.Ollama.BaseURL,
			Model:        cfg.LLM.Ollama.Model,
			Timeout:      cfg.LLM.Ollama.Timeout,
			MaxRetries:   cfg.LLM.Ollama.MaxRetries,
			SystemPrompt: cfg.LLM.Ollama.SystemPrompt,
			Temperature:  cfg.LLM.Ollama.Temperature,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create explainer: %w", err)
		}
		a.explainer = client
	} else {
		logger.Info("llm disabled; alerts carry the placeholder explanation")
	}

	if a.restorer, err = buildRestorer(cfg.Kubernetes, logger); err != nil {
		store.Close()
		return nil, err
	}

	var notifier outbound.Notifier = notification.NewNoopNotifier(logger)
	if cfg.Slack.Enabled {
		notifier = slacknotifier.NewNotifier(slacknotifier.Config{
			BotToken:       cfg.Slack.BotToken,
			AlertChannel:   cfg.Slack.AlertChannel,
			DefaultChannel: cfg.Slack.DefaultChannel,
			Channels:       cfg.Slack.EnvironmentChannels(),
		})
	}

	policies, err := cfg.ApprovalPolicies()
	if err != nil {
		store.Close()
		return nil, err
	}

	audit := service.NewAuditService(repos.Audits, logger)
	registry := service.NewHoneytokenRegistry(repos.Honeytokens, audit)
	a.drift = service.NewDriftWatcher(repos.Configs, filesystem.NewHasher(), audit)

	m := cfg.Monitoring
	baselines := service.NewBaselineTracker(repos.Activity, service.BaselineConfig{
		Window:        m.Baseline.Window,
		Windows:       m.Baseline.Windows,
		HistoryPeriod: m.Baseline.HistoryPeriod,
		MinHistory:    m.Baseline.MinHistory,
	})
	classifier := service.NewClassifier(service.ClassifierDeps{
		Alerts:    repos.Alerts,
		Audit:     audit,
		Explainer: a.explainer,
		Notifier:  notifier,
		Metrics:   recorder,
		Timeout:   cfg.LLM.ExplainTimeout,
		Logger:    logger,
	})
	detector := service.NewAnomalyDetector(service.DetectorDeps{
		Registry:   registry,
		Baselines:  baselines,
		Drift:      a.drift,
		Classifier: classifier,
		Alerts:     repos.Alerts,
		Activity:   repos.Activity,
		Audit:      audit,
		Metrics:    recorder,
		Logger:     logger,
		Cursors:    sqlite.NewCursorRepo(store),
	}, service.DetectorConfig{
		Export: service.ExportRuleConfig{
			MediumMultiplier: m.Export.MediumMultiplier,
			HighMultiplier:   m.Export.HighMultiplier,
			AbsoluteFloor:    m.Export.AbsoluteFloor,
			MinRows:          m.Export.MinRows,
			Debounce:         m.Debounce.Export,
		},
		Login: service.LoginRuleConfig{
			FailureThreshold: m.Login.FailureThreshold,
			FailureWindow:    m.Login.FailureWindow,
			Debounce:         m.Debounce.Login,
		},
		ConfigDebounce: m.Debounce.Config,
		QueryLookback:  m.QueryLookback,
	})
	a.monitor = service.NewMonitor(detector, m.Interval, recorder, logger)

	a.rollback = service.NewRollbackController(service.RollbackDeps{
		Snapshots:   repos.Snapshots,
		Deployments: repos.Deployments,
		Audit:       audit,
		Restorer:    a.restorer,
		Notifier:    notifier,
		Metrics:     recorder,
		Logger:      logger,
	}, service.RollbackConfig{
		RestoreTimeout: cfg.Rollback.RestoreTimeout,
		PendingExpiry:  cfg.Rollback.PendingExpiry,
	})

	a.security = service.NewSecurityService(service.SecurityDeps{
		Repos:    repos,
		Audit:    audit,
		Registry: registry,
		Drift:    a.drift,
		Detector: detector,
		Monitor:  a.monitor,
		Rollback: a.rollback,
		Pipeline: service.NewDeploymentPipeline(repos.Deployments, repos.Snapshots, audit, logger),
		Policy:   service.NewPolicyEvaluator(policies),
		Logger:   logger,
	})
	return a, nil
}

// buildRestorer returns the Kubernetes restorer, or a logging stand-in when
// Kubernetes is disabled.
func buildRestorer(cfg config.KubernetesConfig, logger *slog.Logger) (outbound.SnapshotRestorer, error) {
	if !cfg.Enabled {
		logger.Warn("kubernetes disabled; approved rollbacks are logged, not executed")
		return kubernetes.NewNoopRestorer(logger), nil
	}

	targets := make(map[model.Environment]kubernetes.Target, len(cfg.Targets))
	for name, t := range cfg.Targets {
		env, err := model.ParseEnvironment(name)
		if err != nil {
			return nil, err
		}
		targets[env] = kubernetes.Target{
			Namespace:  t.Namespace,
			Deployment: t.Deployment,
			Container:  t.Container,
			Image:      t.Image,
		}
	}
	set, err := kubernetes.NewTargets(targets, cfg.BlockedNamespaces)
	if err != nil {
		return nil, fmt.Errorf("kubernetes targets: %w", err)
	}

	clientset, err := kubernetes.NewClientset(kubernetes.ClientConfig{
		InCluster:  cfg.InCluster,
		Kubeconfig: cfg.Kubeconfig,
		UserAgent:  "sentinel/" + version.Version,
	})
	if err != nil {
		return nil, err
	}
	return kubernetes.NewRestorer(clientset, set, kubernetes.RestorerConfig{
		RolloutTimeout:  cfg.RolloutTimeout,
		PollInterval:    cfg.PollInterval,
		RestoreJobImage: cfg.RestoreJobImage,
	}, logger), nil
}
