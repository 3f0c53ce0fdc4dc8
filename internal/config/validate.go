package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
)

// Validate checks the config for errors and reports all of them at once.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		errs = append(errs, "server.metricsPort must be between 1 and 65535")
	}
	if cfg.Server.MetricsPort == cfg.Server.Port {
		errs = append(errs, "server.metricsPort must differ from server.port")
	}

	if len(cfg.API.Tokens) == 0 {
		errs = append(errs, "api.tokens must list at least one token")
	}
	for i, t := range cfg.API.Tokens {
		if t.Token == "" || strings.HasPrefix(t.Token, "${") {
			errs = append(errs, fmt.Sprintf("api.tokens[%d].token is empty or references an unset variable", i))
		}
	}
	if cfg.API.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "api.rateLimit.requestsPerMinute must be positive")
	}

	m := cfg.Monitoring
	if m.Interval < time.Second {
		errs = append(errs, "monitoring.interval must be at least 1s")
	}
	if m.Export.MediumMultiplier <= 1 {
		errs = append(errs, "monitoring.export.mediumMultiplier must be greater than 1")
	}
	if m.Export.HighMultiplier < m.Export.MediumMultiplier {
		errs = append(errs, "monitoring.export.highMultiplier must not be below mediumMultiplier")
	}
	if m.Login.FailureThreshold <= 0 {
		errs = append(errs, "monitoring.login.failureThreshold must be positive")
	}
	if m.Baseline.Windows <= 0 || m.Baseline.MinHistory <= 0 {
		errs = append(errs, "monitoring.baseline.windows and minHistory must be positive")
	}

	if cfg.LLM.Enabled && cfg.LLM.Ollama.BaseURL == "" {
		errs = append(errs, "llm.ollama.baseURL is required when llm is enabled")
	}

	if cfg.Rollback.PendingExpiry < 0 {
		errs = append(errs, "rollback.pendingExpiry must not be negative")
	}

	if cfg.Kubernetes.Enabled {
		if !cfg.Kubernetes.InCluster && cfg.Kubernetes.Kubeconfig == "" {
			errs = append(errs, "kubernetes.kubeconfig is required when inCluster is false")
		}
		if len(cfg.Kubernetes.Targets) == 0 {
			errs = append(errs, "kubernetes.targets must name at least one environment")
		}
		for name, t := range cfg.Kubernetes.Targets {
			if _, err := model.ParseEnvironment(name); err != nil {
				errs = append(errs, fmt.Sprintf("kubernetes.targets.%s: %v", name, err))
			}
			if t.Namespace == "" || t.Deployment == "" || t.Container == "" || t.Image == "" {
				errs = append(errs, fmt.Sprintf("kubernetes.targets.%s needs namespace, deployment, container and image", name))
			}
		}
	}

	if cfg.Slack.Enabled {
		if cfg.Slack.BotToken == "" {
			errs = append(errs, "slack.botToken is required when slack is enabled")
		}
		if cfg.Slack.AppToken == "" {
			errs = append(errs, "slack.appToken is required when slack is enabled")
		}
		for name := range cfg.Slack.Channels {
			if _, err := model.ParseEnvironment(name); err != nil {
				errs = append(errs, fmt.Sprintf("slack.channels.%s: %v", name, err))
			}
		}
	}

	if cfg.Database.SQLite.Path == "" {
		errs = append(errs, "database.sqlite.path is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging.level must be debug, info, warn or error (got %q)", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		errs = append(errs, fmt.Sprintf("logging.format must be json or text (got %q)", cfg.Logging.Format))
	}

	seen := make(map[model.Environment]bool)
	for i, p := range cfg.ApprovalPolicy {
		env, err := model.ParseEnvironment(p.Environment)
		if err != nil {
			errs = append(errs, fmt.Sprintf("approvalPolicy[%d]: %v", i, err))
			continue
		}
		if seen[env] {
			errs = append(errs, fmt.Sprintf("approvalPolicy[%d]: duplicate policy for %s", i, env))
		}
		seen[env] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
