package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonny/sentinel/internal/adapter/inbound/api"
	"github.com/jonny/sentinel/internal/adapter/inbound/api/middleware"
	"github.com/jonny/sentinel/internal/adapter/inbound/slackbot"
	"github.com/jonny/sentinel/internal/adapter/outbound/filesystem"
	"github.com/jonny/sentinel/internal/config"
	"github.com/jonny/sentinel/pkg/health"
	"github.com/jonny/sentinel/pkg/version"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor, HTTP API and optional Slack bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger, logCloser := buildLogger(cfg.Logging)
	defer logCloser.Close()

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer a.store.Close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.rollback.Hydrate(ctx); err != nil {
		return fmt.Errorf("restore pending rollbacks: %w", err)
	}

	// --- Health checker ---
	checker := health.NewChecker()
	checker.Register("database", a.store.Ping)
	if a.explainer != nil {
		checker.RegisterOptional("explainer", a.explainer.HealthCheck)
	}
	if cfg.Kubernetes.Enabled {
		checker.RegisterOptional("restorer", a.restorer.HealthCheck)
	}

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/healthz", checker.LivenessHandler())
	metricsMux.HandleFunc("/readyz", checker.ReadinessHandler())
	if a.recorder != nil {
		metricsMux.Handle(cfg.Metrics.Path, a.recorder.Handler())
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	principals := make([]middleware.Principal, 0, len(cfg.API.Tokens))
	for _, t := range cfg.API.Tokens {
		principals = append(principals, middleware.Principal{Name: t.Name, Token: t.Token})
	}
	apiServer := api.NewServer(api.ServerConfig{
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		RequestTimeout:    cfg.API.RequestTimeout,
		MaxBodyBytes:      cfg.API.MaxBodyBytes,
		RequestsPerMinute: cfg.API.RateLimit.RequestsPerMinute,
		Burst:             cfg.API.RateLimit.Burst,
		TrustProxy:        cfg.API.TrustProxy,
		Principals:        principals,
		IngestSecret:      cfg.API.IngestSecret,
	}, a.security, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Start(gCtx)
	})

	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Server.MetricsPort)
		errCh := make(chan error, 1)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()
		select {
		case <-gCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	})

	if cfg.Monitoring.Enabled {
		g.Go(func() error {
			if err := a.monitor.Start(gCtx); err != nil {
				return err
			}
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return a.monitor.Stop(shutdownCtx)
		})
	} else {
		logger.Info("scheduled monitoring disabled; checks run only on demand")
	}

	if cfg.Monitoring.Watch.Enabled {
		watcher := filesystem.NewWatcher(a.drift.Paths, func(ctx context.Context) error {
			_, err := a.monitor.Trigger(ctx)
			return err
		}, filesystem.WatcherConfig{
			Debounce: cfg.Monitoring.Watch.Debounce,
			Refresh:  cfg.Monitoring.Watch.Refresh,
		}, logger)
		g.Go(func() error {
			return watcher.Run(gCtx)
		})
	}

	if cfg.Slack.Enabled {
		bot := slackbot.NewBot(slackbot.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
			Command:  cfg.Slack.Command,
		}, a.security, logger)
		g.Go(func() error {
			logger.Info("starting slack bot")
			return bot.Start(gCtx)
		})
	} else {
		logger.Info("slack disabled; notifications are logged")
	}

	logger.Info("sentinel started", "version", version.String())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", "error", err)
		return err
	}

	logger.Info("sentinel stopped")
	return nil
}
