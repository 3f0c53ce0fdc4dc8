package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// Monitor schedules detection ticks. Overlapping scheduled runs are skipped by
// the cron chain; manual triggers are skipped by the detector's own guard.
type Monitor struct {
	detector *AnomalyDetector
	interval time.Duration
	metrics  outbound.MetricsRecorder
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
	running atomic.Bool
}

func NewMonitor(detector *AnomalyDetector, interval time.Duration, metrics outbound.MetricsRecorder, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if metrics == nil {
		metrics = outbound.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{detector: detector, interval: interval, metrics: metrics, logger: logger}
}

// Start begins ticking every interval until Stop or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return fmt.Errorf("monitor already started")
	}

	clog := cronLogger{logger: m.logger, metrics: m.metrics}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	m.baseCtx, m.cancel = context.WithCancel(ctx)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", m.interval), m.runScheduled); err != nil {
		m.cancel()
		return fmt.Errorf("schedule detection: %w", err)
	}
	c.Start()
	m.cron = c
	m.running.Store(true)
	m.logger.Info("security monitoring started", "interval", m.interval)
	return nil
}

// Stop halts scheduling and waits for a running tick, bounded by ctx.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	cancel := m.cancel
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	m.running.Store(false)
	done := c.Stop()
	select {
	case <-done.Done():
		cancel()
		m.logger.Info("security monitoring stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("waiting for detection tick: %w", ctx.Err())
	}
}

// IsMonitoring reports whether scheduled ticks are active.
func (m *Monitor) IsMonitoring() bool {
	return m.running.Load()
}

// Trigger runs a tick outside the schedule, for example after a file change.
func (m *Monitor) Trigger(ctx context.Context) (TickResult, error) {
	tctx, cancel := context.WithTimeout(ctx, m.tickTimeout())
	defer cancel()
	return m.detector.Tick(tctx)
}

func (m *Monitor) runScheduled() {
	m.mu.Lock()
	base := m.baseCtx
	m.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}
	if _, err := m.Trigger(base); err != nil {
		m.logger.Error("detection tick failed", "error", err)
	}
}

// tickTimeout keeps a tick well inside its interval.
func (m *Monitor) tickTimeout() time.Duration {
	return m.interval * 4 / 5
}

// cronLogger routes cron's logging to slog and counts skipped runs.
type cronLogger struct {
	logger  *slog.Logger
	metrics outbound.MetricsRecorder
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.metrics.TickSkipped()
		l.logger.Warn("detection tick skipped, previous tick still running")
		return
	}
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
