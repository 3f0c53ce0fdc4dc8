package service

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

type BaselineConfig struct {
	Window        time.Duration
	Windows       int
	HistoryPeriod time.Duration
	MinHistory    int
}

func (c BaselineConfig) withDefaults() BaselineConfig {
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.Windows <= 0 {
		c.Windows = 24
	}
	if c.HistoryPeriod <= 0 {
		c.HistoryPeriod = 30 * 24 * time.Hour
	}
	if c.MinHistory <= 0 {
		c.MinHistory = 10
	}
	return c
}

// BaselineTracker derives rolling baselines from the activity tables on read.
type BaselineTracker struct {
	activity outbound.ActivityRepository
	cfg      BaselineConfig
}

func NewBaselineTracker(activity outbound.ActivityRepository, cfg BaselineConfig) *BaselineTracker {
	return &BaselineTracker{activity: activity, cfg: cfg.withDefaults()}
}

func (b *BaselineTracker) Window() time.Duration { return b.cfg.Window }

// CurrentExports aggregates exports in [now-window, now).
func (b *BaselineTracker) CurrentExports(ctx context.Context, now time.Time) (model.ExportWindow, error) {
	start := now.Add(-b.cfg.Window)
	events, err := b.activity.ListExports(ctx, start, now)
	if err != nil {
		return model.ExportWindow{}, fmt.Errorf("list exports: %w", err)
	}
	w := model.ExportWindow{Start: start, Users: make(map[string]int64)}
	for _, e := range events {
		w.Rows += e.RowCount
		w.Bytes += e.ByteCount
		w.Users[e.UserID] += e.RowCount
	}
	return w, nil
}

// ExportBaseline returns row and byte baselines over the K windows preceding
// the current one. Empty windows count as zero.
func (b *BaselineTracker) ExportBaseline(ctx context.Context, now time.Time) (rows, bytes model.Baseline, err error) {
	until := now.Add(-b.cfg.Window)
	since := until.Add(-time.Duration(b.cfg.Windows) * b.cfg.Window)
	events, err := b.activity.ListExports(ctx, since, until)
	if err != nil {
		return model.Baseline{}, model.Baseline{}, fmt.Errorf("list exports: %w", err)
	}
	rowBuckets := make([]float64, b.cfg.Windows)
	byteBuckets := make([]float64, b.cfg.Windows)
	for _, e := range events {
		i := b.bucket(since, e.OccurredAt)
		if i < 0 {
			continue
		}
		rowBuckets[i] += float64(e.RowCount)
		byteBuckets[i] += float64(e.ByteCount)
	}
	return summarize(rowBuckets), summarize(byteBuckets), nil
}

// LoginFrequencyBaseline is the baseline of login attempts per window.
func (b *BaselineTracker) LoginFrequencyBaseline(ctx context.Context, now time.Time) (model.Baseline, error) {
	until := now.Add(-b.cfg.Window)
	since := until.Add(-time.Duration(b.cfg.Windows) * b.cfg.Window)
	events, err := b.activity.ListLogins(ctx, since, until)
	if err != nil {
		return model.Baseline{}, fmt.Errorf("list logins: %w", err)
	}
	buckets := make([]float64, b.cfg.Windows)
	for _, e := range events {
		if i := b.bucket(since, e.OccurredAt); i >= 0 {
			buckets[i]++
		}
	}
	return summarize(buckets), nil
}

func (b *BaselineTracker) bucket(since, at time.Time) int {
	i := int(at.Sub(since) / b.cfg.Window)
	if i < 0 || i >= b.cfg.Windows {
		return -1
	}
	return i
}

func summarize(values []float64) model.Baseline {
	if len(values) == 0 {
		return model.Baseline{}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return model.Baseline{Mean: mean, StdDev: std, Windows: len(values)}
}

// LoginProfiles builds each user's known sources and active hours from
// successful logins in the history period, excluding the current window.
func (b *BaselineTracker) LoginProfiles(ctx context.Context, now time.Time) (map[string]model.LoginProfile, error) {
	until := now.Add(-b.cfg.Window)
	events, err := b.activity.ListLogins(ctx, now.Add(-b.cfg.HistoryPeriod), until)
	if err != nil {
		return nil, fmt.Errorf("list login history: %w", err)
	}
	profiles := make(map[string]model.LoginProfile)
	for _, e := range events {
		if !e.Success {
			continue
		}
		p, ok := profiles[e.UserID]
		if !ok {
			p = model.LoginProfile{UserID: e.UserID, KnownIPs: map[string]bool{}, ActiveHours: map[int]bool{}}
		}
		if e.SourceIP != "" {
			p.KnownIPs[e.SourceIP] = true
		}
		p.ActiveHours[e.OccurredAt.UTC().Hour()] = true
		p.Logins++
		profiles[e.UserID] = p
	}
	for id, p := range profiles {
		p.Mature = p.Logins >= b.cfg.MinHistory
		profiles[id] = p
	}
	return profiles, nil
}
