package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// Drift is one monitored file whose current state differs from its baseline.
type Drift struct {
	Monitor        model.ConfigMonitoring
	State          model.FileState
	Kind           model.ChangeKind
	FirstDetection bool
}

// DriftWatcher hashes monitored configuration files and compares them with the
// acknowledged baseline.
type DriftWatcher struct {
	repo   outbound.ConfigMonitorRepository
	hasher outbound.FileHasher
	audit  *AuditService
	now    func() time.Time
}

func NewDriftWatcher(repo outbound.ConfigMonitorRepository, hasher outbound.FileHasher, audit *AuditService) *DriftWatcher {
	return &DriftWatcher{repo: repo, hasher: hasher, audit: audit, now: model.Now}
}

// Register starts monitoring a file, taking its current hash as the baseline.
// Registering an already monitored path returns the existing row.
func (w *DriftWatcher) Register(ctx context.Context, cmd inbound.RegisterConfigFileCommand) (model.ConfigMonitoring, error) {
	if err := validateCommand(cmd); err != nil {
		return model.ConfigMonitoring{}, err
	}
	path := filepath.Clean(cmd.Path)
	existing, err := w.repo.GetByPath(ctx, path)
	if err != nil {
		return model.ConfigMonitoring{}, persistErr("lookup config file", err)
	}
	if existing != nil {
		return *existing, nil
	}

	tier := model.InferSensitivityTier(path)
	if cmd.Tier != "" {
		if tier, err = model.ParseSensitivityTier(cmd.Tier); err != nil {
			return model.ConfigMonitoring{}, model.NewValidationError("tier", err.Error())
		}
	}
	state, err := w.hasher.Stat(ctx, path)
	if err != nil {
		return model.ConfigMonitoring{}, fmt.Errorf("hash %s: %w", path, err)
	}
	if !state.Exists {
		return model.ConfigMonitoring{}, model.NewValidationError("path", fmt.Sprintf("%s does not exist", path))
	}

	saved, err := w.repo.Create(ctx, model.NewConfigMonitoring(path, tier, state))
	if err != nil {
		return model.ConfigMonitoring{}, persistErr("create config monitor", err)
	}
	_, err = w.audit.Record(ctx, model.NewAuditLog(model.ActionConfigFileRegistered,
		fmt.Sprintf("Monitoring %s (%s sensitivity)", path, tier), cmd.RegisteredBy).
		WithContext("configId", saved.ID).
		WithContext("filePath", path).
		WithContext("fileHash", saved.FileHash))
	return saved, err
}

// Check hashes every monitored file. changeDetectedAt is set by compare-and-set
// the first time a mismatch is seen; the stored baseline is left alone until
// the change is acknowledged. Per-file hashing errors are joined and the
// remaining files are still checked.
func (w *DriftWatcher) Check(ctx context.Context) ([]Drift, error) {
	monitors, err := w.repo.List(ctx)
	if err != nil {
		return nil, persistErr("list config monitors", err)
	}
	var drifts []Drift
	var errs []error
	for _, m := range monitors {
		if err := ctx.Err(); err != nil {
			return drifts, err
		}
		state, err := w.hasher.Stat(ctx, m.FilePath)
		if err != nil {
			errs = append(errs, fmt.Errorf("hash %s: %w", m.FilePath, err))
			continue
		}
		kind, changed := m.Compare(state)
		if !changed {
			continue
		}
		now := w.now()
		first, err := w.repo.MarkChangeDetected(ctx, m.ID, now)
		if err != nil {
			errs = append(errs, persistErr("mark change detected", err))
			continue
		}
		if first {
			m.ChangeDetectedAt = &now
		}
		drifts = append(drifts, Drift{Monitor: m, State: state, Kind: kind, FirstDetection: first})
	}
	return drifts, errors.Join(errs...)
}

// Acknowledge adopts the file's current state as the new baseline.
func (w *DriftWatcher) Acknowledge(ctx context.Context, id, actor string) (model.ConfigMonitoring, error) {
	if err := requireNonEmpty("actor", actor); err != nil {
		return model.ConfigMonitoring{}, err
	}
	m, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return model.ConfigMonitoring{}, persistErr("get config monitor", err)
	}
	state, err := w.hasher.Stat(ctx, m.FilePath)
	if err != nil {
		return model.ConfigMonitoring{}, fmt.Errorf("hash %s: %w", m.FilePath, err)
	}
	prevHash := m.FileHash
	acked := m.Acknowledge(state)
	if err := w.repo.Acknowledge(ctx, acked); err != nil {
		return model.ConfigMonitoring{}, persistErr("acknowledge config change", err)
	}
	_, err = w.audit.Record(ctx, model.NewAuditLog(model.ActionConfigChangeAcknowledged,
		fmt.Sprintf("Change to %s acknowledged", m.FilePath), actor).
		WithContext("configId", m.ID).
		WithContext("filePath", m.FilePath).
		WithContext("previousHash", prevHash).
		WithContext("fileHash", acked.FileHash).
		WithContext("fileExists", state.Exists))
	return acked, err
}

func (w *DriftWatcher) List(ctx context.Context) ([]model.ConfigMonitoring, error) {
	out, err := w.repo.List(ctx)
	return out, persistErr("list config monitors", err)
}

func (w *DriftWatcher) Count(ctx context.Context) (int64, error) {
	n, err := w.repo.Count(ctx)
	return n, persistErr("count config monitors", err)
}

// Paths returns the monitored file paths.
func (w *DriftWatcher) Paths(ctx context.Context) ([]string, error) {
	monitors, err := w.List(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(monitors))
	for _, m := range monitors {
		paths = append(paths, m.FilePath)
	}
	return paths, nil
}
