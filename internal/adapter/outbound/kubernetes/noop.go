package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// NoopRestorer stands in for a cluster during local development. Every restore
// is logged and reported as successful.
type NoopRestorer struct {
	logger *slog.Logger
}

func NewNoopRestorer(logger *slog.Logger) *NoopRestorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopRestorer{logger: logger}
}

func (n *NoopRestorer) Restore(_ context.Context, req outbound.RestoreRequest) (outbound.RestoreResult, error) {
	n.logger.Warn("noop restorer: rollback not applied to any cluster",
		"environment", req.Environment, "snapshot_id", req.SnapshotID, "git_commit", req.GitCommit)
	return outbound.RestoreResult{
		Success: true,
		Logs:    fmt.Sprintf("noop restore of %s to %s (no cluster configured)", req.Environment, req.GitCommit),
	}, nil
}

func (n *NoopRestorer) HealthCheck(_ context.Context) error {
	return errors.New("kubernetes unavailable: running in local dev mode (noop restorer)")
}
