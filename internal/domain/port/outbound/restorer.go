package outbound

import (
	"context"

	"github.com/jonny/sentinel/internal/domain/model"
)

type RestoreRequest struct {
	SnapshotID     string
	Environment    model.Environment
	GitCommit      string
	DatabaseBackup string
	ConfigFiles    string
}

type RestoreResult struct {
	Success bool
	Logs    string
}

// SnapshotRestorer brings an environment back to a snapshot. A returned error
// means the call itself failed; Success=false means the restore ran and failed.
type SnapshotRestorer interface {
	Restore(ctx context.Context, req RestoreRequest) (RestoreResult, error)
	HealthCheck(ctx context.Context) error
}
