package outbound

import (
	"context"

	"github.com/jonny/sentinel/internal/domain/model"
)

// FileHasher observes a file. A missing file is reported as Exists=false, not an error.
type FileHasher interface {
	Stat(ctx context.Context, path string) (model.FileState, error)
}
