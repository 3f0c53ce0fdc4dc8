package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// Hasher implements outbound.FileHasher with SHA-256 over file contents.
type Hasher struct{}

var _ outbound.FileHasher = Hasher{}

func NewHasher() Hasher { return Hasher{} }

// Stat reports the hash and permission bits of path. A missing file yields
// Exists=false; a directory is an error.
func (Hasher) Stat(ctx context.Context, path string) (model.FileState, error) {
	if err := ctx.Err(); err != nil {
		return model.FileState{}, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.FileState{Exists: false}, nil
	}
	if err != nil {
		return model.FileState{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return model.FileState{}, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.FileState{Exists: false}, nil
	}
	if err != nil {
		return model.FileState{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return model.FileState{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return model.FileState{
		Exists:  true,
		Hash:    hex.EncodeToString(h.Sum(nil)),
		Mode:    uint32(info.Mode().Perm()),
		ModTime: info.ModTime().UTC(),
	}, nil
}
