package filesystem

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PathSource lists the files currently under drift monitoring.
type PathSource func(ctx context.Context) ([]string, error)

// TriggerFunc runs an early drift check.
type TriggerFunc func(ctx context.Context) error

// WatcherConfig tunes a Watcher.
type WatcherConfig struct {
	// Debounce coalesces bursts of events (editors write, chmod and rename
	// in quick succession) into one trigger. Default 500ms.
	Debounce time.Duration
	// Refresh is how often the watched set is reloaded. Default 1m.
	Refresh time.Duration
}

// Watcher subscribes to filesystem events for monitored files and triggers a
// drift check shortly after any of them changes. The scheduled tick still
// runs; the watcher only shortens the time to detection.
type Watcher struct {
	paths   PathSource
	trigger TriggerFunc
	cfg     WatcherConfig
	logger  *slog.Logger

	mu      sync.Mutex
	tracked map[string]bool
	dirs    map[string]bool
}

func NewWatcher(paths PathSource, trigger TriggerFunc, cfg WatcherConfig, logger *slog.Logger) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		paths:   paths,
		trigger: trigger,
		cfg:     cfg,
		logger:  logger,
		tracked: make(map[string]bool),
		dirs:    make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fw.Close()

	w.sync(ctx, fw)
	refresh := time.NewTicker(w.cfg.Refresh)
	defer refresh.Stop()

	var fire <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			w.sync(ctx, fw)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.isTracked(ev.Name) {
				continue
			}
			w.logger.Debug("monitored file changed", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
			} else {
				timer.Reset(w.cfg.Debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.trigger(ctx); err != nil {
				w.logger.Warn("event-driven drift check failed", "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// sync watches the parent directory of every monitored file. Directories are
// watched rather than files so replacements by rename are still seen.
func (w *Watcher) sync(ctx context.Context, fw *fsnotify.Watcher) {
	paths, err := w.paths(ctx)
	if err != nil {
		w.logger.Warn("listing monitored files failed", "error", err)
		return
	}
	tracked := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		clean := filepath.Clean(p)
		tracked[clean] = true
		dirs[filepath.Dir(clean)] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for d := range dirs {
		if w.dirs[d] {
			continue
		}
		if err := fw.Add(d); err != nil {
			w.logger.Warn("cannot watch directory", "dir", d, "error", err)
			delete(dirs, d)
		}
	}
	for d := range w.dirs {
		if !dirs[d] {
			_ = fw.Remove(d)
		}
	}
	w.tracked = tracked
	w.dirs = dirs
}

func (w *Watcher) isTracked(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tracked[filepath.Clean(name)]
}
