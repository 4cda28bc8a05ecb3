package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives each valid configuration read after a change on disk
type ReloadFunc func(ctx context.Context, previous, current *Config)

// Watcher reloads the config file when it changes and hands valid results to
// a ReloadFunc. An invalid file is logged and the previous config stays
// current.
type Watcher struct {
	path     string
	onReload ReloadFunc
	logger   *slog.Logger

	mu      sync.RWMutex
	current *Config
}

func NewWatcher(path string, initial *Config, onReload ReloadFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		onReload: onReload,
		logger:   logger,
		current:  initial,
	}
}

// Current returns the last valid configuration
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload reads the file once and applies it if it is valid
func (w *Watcher) Reload(ctx context.Context) error {
	next, err := LoadFromFile(w.path)
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	w.mu.Lock()
	previous := w.current
	w.current = next
	w.mu.Unlock()

	if w.onReload != nil {
		w.onReload(ctx, previous, next)
	}
	return nil
}

// Watch blocks until ctx is done, reloading whenever the file is written or
// replaced. The parent directory is watched rather than the file, so saves
// that rename a new file over the path are seen too.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.path)
	dir := filepath.Dir(target)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}
	w.logger.Info("watching configuration file", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}

			switch {
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				if err := w.Reload(ctx); err != nil {
					w.logger.Error("failed to reload configuration, keeping previous", "path", w.path, "error", err)
				} else {
					w.logger.Info("configuration reloaded", "path", w.path)
				}
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				w.logger.Warn("configuration file moved away, keeping current until it reappears", "path", w.path)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
