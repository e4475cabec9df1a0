package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval is the quiet period after the last file event
// before a reload.
const DefaultDebounceInterval = 100 * time.Millisecond

// WatcherConfig configures Watch.
type WatcherConfig struct {
	// Path is the configuration file.
	Path string

	// DebounceInterval defaults to DefaultDebounceInterval.
	DebounceInterval time.Duration

	// Load reads the file. Defaults to LoadConfigWithEnvOverrides.
	Load func(path string) (*Config, error)

	Logger *slog.Logger
}

// Watch reloads the configuration file whenever it changes and passes the
// new configuration to onReload. Bursts of events are coalesced. A file
// that fails to load is logged and the previous configuration stays in
// effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file, so editors that
// replace the file by rename keep being observed.
func Watch(ctx context.Context, cfg WatcherConfig, onReload func(*Config)) error {
	if cfg.Path == "" {
		return fmt.Errorf("watch: no configuration file")
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultDebounceInterval
	}
	if cfg.Load == nil {
		cfg.Load = LoadConfigWithEnvOverrides
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config.watcher")

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	logger.Info("configuration watcher started",
		"path", abs,
		"debounce_ms", cfg.DebounceInterval.Milliseconds(),
	)

	reload := func() {
		next, err := cfg.Load(abs)
		if err != nil {
			logger.Error("configuration reload failed", "path", abs, "error", err)
			return
		}
		logger.Info("configuration reloaded", "path", abs)
		onReload(next)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("configuration watcher stopped")
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("configuration file event", "op", event.Op.String())

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cfg.DebounceInterval, func() {
				if ctx.Err() == nil {
					reload()
				}
			})
			mu.Unlock()

		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logger.Error("configuration watcher error", "error", err)
		}
	}
}
