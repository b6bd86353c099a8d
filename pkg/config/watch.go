package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ajitpratap0/mcp-engine/pkg/logging"
)

// Watch reloads path whenever it changes and hands every valid result to
// onChange. A reload that fails to parse or validate is logged and the
// previous config stays in effect. Watch blocks until ctx ends.
//
// The parent directory is watched rather than the file, so editors that
// replace the file through a rename are still seen.
func Watch(ctx context.Context, path string, logger logging.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger = logger.WithFields(logging.String("component", "config"), logging.String("path", abs))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				logger.WithError(err).Warn("config reload rejected")
				continue
			}
			logger.Info("config reloaded")
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}
