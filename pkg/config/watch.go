package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/manawiki/sitepulse/pkg/observability"
)

// Watch reloads the config file at path whenever it changes and hands each
// valid result to onChange. A reload that fails to parse or validate is logged
// and the previous configuration stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors which
// replace the file, and Kubernetes ConfigMap symlink swaps, are both seen.
func Watch(ctx context.Context, path string, logger *observability.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event, path) {
				continue
			}
			cfg, err := LoadFrom(path)
			if err != nil {
				logger.WithError(err).WithField("path", path).Warn("Ignoring invalid config reload")
				continue
			}
			logger.WithField("path", path).Info("Configuration reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Config watcher error")
		}
	}
}

func relevant(event fsnotify.Event, path string) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == path || filepath.Base(name) == "..data"
}
