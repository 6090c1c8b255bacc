package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configReloadDebounce collapses the burst of events an editor produces
// when saving (truncate, write, chmod, rename) into one reload.
const configReloadDebounce = 250 * time.Millisecond

// watchConfig reloads the config file whenever it changes on disk and hands
// every valid result to apply. The command-line overrides given at startup
// are applied to each reload, the same as at startup. Invalid files are
// logged and ignored.
//
// The parent directory is watched so that rename-on-save editors keep
// triggering reloads.
func watchConfig(ctx context.Context, path string, overrides FlagOverrides, apply func(Config), logger *slog.Logger) error {
	path = filepath.Clean(ExpandPath(path))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	logger.Debug("watching config for changes", "path", path)

	var (
		debounce  *time.Timer
		debounceC <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(configReloadDebounce)
			} else {
				debounce.Reset(configReloadDebounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			reloadConfig(path, overrides, apply, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}

func reloadConfig(path string, overrides FlagOverrides, apply func(Config), logger *slog.Logger) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		logger.Warn("config reload failed, keeping current settings", "path", path, "error", err)
		return
	}
	overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		logger.Warn("reloaded config is invalid, keeping current settings", "path", path, "error", err)
		return
	}
	apply(cfg)
	logger.Info("config reloaded", "path", path)
}
