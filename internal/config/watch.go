// SPDX-License-Identifier: MIT
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"beatlight/internal/log"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce for one save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the configuration file at path whenever it changes and hands every
// successfully validated result to onChange. Invalid edits are logged and skipped so
// the running engine keeps its last good configuration. The parent directory is
// watched rather than the file itself, since editors commonly replace files by rename.
// Watch returns once the watcher is installed; it stops when ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		return fmt.Errorf("watch requires an explicit config path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	logger := log.New("Config")
	go func() {
		defer watcher.Close()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					pending = time.After(reloadDebounce)
				}

			case <-pending:
				pending = nil
				cfg, err := LoadConfig(abs)
				if err != nil {
					logger.Warnf("ignoring config change: %v", err)
					continue
				}
				logger.Infof("reloaded %s", abs)
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Errorf("watcher error: %v", err)
			}
		}
	}()

	return nil
}
