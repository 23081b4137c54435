package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/juniorrony/torrenstream-sub000/internal/logger"
)

// WatchFile re-loads the configuration whenever the config file changes on
// disk. Editors replace files rather than writing in place, so the watch is
// on the parent directory and filtered by name. Reload errors keep the
// previous configuration.
func (cm *ConfigManager) WatchFile(ctx context.Context) error {
	path := cm.ConfigPath()
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	log := logger.New("config-watch")

	go func() {
		defer watcher.Close()

		// Debounce bursts of write events from a single save.
		var pending *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(250*time.Millisecond, func() {
					if err := cm.LoadConfig(path); err != nil {
						log.Warn("config reload failed, keeping previous config", "error", err)
						return
					}
					log.Info("configuration reloaded", "path", path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
