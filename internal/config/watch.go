package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchDomains monitors the domain keyword file for changes and swaps
// the newly loaded settings into reg on every write. It runs until ctx
// is cancelled.
//
// If a reload fails (e.g., invalid YAML), the error is logged and the
// previous settings remain active.
func WatchDomains(ctx context.Context, path string, reg *Registry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: watching domain keywords for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Only reload on write or create events. Editors often write
			// via rename (atomic save), so also catch fsnotify.Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			d, err := LoadDomains(path)
			if err != nil {
				slog.Error("config: domain reload failed, keeping previous settings",
					"path", path, "err", err)
				continue
			}

			reg.Replace(d)
			slog.Info("config: domain keywords reloaded",
				"path", path, "domains", len(d.Domains))

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
