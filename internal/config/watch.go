package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce coalesces the burst of events an atomic editor save produces.
const debounce = 250 * time.Millisecond

// Watch monitors path and calls onChange with a freshly loaded Config after
// each write, letting rules and channels be swapped without a restart. It
// blocks until ctx is cancelled.
//
// A failed reload (invalid YAML, bad rule condition) is logged and dropped;
// onChange only ever sees configs that passed validation.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: hot reload enabled", "path", path)

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Writes and creates both matter: atomic saves replace the file
			// rather than writing it in place.
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload rejected, keeping active config",
					"path", path, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", path, "rules", len(cfg.Rules), "channels", len(cfg.Channels))
			onChange(cfg)

			// An atomic save may have replaced the inode; re-arm the watch.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watch error", "err", err)
		}
	}
}
