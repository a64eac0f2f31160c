package persona

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watch invalidates the assembler's stable cache whenever a persona file
// changes on disk, so out-of-band edits (the user opening SOUL.md in an
// editor) take effect without a restart. Blocks until ctx is done.
func Watch(ctx context.Context, dir string, asm *Assembler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	// Best effort; the subdirs may not exist yet.
	_ = watcher.Add(filepath.Join(dir, usersSubdir))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if filepath.Ext(event.Name) == ".bak" || filepath.Ext(event.Name) == ".tmp" {
				continue
			}
			// Editors fire bursts of events per save; coalesce them.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				slog.Debug("persona files changed, invalidating prompt cache", "path", event.Name)
				asm.InvalidateAll()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("persona watcher error", "error", err)
		}
	}
}
