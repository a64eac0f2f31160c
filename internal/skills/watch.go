package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces editor save bursts into one reload.
const debounceDelay = 250 * time.Millisecond

// Watch starts a filesystem watcher over the skills directory and its
// immediate subdirectories. Changes trigger a debounced Load. Call Close
// to stop.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills watcher: %w", err)
	}
	if err := w.Add(m.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", m.dir, err)
	}
	if entries, err := os.ReadDir(m.dir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := w.Add(filepath.Join(m.dir, entry.Name())); err != nil {
					slog.Warn("watch skill dir", "dir", entry.Name(), "error", err)
				}
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	m.watcher = w
	m.watchStop = cancel
	m.watchWg.Add(1)
	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.watchWg.Done()

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	reload := func() {
		if err := m.Load(); err != nil {
			slog.Warn("skill reload failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New skill directories need their own watch before the
			// manifest inside them can be seen.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := m.watcher.Add(event.Name); err != nil {
						slog.Warn("watch skill dir", "dir", event.Name, "error", err)
					}
				}
			}
			if pending == nil {
				pending = time.AfterFunc(debounceDelay, reload)
			} else {
				pending.Reset(debounceDelay)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("skills watcher error", "error", err)
		}
	}
}

// Close stops the watcher, if one was started, and waits for the watch
// loop to exit.
func (m *Manager) Close() error {
	if m.watchStop != nil {
		m.watchStop()
	}
	var err error
	if m.watcher != nil {
		err = m.watcher.Close()
	}
	m.watchWg.Wait()
	return err
}
