// Package skills discovers executable skill manifests under a directory
// and exposes each one to the agent as a swappable tool group. Manifest
// edits on disk reload automatically and invalidate the stable prompt so
// the model sees the new tool set on the next turn.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
)

// Status is one loaded skill as reported to the control surface.
type Status struct {
	Name          string
	Description   string
	Command       string
	Enabled       bool
	MissingBinary string // binary name when exec.LookPath failed, else ""
}

type skillState struct {
	manifest Manifest
	dir      string
	missing  string
}

// Manager owns the skill lifecycle: load, register, watch, toggle.
type Manager struct {
	dir         string
	registry    *tools.Registry
	events      bus.EventPublisher
	invalidate  func()
	allowUnsafe bool
	execTimeout time.Duration

	mu       sync.Mutex
	skills   map[string]*skillState
	enabled  map[string]bool
	explicit bool // config named an enabled set; undeclared skills start disabled

	watcher   *fsnotify.Watcher
	watchStop context.CancelFunc
	watchWg   sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithEnabled restricts the initially-enabled set. nil enables every
// discovered skill; an explicit list leaves the rest disabled until
// toggled at runtime.
func WithEnabled(names []string) Option {
	return func(m *Manager) {
		if names == nil {
			return
		}
		m.explicit = true
		for _, n := range names {
			m.enabled[n] = true
		}
	}
}

// WithEvents broadcasts a skills_reloaded event after every load or toggle.
func WithEvents(events bus.EventPublisher) Option {
	return func(m *Manager) { m.events = events }
}

// WithInvalidate runs after every load or toggle, typically wired to the
// prompt assembler's cache invalidation.
func WithInvalidate(fn func()) Option {
	return func(m *Manager) { m.invalidate = fn }
}

// WithUnsafeExec disables the command guard for skill invocations.
func WithUnsafeExec(allow bool) Option {
	return func(m *Manager) { m.allowUnsafe = allow }
}

// WithExecTimeout sets the default per-invocation timeout for skills whose
// manifest does not override it.
func WithExecTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.execTimeout = d
		}
	}
}

func NewManager(dir string, registry *tools.Registry, opts ...Option) *Manager {
	m := &Manager{
		dir:         dir,
		registry:    registry,
		execTimeout: defaultSkillTimeout,
		skills:      make(map[string]*skillState),
		enabled:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load rescans the skills directory, replacing the registered tool groups.
// A missing directory is an empty skill set, not an error. Invalid
// manifests are skipped with a warning so one broken skill cannot take the
// rest down.
func (m *Manager) Load() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.replaceAll(nil)
			return nil
		}
		return fmt.Errorf("read skills dir: %w", err)
	}

	discovered := make(map[string]*skillState)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.dir, entry.Name())
		manifest, err := loadManifest(filepath.Join(dir, ManifestName))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			slog.Warn("skipping skill", "dir", entry.Name(), "error", err)
			continue
		}
		if prev, dup := discovered[manifest.Name]; dup {
			slog.Warn("duplicate skill name", "name", manifest.Name, "kept", prev.dir, "skipped", dir)
			continue
		}
		state := &skillState{manifest: manifest, dir: dir}
		if _, err := exec.LookPath(manifest.Command); err != nil {
			state.missing = manifest.Command
			slog.Warn("skill binary not found", "skill", manifest.Name, "command", manifest.Command)
		}
		discovered[manifest.Name] = state
	}

	m.replaceAll(discovered)
	slog.Info("skills loaded", "count", len(discovered), "dir", m.dir)
	return nil
}

// replaceAll swaps the full skill set, preserving runtime enable toggles,
// then re-registers tool groups and fires the reload hooks.
func (m *Manager) replaceAll(discovered map[string]*skillState) {
	m.mu.Lock()
	for name := range m.skills {
		if _, still := discovered[name]; !still {
			m.registry.RemoveGroup(groupName(name))
			delete(m.enabled, name)
		}
	}
	m.skills = discovered
	if m.skills == nil {
		m.skills = make(map[string]*skillState)
	}
	for name, state := range m.skills {
		if _, known := m.enabled[name]; !known {
			m.enabled[name] = !m.explicit
		}
		m.syncRegistryLocked(name, state)
	}
	m.mu.Unlock()

	m.notify()
}

// syncRegistryLocked registers or removes one skill's tool group to match
// its enabled state. Skills with a missing binary stay listed but never
// reach the registry.
func (m *Manager) syncRegistryLocked(name string, state *skillState) {
	group := groupName(name)
	if !m.enabled[name] || state.missing != "" {
		m.registry.RemoveGroup(group)
		return
	}
	class := tools.ClassWrite
	if state.manifest.Sensitive {
		class = tools.ClassSensitive
	}
	tool := newSkillTool(state.manifest, state.dir, m.execTimeout, m.allowUnsafe)
	m.registry.RegisterGroup(group, []tools.Tool{tool}, tools.Meta{
		Class:   class,
		Timeout: tool.timeout,
	})
}

func groupName(skill string) string { return "skill:" + skill }

func (m *Manager) notify() {
	if m.invalidate != nil {
		m.invalidate()
	}
	if m.events != nil {
		m.events.Broadcast(bus.Event{Name: bus.EventSkillsReloaded, Payload: map[string]interface{}{
			"count": len(m.List()),
		}})
	}
}

// List reports every discovered skill sorted by name, including disabled
// ones and ones whose binary is absent.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.skills))
	for name, state := range m.skills {
		out = append(out, Status{
			Name:          name,
			Description:   state.manifest.Description,
			Command:       state.manifest.Command,
			Enabled:       m.enabled[name],
			MissingBinary: state.missing,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enable turns a discovered skill on and registers its tool group.
func (m *Manager) Enable(name string) error {
	return m.setEnabled(name, true)
}

// Disable turns a skill off and drops its tool group from the registry.
func (m *Manager) Disable(name string) error {
	return m.setEnabled(name, false)
}

func (m *Manager) setEnabled(name string, enabled bool) error {
	m.mu.Lock()
	state, ok := m.skills[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown skill %q", name)
	}
	m.enabled[name] = enabled
	m.syncRegistryLocked(name, state)
	m.mu.Unlock()

	m.notify()
	return nil
}
