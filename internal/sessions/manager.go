package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Session is the durable metadata for one conversation. History turns live in
// a separate snapshot file; the chat log is append-only alongside.
type Session struct {
	Key           string    `json:"key"`
	Created       time.Time `json:"created"`
	LastActive    time.Time `json:"last_active"`
	Origin        string    `json:"origin,omitempty"` // channel that created the session
	Model         string    `json:"model,omitempty"`
	InputTokens   int64     `json:"input_tokens,omitempty"`
	OutputTokens  int64     `json:"output_tokens,omitempty"`
	TotalTokens   int64     `json:"total_tokens,omitempty"`
	EnabledSkills []string  `json:"enabled_skills,omitempty"`
	InjectedFiles []string  `json:"injected_files,omitempty"`
	Whitelist     []string  `json:"whitelist,omitempty"`  // sensitive tools approved for this session
	Autonomous    bool      `json:"autonomous,omitempty"` // skip the confirmation gate entirely
	ParentKey     string    `json:"parent_key,omitempty"` // set on subagent sessions
	Task          string    `json:"task,omitempty"`
}

// Whitelisted reports whether a sensitive tool was approved for the session.
func (s *Session) Whitelisted(tool string) bool {
	for _, t := range s.Whitelist {
		if t == tool {
			return true
		}
	}
	return false
}

const (
	indexFile  = "sessions.json"
	logsDir    = "logs"
	historyDir = "history"

	defaultFlushDelay = 2 * time.Second
)

// Manager owns the session index and its on-disk artifacts. Index writes are
// debounced; history snapshots and chat-log appends are written immediately.
// All index writes are atomic (temp file then rename) so a crash mid-write
// never corrupts the previous index.
type Manager struct {
	dir        string
	flushDelay time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	dirty    bool
	timer    *time.Timer
}

// NewManager loads (or initializes) the session store rooted at dir.
func NewManager(dir string) (*Manager, error) {
	m := &Manager{
		dir:        dir,
		flushDelay: defaultFlushDelay,
		sessions:   make(map[string]*Session),
	}
	for _, sub := range []string{"", logsDir, historyDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	if err := m.loadIndex(); err != nil {
		return nil, err
	}
	return m, nil
}

// SetFlushDelay overrides the index debounce interval. Used by tests.
func (m *Manager) SetFlushDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushDelay = d
}

func (m *Manager) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(m.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session index: %w", err)
	}
	var idx map[string]*Session
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse session index: %w", err)
	}
	m.sessions = idx
	return nil
}

// GetOrCreate returns the session for key, creating it with origin on first use.
func (m *Manager) GetOrCreate(key, origin string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		now := time.Now()
		s = &Session{Key: key, Created: now, LastActive: now, Origin: origin}
		m.sessions[key] = s
		m.markDirtyLocked()
	}
	return *s
}

// Get returns a copy of the session and whether it exists.
func (m *Manager) Get(key string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Update merges metadata via fn under the store lock, bumps LastActive, and
// schedules a debounced index write.
func (m *Manager) Update(key string, fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		now := time.Now()
		s = &Session{Key: key, Created: now}
		m.sessions[key] = s
	}
	fn(s)
	s.LastActive = time.Now()
	m.markDirtyLocked()
}

// AddUsage accumulates token counters for a session.
func (m *Manager) AddUsage(key string, inputTokens, outputTokens int64) {
	m.Update(key, func(s *Session) {
		s.InputTokens += inputTokens
		s.OutputTokens += outputTokens
		s.TotalTokens += inputTokens + outputTokens
	})
}

// List returns all sessions sorted by LastActive, newest first.
func (m *Manager) List() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out
}

// Delete removes the session record, its chat log, and its history snapshot.
func (m *Manager) Delete(key string) error {
	return m.DeleteMany([]string{key})
}

// DeleteMany removes several sessions with a single index write.
func (m *Manager) DeleteMany(keys []string) error {
	m.mu.Lock()
	for _, key := range keys {
		if _, ok := m.sessions[key]; ok {
			delete(m.sessions, key)
			m.dirty = true
		}
	}
	err := m.flushLocked()
	m.mu.Unlock()

	for _, key := range keys {
		name := sanitizeFilename(key)
		for _, path := range []string{
			filepath.Join(m.dir, logsDir, name+".jsonl"),
			filepath.Join(m.dir, historyDir, name+".json"),
		} {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
				err = rmErr
			}
		}
	}
	return err
}

// markDirtyLocked schedules a flush after the debounce delay. Repeated updates
// inside the window coalesce into one write.
func (m *Manager) markDirtyLocked() {
	m.dirty = true
	if m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.flushDelay, func() {
		if err := m.FlushNow(); err != nil {
			slog.Error("session index flush failed", "error", err)
		}
	})
}

// FlushNow forces a pending index write. Called on turn end and shutdown.
func (m *Manager) FlushNow() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if !m.dirty {
		return nil
	}
	data, err := json.MarshalIndent(m.sessions, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(m.dir, filepath.Join(m.dir, indexFile), data); err != nil {
		return err
	}
	m.dirty = false
	return nil
}

// Close flushes pending state. The manager must not be used afterwards.
func (m *Manager) Close() error {
	return m.FlushNow()
}

// atomicWrite writes data to path via a temp file in dir plus rename, so a
// crash mid-write leaves the previous file intact.
func atomicWrite(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".write-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func sanitizeFilename(key string) string {
	name := strings.ReplaceAll(key, ":", "_")
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	if name == "" || name == "." || !filepath.IsLocal(name) {
		return "_invalid"
	}
	return name
}
