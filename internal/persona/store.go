// Package persona owns the on-disk persona of the agent: who it is
// (SOUL.md, IDENTITY.md), how it currently feels (MOOD.md), what it knows
// about people (RELATIONSHIPS.md, users/), and its long-term memory files.
// The prompt assembler reads these; the tag processor writes them.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Well-known persona files, relative to the persona directory.
const (
	SoulFile          = "SOUL.md"
	IdentityFile      = "IDENTITY.md"
	MoodFile          = "MOOD.md"
	RelationshipsFile = "RELATIONSHIPS.md"
	MemoryIndexFile   = "MEMORY.md"

	memorySubdir = "memory"
	usersSubdir  = "users"

	maxBackups = 3
)

// Store reads and writes persona files. All writes are atomic and rotate up
// to three timestamped .bak copies of the previous content.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore opens the persona directory, creating the layout if missing.
func NewStore(dir string) (*Store, error) {
	for _, sub := range []string{"", memorySubdir, usersSubdir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create persona dir: %w", err)
		}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the persona root directory.
func (s *Store) Dir() string { return s.dir }

// Read returns the content of a persona file, or "" when it does not exist.
func (s *Store) Read(name string) string {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *Store) Soul() string          { return s.Read(SoulFile) }
func (s *Store) Identity() string      { return s.Read(IdentityFile) }
func (s *Store) Mood() string          { return s.Read(MoodFile) }
func (s *Store) Relationships() string { return s.Read(RelationshipsFile) }
func (s *Store) MemoryIndex() string   { return s.Read(MemoryIndexFile) }

// UserProfile returns the stored profile for a sender, or "".
func (s *Store) UserProfile(senderID string) string {
	name := profileName(senderID)
	if name == "" {
		return ""
	}
	return s.Read(filepath.Join(usersSubdir, name))
}

// Write replaces a persona file atomically, rotating backups of the
// previous content.
func (s *Store) Write(name, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	if err := s.backupLocked(path); err != nil {
		return err
	}
	return atomicWriteFile(path, []byte(content))
}

// WriteUserProfile replaces the profile for a sender.
func (s *Store) WriteUserProfile(senderID, content string) error {
	name := profileName(senderID)
	if name == "" {
		return fmt.Errorf("invalid sender id %q", senderID)
	}
	return s.Write(filepath.Join(usersSubdir, name), content)
}

// AppendDailyMemory appends one timestamped entry to today's memory file
// and returns the day key (YYYY-MM-DD).
func (s *Store) AppendDailyMemory(content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	day := now.Format("2006-01-02")
	path := filepath.Join(s.dir, memorySubdir, day+".md")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return day, fmt.Errorf("open memory file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("- [%s] %s\n", now.Format("15:04"), strings.TrimSpace(content))
	if _, err := f.WriteString(line); err != nil {
		return day, fmt.Errorf("append memory: %w", err)
	}
	return day, nil
}

// MemoryDayPath returns the path of one day's memory file.
func (s *Store) MemoryDayPath(day string) string {
	return filepath.Join(s.dir, memorySubdir, day+".md")
}

// RecentMemoryDays returns the newest day files, most recent first.
func (s *Store) RecentMemoryDays(n int) []string {
	entries, err := os.ReadDir(filepath.Join(s.dir, memorySubdir))
	if err != nil {
		return nil
	}
	var days []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".md") {
			days = append(days, strings.TrimSuffix(name, ".md"))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	if n > 0 && len(days) > n {
		days = days[:n]
	}
	return days
}

// backupLocked copies the current file content to a timestamped .bak and
// prunes old backups down to maxBackups.
func (s *Store) backupLocked(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read for backup: %w", err)
	}

	bak := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405.000"))
	if err := os.WriteFile(bak, data, 0644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	pattern := filepath.Base(path) + ".*.bak"
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), pattern))
	if err != nil || len(matches) <= maxBackups {
		return nil
	}
	sort.Strings(matches) // timestamp format sorts lexically
	for _, old := range matches[:len(matches)-maxBackups] {
		os.Remove(old)
	}
	return nil
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".persona-*.tmp")
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

var profileUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._@+-]`)

// profileName maps a sender id to a safe filename, or "" if nothing safe
// remains.
func profileName(senderID string) string {
	cleaned := profileUnsafe.ReplaceAllString(senderID, "_")
	cleaned = strings.Trim(cleaned, "._")
	if cleaned == "" {
		return ""
	}
	return cleaned + ".md"
}
