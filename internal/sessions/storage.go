package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
)

// ChatRecord is one line of the append-only chat log.
type ChatRecord struct {
	Time     time.Time `json:"time"`
	Role     string    `json:"role"`
	Content  string    `json:"content,omitempty"`
	ToolName string    `json:"tool_name,omitempty"`
}

// SaveHistory writes the full history snapshot atomically.
func (m *Manager) SaveHistory(key string, history []providers.Message) error {
	if history == nil {
		history = []providers.Message{}
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	dir := filepath.Join(m.dir, historyDir)
	path := filepath.Join(dir, sanitizeFilename(key)+".json")
	if err := atomicWrite(dir, path, data); err != nil {
		return fmt.Errorf("write history snapshot: %w", err)
	}
	return nil
}

// LoadHistory reads the history snapshot. A missing snapshot is an empty
// history, not an error.
func (m *Manager) LoadHistory(key string) ([]providers.Message, error) {
	path := filepath.Join(m.dir, historyDir, sanitizeFilename(key)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history snapshot: %w", err)
	}
	var history []providers.Message
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse history snapshot: %w", err)
	}
	return history, nil
}

// AppendChatLog appends one record to the session's chat log. Fail-open: an
// I/O error is logged and swallowed so a full disk never breaks a turn.
func (m *Manager) AppendChatLog(key string, rec ChatRecord) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("chat log marshal failed", "session", key, "error", err)
		return
	}
	path := filepath.Join(m.dir, logsDir, sanitizeFilename(key)+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Warn("chat log open failed", "session", key, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Warn("chat log append failed", "session", key, "error", err)
	}
}

// ReadChatLog replays the chat log. A torn final line (crash mid-append) is
// skipped silently; any other unparsable line is skipped with a warning.
func (m *Manager) ReadChatLog(key string) ([]ChatRecord, error) {
	path := filepath.Join(m.dir, logsDir, sanitizeFilename(key)+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open chat log: %w", err)
	}
	defer f.Close()

	var out []ChatRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ChatRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Debug("skipping malformed chat log line", "session", key, "line", lineNo)
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scan chat log: %w", err)
	}
	return out, nil
}
