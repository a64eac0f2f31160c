package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/sessions"
)

// ListSessionsTool lists known conversations.
type ListSessionsTool struct {
	manager *sessions.Manager
}

func NewListSessionsTool(manager *sessions.Manager) *ListSessionsTool {
	return &ListSessionsTool{manager: manager}
}

func (t *ListSessionsTool) Name() string { return "list_sessions" }
func (t *ListSessionsTool) Description() string {
	return "List conversation sessions with optional recency filter"
}
func (t *ListSessionsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Max sessions to return (default 20)",
			},
			"active_minutes": map[string]interface{}{
				"type":        "number",
				"description": "Only sessions active in the last N minutes",
			},
		},
	}
}

func (t *ListSessionsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	limit := 20
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	list := t.manager.List()
	if v, ok := args["active_minutes"].(float64); ok && int(v) > 0 {
		cutoff := time.Now().Add(-time.Duration(int(v)) * time.Minute)
		filtered := list[:0]
		for _, s := range list {
			if s.LastActive.After(cutoff) {
				filtered = append(filtered, s)
			}
		}
		list = filtered
	}

	sort.Slice(list, func(i, j int) bool { return list[i].LastActive.After(list[j].LastActive) })
	if len(list) > limit {
		list = list[:limit]
	}
	if len(list) == 0 {
		return SilentResult("No sessions found.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d session(s):\n", len(list))
	for _, s := range list {
		fmt.Fprintf(&b, "- %s: last active %s, %d tokens",
			s.Key, s.LastActive.Format(time.RFC3339), s.TotalTokens)
		if s.ParentKey != "" {
			fmt.Fprintf(&b, " (subagent of %s)", s.ParentKey)
		}
		b.WriteByte('\n')
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// SessionHistoryTool shows the tail of another conversation's transcript.
type SessionHistoryTool struct {
	manager *sessions.Manager
}

func NewSessionHistoryTool(manager *sessions.Manager) *SessionHistoryTool {
	return &SessionHistoryTool{manager: manager}
}

func (t *SessionHistoryTool) Name() string { return "session_history" }
func (t *SessionHistoryTool) Description() string {
	return "Show the most recent turns of a session's conversation"
}
func (t *SessionHistoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_key": map[string]interface{}{
				"type":        "string",
				"description": "Session key from list_sessions (default: current session)",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Max turns to return (default 10)",
			},
		},
	}
}

func (t *SessionHistoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key, _ := args["session_key"].(string)
	if key == "" {
		key = ToolSessionKeyFromCtx(ctx)
	}
	if key == "" {
		return ErrorResult("session_key is required")
	}
	limit := 10
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	history, err := t.manager.LoadHistory(key)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: could not load history: %v", err)).WithError(err)
	}
	if len(history) == 0 {
		return SilentResult("No history for session " + key)
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d turn(s) of %s:\n", len(history), key)
	for _, msg := range history {
		content := msg.Content
		if content == "" && len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			content = "(called " + strings.Join(names, ", ") + ")"
		}
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, truncateStr(content, 300))
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}
