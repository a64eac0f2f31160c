package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/memory"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/persona"
)

// MemorySearchTool queries the long-term memory index.
type MemorySearchTool struct {
	index      *memory.Index
	maxResults int
}

func NewMemorySearchTool(index *memory.Index, maxResults int) *MemorySearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &MemorySearchTool{index: index, maxResults: maxResults}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }
func (t *MemorySearchTool) Description() string {
	return "Search long-term memory for facts and events by keyword"
}
func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": fmt.Sprintf("Max results (default %d)", t.maxResults),
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	limit := t.maxResults
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	entries, err := t.index.Search(ctx, query, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: memory search failed: %v", err)).WithError(err)
	}
	if len(entries) == 0 {
		entries, err = t.index.SearchAny(ctx, query, limit)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Error: memory search failed: %v", err)).WithError(err)
		}
	}
	if len(entries) == 0 {
		return SilentResult("No memories matched: " + query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memories matching %q:\n", query)
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s %s] %s\n", e.Day, e.Time.Format("15:04"), e.Content)
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// LogMemoryTool appends a fact to today's memory file and mirrors it into
// the search index.
type LogMemoryTool struct {
	store *persona.Store
	index *memory.Index
}

func NewLogMemoryTool(store *persona.Store, index *memory.Index) *LogMemoryTool {
	return &LogMemoryTool{store: store, index: index}
}

func (t *LogMemoryTool) Name() string { return "log_memory" }
func (t *LogMemoryTool) Description() string {
	return "Record a fact or event in today's long-term memory"
}
func (t *LogMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The fact to remember, one or two sentences",
			},
		},
		"required": []string{"content"},
	}
}

func (t *LogMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ErrorResult("content is required")
	}

	day, err := t.store.AppendDailyMemory(content)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to log memory: %v", err)).WithError(err)
	}
	if t.index != nil {
		if err := t.index.Append(ctx, day, content); err != nil {
			// The file is the source of truth; index lag is tolerable.
			return SilentResult(fmt.Sprintf("Memory logged to %s (index update failed: %v)", day, err))
		}
	}
	return SilentResult("Memory logged to " + day)
}
