package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	recallTimeout  = 200 * time.Millisecond
	recallMinRunes = 10
	recallLimit    = 5
)

// Greetings and acknowledgements that never warrant a memory lookup.
var casualMessages = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"ok": true, "okay": true, "yes": true, "no": true,
	"thanks": true, "thank you": true, "ty": true, "thx": true,
	"lol": true, "haha": true, "bye": true, "good night": true,
	"good morning": true, "gm": true, "gn": true,
}

// Recaller answers "what do we remember about this?" for the message
// pipeline: semantic search first, keyword index as fallback.
type Recaller struct {
	index  *Index
	vector VectorStore
}

func NewRecaller(index *Index, vector VectorStore) *Recaller {
	if vector == nil {
		vector = NullVectorStore{}
	}
	return &Recaller{index: index, vector: vector}
}

// Recall returns deduplicated memory snippets relevant to the message, or
// nil when the message does not warrant a lookup. The semantic search is
// bounded to 200 ms; on timeout or miss the keyword index is consulted.
// Recall never fails a turn: errors are logged and an empty result returned.
func (r *Recaller) Recall(ctx context.Context, message string) []string {
	if !worthRecalling(message) {
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, recallTimeout)
	defer cancel()

	snippets, err := r.vector.Search(vctx, message, recallLimit)
	if err != nil && ctx.Err() == nil {
		slog.Debug("vector recall failed, falling back to keyword index", "error", err)
	}

	var texts []string
	for _, s := range snippets {
		texts = append(texts, s.Text)
	}

	if len(texts) == 0 && r.index != nil {
		entries, err := r.index.Search(ctx, message, recallLimit)
		if err != nil {
			slog.Warn("keyword recall failed", "error", err)
		}
		if len(entries) == 0 {
			entries, _ = r.index.SearchAny(ctx, message, recallLimit)
		}
		for _, e := range entries {
			texts = append(texts, e.Content)
		}
	}

	return dedupeSnippets(texts)
}

// worthRecalling filters out short, casual, and command-style messages.
func worthRecalling(message string) bool {
	trimmed := strings.TrimSpace(message)
	if len([]rune(trimmed)) < recallMinRunes {
		return false
	}
	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "[") {
		return false
	}
	lowered := strings.ToLower(strings.TrimRight(trimmed, ".!?"))
	return !casualMessages[lowered]
}

func dedupeSnippets(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
