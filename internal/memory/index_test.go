package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestAppendAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	for _, c := range []string{
		"User prefers dark roast coffee in the morning",
		"Project deadline moved to Friday",
		"User's cat is named Miso",
	} {
		if err := idx.Append(ctx, "2026-08-24", c); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := idx.Search(ctx, "coffee morning", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].Content != "User prefers dark roast coffee in the morning" {
		t.Errorf("wrong entry: %q", got[0].Content)
	}
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Append(ctx, "2026-08-24", "Reminder about the Berlin trip"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := idx.Search(ctx, "berlin", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("case-insensitive search missed the entry")
	}
}

func TestSearchAnyMatchesSingleTerm(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	idx.Append(ctx, "2026-08-24", "Favorite editor is helix")

	// Conjunctive search requires all terms and misses.
	got, _ := idx.Search(ctx, "helix unrelatedword", 5)
	if len(got) != 0 {
		t.Fatalf("conjunctive search should miss, got %d", len(got))
	}
	got, err := idx.SearchAny(ctx, "helix unrelatedword", 5)
	if err != nil {
		t.Fatalf("SearchAny: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("disjunctive search should hit, got %d", len(got))
	}
}

func TestAppendSkipsEmptyContent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Append(ctx, "2026-08-24", "   \n  "); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := idx.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("blank entry was stored: %+v", got)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	idx.Append(ctx, "2026-08-23", "older entry about nothing")
	time.Sleep(5 * time.Millisecond)
	idx.Append(ctx, "2026-08-24", "newer entry about nothing")

	got, err := idx.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Content != "newer entry about nothing" {
		t.Errorf("order wrong: %+v", got)
	}
}

func TestWorthRecalling(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"hi", false},
		{"thanks!", false},
		{"ok", false},
		{"/status", false},
		{"[SCHEDULER] ping the standup reminder", false},
		{"what did I say about the deployment plan?", true},
		{"short", false},
	}
	for _, tt := range tests {
		if got := worthRecalling(tt.message); got != tt.want {
			t.Errorf("worthRecalling(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

type stubVector struct {
	snippets []Snippet
	err      error
	calls    int
}

func (s *stubVector) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	s.calls++
	return s.snippets, s.err
}
func (s *stubVector) Add(ctx context.Context, id, text string) error { return nil }

func TestRecallPrefersVectorHits(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	idx.Append(ctx, "2026-08-24", "keyword fallback entry about deployment")

	vec := &stubVector{snippets: []Snippet{{Text: "vector hit about deployment", Score: 0.9}}}
	r := NewRecaller(idx, vec)

	got := r.Recall(ctx, "tell me about the deployment plan")
	if len(got) != 1 || got[0] != "vector hit about deployment" {
		t.Errorf("Recall = %v, want the vector hit only", got)
	}
}

func TestRecallFallsBackToKeywordIndex(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	idx.Append(ctx, "2026-08-24", "deployment is scheduled for Friday night")

	r := NewRecaller(idx, NullVectorStore{})
	got := r.Recall(ctx, "when is the deployment happening again")
	if len(got) != 1 || got[0] != "deployment is scheduled for Friday night" {
		t.Errorf("Recall = %v, want keyword fallback hit", got)
	}
}

func TestRecallDeduplicates(t *testing.T) {
	vec := &stubVector{snippets: []Snippet{
		{Text: "same snippet", Score: 0.9},
		{Text: "same snippet", Score: 0.8},
		{Text: "other snippet", Score: 0.7},
	}}
	r := NewRecaller(nil, vec)
	got := r.Recall(context.Background(), "anything long enough to recall")
	if len(got) != 2 {
		t.Errorf("Recall = %v, want 2 deduplicated snippets", got)
	}
}
