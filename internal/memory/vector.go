package memory

import "context"

// Snippet is one recalled fragment with its relevance score.
type Snippet struct {
	Text  string
	Score float64
}

// VectorStore is the contract for a semantic search backend. The runtime
// treats it as optional: when none is configured, recall falls back to the
// keyword index.
type VectorStore interface {
	Search(ctx context.Context, query string, limit int) ([]Snippet, error)
	Add(ctx context.Context, id, text string) error
}

// NullVectorStore satisfies VectorStore with no storage. Search always
// returns nothing, which routes recall to the keyword fallback.
type NullVectorStore struct{}

func (NullVectorStore) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	return nil, nil
}

func (NullVectorStore) Add(ctx context.Context, id, text string) error { return nil }
