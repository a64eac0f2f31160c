// Package memory indexes the agent's long-term memory entries and serves
// recall queries for prompt assembly. Entries are mirrored from the persona
// memory files into a local SQLite index so keyword recall does not rescan
// markdown on every message.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one remembered item, tied to the day file it came from.
type Entry struct {
	ID      string
	Day     string // YYYY-MM-DD
	Time    time.Time
	Content string
}

// Index is a SQLite-backed store of memory entries.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	idx := &Index{db: db}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) init() error {
	_, err := i.db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		id      TEXT PRIMARY KEY,
		day     TEXT NOT NULL,
		ts      INTEGER NOT NULL,
		content TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_day ON entries(day);
	CREATE INDEX IF NOT EXISTS idx_entries_ts ON entries(ts)`)
	if err != nil {
		return fmt.Errorf("init memory index: %w", err)
	}
	return nil
}

func (i *Index) Close() error { return i.db.Close() }

// Append records one entry under the given day.
func (i *Index) Append(ctx context.Context, day, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	_, err := i.db.ExecContext(ctx,
		`INSERT INTO entries (id, day, ts, content) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), day, time.Now().UnixMilli(), content)
	if err != nil {
		return fmt.Errorf("append memory entry: %w", err)
	}
	return nil
}

// Search returns entries whose content contains all given terms,
// newest first. Terms shorter than 3 runes are ignored.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var (
		where []string
		args  []any
	)
	for _, t := range terms {
		where = append(where, "content LIKE ? COLLATE NOCASE")
		args = append(args, "%"+t+"%")
	}
	args = append(args, limit)

	q := `SELECT id, day, ts, content FROM entries WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ts DESC LIMIT ?`
	rows, err := i.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SearchAny is a looser variant matching any single term, used as the
// fallback when the conjunctive search yields nothing.
func (i *Index) SearchAny(ctx context.Context, query string, limit int) ([]Entry, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var (
		where []string
		args  []any
	)
	for _, t := range terms {
		where = append(where, "content LIKE ? COLLATE NOCASE")
		args = append(args, "%"+t+"%")
	}
	args = append(args, limit)

	q := `SELECT id, day, ts, content FROM entries WHERE ` +
		strings.Join(where, " OR ") + ` ORDER BY ts DESC LIMIT ?`
	rows, err := i.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recent returns the newest entries regardless of content.
func (i *Index) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := i.db.QueryContext(ctx,
		`SELECT id, day, ts, content FROM entries ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent memory: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.Day, &ts, &e.Content); err != nil {
			return out, err
		}
		e.Time = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// searchTerms splits a query into LIKE-able terms, dropping short noise words.
func searchTerms(query string) []string {
	fields := strings.Fields(query)
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, `.,!?'"()[]`)
		if len([]rune(f)) < 3 {
			continue
		}
		terms = append(terms, f)
		if len(terms) == 6 {
			break
		}
	}
	return terms
}
