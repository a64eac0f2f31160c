// Package tags extracts structured side-effect tags from assistant replies.
// The model embeds XML-like tags (save_soul, log_memory, ...) in its text;
// this package pulls them out, validates the content, fires the side effect,
// and returns the cleaned text the user should actually see.
package tags

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// The closed tag vocabulary, in no particular order.
var tagNames = []string{
	"save_soul",
	"save_identity",
	"save_mood",
	"save_relationship",
	"save_user",
	"log_memory",
	"save_memory",
	"discord_send",
	"discord_embed",
}

// Names returns the recognized tag vocabulary. The stream consumer uses it
// to suppress tag bodies from user-visible output as they arrive.
func Names() []string {
	return append([]string(nil), tagNames...)
}

// Shown when a reply consisted of nothing but tags.
const placeholderReply = "Noted."

var (
	orphanCloserRe = regexp.MustCompile(`</(?:` + strings.Join(tagNames, "|") + `)>`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// Sink receives the side effects of validated tags. The agent wires a
// composite over the persona store, the memory index, and the message bus.
type Sink interface {
	SaveSoul(ctx context.Context, content string) error
	SaveIdentity(ctx context.Context, content string) error
	SaveMood(ctx context.Context, content string) error
	SaveRelationships(ctx context.Context, content string) error
	SaveUser(ctx context.Context, senderID, content string) error
	LogMemory(ctx context.Context, content string) error
	SaveMemoryIndex(ctx context.Context, content string) error
	DiscordSend(ctx context.Context, text string) error
	DiscordEmbed(ctx context.Context, embedJSON string) error
}

// Result is what Process hands back to the orchestrator. The updated flags
// drive prompt-cache invalidation.
type Result struct {
	CleanText           string
	SoulUpdated         bool
	IdentityUpdated     bool
	MoodUpdated         bool
	RelationshipUpdated bool
}

type Processor struct {
	sink Sink
}

func NewProcessor(sink Sink) *Processor {
	return &Processor{sink: sink}
}

// Process scans text for tags in order of appearance. Each tag body runs to
// its closing tag, or soft-closes at the next recognized opening tag or at
// end of string (models forget closers often enough that hard failure would
// lose real content). Invalid tags are stripped without side effect.
func (p *Processor) Process(ctx context.Context, text, senderID string) Result {
	var res Result
	var out strings.Builder
	rest := text

	for {
		idx, name, openLen := findNextOpen(rest)
		if idx < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:idx])
		after := rest[idx+openLen:]

		closer := "</" + name + ">"
		closeIdx := strings.Index(after, closer)
		nextIdx, _, _ := findNextOpen(after)

		var body string
		var consumed int
		switch {
		case closeIdx >= 0 && (nextIdx < 0 || closeIdx < nextIdx):
			body = after[:closeIdx]
			consumed = closeIdx + len(closer)
		case nextIdx >= 0:
			body = after[:nextIdx]
			consumed = nextIdx
		default:
			body = after
			consumed = len(after)
		}

		p.apply(ctx, name, strings.TrimSpace(body), senderID, &res)
		rest = after[consumed:]
	}

	clean := orphanCloserRe.ReplaceAllString(out.String(), "")
	clean = multiNewlineRe.ReplaceAllString(clean, "\n\n")
	clean = strings.TrimSpace(clean)
	if clean == "" && strings.TrimSpace(text) != "" {
		clean = placeholderReply
	}
	res.CleanText = clean
	return res
}

// findNextOpen returns the position, name, and opener length of the earliest
// recognized opening tag in s, or (-1, "", 0). Attribute-bearing openers
// ("<save_user id=\"u1\">") count; the attributes are discarded.
func findNextOpen(s string) (int, string, int) {
	best := -1
	var bestName string
	bestLen := 0
	for _, name := range tagNames {
		from := 0
		for from < len(s) {
			i := strings.Index(s[from:], "<"+name)
			if i < 0 {
				break
			}
			i += from
			end := openerEnd(s, i, name)
			if end < 0 {
				from = i + 1
				continue
			}
			if best < 0 || i < best {
				best, bestName, bestLen = i, name, end-i
			}
			break
		}
	}
	return best, bestName, bestLen
}

// openerEnd returns the index just past the opener's '>' when s[i:] starts an
// opening tag for name, or -1 when the name runs into other characters or the
// opener never closes.
func openerEnd(s string, i int, name string) int {
	j := i + len(name) + 1
	if j >= len(s) {
		return -1
	}
	switch s[j] {
	case '>':
		return j + 1
	case ' ', '\t', '\n':
		gt := strings.IndexByte(s[j:], '>')
		if gt < 0 {
			return -1
		}
		return j + gt + 1
	}
	return -1
}

func (p *Processor) apply(ctx context.Context, name, body, senderID string, res *Result) {
	if err := validate(name, body); err != nil {
		slog.Warn("rejected tag content", "tag", name, "error", err)
		return
	}

	var err error
	switch name {
	case "save_soul":
		if err = p.sink.SaveSoul(ctx, body); err == nil {
			res.SoulUpdated = true
		}
	case "save_identity":
		if err = p.sink.SaveIdentity(ctx, body); err == nil {
			res.IdentityUpdated = true
		}
	case "save_mood":
		if err = p.sink.SaveMood(ctx, body); err == nil {
			res.MoodUpdated = true
		}
	case "save_relationship":
		if err = p.sink.SaveRelationships(ctx, body); err == nil {
			res.RelationshipUpdated = true
		}
	case "save_user":
		err = p.sink.SaveUser(ctx, senderID, body)
	case "log_memory":
		err = p.sink.LogMemory(ctx, body)
	case "save_memory":
		err = p.sink.SaveMemoryIndex(ctx, body)
	case "discord_send":
		err = p.sink.DiscordSend(ctx, body)
	case "discord_embed":
		err = p.sink.DiscordEmbed(ctx, body)
	}
	if err != nil {
		slog.Warn("tag side effect failed", "tag", name, "error", err)
	}
}
