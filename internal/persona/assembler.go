package persona

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const stableTTL = 30 * time.Second

// Channel-specific rendering guidance appended to the stable prompt.
var channelStyles = map[string]string{
	"whatsapp": "This conversation happens on WhatsApp. Replies render as plain text: keep them short, avoid markdown tables and headers, use emoji sparingly.",
	"discord":  "This conversation happens on Discord. Markdown renders fine, but keep each reply under 2000 characters; use discord_send/discord_embed tags for extra messages.",
	"web":      "This conversation happens in the web console. Full markdown rendering is available.",
	"console":  "This conversation happens in a terminal. Prefer compact plain text; avoid wide tables.",
}

// Assembler builds the system prompt in two layers: a stable part cached
// per (sender, channel), and a volatile suffix recomputed every message.
// The stable part is expensive (file reads, completeness checks), hence the
// cache; concurrent builds for the same key are collapsed.
type Assembler struct {
	store          *Store
	ttl            time.Duration
	allowedPaths   []string
	sensitiveTools []string
	toolNames      func() []string
	now            func() time.Time

	mu    sync.Mutex
	cache map[string]stableEntry
	group singleflight.Group
}

type stableEntry struct {
	prompt  string
	setup   bool
	builtAt time.Time
}

// AssemblerOption configures the assembler.
type AssemblerOption func(*Assembler)

// WithAllowedPaths lists directories the agent may touch, shown in the
// prompt so the model does not guess.
func WithAllowedPaths(paths ...string) AssemblerOption {
	return func(a *Assembler) { a.allowedPaths = append(a.allowedPaths, paths...) }
}

// WithSensitiveTools names the tools that trigger the approval flow.
func WithSensitiveTools(names ...string) AssemblerOption {
	return func(a *Assembler) { a.sensitiveTools = append(a.sensitiveTools, names...) }
}

// WithToolNames provides the current tool catalog. Late-bound so skill
// reloads are picked up on the next cache miss.
func WithToolNames(fn func() []string) AssemblerOption {
	return func(a *Assembler) {
		if fn != nil {
			a.toolNames = fn
		}
	}
}

// WithClock overrides the clock for tests.
func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

// WithStableTTL overrides the stable-part cache TTL.
func WithStableTTL(ttl time.Duration) AssemblerOption {
	return func(a *Assembler) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

func NewAssembler(store *Store, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		store:     store,
		ttl:       stableTTL,
		toolNames: func() []string { return nil },
		now:       time.Now,
		cache:     make(map[string]stableEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Stable returns the cached stable prompt for (sender, channel), rebuilding
// it when absent or older than the TTL. The second return reports setup
// mode: the persona was incomplete and the prompt is the setup interview.
func (a *Assembler) Stable(senderID, channel string) (string, bool) {
	key := senderID + "\x00" + channel

	a.mu.Lock()
	if e, ok := a.cache[key]; ok && a.now().Sub(e.builtAt) < a.ttl {
		a.mu.Unlock()
		return e.prompt, e.setup
	}
	a.mu.Unlock()

	v, _, _ := a.group.Do(key, func() (any, error) {
		e := a.build(senderID, channel)
		a.mu.Lock()
		a.cache[key] = e
		a.mu.Unlock()
		return e, nil
	})
	e := v.(stableEntry)
	return e.prompt, e.setup
}

// Invalidate drops the cached stable prompt for one sender and channel.
func (a *Assembler) Invalidate(senderID, channel string) {
	a.mu.Lock()
	delete(a.cache, senderID+"\x00"+channel)
	a.mu.Unlock()
}

// InvalidateAll drops every cached stable prompt. Used when persona files
// change on disk.
func (a *Assembler) InvalidateAll() {
	a.mu.Lock()
	a.cache = make(map[string]stableEntry)
	a.mu.Unlock()
}

func (a *Assembler) build(senderID, channel string) stableEntry {
	e := stableEntry{builtAt: a.now()}
	if !a.store.Complete() {
		e.prompt = setupInterviewPrompt
		e.setup = true
		return e
	}

	var b strings.Builder

	b.WriteString("# Who you are\n\n")
	b.WriteString(strings.TrimSpace(a.store.Soul()))
	b.WriteString("\n\n# Identity\n\n")
	b.WriteString(strings.TrimSpace(a.store.Identity()))

	if mood := strings.TrimSpace(a.store.Mood()); mood != "" {
		b.WriteString("\n\n# Current mood\n\n")
		b.WriteString(mood)
	}
	if rel := strings.TrimSpace(a.store.Relationships()); rel != "" {
		b.WriteString("\n\n# Relationships\n\n")
		b.WriteString(rel)
	}
	if profile := strings.TrimSpace(a.store.UserProfile(senderID)); profile != "" {
		b.WriteString("\n\n# About this user\n\n")
		b.WriteString(profile)
	}

	if style, ok := channelStyles[channel]; ok {
		b.WriteString("\n\n# Channel\n\n")
		b.WriteString(style)
	}

	b.WriteString("\n\n")
	b.WriteString(toolInstructions(a.toolNames()))
	b.WriteString("\n\n")
	b.WriteString(tagInstructions)

	if len(a.allowedPaths) > 0 {
		b.WriteString("\n\n# File access\n\nYou may read and write only under these paths:\n")
		for _, p := range a.allowedPaths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(a.sensitiveTools) > 0 {
		sorted := append([]string(nil), a.sensitiveTools...)
		sort.Strings(sorted)
		fmt.Fprintf(&b, "\n# Approvals\n\nThe tools %s require user approval before running unless the user has whitelisted them for this session. When a call is waiting for approval, tell the user plainly what you want to do and why.\n",
			strings.Join(sorted, ", "))
	}

	e.prompt = b.String()
	return e
}

// Volatile builds the per-message suffix: wall clock, recalled memories,
// and the episodic summary. Never cached.
func (a *Assembler) Volatile(now time.Time, memories []string, episodic string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Now\n\nCurrent time: %s\n", now.Format("Mon, 02 Jan 2006 15:04 MST"))

	if len(memories) > 0 {
		b.WriteString("\n# Recalled memories\n\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if episodic = strings.TrimSpace(episodic); episodic != "" {
		b.WriteString("\n# Recent episode\n\n")
		b.WriteString(episodic)
		b.WriteString("\n")
	}
	return b.String()
}

func toolInstructions(names []string) string {
	var b strings.Builder
	b.WriteString("# Tools\n\nCall tools through the native function-calling interface, never by writing JSON or XML into your reply. Tool results arrive as tool messages; read them before answering.")
	if len(names) > 0 {
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		b.WriteString(" Available: ")
		b.WriteString(strings.Join(sorted, ", "))
		b.WriteString(".")
	}
	return b.String()
}

const tagInstructions = `# Memory and persona tags

To update your own state, embed exactly these tags in a reply. The tag and its body are removed before the user sees the message.

- <save_soul>full new SOUL.md content</save_soul> — rewrite your core self-description.
- <save_identity>full new IDENTITY.md content</save_identity> — rewrite the Name/Style identity sheet.
- <save_mood>current mood</save_mood> — replace MOOD.md.
- <save_relationship>updated RELATIONSHIPS.md content</save_relationship>
- <save_user>what you learned about this user</save_user> — updates their profile.
- <log_memory>a fact worth remembering</log_memory> — appended to today's memory file.
- <save_memory>curated MEMORY.md content</save_memory> — rewrite the long-term memory index.
- <discord_send>text</discord_send> / <discord_embed>{"title":...,"description":...}</discord_embed> — extra Discord messages.

Use them sparingly and only with real content.`

const setupInterviewPrompt = `# First-run setup

You are a freshly installed assistant without a persona yet. Your only job in this conversation is to interview the user and then initialize yourself.

Ask, one step at a time, about:
1. Who you should be: core values, personality, boundaries, what matters.
2. A name and a communication style.

When you have enough, emit both tags in a single reply:

<save_soul>
(at least a paragraph describing your core: values, personality, boundaries, what is important and true about you)
</save_soul>

<save_identity>
Name: ...
Style: ...
(plus anything else about voice and tone)
</save_identity>

Do not claim capabilities you have not been given. Do not skip the interview even if the user asks unrelated questions; politely steer back to setup.`
