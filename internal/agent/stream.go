package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tags"
)

const (
	// Display buffer flushes once it holds this much, or this long after the
	// previous flush, whichever comes first.
	flushChars = 256
	flushEvery = 80 * time.Millisecond

	toolCallBegin     = "<|tool_call_begin|>"
	toolCallEnd       = "<|tool_call_end|>"
	toolCallArgsBegin = "<|tool_call_argument_begin|>"
	toolSectionBegin  = "<|tool_calls_section_begin|>"
	toolSectionEnd    = "<|tool_calls_section_end|>"
)

// suppressRule hides one marker pair from user-visible output. The activity
// line goes out once when the opener is recognized. A boundary rule matches
// attribute-bearing openers too: "<save_user id=\"1\">" suppresses the same
// as "<save_user>".
type suppressRule struct {
	open     string
	close    string
	activity string
	boundary bool
}

func defaultSuppressRules() []suppressRule {
	names := tags.Names()
	rules := make([]suppressRule, 0, len(names)+2)
	for _, n := range names {
		rules = append(rules, suppressRule{
			open:     "<" + n,
			close:    "</" + n + ">",
			activity: "Processing " + n + "…",
			boundary: true,
		})
	}
	rules = append(rules,
		suppressRule{open: toolSectionBegin, close: toolSectionEnd, activity: "Preparing a tool call…"},
		suppressRule{open: toolCallBegin, close: toolCallEnd, activity: "Preparing a tool call…"},
	)
	return rules
}

// streamConsumer turns raw provider chunks into display chunks. It buffers
// for flush cadence, withholds text that may open a recognized marker, and
// swallows marker bodies entirely, replacing them with activity events. The
// full raw content still reaches the caller through the provider response.
type streamConsumer struct {
	ctx     context.Context
	router  bus.MessageRouter
	channel string
	chatID  string
	now     func() time.Time
	rules   []suppressRule

	mu        sync.Mutex
	content   strings.Builder // everything received, for dedupe
	pending   string          // received but not yet classified
	display   strings.Builder // classified as visible, not yet flushed
	suppress  int             // active rule index, -1 when none
	lastFlush time.Time
}

func newStreamConsumer(ctx context.Context, router bus.MessageRouter, channel, chatID string, now func() time.Time) *streamConsumer {
	if now == nil {
		now = time.Now
	}
	return &streamConsumer{
		ctx:      ctx,
		router:   router,
		channel:  channel,
		chatID:   chatID,
		now:      now,
		rules:    defaultSuppressRules(),
		suppress: -1,
	}
}

func (s *streamConsumer) OnChunk(chunk providers.StreamChunk) {
	if chunk.Thinking != "" {
		s.publish(bus.TypeThinking, chunk.Thinking)
	}
	if chunk.Content != "" {
		s.addContent(chunk.Content)
	}
	if chunk.Done {
		s.Finish()
	}
}

// addContent folds one delta into the buffers. Some providers re-send the
// full accumulated text each chunk instead of a delta; when the new text
// extends what we already have, only the extension counts.
func (s *streamConsumer) addContent(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	full := s.content.String()
	if full != "" && len(delta) >= len(full) && strings.HasPrefix(delta, full) {
		delta = delta[len(full):]
	}
	if delta == "" {
		return
	}
	s.content.WriteString(delta)
	s.pending += delta
	s.scanPendingLocked()
	s.maybeFlushLocked(false)
}

// Finish resolves leftover pending text and flushes. A dangling partial
// opener was ordinary text after all; an unterminated marker body stays
// hidden. Safe to call more than once.
func (s *streamConsumer) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suppress == -1 {
		s.display.WriteString(s.pending)
	}
	s.pending = ""
	s.maybeFlushLocked(true)
}

// reset clears all buffers so a provider retry starts from a clean slate.
func (s *streamConsumer) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content.Reset()
	s.pending = ""
	s.display.Reset()
	s.suppress = -1
	s.lastFlush = time.Time{}
}

func (s *streamConsumer) scanPendingLocked() {
	for {
		if s.suppress >= 0 {
			rule := s.rules[s.suppress]
			idx := strings.Index(s.pending, rule.close)
			if idx < 0 {
				s.pending = partialSuffix(s.pending, rule.close)
				return
			}
			s.pending = s.pending[idx+len(rule.close):]
			s.suppress = -1
			continue
		}

		lt := strings.IndexByte(s.pending, '<')
		if lt < 0 {
			s.display.WriteString(s.pending)
			s.pending = ""
			return
		}
		s.display.WriteString(s.pending[:lt])
		s.pending = s.pending[lt:]

		matched, partial := s.matchOpenerLocked()
		if partial {
			return
		}
		if matched {
			continue
		}
		s.display.WriteByte('<')
		s.pending = s.pending[1:]
	}
}

// matchOpenerLocked tries the rules against pending, which starts with '<'.
// A full match enters suppression and emits the activity line. A partial
// match means pending might still become an opener, so hold.
func (s *streamConsumer) matchOpenerLocked() (matched, partial bool) {
	for i, rule := range s.rules {
		if strings.HasPrefix(s.pending, rule.open) {
			if rule.boundary {
				// The opener name must end here; "<save_userx" is not a tag.
				if len(s.pending) == len(rule.open) {
					partial = true
					continue
				}
				switch s.pending[len(rule.open)] {
				case '>', ' ', '\t', '\n':
				default:
					continue
				}
			}
			s.suppress = i
			s.pending = s.pending[len(rule.open):]
			s.publish(bus.TypeActivity, rule.activity)
			return true, false
		}
		if len(s.pending) < len(rule.open) && strings.HasPrefix(rule.open, s.pending) {
			partial = true
		}
	}
	return false, partial
}

func (s *streamConsumer) maybeFlushLocked(force bool) {
	if s.display.Len() == 0 {
		return
	}
	now := s.now()
	if !force && s.display.Len() < flushChars && !s.lastFlush.IsZero() && now.Sub(s.lastFlush) < flushEvery {
		return
	}
	text := s.display.String()
	s.display.Reset()
	s.lastFlush = now
	s.publish(bus.TypeChunk, text)
}

func (s *streamConsumer) publish(typ, content string) {
	if s.router == nil {
		return
	}
	_ = s.router.PublishOutbound(s.ctx, bus.OutboundMessage{
		Channel: s.channel,
		ChatID:  s.chatID,
		Content: content,
		Metadata: map[string]string{
			"type": typ,
		},
	})
}

// partialSuffix returns the longest suffix of text that is a proper prefix of
// marker, i.e. the part that must be held back because the marker may still
// complete in a later chunk.
func partialSuffix(text, marker string) string {
	max := len(marker) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, text[len(text)-n:]) {
			return text[len(text)-n:]
		}
	}
	return ""
}

var (
	thinkTagRe      = regexp.MustCompile(`(?is)<think(?:ing)?>.*?</think(?:ing)?>`)
	envelopeIndexRe = regexp.MustCompile(`:\d+$`)
)

// scrubAssistantText removes reasoning markup some models leak into their
// final answer.
func scrubAssistantText(text string) string {
	return strings.TrimSpace(thinkTagRe.ReplaceAllString(text, ""))
}

// decodeFallbackToolCalls recovers tool calls from models that write them
// into the content body instead of the structured field. Two shapes are
// recognized: the token-marker envelope, and a bare JSON object naming a
// registered tool. Returns the calls plus the content with call text removed.
func decodeFallbackToolCalls(content string, known func(string) bool) ([]providers.ToolCall, string) {
	if calls, cleaned, ok := decodeEnvelopeCalls(content); ok {
		return calls, cleaned
	}
	if call, ok := decodeBareJSONCall(content, known); ok {
		return []providers.ToolCall{call}, ""
	}
	return nil, content
}

func decodeEnvelopeCalls(content string) ([]providers.ToolCall, string, bool) {
	if !strings.Contains(content, toolCallBegin) {
		return nil, "", false
	}
	var calls []providers.ToolCall
	var clean strings.Builder
	rest := content
	for {
		start := strings.Index(rest, toolCallBegin)
		if start < 0 {
			clean.WriteString(rest)
			break
		}
		clean.WriteString(rest[:start])
		rest = rest[start+len(toolCallBegin):]
		end := strings.Index(rest, toolCallEnd)
		if end < 0 {
			// Unterminated envelope: drop the fragment, keep prior text.
			break
		}
		if call, ok := parseEnvelopeSegment(rest[:end]); ok {
			calls = append(calls, call)
		}
		rest = rest[end+len(toolCallEnd):]
	}
	if len(calls) == 0 {
		return nil, "", false
	}
	cleaned := clean.String()
	cleaned = strings.ReplaceAll(cleaned, toolSectionBegin, "")
	cleaned = strings.ReplaceAll(cleaned, toolSectionEnd, "")
	return calls, strings.TrimSpace(cleaned), true
}

// parseEnvelopeSegment splits one envelope body into a call. The name and
// arguments are separated by the argument marker when present, otherwise by
// the first brace. Names arrive decorated as "functions.web_search:0".
func parseEnvelopeSegment(segment string) (providers.ToolCall, bool) {
	name, args := segment, ""
	if idx := strings.Index(segment, toolCallArgsBegin); idx >= 0 {
		name, args = segment[:idx], segment[idx+len(toolCallArgsBegin):]
	} else if idx := strings.IndexByte(segment, '{'); idx >= 0 {
		name, args = segment[:idx], segment[idx:]
	}
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "functions.")
	name = envelopeIndexRe.ReplaceAllString(name, "")
	if name == "" {
		return providers.ToolCall{}, false
	}
	args = strings.TrimSpace(args)
	if args == "" {
		args = "{}"
	}
	return providers.ToolCall{ID: fallbackCallID(), Name: name, Arguments: args}, true
}

// decodeBareJSONCall accepts a reply that is nothing but one JSON object
// invoking a registered tool. The registry check keeps ordinary JSON answers
// from being misread as calls.
func decodeBareJSONCall(content string, known func(string) bool) (providers.ToolCall, bool) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return providers.ToolCall{}, false
	}
	var probe struct {
		Name       string          `json:"name"`
		Arguments  json.RawMessage `json:"arguments"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(text), &probe); err != nil || probe.Name == "" {
		return providers.ToolCall{}, false
	}
	if known != nil && !known(probe.Name) {
		return providers.ToolCall{}, false
	}
	raw := probe.Arguments
	if len(raw) == 0 {
		raw = probe.Parameters
	}
	args := strings.TrimSpace(string(raw))
	if strings.HasPrefix(args, `"`) {
		// Arguments double-encoded as a JSON string.
		var unq string
		if err := json.Unmarshal([]byte(args), &unq); err == nil {
			args = unq
		}
	}
	if args == "" || args == "null" {
		args = "{}"
	}
	return providers.ToolCall{ID: fallbackCallID(), Name: probe.Name, Arguments: args}, true
}

func fallbackCallID() string {
	return "call_" + uuid.NewString()[:8]
}
