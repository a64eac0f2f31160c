package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
)

func newTestConsumer(clk *fakeClock) (*streamConsumer, *recordingRouter) {
	router := &recordingRouter{}
	sc := newStreamConsumer(context.Background(), router, "discord", "c1", clk.Now)
	return sc, router
}

func joinChunks(router *recordingRouter) string {
	var b strings.Builder
	for _, m := range router.byType(bus.TypeChunk) {
		b.WriteString(m.Content)
	}
	return b.String()
}

func TestStreamFirstChunkFlushesImmediately(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	sc.OnChunk(providers.StreamChunk{Content: "hello "})

	chunks := router.byType(bus.TypeChunk)
	if len(chunks) != 1 || chunks[0].Content != "hello " {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestStreamFlushBySize(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	sc.OnChunk(providers.StreamChunk{Content: "hi "}) // immediate first flush
	sc.OnChunk(providers.StreamChunk{Content: strings.Repeat("a", 100)})
	sc.OnChunk(providers.StreamChunk{Content: strings.Repeat("b", 100)})
	if got := len(router.byType(bus.TypeChunk)); got != 1 {
		t.Fatalf("flushed early at %d chunks, want buffering until threshold", got)
	}

	sc.OnChunk(providers.StreamChunk{Content: strings.Repeat("c", 100)})
	chunks := router.byType(bus.TypeChunk)
	if len(chunks) != 2 {
		t.Fatalf("chunk events = %d, want 2", len(chunks))
	}
	if len(chunks[1].Content) != 300 {
		t.Errorf("second flush length = %d, want 300", len(chunks[1].Content))
	}
}

func TestStreamFlushByTime(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	sc.OnChunk(providers.StreamChunk{Content: "first "})
	sc.OnChunk(providers.StreamChunk{Content: "pending"})
	if got := len(router.byType(bus.TypeChunk)); got != 1 {
		t.Fatalf("premature flush, events = %d", got)
	}

	clk.Advance(100 * time.Millisecond)
	sc.OnChunk(providers.StreamChunk{Content: "!"})

	chunks := router.byType(bus.TypeChunk)
	if len(chunks) != 2 || chunks[1].Content != "pending!" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestStreamSuppressionAcrossChunks(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	sc.OnChunk(providers.StreamChunk{Content: "I did it. <save_us"})
	sc.OnChunk(providers.StreamChunk{Content: "er>likes tea</save_u"})
	sc.OnChunk(providers.StreamChunk{Content: "ser> Cheers!"})
	sc.Finish()

	display := joinChunks(router)
	if display != "I did it.  Cheers!" {
		t.Errorf("display = %q", display)
	}
	if strings.Contains(display, "likes tea") {
		t.Errorf("tag body leaked: %q", display)
	}
	activities := router.byType(bus.TypeActivity)
	if len(activities) != 1 || !strings.Contains(activities[0].Content, "save_user") {
		t.Errorf("activities = %+v", activities)
	}
}

func TestStreamAttributeOpenerSuppressed(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	sc.OnChunk(providers.StreamChunk{Content: `done <save_user id="u1" `})
	sc.OnChunk(providers.StreamChunk{Content: `priority="high">likes tea</save_user> bye`})
	sc.Finish()

	display := joinChunks(router)
	if strings.Contains(display, "likes tea") || strings.Contains(display, "priority") {
		t.Errorf("attribute opener leaked: %q", display)
	}
	if display != "done  bye" {
		t.Errorf("display = %q", display)
	}
	activities := router.byType(bus.TypeActivity)
	if len(activities) != 1 || !strings.Contains(activities[0].Content, "save_user") {
		t.Errorf("activities = %+v", activities)
	}
}

func TestStreamTagNamePrefixRendersAsText(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	const text = "see <save_userdata> for details"
	sc.OnChunk(providers.StreamChunk{Content: text})
	sc.Finish()

	if display := joinChunks(router); display != text {
		t.Errorf("display = %q, want %q", display, text)
	}
	if got := len(router.byType(bus.TypeActivity)); got != 0 {
		t.Errorf("unexpected activity events: %d", got)
	}
}

func TestStreamUnterminatedTagStaysHidden(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	sc.OnChunk(providers.StreamChunk{Content: "ok <log_memory>secret stuff"})
	sc.Finish()

	display := joinChunks(router)
	if display != "ok " {
		t.Errorf("display = %q", display)
	}
	if got := len(router.byType(bus.TypeActivity)); got != 1 {
		t.Errorf("activity events = %d, want 1", got)
	}
}

func TestStreamDanglingPartialOpenerIsText(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	sc.OnChunk(providers.StreamChunk{Content: "costs <sa"})
	sc.Finish()

	if display := joinChunks(router); display != "costs <sa" {
		t.Errorf("display = %q", display)
	}
}

func TestStreamPlainAngleBrackets(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	const text = "2 < 3 and <b>bold</b> renders fine"
	sc.OnChunk(providers.StreamChunk{Content: text})
	sc.Finish()

	if display := joinChunks(router); display != text {
		t.Errorf("display = %q, want %q", display, text)
	}
	if got := len(router.byType(bus.TypeActivity)); got != 0 {
		t.Errorf("unexpected activity events: %d", got)
	}
}

func TestStreamCumulativeContentDedupe(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	// Providers that re-send the whole accumulated text per chunk.
	sc.OnChunk(providers.StreamChunk{Content: "Hel"})
	sc.OnChunk(providers.StreamChunk{Content: "Hello"})
	sc.OnChunk(providers.StreamChunk{Content: "Hello"}) // no new text
	sc.OnChunk(providers.StreamChunk{Content: "Hello world"})
	sc.Finish()

	if display := joinChunks(router); display != "Hello world" {
		t.Errorf("display = %q, want %q", display, "Hello world")
	}
}

func TestStreamThinkingPassThrough(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	sc.OnChunk(providers.StreamChunk{Thinking: "weighing options"})
	sc.OnChunk(providers.StreamChunk{Content: "Answer."})
	sc.Finish()

	thinks := router.byType(bus.TypeThinking)
	if len(thinks) != 1 || thinks[0].Content != "weighing options" {
		t.Fatalf("thinking events = %+v", thinks)
	}
	if display := joinChunks(router); display != "Answer." {
		t.Errorf("display = %q", display)
	}
}

func TestStreamResetClearsState(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	sc.OnChunk(providers.StreamChunk{Content: "partial answer <save_mood>hap"})
	sc.reset()
	sc.OnChunk(providers.StreamChunk{Content: "partial answer"})
	sc.Finish()

	chunks := router.byType(bus.TypeChunk)
	if len(chunks) != 2 {
		t.Fatalf("chunk events = %d, want 2 (one per attempt)", len(chunks))
	}
	if chunks[1].Content != "partial answer" {
		t.Errorf("post-reset flush = %q", chunks[1].Content)
	}
}

func TestStreamToolEnvelopeSuppressed(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sc, router := newTestConsumer(clk)

	sc.OnChunk(providers.StreamChunk{Content: "On it. <|tool_call_begin|>echo{\"a\":1}<|tool_call_end|>"})
	sc.Finish()

	if display := joinChunks(router); display != "On it. " {
		t.Errorf("display = %q", display)
	}
	activities := router.byType(bus.TypeActivity)
	if len(activities) != 1 || !strings.Contains(activities[0].Content, "tool call") {
		t.Errorf("activities = %+v", activities)
	}
}

func TestDecodeBareJSONCall(t *testing.T) {
	known := func(name string) bool { return name == "echo" }

	cases := []struct {
		name     string
		content  string
		wantCall bool
		wantArgs string
	}{
		{"object args", `{"name":"echo","arguments":{"text":"hi"}}`, true, `{"text":"hi"}`},
		{"parameters key", `{"name":"echo","parameters":{"x":1}}`, true, `{"x":1}`},
		{"string-encoded args", `{"name":"echo","arguments":"{\"text\":\"hi\"}"}`, true, `{"text":"hi"}`},
		{"missing args", `{"name":"echo"}`, true, `{}`},
		{"fenced", "```json\n{\"name\":\"echo\",\"arguments\":{}}\n```", true, `{}`},
		{"unknown tool", `{"name":"mystery","arguments":{}}`, false, ""},
		{"ordinary json answer", `{"result": 42}`, false, ""},
		{"prose", "just a normal reply", false, ""},
		{"json with trailing prose", `{"name":"echo"} and then some`, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls, cleaned := decodeFallbackToolCalls(tc.content, known)
			if tc.wantCall {
				if len(calls) != 1 {
					t.Fatalf("calls = %+v", calls)
				}
				if calls[0].Name != "echo" || calls[0].Arguments != tc.wantArgs {
					t.Errorf("call = %+v, want args %q", calls[0], tc.wantArgs)
				}
				if cleaned != "" {
					t.Errorf("cleaned = %q, want empty", cleaned)
				}
				if calls[0].ID == "" {
					t.Errorf("call needs a synthetic id")
				}
			} else {
				if len(calls) != 0 {
					t.Fatalf("unexpected calls: %+v", calls)
				}
				if cleaned != tc.content {
					t.Errorf("content must pass through untouched, got %q", cleaned)
				}
			}
		})
	}
}

func TestDecodeEnvelopeCalls(t *testing.T) {
	known := func(string) bool { return false } // envelope decoding ignores the registry

	t.Run("full section", func(t *testing.T) {
		content := "<|tool_calls_section_begin|><|tool_call_begin|>functions.echo:0<|tool_call_argument_begin|>{\"text\":\"hi\"}<|tool_call_end|><|tool_calls_section_end|>"
		calls, cleaned := decodeFallbackToolCalls(content, known)
		if len(calls) != 1 || calls[0].Name != "echo" || calls[0].Arguments != `{"text":"hi"}` {
			t.Fatalf("calls = %+v", calls)
		}
		if cleaned != "" {
			t.Errorf("cleaned = %q", cleaned)
		}
	})

	t.Run("bare envelope with surrounding text", func(t *testing.T) {
		content := "Let me check. <|tool_call_begin|>echo{\"a\":1}<|tool_call_end|> done"
		calls, cleaned := decodeFallbackToolCalls(content, known)
		if len(calls) != 1 || calls[0].Name != "echo" || calls[0].Arguments != `{"a":1}` {
			t.Fatalf("calls = %+v", calls)
		}
		if cleaned != "Let me check.  done" {
			t.Errorf("cleaned = %q", cleaned)
		}
	})

	t.Run("two calls", func(t *testing.T) {
		content := "<|tool_call_begin|>echo:0<|tool_call_argument_begin|>{\"a\":1}<|tool_call_end|><|tool_call_begin|>echo:1<|tool_call_argument_begin|>{\"b\":2}<|tool_call_end|>"
		calls, _ := decodeFallbackToolCalls(content, known)
		if len(calls) != 2 {
			t.Fatalf("calls = %+v", calls)
		}
		if calls[0].Arguments != `{"a":1}` || calls[1].Arguments != `{"b":2}` {
			t.Errorf("arguments out of order: %+v", calls)
		}
	})

	t.Run("unknown names pass through for executor feedback", func(t *testing.T) {
		content := "<|tool_call_begin|>mystery<|tool_call_argument_begin|>{}<|tool_call_end|>"
		calls, _ := decodeFallbackToolCalls(content, known)
		if len(calls) != 1 || calls[0].Name != "mystery" {
			t.Fatalf("calls = %+v", calls)
		}
	})

	t.Run("unterminated envelope yields no calls", func(t *testing.T) {
		content := "text <|tool_call_begin|>echo{"
		calls, cleaned := decodeFallbackToolCalls(content, known)
		if len(calls) != 0 {
			t.Fatalf("calls = %+v", calls)
		}
		if cleaned != content {
			t.Errorf("cleaned = %q, want original", cleaned)
		}
	})

	t.Run("empty args default", func(t *testing.T) {
		content := "<|tool_call_begin|>echo<|tool_call_end|>"
		calls, _ := decodeFallbackToolCalls(content, known)
		if len(calls) != 1 || calls[0].Arguments != "{}" {
			t.Fatalf("calls = %+v", calls)
		}
	})
}

func TestScrubAssistantText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<think>internal</think>Answer", "Answer"},
		{"<thinking>x</thinking> hi ", "hi"},
		{"<THINK>a\nb</THINK>ok", "ok"},
		{"  plain  ", "plain"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := scrubAssistantText(tc.in); got != tc.want {
			t.Errorf("scrubAssistantText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPartialSuffix(t *testing.T) {
	cases := []struct {
		text   string
		marker string
		want   string
	}{
		{"abc<sa", "<save_user>", "<sa"},
		{"xyz", "<tag>", ""},
		{"text<", "<x>", "<"},
		{"body</save_u", "</save_user>", "</save_u"},
		{"</save_user", "</save_user>", "</save_user"},
	}
	for _, tc := range cases {
		if got := partialSuffix(tc.text, tc.marker); got != tc.want {
			t.Errorf("partialSuffix(%q, %q) = %q, want %q", tc.text, tc.marker, got, tc.want)
		}
	}
}
