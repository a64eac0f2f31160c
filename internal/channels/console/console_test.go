package console

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
)

type fakeRouter struct {
	mu      sync.Mutex
	inbound []bus.InboundMessage
}

func (f *fakeRouter) PublishInbound(ctx context.Context, msg bus.InboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, msg)
	return nil
}

func (f *fakeRouter) ConsumeInbound(ctx context.Context) (bus.InboundMessage, bool) {
	<-ctx.Done()
	return bus.InboundMessage{}, false
}

func (f *fakeRouter) PublishOutbound(ctx context.Context, msg bus.OutboundMessage) error {
	return nil
}

func (f *fakeRouter) messages() []bus.InboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.InboundMessage(nil), f.inbound...)
}

func send(t *testing.T, c *Console, msgType, content string, meta map[string]string) {
	t.Helper()
	if meta == nil {
		meta = map[string]string{}
	}
	meta["type"] = msgType
	err := c.Send(context.Background(), bus.OutboundMessage{
		Channel:  "console",
		ChatID:   ChatID,
		Content:  content,
		Metadata: meta,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestConsoleForwardsInput(t *testing.T) {
	router := &fakeRouter{}
	var out bytes.Buffer
	c := NewWithIO(router, "", strings.NewReader("  hello there  \n\nnext\n"), &out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(router.messages()) < 2 {
		time.Sleep(5 * time.Millisecond)
	}

	msgs := router.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d inbound messages, want 2 (blank lines skipped)", len(msgs))
	}
	first := msgs[0]
	if first.Channel != "console" || first.ChatID != ChatID || first.SenderID != "operator" {
		t.Errorf("addressing = %+v", first)
	}
	if first.Content != "hello there" {
		t.Errorf("content = %q, want trimmed input", first.Content)
	}
	if msgs[1].Content != "next" {
		t.Errorf("second content = %q", msgs[1].Content)
	}
}

func TestConsoleStreamedReplyNotRepeated(t *testing.T) {
	var out bytes.Buffer
	c := NewWithIO(&fakeRouter{}, "operator", strings.NewReader(""), &out)
	c.SetRunning(true)

	send(t, c, bus.TypeChunk, "Hello the", nil)
	send(t, c, bus.TypeChunk, "re.", nil)
	send(t, c, bus.TypeMessage, "Hello there.", nil)

	got := out.String()
	if n := strings.Count(got, "Hello there."); n != 1 {
		t.Errorf("reply rendered %d times, want 1:\n%s", n, got)
	}
	if !strings.HasSuffix(got, "> ") {
		t.Errorf("prompt missing after turn:\n%q", got)
	}
}

func TestConsoleUnstreamedReplyPrints(t *testing.T) {
	var out bytes.Buffer
	c := NewWithIO(&fakeRouter{}, "operator", strings.NewReader(""), &out)
	c.SetRunning(true)

	send(t, c, bus.TypeMessage, "Short answer.", nil)
	if !strings.Contains(out.String(), "Short answer.\n") {
		t.Errorf("reply not rendered: %q", out.String())
	}
}

func TestConsoleTypingIdempotent(t *testing.T) {
	var out bytes.Buffer
	c := NewWithIO(&fakeRouter{}, "operator", strings.NewReader(""), &out)
	c.SetRunning(true)

	send(t, c, bus.TypeTyping, "", nil)
	send(t, c, bus.TypeTyping, "", nil)
	send(t, c, bus.TypeStopTyping, "", nil)
	send(t, c, bus.TypeStopTyping, "", nil)

	if n := strings.Count(out.String(), "…"); n != 1 {
		t.Errorf("typing indicator rendered %d times, want 1: %q", n, out.String())
	}
}

func TestConsoleToolLineTrimmed(t *testing.T) {
	var out bytes.Buffer
	c := NewWithIO(&fakeRouter{}, "operator", strings.NewReader(""), &out)
	c.SetRunning(true)

	send(t, c, bus.TypeToolExecution, strings.Repeat("x", 300), map[string]string{
		"tool":   "run_command",
		"status": "running",
	})

	line := strings.TrimSuffix(out.String(), "\n")
	if !strings.HasPrefix(line, "[run_command running]") {
		t.Errorf("tool line = %q", line)
	}
	if w := runewidth.StringWidth(line); w > 100 {
		t.Errorf("tool line width = %d, want <= 100", w)
	}
}

func TestConsoleActivityAndNotification(t *testing.T) {
	var out bytes.Buffer
	c := NewWithIO(&fakeRouter{}, "operator", strings.NewReader(""), &out)
	c.SetRunning(true)

	send(t, c, bus.TypeActivity, "Processing save_mood…", nil)
	send(t, c, bus.TypeNotification, "provider retrying", nil)

	got := out.String()
	if !strings.Contains(got, "· Processing save_mood") {
		t.Errorf("activity missing: %q", got)
	}
	if !strings.Contains(got, "! provider retrying") {
		t.Errorf("notification missing: %q", got)
	}
}

func TestConsolePairingStatusLines(t *testing.T) {
	var out bytes.Buffer
	c := NewWithIO(&fakeRouter{}, "operator", strings.NewReader(""), &out)
	c.SetRunning(true)

	send(t, c, bus.TypeWhatsAppQR, "scan the code at https://example.test/qr", nil)
	send(t, c, bus.TypeWhatsAppStatus, "connected", nil)

	got := out.String()
	if !strings.Contains(got, "[pairing] scan the code") {
		t.Errorf("qr line missing: %q", got)
	}
	if !strings.Contains(got, "[pairing] connected") {
		t.Errorf("status line missing: %q", got)
	}
}

func TestConsoleEmbedRendering(t *testing.T) {
	var out bytes.Buffer
	c := NewWithIO(&fakeRouter{}, "operator", strings.NewReader(""), &out)
	c.SetRunning(true)

	send(t, c, bus.TypeEmbed, `{"title":"Daily Report","description":"All green."}`, nil)
	got := out.String()
	if !strings.Contains(got, "Daily Report") || !strings.Contains(got, "All green.") {
		t.Errorf("embed not rendered: %q", got)
	}

	out.Reset()
	send(t, c, bus.TypeEmbed, "not json", nil)
	if !strings.Contains(out.String(), "not json") {
		t.Errorf("malformed embed should fall back to raw text: %q", out.String())
	}
}

func TestConsoleUnknownTypeRendersText(t *testing.T) {
	var out bytes.Buffer
	c := NewWithIO(&fakeRouter{}, "operator", strings.NewReader(""), &out)
	c.SetRunning(true)

	send(t, c, "hologram", "plain fallback", nil)
	if !strings.Contains(out.String(), "plain fallback") {
		t.Errorf("unknown type not rendered as text: %q", out.String())
	}
}

func TestConsoleCancellationEndsTurn(t *testing.T) {
	var out bytes.Buffer
	c := NewWithIO(&fakeRouter{}, "operator", strings.NewReader(""), &out)
	c.SetRunning(true)

	send(t, c, bus.TypeChunk, "partial answ", nil)
	send(t, c, bus.TypeCancellation, "Cancelled.", nil)

	got := out.String()
	if !strings.Contains(got, "Cancelled.") {
		t.Errorf("cancellation text missing: %q", got)
	}
	if !strings.HasSuffix(got, "> ") {
		t.Errorf("prompt missing after cancellation: %q", got)
	}
}
