package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
)

type fakeChannel struct {
	*BaseChannel
	failStart bool

	mu       sync.Mutex
	received []bus.OutboundMessage
	stops    int
}

func newFakeChannel(name string, router bus.MessageRouter, failStart bool) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, router, nil), failStart: failStart}
}

func (f *fakeChannel) Start(ctx context.Context) error {
	if f.failStart {
		return errors.New("refused")
	}
	f.SetRunning(true)
	return nil
}

func (f *fakeChannel) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.SetRunning(false)
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeChannel) messages() []bus.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.OutboundMessage(nil), f.received...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerStartRegistersSinks(t *testing.T) {
	msgBus := bus.New()
	defer msgBus.Stop()

	m := NewManager(msgBus)
	ok := newFakeChannel("alpha", msgBus, false)
	bad := newFakeChannel("beta", msgBus, true)
	m.Register(ok)
	m.Register(bad)

	ctx := context.Background()
	m.StartAll(ctx)

	statuses := m.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if !statuses[0].Running || statuses[0].Name != "alpha" {
		t.Errorf("alpha status = %+v", statuses[0])
	}
	if statuses[1].Running {
		t.Errorf("failed channel reports running: %+v", statuses[1])
	}

	if err := msgBus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: "alpha",
		ChatID:  "c1",
		Content: "hello",
	}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "outbound delivery", func() bool { return len(ok.messages()) == 1 })
	if got := ok.messages()[0].Content; got != "hello" {
		t.Errorf("delivered content = %q", got)
	}
}

func TestManagerStoppedChannelRejectsDelivery(t *testing.T) {
	msgBus := bus.New()
	defer msgBus.Stop()

	m := NewManager(msgBus)
	ch := newFakeChannel("alpha", msgBus, false)
	m.Register(ch)

	ctx := context.Background()
	m.StartAll(ctx)
	m.StopAll(ctx)

	if err := msgBus.PublishOutbound(ctx, bus.OutboundMessage{Channel: "alpha", Content: "late"}); err != nil {
		t.Fatal(err)
	}
	// The dispatcher drops the failed delivery; nothing should arrive.
	time.Sleep(50 * time.Millisecond)
	if n := len(ch.messages()); n != 0 {
		t.Errorf("stopped channel received %d messages", n)
	}
	if ch.stops != 1 {
		t.Errorf("stops = %d, want 1", ch.stops)
	}
}

func TestManagerReplaceKeepsOrder(t *testing.T) {
	msgBus := bus.New()
	defer msgBus.Stop()

	m := NewManager(msgBus)
	m.Register(newFakeChannel("alpha", msgBus, false))
	m.Register(newFakeChannel("beta", msgBus, false))
	m.Register(newFakeChannel("alpha", msgBus, false)) // replace

	statuses := m.Statuses()
	if len(statuses) != 2 || statuses[0].Name != "alpha" || statuses[1].Name != "beta" {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestBaseChannelAllowlist(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		sender    string
		want      bool
	}{
		{"empty list admits everyone", nil, "anyone", true},
		{"exact match", []string{"alice"}, "alice", true},
		{"at-prefixed entry", []string{"@alice"}, "alice", true},
		{"rejected", []string{"alice"}, "bob", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBaseChannel("x", nil, tt.allowList)
			if got := c.IsAllowed(tt.sender); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.sender, got, tt.want)
			}
		})
	}
}

func TestHandleMessageDropsDisallowedSender(t *testing.T) {
	msgBus := bus.New()
	defer msgBus.Stop()

	c := NewBaseChannel("gate", msgBus, []string{"alice"})
	ctx := context.Background()
	if err := c.HandleMessage(ctx, "mallory", "c1", "hi", nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.HandleMessage(ctx, "alice", "c1", "hello", nil, nil); err != nil {
		t.Fatal(err)
	}

	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message")
	}
	if msg.SenderID != "alice" || msg.Content != "hello" || msg.Channel != "gate" {
		t.Errorf("inbound = %+v", msg)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if extra, ok := msgBus.ConsumeInbound(waitCtx); ok {
		t.Errorf("disallowed sender got through: %+v", extra)
	}
}
