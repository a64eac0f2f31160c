// Package channels defines the transport contract between external surfaces
// and the message bus, plus the manager that runs them.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
)

// Channel is one transport. Start must return once the transport is
// listening; inbound traffic flows through the bus hook, outbound arrives
// via Send. Send must accept every outbound type and render unknown types
// as plain text. Repeated typing and stop_typing deliveries must be
// harmless.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// BaseChannel carries the shared transport state. Implementations embed it
// and publish inbound traffic through HandleMessage.
type BaseChannel struct {
	name      string
	router    bus.MessageRouter
	allowList []string
	running   atomic.Bool
}

func NewBaseChannel(name string, router bus.MessageRouter, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, router: router, allowList: allowList}
}

func (c *BaseChannel) Name() string            { return c.name }
func (c *BaseChannel) IsRunning() bool         { return c.running.Load() }
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// IsAllowed reports whether the sender passes the channel allowlist. An
// empty allowlist admits everyone. Entries match the sender id exactly;
// a leading "@" on an entry is ignored.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if senderID == allowed || senderID == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}

// HandleMessage publishes one received message to the bus, dropping senders
// the allowlist rejects.
func (c *BaseChannel) HandleMessage(ctx context.Context, senderID, chatID, content string, media []string, metadata map[string]string) error {
	if !c.IsAllowed(senderID) {
		slog.Debug("channel dropped message from disallowed sender",
			"channel", c.name, "sender", senderID)
		return nil
	}
	return c.router.PublishInbound(ctx, bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    media,
		Metadata: metadata,
	})
}
