package bus

import "context"

// InboundMessage represents a message received from a channel (console, web, etc.)
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"` // file paths or base64 data URIs
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SessionKey derives the conversation identity for this message:
// "{channel}_{chat_id}" with filesystem-unsafe characters substituted.
func (m InboundMessage) SessionKey() string {
	return BuildSessionKey(m.Channel, m.ChatID)
}

// OutboundMessage represents a message to be delivered to a channel sink.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"` // carries at least "type"
}

// Type returns metadata["type"], defaulting to TypeMessage for untyped sends.
func (m OutboundMessage) Type() string {
	if t, ok := m.Metadata["type"]; ok && t != "" {
		return t
	}
	return TypeMessage
}

// MediaAttachment represents a media file sent with a message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or URL
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg")
	Caption     string `json:"caption,omitempty"`
}

// Outbound metadata "type" values. Sinks must render unknown types as plain text.
const (
	TypeMessage        = "message"
	TypeChunk          = "chunk"
	TypeThinking       = "thinking"
	TypeTyping         = "typing"
	TypeStopTyping     = "stop_typing"
	TypeToolExecution  = "tool_execution"
	TypeActivity       = "activity"
	TypeFile           = "file"
	TypeEmbed          = "embed"
	TypeNotification   = "notification"
	TypeRateLimitError = "rate_limit_error"
	TypeCancellation   = "cancellation"

	// Transport pairing traffic. Emitted by channels that authenticate via
	// QR handshake; everywhere else they render as status lines.
	TypeWhatsAppQR     = "whatsapp_qr"
	TypeWhatsAppStatus = "whatsapp_status"
)

// WebChannelName is the reserved sink name for the web console. Tool
// activity from other channels is mirrored here for observability.
const WebChannelName = "web"

// Event represents a server-side event broadcast to gateway clients
// (confirmation requests, lifecycle notices). Distinct from chat traffic.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// Event names used across the runtime.
const (
	EventConfirmationRequest = "confirmation_request"
	EventLifecycle           = "lifecycle"
	EventSkillsReloaded      = "skills_reloaded"
)

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and the tool executor to decouple from MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Sink consumes outbound messages for a single transport. Deliver errors are
// per-message: the dispatcher logs and drops, it never stops the sink.
type Sink interface {
	Deliver(ctx context.Context, msg OutboundMessage) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, msg OutboundMessage) error

func (f SinkFunc) Deliver(ctx context.Context, msg OutboundMessage) error {
	return f(ctx, msg)
}

// MessageRouter abstracts inbound/outbound routing between channels and the
// orchestrator runtime.
type MessageRouter interface {
	PublishInbound(ctx context.Context, msg InboundMessage) error
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(ctx context.Context, msg OutboundMessage) error
}
