package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
)

// SendMessageTool delivers a message to a conversation out of turn, e.g.
// pinging another channel or chat while working on a task.
type SendMessageTool struct {
	router bus.MessageRouter
}

func NewSendMessageTool(router bus.MessageRouter) *SendMessageTool {
	return &SendMessageTool{router: router}
}

func (t *SendMessageTool) Name() string { return "send_message" }
func (t *SendMessageTool) Description() string {
	return "Send a message to a chat immediately, outside the normal reply. Defaults to the current conversation."
}
func (t *SendMessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Text to send",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Target channel (default: current channel)",
			},
			"chat_id": map[string]interface{}{
				"type":        "string",
				"description": "Target chat id (default: current chat)",
			},
		},
		"required": []string{"message"},
	}
}

func (t *SendMessageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return ErrorResult("message is required")
	}

	channel, _ := args["channel"].(string)
	if channel == "" {
		channel = ToolChannelFromCtx(ctx)
	}
	chatID, _ := args["chat_id"].(string)
	if chatID == "" {
		chatID = ToolChatIDFromCtx(ctx)
	}
	if channel == "" || chatID == "" {
		return ErrorResult("channel and chat_id could not be determined")
	}

	err := t.router.PublishOutbound(ctx, bus.OutboundMessage{
		Channel:  channel,
		ChatID:   chatID,
		Content:  message,
		Metadata: map[string]string{"type": bus.TypeMessage},
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: send failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("Message sent to %s/%s", channel, chatID))
}
