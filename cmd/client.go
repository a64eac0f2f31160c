package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/config"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/pkg/protocol"
)

// gatewayClient is the CLI side of the control surface: one WebSocket
// connection, request/response matching by id, events handed to an optional
// callback as they arrive.
type gatewayClient struct {
	conn    *websocket.Conn
	onEvent func(protocol.Frame)
}

func dialGateway(cfg *config.Config) (*gatewayClient, error) {
	wsURL := fmt.Sprintf("ws://%s:%d/ws", cfg.Gateway.Host, cfg.Gateway.Port)

	header := http.Header{}
	if cfg.Gateway.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Gateway.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("connect to gateway at %s: %w", wsURL, err)
	}
	return &gatewayClient{conn: conn}, nil
}

func (c *gatewayClient) Close() error {
	return c.conn.Close()
}

// call sends one request and reads frames until its response arrives.
// Event frames seen along the way go to onEvent.
func (c *gatewayClient) call(method string, params, payload interface{}) error {
	reqID := uuid.NewString()[:8]
	frame, err := protocol.NewRequest(reqID, method, params)
	if err != nil {
		return err
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	for {
		var resp protocol.Frame
		if err := c.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		switch resp.Type {
		case protocol.TypeEvent:
			if c.onEvent != nil {
				c.onEvent(resp)
			}
		case protocol.TypeResponse:
			if resp.ID != reqID {
				continue
			}
			if !resp.Succeeded() {
				if resp.Error != nil {
					return resp.Error
				}
				return fmt.Errorf("%s failed", method)
			}
			if payload != nil {
				return resp.DecodePayload(payload)
			}
			return nil
		}
	}
}

// next blocks for the next server-pushed event frame.
func (c *gatewayClient) next() (protocol.Frame, error) {
	for {
		var frame protocol.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return protocol.Frame{}, err
		}
		if frame.Type == protocol.TypeEvent {
			return frame, nil
		}
	}
}

// decodeChat extracts the outbound-message payload from a chat event.
func decodeChat(frame protocol.Frame) (chatPayload, bool) {
	if frame.Event != protocol.EventChat {
		return chatPayload{}, false
	}
	var msg chatPayload
	if err := json.Unmarshal(frame.Payload, &msg); err != nil {
		return chatPayload{}, false
	}
	return msg, true
}

// chatPayload mirrors the bus outbound shape on the wire without importing
// the runtime packages into thin clients.
type chatPayload struct {
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

func (p chatPayload) Type() string {
	if t := p.Metadata["type"]; t != "" {
		return t
	}
	return "message"
}
