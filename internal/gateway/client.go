package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/pkg/protocol"
)

const (
	writeWait  = 2 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 1 << 20
	sendBuffer = 64
	rateBurst  = 5
)

// Client is one WebSocket connection. The write pump is the only goroutine
// touching the connection for writes; everything else goes through send.
type Client struct {
	id      string
	conn    *websocket.Conn
	srv     *Server
	limiter *rate.Limiter

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, srv *Server) *Client {
	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		srv:  srv,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if rpm := srv.cfg.RateLimitRPM; rpm > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(rpm))/60, rateBurst)
	}
	return c
}

func (c *Client) run(ctx context.Context) {
	go c.writeLoop()
	c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("client read ended", "id", c.id, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.sendFrame(protocol.NewErrorResponse("", "rate_limited", "request rate limit exceeded"))
			continue
		}
		c.srv.dispatch(ctx, c, data)
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue hands a marshaled frame to the write pump without blocking. A
// full buffer means the peer stopped reading; the connection is dropped.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		slog.Warn("send buffer full, dropping client", "id", c.id)
		c.close()
	}
}

func (c *Client) sendFrame(frame protocol.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshal frame", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
