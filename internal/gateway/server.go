// Package gateway is the WebSocket control surface: one endpoint serving
// request/response control methods plus server-pushed events. Outbound
// traffic for the web channel fans out here to every connected client.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/channels"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/config"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/cron"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/sessions"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/skills"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/pkg/protocol"
)

// SessionAdmin is the slice of the session manager the control surface uses.
type SessionAdmin interface {
	List() []sessions.Session
	DeleteMany(keys []string) error
}

// JobAdmin is the slice of the cron store the control surface uses.
type JobAdmin interface {
	Add(job cron.Job) (string, error)
	Remove(id string) (bool, error)
	List() []cron.Job
}

// CacheAdmin exposes the tool cache to cache_clear and status.
type CacheAdmin interface {
	Len() int
	Clear()
}

// SkillAdmin exposes the skill manager to the skills_* methods.
type SkillAdmin interface {
	List() []skills.Status
	Enable(name string) error
	Disable(name string) error
}

// Confirmer resolves pending sensitive-tool confirmations.
type Confirmer interface {
	Resolve(confID string, approved bool) bool
}

// ChannelAdmin reports transport run state for status.
type ChannelAdmin interface {
	Statuses() []channels.Status
}

// SinkRegistrar lets the server claim the web channel's outbound sink.
type SinkRegistrar interface {
	RegisterSink(name string, sink bus.Sink)
}

// Deps wires the control surface into the runtime. Nil fields degrade to
// empty answers or method errors rather than panics, so a partially wired
// runtime can still serve status.
type Deps struct {
	Version    string
	StartedAt  time.Time
	Model      string
	ConfigHash func() string

	Router bus.MessageRouter
	Events bus.EventPublisher
	Sinks  SinkRegistrar

	Sessions SessionAdmin
	Jobs     JobAdmin
	Cache    CacheAdmin
	Channels ChannelAdmin
	Skills   SkillAdmin
	Confirm  Confirmer

	Cancel    func(sessionKey string) bool
	Subagents func() int

	Restart  func()
	Shutdown func()

	Tailscale config.TailscaleConfig
}

// Server owns the WebSocket clients and the HTTP listener.
type Server struct {
	cfg  config.GatewayConfig
	deps Deps

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	seq        atomic.Int64
	httpServer *http.Server
}

func NewServer(cfg config.GatewayConfig, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The token is the gate; CLI and SDK clients send no Origin header.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	if deps.Sinks != nil {
		deps.Sinks.RegisterSink(bus.WebChannelName, bus.SinkFunc(s.deliverWeb))
	}
	return s
}

// Start serves /ws and /health until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.startTailscale(ctx, mux); err != nil {
		slog.Warn("tailscale listener unavailable", "error", err)
	}

	slog.Info("gateway listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(conn, s)
	s.register(client)
	defer func() {
		s.unregister(client)
		client.close()
	}()

	client.run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.Version)
}

// authorized checks the gateway token. An empty configured token means the
// listener is trusted (loopback or tailnet) and every client is admitted.
func (s *Server) authorized(r *http.Request) bool {
	token := s.cfg.Token
	if token == "" {
		return true
	}
	presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if presented == "" {
		presented = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	if s.deps.Events != nil {
		s.deps.Events.Subscribe(c.id, func(event bus.Event) {
			frame, err := protocol.NewEvent(s.seq.Add(1), event.Name, event.Payload)
			if err != nil {
				slog.Error("marshal event", "event", event.Name, "error", err)
				return
			}
			c.sendFrame(frame)
		})
	}
	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	if s.deps.Events != nil {
		s.deps.Events.Unsubscribe(c.id)
	}
	slog.Info("client disconnected", "id", c.id)
}

// deliverWeb is the web channel's sink: every outbound message becomes a
// chat event on all connected clients.
func (s *Server) deliverWeb(_ context.Context, msg bus.OutboundMessage) error {
	frame, err := protocol.NewEvent(s.seq.Add(1), protocol.EventChat, msg)
	if err != nil {
		return fmt.Errorf("marshal chat event: %w", err)
	}
	s.broadcast(frame)
	return nil
}

func (s *Server) broadcast(frame protocol.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshal broadcast frame", "error", err)
		return
	}
	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(data)
	}
}

// ClientCount reports the number of connected control clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// StartTestServer binds a random loopback port and returns the address and
// a blocking start function. Integration tests dial addr directly.
func StartTestServer(ctx context.Context, s *Server) (addr string, start func()) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.httpServer.Shutdown(shutdownCtx)
		}()
		_ = s.httpServer.Serve(ln)
	}
	return addr, start
}
