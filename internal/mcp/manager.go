// Package mcp connects the configured MCP servers and merges their remote
// tools into the registry as swappable groups, one per server, with
// mcp_{server}_{tool} naming. A server that fails to connect never blocks
// startup; its error is kept for the status surface.
package mcp

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/config"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
)

const (
	pingInterval         = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
	defaultCallTimeout   = 60 * time.Second
)

// ServerStatus reports one server's connection state.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

type serverState struct {
	cfg       config.MCPServerConfig
	client    *mcpclient.Client
	connected atomic.Bool
	cancel    context.CancelFunc

	mu        sync.Mutex
	toolCount int
	lastErr   string
}

func (ss *serverState) markHealthy() {
	ss.connected.Store(true)
	ss.mu.Lock()
	ss.lastErr = ""
	ss.mu.Unlock()
}

func (ss *serverState) markUnhealthy(err error) {
	ss.connected.Store(false)
	ss.mu.Lock()
	ss.lastErr = err.Error()
	ss.mu.Unlock()
}

// Manager owns the MCP server connections and their registry groups.
type Manager struct {
	registry *tools.Registry
	configs  []config.MCPServerConfig

	mu      sync.RWMutex
	servers map[string]*serverState
}

func NewManager(registry *tools.Registry, servers []config.MCPServerConfig) *Manager {
	return &Manager{
		registry: registry,
		configs:  servers,
		servers:  make(map[string]*serverState),
	}
}

// Start connects every configured server. A failed server logs a warning
// and is recorded as disconnected; the rest proceed.
func (m *Manager) Start(ctx context.Context) {
	for _, cfg := range m.configs {
		if cfg.Name == "" {
			slog.Warn("mcp server without a name skipped")
			continue
		}
		if err := m.connect(ctx, cfg); err != nil {
			slog.Warn("mcp server connect failed", "server", cfg.Name, "error", err)
			m.mu.Lock()
			m.servers[cfg.Name] = &serverState{cfg: cfg, lastErr: err.Error()}
			m.mu.Unlock()
		}
	}
}

// Stop closes every connection and drops the registered tool groups.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("mcp server close", "server", name, "error", err)
			}
		}
		m.registry.RemoveGroup(groupName(name))
	}
	m.servers = make(map[string]*serverState)
}

// Statuses reports every configured server sorted by name.
func (m *Manager) Statuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		out = append(out, ServerStatus{
			Name:      ss.cfg.Name,
			Transport: transportName(ss.cfg.Transport),
			Connected: ss.connected.Load(),
			ToolCount: ss.toolCount,
			Error:     ss.lastErr,
		})
		ss.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func groupName(server string) string { return "mcp:" + server }

func transportName(t string) string {
	if t == "" {
		return "stdio"
	}
	return t
}
