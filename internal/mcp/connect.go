package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/config"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/retry"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
)

// connect dials one server, runs the MCP handshake, discovers tools, and
// registers them as the server's group.
func (m *Manager) connect(ctx context.Context, cfg config.MCPServerConfig) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	// SSE needs an explicit transport start; stdio spawns on creation.
	if transportName(cfg.Transport) != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "limebot", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{cfg: cfg, client: client}
	ss.connected.Store(true)

	group := make([]tools.Tool, 0, len(listed.Tools))
	for _, remote := range listed.Tools {
		group = append(group, &bridgeTool{
			server:    cfg.Name,
			tool:      remote,
			client:    client,
			connected: &ss.connected,
		})
	}
	m.registry.RegisterGroup(groupName(cfg.Name), group, tools.Meta{
		Class:   tools.ClassWrite,
		Timeout: defaultCallTimeout,
	})
	ss.toolCount = len(group)

	hctx, cancel := context.WithCancel(context.Background())
	ss.cancel = cancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[cfg.Name] = ss
	m.mu.Unlock()

	slog.Info("mcp server connected",
		"server", cfg.Name,
		"transport", transportName(cfg.Transport),
		"tools", len(group))
	return nil
}

func newClient(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch transportName(cfg.Transport) {
	case "stdio":
		if cfg.Command == "" {
			return nil, errors.New("stdio transport requires a command")
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	case "sse":
		if cfg.URL == "" {
			return nil, errors.New("sse transport requires a url")
		}
		return mcpclient.NewSSEMCPClient(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	s := make([]string, 0, len(env))
	for k, v := range env {
		s = append(s, k+"="+v)
	}
	return s
}

// healthLoop pings the server on an interval and drives reconnects with
// backoff when it goes quiet.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := ss.client.Ping(ctx)
			if err == nil || unimplementedPing(err) {
				ss.markHealthy()
				continue
			}
			ss.markUnhealthy(err)
			slog.Warn("mcp server unhealthy", "server", ss.cfg.Name, "error", err)

			rerr := retry.Do(ctx, retry.Exponential(maxReconnectAttempts, initialBackoff, maxBackoff), func(attempt int) error {
				slog.Info("mcp server reconnecting", "server", ss.cfg.Name, "attempt", attempt)
				return ss.client.Ping(ctx)
			})
			if rerr != nil {
				ss.markUnhealthy(rerr)
				slog.Error("mcp server unreachable", "server", ss.cfg.Name, "error", rerr)
				continue
			}
			ss.markHealthy()
			slog.Info("mcp server reconnected", "server", ss.cfg.Name)
		}
	}
}

// Servers without a ping handler answer "method not found"; they are alive.
func unimplementedPing(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "method not found")
}
