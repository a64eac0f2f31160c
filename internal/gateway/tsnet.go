//go:build tsnet

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"tailscale.com/tsnet"
)

// startTailscale exposes the gateway on the tailnet as its own node. The
// auth key comes from the environment only; state persists under the
// configured directory so the node identity survives restarts.
func (s *Server) startTailscale(ctx context.Context, handler http.Handler) error {
	cfg := s.deps.Tailscale
	if cfg.Hostname == "" {
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       cfg.StateDir,
		AuthKey:   cfg.AuthKey,
		Ephemeral: cfg.Ephemeral,
	}

	ln, err := srv.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		srv.Close()
		return fmt.Errorf("tsnet listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		if err := http.Serve(ln, handler); err != nil {
			slog.Debug("tsnet serve ended", "error", err)
		}
	}()

	slog.Info("gateway listening on tailnet", "hostname", cfg.Hostname, "port", s.cfg.Port)
	return nil
}
