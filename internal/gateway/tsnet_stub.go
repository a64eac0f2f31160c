//go:build !tsnet

package gateway

import (
	"context"
	"errors"
	"net/http"
)

// startTailscale is a no-op unless the binary was built with -tags tsnet.
func (s *Server) startTailscale(context.Context, http.Handler) error {
	if s.deps.Tailscale.Hostname != "" {
		return errors.New("tailscale configured but binary built without tsnet support")
	}
	return nil
}
