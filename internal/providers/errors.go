package providers

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// HTTPError is a non-2xx response from an LLM backend.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // 0 when the server sent no hint
}

func (e *HTTPError) Error() string {
	if len(e.Body) > 200 {
		return fmt.Sprintf("http %d: %s...", e.Status, e.Body[:200])
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Transient reports whether err is worth retrying: rate limits, server-side
// errors, and network-level failures. Anything else (4xx, parse errors) is
// permanent.
func Transient(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Dropped connections surface as generic url.Error wrapping syscall errors.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// RateLimited reports whether err is a provider 429.
func RateLimited(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == 429
}

// ParseRetryAfter parses a Retry-After header value (delta-seconds form only).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
