package tools

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultConfirmTTL = 300 * time.Second

// PendingConfirmation is one sensitive tool call waiting for a human
// decision. The decision channel is buffered and resolve is guarded by a
// sync.Once, so racing resolvers (user approves while the TTL expires)
// cannot double-send.
type PendingConfirmation struct {
	ID         string    `json:"conf_id"`
	SessionKey string    `json:"session_key"`
	ToolName   string    `json:"tool_name"`
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`

	decision chan bool
	once     sync.Once
}

func (p *PendingConfirmation) resolve(approved bool) {
	p.once.Do(func() { p.decision <- approved })
}

// ConfirmationManager tracks pending confirmations across sessions.
type ConfirmationManager struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]*PendingConfirmation
	now     func() time.Time
}

func NewConfirmationManager(ttl time.Duration) *ConfirmationManager {
	if ttl <= 0 {
		ttl = defaultConfirmTTL
	}
	return &ConfirmationManager{
		ttl:     ttl,
		pending: make(map[string]*PendingConfirmation),
		now:     time.Now,
	}
}

// Create registers a new pending confirmation and returns it.
func (m *ConfirmationManager) Create(sessionKey, toolName, summary string) *PendingConfirmation {
	now := m.now()
	p := &PendingConfirmation{
		ID:         "conf_" + uuid.NewString()[:8],
		SessionKey: sessionKey,
		ToolName:   toolName,
		Summary:    summary,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		decision:   make(chan bool, 1),
	}
	m.mu.Lock()
	m.pending[p.ID] = p
	m.mu.Unlock()
	return p
}

// Await blocks until the confirmation is resolved, its TTL expires, or ctx
// is canceled. Expiry and cancellation count as denial.
func (m *ConfirmationManager) Await(ctx context.Context, p *PendingConfirmation) bool {
	defer m.remove(p.ID)

	wait := time.Until(p.ExpiresAt)
	if wait <= 0 {
		return false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case approved := <-p.decision:
		return approved
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Resolve approves or denies one confirmation by id.
func (m *ConfirmationManager) Resolve(confID string, approved bool) bool {
	m.mu.Lock()
	p, ok := m.pending[confID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.resolve(approved)
	return true
}

// ResolveSession resolves every pending confirmation for a session. Returns
// how many were resolved. Used by the conversational approve/deny flow,
// where the user answers without naming a conf_id.
func (m *ConfirmationManager) ResolveSession(sessionKey string, approved bool) int {
	m.mu.Lock()
	var targets []*PendingConfirmation
	for _, p := range m.pending {
		if p.SessionKey == sessionKey {
			targets = append(targets, p)
		}
	}
	m.mu.Unlock()

	for _, p := range targets {
		p.resolve(approved)
	}
	return len(targets)
}

// HasPending reports whether a session has unresolved confirmations.
func (m *ConfirmationManager) HasPending(sessionKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.SessionKey == sessionKey {
			return true
		}
	}
	return false
}

// List returns all pending confirmations, oldest first.
func (m *ConfirmationManager) List() []*PendingConfirmation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*PendingConfirmation, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *ConfirmationManager) remove(confID string) {
	m.mu.Lock()
	delete(m.pending, confID)
	m.mu.Unlock()
}
