package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
)

// Status is one channel's run state.
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// Manager owns the registered transports: it starts them, registers each as
// an outbound sink, and stops them in reverse order on shutdown.
type Manager struct {
	msgBus *bus.MessageBus

	mu       sync.Mutex
	order    []string
	channels map[string]Channel
}

func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{msgBus: msgBus, channels: make(map[string]Channel)}
}

// Register adds a channel. Registering a second channel under the same name
// replaces the first.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := ch.Name()
	if _, exists := m.channels[name]; !exists {
		m.order = append(m.order, name)
	}
	m.channels[name] = ch
}

// Get returns the channel registered under name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts every registered channel and hooks it into the bus as an
// outbound sink. A channel that fails to start is skipped with a warning;
// the rest of the runtime keeps going.
func (m *Manager) StartAll(ctx context.Context) {
	for _, ch := range m.snapshot() {
		if err := ch.Start(ctx); err != nil {
			slog.Warn("channel failed to start", "channel", ch.Name(), "error", err)
			continue
		}
		m.msgBus.RegisterSink(ch.Name(), sinkFor(ch))
		slog.Info("channel started", "channel", ch.Name())
	}
}

// StopAll stops every channel in reverse registration order.
func (m *Manager) StopAll(ctx context.Context) {
	chs := m.snapshot()
	for i := len(chs) - 1; i >= 0; i-- {
		if err := chs[i].Stop(ctx); err != nil {
			slog.Warn("channel failed to stop", "channel", chs[i].Name(), "error", err)
		}
	}
}

// Statuses reports run state in registration order.
func (m *Manager) Statuses() []Status {
	chs := m.snapshot()
	out := make([]Status, 0, len(chs))
	for _, ch := range chs {
		out = append(out, Status{Name: ch.Name(), Running: ch.IsRunning()})
	}
	return out
}

func (m *Manager) snapshot() []Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Channel, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.channels[name])
	}
	return out
}

// sinkFor adapts a channel to the bus sink contract. Deliveries to a stopped
// channel fail per-message; the dispatcher logs and moves on.
func sinkFor(ch Channel) bus.Sink {
	return bus.SinkFunc(func(ctx context.Context, msg bus.OutboundMessage) error {
		if !ch.IsRunning() {
			return fmt.Errorf("channel %s is not running", ch.Name())
		}
		return ch.Send(ctx, msg)
	})
}
