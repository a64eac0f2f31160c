package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

const defaultQueueSize = 256

// ErrStopped is returned by publish methods after Stop.
var ErrStopped = errors.New("bus: stopped")

// ErrNoSink is returned when an outbound message targets an unregistered sink.
var ErrNoSink = errors.New("bus: no sink registered for channel")

// MessageBus is the in-process pub/sub backbone: one bounded inbound queue
// consumed by the orchestrator, and one bounded outbound queue per registered
// sink. Each sink gets its own dispatcher goroutine, so delivery is FIFO per
// sink while slow sinks never stall each other. Producers block for queue
// space instead of dropping.
type MessageBus struct {
	inbound chan InboundMessage
	done    chan struct{}

	mu    sync.RWMutex
	sinks map[string]*sinkQueue
	subs  map[string]EventHandler

	stopOnce sync.Once
	wg       sync.WaitGroup
}

type sinkQueue struct {
	name string
	ch   chan OutboundMessage
	sink Sink
}

// New creates a MessageBus with the default queue capacity.
func New() *MessageBus {
	return NewWithCapacity(defaultQueueSize)
}

// NewWithCapacity creates a MessageBus with explicit queue capacity.
// Capacity below 1 is clamped to 1.
func NewWithCapacity(capacity int) *MessageBus {
	if capacity < 1 {
		capacity = 1
	}
	return &MessageBus{
		inbound: make(chan InboundMessage, capacity),
		done:    make(chan struct{}),
		sinks:   make(map[string]*sinkQueue),
		subs:    make(map[string]EventHandler),
	}
}

// RegisterSink subscribes a named sink and starts its dispatcher. Registering
// the same name twice swaps the sink for future messages but keeps the queue,
// so no in-flight message is lost.
func (b *MessageBus) RegisterSink(name string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.sinks[name]; ok {
		q.sink = sink
		return
	}
	q := &sinkQueue{name: name, ch: make(chan OutboundMessage, cap(b.inbound)), sink: sink}
	b.sinks[name] = q
	b.wg.Add(1)
	go b.dispatch(q)
}

// dispatch drains one sink queue until Stop, then drains whatever is still
// queued before exiting. Delivery errors are per-message: log and continue.
func (b *MessageBus) dispatch(q *sinkQueue) {
	defer b.wg.Done()
	for {
		select {
		case msg := <-q.ch:
			b.deliver(q, msg)
		case <-b.done:
			for {
				select {
				case msg := <-q.ch:
					b.deliver(q, msg)
				default:
					return
				}
			}
		}
	}
}

func (b *MessageBus) deliver(q *sinkQueue, msg OutboundMessage) {
	b.mu.RLock()
	sink := q.sink
	b.mu.RUnlock()
	if err := sink.Deliver(context.Background(), msg); err != nil {
		slog.Warn("outbound delivery failed", "sink", q.name, "type", msg.Type(), "error", err)
	}
}

// PublishInbound enqueues a message for the orchestrator, blocking for queue
// space until ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until an inbound message is available or ctx is done.
// The second return is false when the bus is stopped or ctx cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-b.done:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound routes a message to its channel's sink queue, blocking for
// queue space until ctx is done. Messages for unregistered sinks return
// ErrNoSink so producers can decide whether that matters.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	b.mu.RLock()
	q, ok := b.sinks[msg.Channel]
	b.mu.RUnlock()
	if !ok {
		return ErrNoSink
	}
	select {
	case q.ch <- msg:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers an event handler under id, replacing any previous one.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Broadcast delivers an event to every subscriber synchronously. Handlers
// must be fast; anything slow should hand off to its own goroutine.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// Stop signals shutdown and waits for every dispatcher to drain its queue.
// Publishing after Stop returns ErrStopped.
func (b *MessageBus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}
