package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
)

const schedulerPrefix = "[SCHEDULER] "

// Scheduler ticks over the job store and fires due jobs as synthetic
// inbound messages. Firings are detached goroutines so a slow pipeline
// never blocks the tick.
type Scheduler struct {
	store  *Store
	msgBus *bus.MessageBus

	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the tick interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

func NewScheduler(store *Store, msgBus *bus.MessageBus, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		msgBus:       msgBus,
		now:          time.Now,
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the tick loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit. In-flight firings are
// detached and not awaited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// RunOnce fires all currently-due jobs. Exposed for tests and the CLI.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	due := s.store.TakeDue(s.now())
	for _, job := range due {
		job := job
		go s.fire(ctx, job)
	}
	return len(due)
}

func (s *Scheduler) fire(ctx context.Context, job Job) {
	sender := job.Context.SenderID
	if sender == "" {
		sender = "scheduler"
	}
	msg := bus.InboundMessage{
		Channel:  job.Context.Channel,
		SenderID: sender,
		ChatID:   job.Context.ChatID,
		Content:  schedulerPrefix + job.Payload,
		Metadata: map[string]string{"job_id": job.ID},
	}
	if err := s.msgBus.PublishInbound(ctx, msg); err != nil {
		slog.Warn("scheduled job delivery failed", "id", job.ID, "error", err)
		return
	}
	slog.Info("scheduled job fired", "id", job.ID, "session", msg.SessionKey(), "recurring", job.Recurring())
}
