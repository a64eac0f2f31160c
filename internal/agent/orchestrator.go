// Package agent runs the per-message state machine: ingest and dedupe,
// conversational confirmation, memory recall, prompt assembly, the streaming
// tool loop, tag side effects, and persistence. One Orchestrator serves every
// channel; sessions are serialized independently.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/memory"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/persona"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/retry"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/sessions"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tags"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
)

const (
	defaultMaxToolIterations = 30
	defaultHistoryBudget     = 12000

	// History is snapshotted mid-turn after this many tool rounds, so a
	// crash inside a long loop loses at most one interval of results.
	defaultCheckpointIters = 5

	// Stale re-submissions of the same content are dropped inside this window.
	dedupeWindow = 2 * time.Second

	// Today's memory file is trimmed to its tail before prompt injection.
	episodicMaxChars = 4000

	llmRetryAttempts = 3
	llmRetryBase     = 5 * time.Second
)

// Conversational approval vocabulary. A message matching one of these (whole
// or as leading token) while confirmations are pending resolves them instead
// of starting a turn.
var (
	approveWords = []string{"proceed", "yes", "approve", "confirm", "ok", "sure", "y", "go", "run", "do it"}
	denyWords    = []string{"no", "cancel", "deny", "stop", "reject", "n", "abort", "nope"}
)

// Config wires an Orchestrator. Recaller and Memory may be nil (no recall, no
// index mirror); everything else is required.
type Config struct {
	Provider     providers.Provider
	Model        string
	SummaryModel string // model for history summarization; empty uses Model
	MaxTokens    int
	Temperature  float64

	MaxToolIterations int // per user message; default 30
	HistoryBudget     int // estimated tokens before compaction; default 12000

	Router    bus.MessageRouter
	Sessions  *sessions.Manager
	Executor  *tools.Executor
	Assembler *persona.Assembler
	Persona   *persona.Store
	Memory    *memory.Index
	Recaller  *memory.Recaller

	Clock func() time.Time // overridable for tests
}

// Orchestrator consumes inbound messages and drives one full reasoning turn
// per message under a per-session mutex.
type Orchestrator struct {
	provider     providers.Provider
	model        string
	summaryModel string
	maxTokens    int
	temperature  float64
	maxToolIters int
	budget       int
	ckptIters    int

	router    bus.MessageRouter
	sessions  *sessions.Manager
	executor  *tools.Executor
	assembler *persona.Assembler
	store     *persona.Store
	index     *memory.Index
	recaller  *memory.Recaller

	tracer   trace.Tracer
	llmRetry retry.Config
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	tasks map[string]context.CancelFunc
	seen  map[string]time.Time

	histMu    sync.Mutex
	histories map[string][]providers.Message
	dirty     map[string]bool
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		provider:     cfg.Provider,
		model:        cfg.Model,
		summaryModel: cfg.SummaryModel,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		maxToolIters: cfg.MaxToolIterations,
		budget:       cfg.HistoryBudget,
		router:       cfg.Router,
		sessions:     cfg.Sessions,
		executor:     cfg.Executor,
		assembler:    cfg.Assembler,
		store:        cfg.Persona,
		index:        cfg.Memory,
		recaller:     cfg.Recaller,
		tracer:       otel.Tracer("limebot/agent"),
		llmRetry:     retry.Exponential(llmRetryAttempts, llmRetryBase, 30*time.Second),
		now:          cfg.Clock,
		locks:        make(map[string]*sync.Mutex),
		tasks:        make(map[string]context.CancelFunc),
		seen:         make(map[string]time.Time),
		histories:    make(map[string][]providers.Message),
		dirty:        make(map[string]bool),
	}
	if o.maxToolIters <= 0 {
		o.maxToolIters = defaultMaxToolIterations
	}
	if o.budget <= 0 {
		o.budget = defaultHistoryBudget
	}
	if o.ckptIters <= 0 {
		o.ckptIters = defaultCheckpointIters
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Run consumes inbound messages until ctx is cancelled or the bus stops.
// Each message is processed on its own goroutine; the per-session mutex
// serializes conversations without stalling unrelated ones.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		msg, ok := o.router.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go o.Process(ctx, msg)
	}
}

// Process handles one inbound message end to end. Failures never propagate:
// the user gets an apology or a cancellation notice and the session stays
// consistent.
func (o *Orchestrator) Process(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()
	lock := o.sessionLock(key)

	// Stale duplicate drop applies only when the session is idle: obtaining
	// the lock immediately means no concurrent work, so a recent identical
	// payload is a re-submission, not a follow-up.
	if lock.TryLock() {
		if o.seenRecently(key, msg.Content) {
			lock.Unlock()
			slog.Debug("dropped duplicate message", "session", key)
			return
		}
	} else {
		lock.Lock()
	}
	defer lock.Unlock()
	o.markSeen(key, msg.Content)

	// Conversational approve/deny for pending confirmations. The web console
	// resolves by conf_id through the gateway instead.
	if msg.Channel != bus.WebChannelName && o.executor.Confirmations().HasPending(key) {
		if approved, ok := confirmationVerdict(msg.Content); ok {
			n := o.executor.Confirmations().ResolveSession(key, approved)
			ack := fmt.Sprintf("Approved %d pending action(s).", n)
			if !approved {
				ack = fmt.Sprintf("Cancelled %d pending action(s).", n)
			}
			o.emit(ctx, msg, bus.TypeMessage, ack)
			return
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.registerTask(key, cancel)
	defer o.unregisterTask(key)

	ctx, span := o.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("session.key", key),
		attribute.String("channel", msg.Channel),
	))
	defer span.End()

	o.emit(ctx, msg, bus.TypeTyping, "")
	defer o.emit(ctx, msg, bus.TypeStopTyping, "")

	// Recall and history load overlap; neither is allowed to fail the turn.
	var (
		snippets []string
		history  []providers.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if o.recaller != nil {
			snippets = o.recaller.Recall(gctx, msg.Content)
		}
		return nil
	})
	g.Go(func() error {
		h, err := o.loadHistory(key)
		history = h
		return err
	})
	if err := g.Wait(); err != nil {
		slog.Warn("history load failed, starting fresh", "session", key, "error", err)
	}

	stable, setup := o.assembler.Stable(msg.SenderID, msg.Channel)
	if setup {
		slog.Debug("persona incomplete, running setup interview", "session", key)
	}
	system := stable + "\n\n" + o.assembler.Volatile(o.now(), snippets, o.episodic())
	history = withSystemTurn(history, system)

	history = append(history, providers.Message{
		Role:    providers.RoleUser,
		Content: msg.Content,
		Images:  loadImages(msg.Media),
	})
	go o.sessions.AppendChatLog(key, sessions.ChatRecord{Role: "user", Content: msg.Content})

	sess := o.sessions.GetOrCreate(key, msg.Channel)
	history = o.compactHistory(ctx, key, history)

	final, history, usage := o.turnLoop(ctx, msg, key, sess, history)
	if ctx.Err() != nil {
		o.storeHistory(key, history)
		o.flushHistory(key)
		o.emit(ctx, msg, bus.TypeCancellation, "Cancelled.")
		slog.Info("turn cancelled", "session", key)
		return
	}

	res := tags.NewProcessor(o.sinkFor(msg)).Process(ctx, final, msg.SenderID)
	if res.SoulUpdated || res.IdentityUpdated || res.MoodUpdated || res.RelationshipUpdated {
		o.assembler.Invalidate(msg.SenderID, msg.Channel)
	}

	// An empty reply means the provider failed (already apologized) or the
	// model had nothing to say; either way there is no assistant turn.
	reply := res.CleanText
	if strings.TrimSpace(reply) != "" {
		history = append(history, providers.Message{Role: providers.RoleAssistant, Content: reply})
		o.router.PublishOutbound(outboundCtx(ctx), bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply,
			Metadata: map[string]string{
				"type":     bus.TypeMessage,
				"reply_to": msg.SenderID,
			},
		})
		go o.sessions.AppendChatLog(key, sessions.ChatRecord{Role: "assistant", Content: reply})
	}
	o.storeHistory(key, history)

	o.sessions.Update(key, func(s *sessions.Session) {
		s.Model = o.model
	})
	if usage != nil {
		o.sessions.AddUsage(key, int64(usage.PromptTokens), int64(usage.CompletionTokens))
	}
	o.flushHistory(key)
	if err := o.sessions.FlushNow(); err != nil {
		slog.Error("session index flush failed", "session", key, "error", err)
	}
}

// turnLoop alternates streaming LLM calls with tool batches until the model
// answers in plain text or a bound trips. The final assistant turn is NOT
// appended to history here; the caller appends the tag-cleaned version.
func (o *Orchestrator) turnLoop(ctx context.Context, msg bus.InboundMessage, key string, sess sessions.Session, history []providers.Message) (string, []providers.Message, *providers.Usage) {
	var total providers.Usage
	known := func(name string) bool {
		_, _, ok := o.executor.Registry().Get(name)
		return ok
	}

	for iter := 1; iter <= o.maxToolIters; iter++ {
		resp, err := o.streamedTurn(ctx, msg, history)
		if err != nil {
			if ctx.Err() != nil {
				return "", history, &total
			}
			slog.Error("model call failed", "session", key, "iteration", iter, "error", err)
			o.emit(ctx, msg, bus.TypeMessage,
				"I couldn't reach my model provider just now. Please try again in a moment.")
			return "", history, &total
		}
		if resp.Usage != nil {
			total.PromptTokens += resp.Usage.PromptTokens
			total.CompletionTokens += resp.Usage.CompletionTokens
			total.TotalTokens += resp.Usage.TotalTokens
		}

		calls := resp.ToolCalls
		content := resp.Content
		if len(calls) == 0 {
			calls, content = decodeFallbackToolCalls(content, known)
		}
		if len(calls) == 0 {
			return scrubAssistantText(content), history, &total
		}

		history = append(history, providers.Message{
			Role:      providers.RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})

		// Session approvals may change mid-conversation (whitelist additions
		// via the gateway), so re-read before each batch.
		if s, ok := o.sessions.Get(key); ok {
			sess = s
		}

		bctx, bspan := o.tracer.Start(ctx, "agent.tools",
			trace.WithAttributes(attribute.Int("calls", len(calls))))
		outcomes, blocked := o.executor.ExecuteBatch(bctx, tools.BatchRequest{
			Calls:      calls,
			SessionKey: key,
			Channel:    msg.Channel,
			ChatID:     msg.ChatID,
			SenderID:   msg.SenderID,
			Autonomous: sess.Autonomous,
			Whitelist:  sess.Whitelist,
		})
		bspan.End()

		for _, oc := range outcomes {
			history = append(history, providers.Message{
				Role:       providers.RoleTool,
				Content:    oc.Content,
				ToolCallID: oc.CallID,
				ToolName:   oc.ToolName,
			})
			if oc.ForUser != "" && !oc.Silent {
				o.emit(ctx, msg, bus.TypeMessage, oc.ForUser)
			}
		}

		if iter%o.ckptIters == 0 {
			o.checkpoint(key, history)
		}

		if blocked {
			final := scrubAssistantText(content)
			if final == "" {
				final = "Action cancelled."
			}
			return final, history, &total
		}
	}

	slog.Warn("tool iteration budget exhausted", "session", key, "limit", o.maxToolIters)
	return fmt.Sprintf("Action limit reached: I stopped after %d tool rounds without finishing. Tell me to continue if you want me to keep going.", o.maxToolIters), history, &total
}

// streamedTurn issues one streaming LLM call with retry on transient provider
// failures. Stream events (chunks, thinking, activity) go out as they arrive;
// the reassembled response comes back for the tool loop.
func (o *Orchestrator) streamedTurn(ctx context.Context, msg bus.InboundMessage, history []providers.Message) (*providers.ChatResponse, error) {
	ctx, span := o.tracer.Start(ctx, "agent.llm",
		trace.WithAttributes(attribute.Int("messages", len(history))))
	defer span.End()

	req := providers.ChatRequest{
		Messages:    history,
		Tools:       o.executor.Registry().Definitions(),
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}

	sc := newStreamConsumer(ctx, o.router, msg.Channel, msg.ChatID, o.now)
	var resp *providers.ChatResponse
	var lastErr error
	err := retry.Do(ctx, o.llmRetry, func(attempt int) error {
		if attempt > 1 {
			sc.reset()
			if attempt == 2 {
				if providers.RateLimited(lastErr) {
					o.emit(ctx, msg, bus.TypeRateLimitError,
						"My model provider is rate limiting me; retrying…")
				} else {
					o.emit(ctx, msg, bus.TypeNotification,
						"My model provider is struggling; retrying…")
				}
			}
		}
		r, err := o.provider.ChatStream(ctx, req, sc.OnChunk)
		if err != nil {
			lastErr = err
			if !providers.Transient(err) {
				return retry.Permanent(err)
			}
			slog.Warn("transient provider failure", "attempt", attempt, "error", err)
			return err
		}
		resp = r
		return nil
	})
	sc.Finish()
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Cancel aborts the in-flight turn for a session, if any.
func (o *Orchestrator) Cancel(sessionKey string) bool {
	o.mu.Lock()
	cancel, ok := o.tasks[sessionKey]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) sessionLock(key string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[key] = lock
	}
	return lock
}

func (o *Orchestrator) registerTask(key string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.tasks[key] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregisterTask(key string) {
	o.mu.Lock()
	delete(o.tasks, key)
	o.mu.Unlock()
}

func dedupeKey(sessionKey, content string) string {
	sum := sha256.Sum256([]byte(content))
	return sessionKey + "\x00" + hex.EncodeToString(sum[:])
}

func (o *Orchestrator) seenRecently(sessionKey, content string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	at, ok := o.seen[dedupeKey(sessionKey, content)]
	return ok && o.now().Sub(at) < dedupeWindow
}

func (o *Orchestrator) markSeen(sessionKey, content string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	if len(o.seen) > 256 {
		for k, at := range o.seen {
			if now.Sub(at) >= dedupeWindow {
				delete(o.seen, k)
			}
		}
	}
	o.seen[dedupeKey(sessionKey, content)] = now
}

// confirmationVerdict maps free text onto the approval vocabulary. The second
// return is false when the message is neither an approval nor a denial.
func confirmationVerdict(text string) (bool, bool) {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.TrimRight(norm, ".!?,")
	for _, w := range approveWords {
		if norm == w || strings.HasPrefix(norm, w+" ") {
			return true, true
		}
	}
	for _, w := range denyWords {
		if norm == w || strings.HasPrefix(norm, w+" ") {
			return false, true
		}
	}
	return false, false
}

func (o *Orchestrator) loadHistory(key string) ([]providers.Message, error) {
	o.histMu.Lock()
	h, ok := o.histories[key]
	o.histMu.Unlock()
	if ok {
		return h, nil
	}
	h, err := o.sessions.LoadHistory(key)
	if err != nil {
		return nil, err
	}
	h = repairToolPairing(h)
	o.histMu.Lock()
	o.histories[key] = h
	o.histMu.Unlock()
	return h, nil
}

func (o *Orchestrator) storeHistory(key string, h []providers.Message) {
	o.histMu.Lock()
	o.histories[key] = h
	o.dirty[key] = true
	o.histMu.Unlock()
}

// checkpoint snapshots the in-flight history and session index to disk.
// Called mid-loop and after compaction so that a crash never loses more
// than a few tool rounds.
func (o *Orchestrator) checkpoint(key string, history []providers.Message) {
	o.storeHistory(key, history)
	o.flushHistory(key)
	if err := o.sessions.FlushNow(); err != nil {
		slog.Error("session index flush failed", "session", key, "error", err)
	}
}

func (o *Orchestrator) flushHistory(key string) {
	o.histMu.Lock()
	h := o.histories[key]
	dirty := o.dirty[key]
	delete(o.dirty, key)
	o.histMu.Unlock()
	if !dirty {
		return
	}
	if err := o.sessions.SaveHistory(key, h); err != nil {
		slog.Error("history snapshot write failed", "session", key, "error", err)
	}
}

// episodic returns the tail of today's memory file for the volatile prompt.
func (o *Orchestrator) episodic() string {
	if o.store == nil {
		return ""
	}
	day := o.now().Format("2006-01-02")
	content := o.store.Read(filepath.Join("memory", day+".md"))
	if len(content) > episodicMaxChars {
		content = content[len(content)-episodicMaxChars:]
	}
	return content
}

func withSystemTurn(history []providers.Message, system string) []providers.Message {
	sys := providers.Message{Role: providers.RoleSystem, Content: system}
	if len(history) > 0 && history[0].Role == providers.RoleSystem {
		history[0] = sys
		return history
	}
	return append([]providers.Message{sys}, history...)
}

func (o *Orchestrator) sinkFor(msg bus.InboundMessage) tags.Sink {
	return &tagSink{
		store:   o.store,
		index:   o.index,
		router:  o.router,
		channel: msg.Channel,
		chatID:  msg.ChatID,
	}
}

// emit publishes a typed outbound event for the conversation. Delivery
// problems are never fatal to a turn.
func (o *Orchestrator) emit(ctx context.Context, msg bus.InboundMessage, typ, content string) {
	err := o.router.PublishOutbound(outboundCtx(ctx), bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  content,
		Metadata: map[string]string{"type": typ},
	})
	if err != nil {
		slog.Debug("outbound event publish failed", "type", typ, "channel", msg.Channel, "error", err)
	}
}

// outboundCtx keeps late notices (cancellation, stop_typing) deliverable
// after the turn context died.
func outboundCtx(ctx context.Context) context.Context {
	if ctx.Err() == nil {
		return ctx
	}
	return context.WithoutCancel(ctx)
}
