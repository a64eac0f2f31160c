package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/config"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
)

const (
	defaultCallTimeout = 120 * time.Second
	eventPreviewChars  = 200
	truncationSuffix   = "... (truncated)"
	defaultTruncation  = 2000
)

// Per-tool history truncation limits. Tools not listed use the default.
var truncationLimits = map[string]int{
	"read_file":       8000,
	"memory_search":   3000,
	"browser_extract": 5000,
}

// BatchRequest describes one assistant turn's worth of tool calls plus the
// conversation identity they run under.
type BatchRequest struct {
	Calls      []providers.ToolCall
	SessionKey string
	Channel    string
	ChatID     string
	SenderID   string
	Autonomous bool     // session runs without confirmation gates
	Whitelist  []string // sensitive tools pre-approved for this session
}

// Outcome is the per-call result handed back to the orchestrator, already
// truncated for history.
type Outcome struct {
	CallID   string
	ToolName string
	Content  string
	ForUser  string
	Silent   bool
	IsError  bool
	Blocked  bool // denied or timed out at the confirmation gate
	Async    bool
}

// ExecutorConfig wires an Executor. Router and Events may be nil (no
// events emitted); Cache may be nil (no caching); Policy may be nil (every
// sensitive call requires confirmation).
type ExecutorConfig struct {
	Registry      *Registry
	Cache         *Cache
	Confirmations *ConfirmationManager
	Router        bus.MessageRouter
	Events        bus.EventPublisher
	Policy        func(channel string) config.ChannelPolicy
	CallTimeout   time.Duration
}

// Executor runs tool batches: parallel launch, cache lookup, the sensitive
// confirmation gate, per-call timeouts, and result truncation.
type Executor struct {
	registry      *Registry
	cache         *Cache
	confirmations *ConfirmationManager
	router        bus.MessageRouter
	events        bus.EventPublisher
	policy        func(channel string) config.ChannelPolicy
	callTimeout   time.Duration
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		registry:      cfg.Registry,
		cache:         cfg.Cache,
		confirmations: cfg.Confirmations,
		router:        cfg.Router,
		events:        cfg.Events,
		policy:        cfg.Policy,
		callTimeout:   cfg.CallTimeout,
	}
	if e.callTimeout <= 0 {
		e.callTimeout = defaultCallTimeout
	}
	if e.policy == nil {
		e.policy = func(string) config.ChannelPolicy { return config.ChannelPolicy{} }
	}
	if e.confirmations == nil {
		e.confirmations = NewConfirmationManager(0)
	}
	return e
}

// Confirmations exposes the manager so the orchestrator and gateway can
// resolve pending confirmations.
func (e *Executor) Confirmations() *ConfirmationManager { return e.confirmations }

// Registry returns the underlying tool registry.
func (e *Executor) Registry() *Registry { return e.registry }

// ExecuteBatch runs every call in parallel and returns outcomes in call
// order plus whether any call was blocked at the confirmation gate.
func (e *Executor) ExecuteBatch(ctx context.Context, req BatchRequest) ([]Outcome, bool) {
	outcomes := make([]Outcome, len(req.Calls))
	var wg sync.WaitGroup
	for i, call := range req.Calls {
		wg.Add(1)
		go func(i int, call providers.ToolCall) {
			defer wg.Done()
			outcomes[i] = e.executeOne(ctx, req, call)
		}(i, call)
	}
	wg.Wait()

	anyBlocked := false
	for _, o := range outcomes {
		if o.Blocked {
			anyBlocked = true
			break
		}
	}
	return outcomes, anyBlocked
}

func (e *Executor) executeOne(ctx context.Context, req BatchRequest, call providers.ToolCall) Outcome {
	out := Outcome{CallID: call.ID, ToolName: call.Name}

	tool, meta, ok := e.registry.Get(call.Name)
	if !ok {
		out.Content = fmt.Sprintf("Error: unknown tool '%s'", call.Name)
		out.IsError = true
		e.emit(ctx, req, call, "error", out.Content, "")
		return out
	}

	args, canonical := CanonicalizeArgs(call.Name, call.Arguments)
	e.emit(ctx, req, call, "running", truncateStr(canonical, eventPreviewChars), "")

	cacheable := e.cache != nil && meta.Cacheable && meta.Class == ClassRead
	if cacheable {
		if cached, hit := e.cache.Get(call.Name, canonical); hit {
			slog.Debug("tool cache hit", "tool", call.Name)
			out.Content = cached
			e.emit(ctx, req, call, "completed", truncateStr(cached, eventPreviewChars), "")
			return out
		}
	}

	if e.needsConfirmation(req, meta, call.Name) {
		if !e.confirmAndAwait(ctx, req, call, args) {
			out.Content = fmt.Sprintf("ACTION CANCELLED: user did not approve '%s'", call.Name)
			out.Blocked = true
			e.emit(ctx, req, call, "error", out.Content, "")
			return out
		}
	}

	callCtx := WithToolChannel(ctx, req.Channel)
	callCtx = WithToolChatID(callCtx, req.ChatID)
	callCtx = WithToolSenderID(callCtx, req.SenderID)
	callCtx = WithToolSessionKey(callCtx, req.SessionKey)

	timeout := meta.Timeout
	if timeout <= 0 {
		timeout = e.callTimeout
	}
	res := invoke(callCtx, tool, args, timeout)

	content := res.ForLLM
	if res.Err != nil {
		res.IsError = true
		if content == "" {
			content = "Error: " + res.Err.Error()
		}
		slog.Warn("tool execution failed", "tool", call.Name, "error", res.Err)
	}
	content = truncateResult(content, truncationLimit(call.Name, meta))

	if cacheable && !res.IsError {
		e.cache.Set(call.Name, canonical, content)
	}

	status := "completed"
	if res.IsError {
		status = "error"
	}
	e.emit(ctx, req, call, status, truncateStr(content, eventPreviewChars), "")

	out.Content = content
	out.ForUser = res.ForUser
	out.Silent = res.Silent
	out.IsError = res.IsError
	out.Async = res.Async
	return out
}

// invoke runs the tool with a hard deadline. The select covers tools that
// ignore their context: the goroutine may linger but the batch moves on.
func invoke(ctx context.Context, tool Tool, args map[string]interface{}, timeout time.Duration) *Result {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ErrorResult(fmt.Sprintf("Error: tool '%s' panicked: %v", tool.Name(), r))
			}
		}()
		done <- tool.Execute(callCtx, args)
	}()

	select {
	case res := <-done:
		if res == nil {
			return ErrorResult(fmt.Sprintf("Error: tool '%s' returned no result", tool.Name()))
		}
		return res
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return ErrorResult(fmt.Sprintf("Error: Tool '%s' timed out after %ds", tool.Name(), int(timeout.Seconds())))
		}
		return ErrorResult(fmt.Sprintf("Error: tool '%s' canceled", tool.Name()))
	}
}

// needsConfirmation applies the gate in policy order: forced approval wins
// over the session whitelist, which wins over channel auto-approval.
func (e *Executor) needsConfirmation(req BatchRequest, meta Meta, name string) bool {
	if meta.Class != ClassSensitive {
		return false
	}
	if req.Autonomous {
		return false
	}
	pol := e.policy(req.Channel)
	if containsString(pol.RequireApproval, name) {
		return true
	}
	if containsString(req.Whitelist, name) {
		return false
	}
	if containsString(pol.AutoApprove, name) {
		return false
	}
	return true
}

func (e *Executor) confirmAndAwait(ctx context.Context, req BatchRequest, call providers.ToolCall, args map[string]interface{}) bool {
	summary := confirmationSummary(call.Name, args)
	p := e.confirmations.Create(req.SessionKey, call.Name, summary)

	e.emit(ctx, req, call, "waiting_confirmation", summary, p.ID)
	if e.events != nil {
		e.events.Broadcast(bus.Event{Name: bus.EventConfirmationRequest, Payload: p})
	}
	slog.Info("awaiting tool confirmation",
		"tool", call.Name, "conf_id", p.ID, "session", req.SessionKey)

	approved := e.confirmations.Await(ctx, p)
	if !approved {
		slog.Info("tool confirmation denied or expired", "tool", call.Name, "conf_id", p.ID)
	}
	return approved
}

// confirmationSummary renders a human-readable line for the approval prompt.
func confirmationSummary(name string, args map[string]interface{}) string {
	switch name {
	case "run_command":
		if cmd, ok := args["command"].(string); ok && cmd != "" {
			return "Run command: " + truncateStr(cmd, 120)
		}
	case "delete_file":
		if p, ok := args["path"].(string); ok && p != "" {
			return "Delete file: " + p
		}
	case "write_file":
		if p, ok := args["path"].(string); ok && p != "" {
			return "Write file: " + p
		}
	case "cron_remove":
		if id, ok := args["id"].(string); ok && id != "" {
			return "Remove scheduled job: " + id
		}
	}
	return fmt.Sprintf("Run tool '%s'", name)
}

// emit publishes a tool_execution event to the source channel and mirrors
// it to the web sink so the console shows activity from every channel.
func (e *Executor) emit(ctx context.Context, req BatchRequest, call providers.ToolCall, status, detail, confID string) {
	if e.router == nil {
		return
	}
	targets := []string{req.Channel}
	if req.Channel != bus.WebChannelName {
		targets = append(targets, bus.WebChannelName)
	}
	for _, target := range targets {
		meta := map[string]string{
			"type":         bus.TypeToolExecution,
			"status":       status,
			"tool":         call.Name,
			"tool_call_id": call.ID,
		}
		if confID != "" {
			meta["conf_id"] = confID
		}
		if target != req.Channel {
			meta["origin_session"] = req.SessionKey
		}
		msg := bus.OutboundMessage{
			Channel:  target,
			ChatID:   req.ChatID,
			Content:  detail,
			Metadata: meta,
		}
		if err := e.router.PublishOutbound(ctx, msg); err != nil {
			slog.Warn("tool event publish failed", "tool", call.Name, "channel", target, "error", err)
		}
	}
}

func truncationLimit(name string, meta Meta) int {
	if meta.MaxResult > 0 {
		return meta.MaxResult
	}
	if l, ok := truncationLimits[name]; ok {
		return l
	}
	return defaultTruncation
}

func truncateResult(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + truncationSuffix
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
