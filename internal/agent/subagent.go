package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/persona"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/sessions"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
)

const (
	defaultSubagentIterations  = 10
	defaultSubagentConcurrency = 5
)

// SubagentConfig wires a SubagentManager. The registry, sessions and persona
// store are shared with the main agent; only the loop is separate.
type SubagentConfig struct {
	Provider    providers.Provider
	Model       string
	MaxTokens   int
	Temperature float64

	Router   bus.MessageRouter
	Sessions *sessions.Manager
	Executor *tools.Executor
	Persona  *persona.Store

	MaxIterations int // tool rounds per task; default 10
	MaxConcurrent int // simultaneous subagents; default 5
}

// SubagentManager runs background tasks in child sessions. Each task gets a
// derived session key under its parent, a tight iteration budget, and posts
// its findings back to the parent conversation as an inbound report.
type SubagentManager struct {
	cfg    SubagentConfig
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	counters map[string]int

	active atomic.Int64
}

func NewSubagentManager(cfg SubagentConfig) *SubagentManager {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultSubagentIterations
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultSubagentConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SubagentManager{
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
		counters: make(map[string]int),
	}
}

// Spawn starts a subagent for the parent session and returns the child
// session key immediately. The task runs in the background; queueing happens
// when all slots are busy.
func (m *SubagentManager) Spawn(parentKey, channel, chatID, senderID, task string) string {
	m.mu.Lock()
	m.counters[parentKey]++
	n := m.counters[parentKey]
	m.mu.Unlock()

	childKey := bus.SubagentSessionKey(parentKey, n)
	m.cfg.Sessions.Update(childKey, func(s *sessions.Session) {
		s.Origin = channel
		s.ParentKey = parentKey
		s.Task = task
	})

	m.wg.Add(1)
	go m.run(parentKey, childKey, channel, chatID, senderID, task)
	slog.Info("subagent spawned", "parent", parentKey, "child", childKey)
	return childKey
}

// Active reports how many subagents hold a slot right now.
func (m *SubagentManager) Active() int {
	return int(m.active.Load())
}

// Stop cancels running subagents and waits for them to wind down.
func (m *SubagentManager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *SubagentManager) run(parentKey, childKey, channel, chatID, senderID, task string) {
	defer m.wg.Done()

	select {
	case m.sem <- struct{}{}:
	case <-m.ctx.Done():
		return
	}
	defer func() { <-m.sem }()

	m.active.Add(1)
	defer m.active.Add(-1)

	report := m.execute(parentKey, childKey, channel, chatID, senderID, task)
	if m.ctx.Err() != nil {
		return
	}

	// The report re-enters the parent conversation as a regular inbound
	// message so the main agent can digest and relay it.
	pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := m.cfg.Router.PublishInbound(pctx, bus.InboundMessage{
		Channel:  channel,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  fmt.Sprintf("REPORT from subagent %s:\n%s", childKey, report),
		Metadata: map[string]string{"subagent": childKey},
	})
	if err != nil {
		slog.Error("subagent report publish failed", "child", childKey, "error", err)
	}
}

// execute runs the child loop to completion and returns the report text.
// Unlike the main loop it does not stream; nobody watches a subagent type.
func (m *SubagentManager) execute(parentKey, childKey, channel, chatID, senderID, task string) string {
	var soul, identity string
	if m.cfg.Persona != nil {
		soul = m.cfg.Persona.Soul()
		identity = m.cfg.Persona.Identity()
	}
	history := []providers.Message{
		{Role: providers.RoleSystem, Content: subagentPrompt(soul, identity, task)},
		{Role: providers.RoleUser, Content: task},
	}

	// Approval posture is inherited so a trusted parent session doesn't
	// strand its children behind confirmations they cannot answer.
	parent, _ := m.cfg.Sessions.Get(parentKey)

	known := func(name string) bool {
		_, _, ok := m.cfg.Executor.Registry().Get(name)
		return ok
	}

	final := ""
	for iter := 1; iter <= m.cfg.MaxIterations; iter++ {
		resp, err := m.cfg.Provider.Chat(m.ctx, providers.ChatRequest{
			Messages:    history,
			Tools:       m.cfg.Executor.Registry().Definitions(),
			Model:       m.cfg.Model,
			MaxTokens:   m.cfg.MaxTokens,
			Temperature: m.cfg.Temperature,
		})
		if err != nil {
			if m.ctx.Err() != nil {
				return ""
			}
			slog.Error("subagent model call failed", "child", childKey, "iteration", iter, "error", err)
			final = fmt.Sprintf("Subagent failed: %v", err)
			break
		}
		if resp.Usage != nil {
			m.cfg.Sessions.AddUsage(childKey, int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
		}

		calls := resp.ToolCalls
		content := resp.Content
		if len(calls) == 0 {
			calls, content = decodeFallbackToolCalls(content, known)
		}
		if len(calls) == 0 {
			final = scrubAssistantText(content)
			history = append(history, providers.Message{Role: providers.RoleAssistant, Content: final})
			break
		}

		history = append(history, providers.Message{
			Role:      providers.RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})

		outcomes, blocked := m.cfg.Executor.ExecuteBatch(m.ctx, tools.BatchRequest{
			Calls:      calls,
			SessionKey: childKey,
			Channel:    channel,
			ChatID:     chatID,
			SenderID:   senderID,
			Autonomous: parent.Autonomous,
			Whitelist:  parent.Whitelist,
		})
		for _, oc := range outcomes {
			history = append(history, providers.Message{
				Role:       providers.RoleTool,
				Content:    oc.Content,
				ToolCallID: oc.CallID,
				ToolName:   oc.ToolName,
			})
		}
		if blocked {
			final = "Task halted: a required action was not approved."
			break
		}
	}
	if final == "" {
		final = "Subagent reached its iteration limit before finishing."
	}

	if err := m.cfg.Sessions.SaveHistory(childKey, history); err != nil {
		slog.Warn("subagent transcript write failed", "child", childKey, "error", err)
	}
	return final
}

func subagentPrompt(soul, identity, task string) string {
	var b strings.Builder
	b.WriteString("# Role\n\nYou are a focused sub-agent spawned by the main assistant to complete one task. Work autonomously, use tools as needed, and finish with a concise report of what you found or did. Do not ask questions; make reasonable assumptions and note them in the report.\n")
	if soul != "" {
		b.WriteString("\n# Operator Notes\n\n")
		b.WriteString(soul)
		b.WriteString("\n")
	}
	if identity != "" {
		b.WriteString("\n# Identity\n\n")
		b.WriteString(identity)
		b.WriteString("\n")
	}
	b.WriteString("\n# Task\n\n")
	b.WriteString(task)
	b.WriteString("\n")
	return b.String()
}

// SpawnSubagentTool lets the model hand a task off to a background worker.
// It lives here rather than with the other tools because spawning needs the
// agent loop machinery.
type SpawnSubagentTool struct {
	manager *SubagentManager
}

func NewSpawnSubagentTool(m *SubagentManager) *SpawnSubagentTool {
	return &SpawnSubagentTool{manager: m}
}

func (t *SpawnSubagentTool) Name() string { return "spawn_subagent" }

func (t *SpawnSubagentTool) Description() string {
	return "Spawn a background subagent to work on a task independently. The subagent shares your tools, runs up to its own iteration limit, and posts a REPORT back into this conversation when done. Use for long or parallelizable work."
}

func (t *SpawnSubagentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Complete, self-contained task description for the subagent",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnSubagentTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	task, _ := args["task"].(string)
	if strings.TrimSpace(task) == "" {
		return tools.ErrorResult("Error: task is required")
	}
	sessionKey := tools.ToolSessionKeyFromCtx(ctx)
	if sessionKey == "" {
		return tools.ErrorResult("Error: no session to attach the subagent to")
	}
	childKey := t.manager.Spawn(
		sessionKey,
		tools.ToolChannelFromCtx(ctx),
		tools.ToolChatIDFromCtx(ctx),
		tools.ToolSenderIDFromCtx(ctx),
		task,
	)
	return tools.AsyncResult(fmt.Sprintf("Subagent %s started. It will post a REPORT into this conversation when finished.", childKey))
}
