package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
)

func newSubagentManager(t *testing.T, h *harness, maxIter, maxConc int) *SubagentManager {
	t.Helper()
	m := NewSubagentManager(SubagentConfig{
		Provider:      h.provider,
		Model:         "test-model",
		MaxTokens:     256,
		Router:        h.router,
		Sessions:      h.sessions,
		Executor:      h.executor,
		Persona:       h.store,
		MaxIterations: maxIter,
		MaxConcurrent: maxConc,
	})
	t.Cleanup(m.Stop)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubagentReportsToParent(t *testing.T) {
	h := newHarness(t, reply("Found 3 results."))
	m := newSubagentManager(t, h, 0, 0)

	childKey := m.Spawn("discord_c1", "discord", "c1", "u1", "find things")
	if childKey != "discord_c1_sub_1" {
		t.Fatalf("child key = %q", childKey)
	}

	waitFor(t, "report", func() bool { return len(h.router.inbound()) == 1 })
	report := h.router.inbound()[0]
	if report.Channel != "discord" || report.ChatID != "c1" || report.SenderID != "u1" {
		t.Errorf("report addressing = %+v", report)
	}
	if !strings.Contains(report.Content, "REPORT from subagent discord_c1_sub_1") {
		t.Errorf("report content = %q", report.Content)
	}
	if !strings.Contains(report.Content, "Found 3 results.") {
		t.Errorf("report missing findings: %q", report.Content)
	}
	if report.Metadata["subagent"] != childKey {
		t.Errorf("report metadata = %+v", report.Metadata)
	}

	sess, ok := h.sessions.Get(childKey)
	if !ok {
		t.Fatal("child session not recorded")
	}
	if sess.ParentKey != "discord_c1" || sess.Task != "find things" {
		t.Errorf("child session = %+v", sess)
	}

	waitFor(t, "transcript", func() bool {
		hist, err := h.sessions.LoadHistory(childKey)
		return err == nil && len(hist) == 3
	})
	hist, _ := h.sessions.LoadHistory(childKey)
	if hist[0].Role != providers.RoleSystem || hist[1].Role != providers.RoleUser || hist[2].Role != providers.RoleAssistant {
		t.Errorf("transcript roles wrong: %+v", hist)
	}

	sys := h.provider.requests()[0].Messages[0].Content
	if !strings.Contains(sys, "sub-agent") || !strings.Contains(sys, "# Task") {
		t.Errorf("subagent prompt missing sections")
	}
	if !strings.Contains(sys, "Name: Lime") {
		t.Errorf("subagent prompt missing identity")
	}
}

func TestSubagentIterationLimit(t *testing.T) {
	h := newHarness(t,
		toolCallStep("call_1", "echo", `{"text":"a"}`),
		toolCallStep("call_2", "echo", `{"text":"b"}`),
	)
	h.registry.Register(echoTool{}, tools.Meta{Class: tools.ClassRead})
	m := newSubagentManager(t, h, 2, 0)

	m.Spawn("discord_c1", "discord", "c1", "u1", "loop forever")

	waitFor(t, "report", func() bool { return len(h.router.inbound()) == 1 })
	report := h.router.inbound()[0]
	if !strings.Contains(report.Content, "iteration limit") {
		t.Errorf("report = %q", report.Content)
	}
	if got := len(h.provider.requests()); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

type keyProbeTool struct {
	mu   sync.Mutex
	keys []string
}

func (k *keyProbeTool) Name() string                       { return "where_am_i" }
func (k *keyProbeTool) Description() string                { return "Records the session it runs in." }
func (k *keyProbeTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (k *keyProbeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	k.mu.Lock()
	k.keys = append(k.keys, tools.ToolSessionKeyFromCtx(ctx))
	k.mu.Unlock()
	return tools.NewResult("ok")
}

func (k *keyProbeTool) seen() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.keys...)
}

func TestSubagentToolsRunUnderChildSession(t *testing.T) {
	h := newHarness(t,
		toolCallStep("call_1", "where_am_i", `{}`),
		reply("All done."),
	)
	probe := &keyProbeTool{}
	h.registry.Register(probe, tools.Meta{Class: tools.ClassRead})
	m := newSubagentManager(t, h, 0, 0)

	childKey := m.Spawn("discord_c1", "discord", "c1", "u1", "probe the session")

	waitFor(t, "report", func() bool { return len(h.router.inbound()) == 1 })
	keys := probe.seen()
	if len(keys) != 1 || keys[0] != childKey {
		t.Errorf("tool ran under %v, want [%s]", keys, childKey)
	}
}

func TestSubagentConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t,
		scriptStep{resp: &providers.ChatResponse{Content: "first done"}, release: release},
		reply("second done"),
	)
	m := newSubagentManager(t, h, 0, 1)

	m.Spawn("discord_c1", "discord", "c1", "u1", "slow task")
	waitFor(t, "first subagent to start", func() bool { return m.Active() == 1 })

	m.Spawn("discord_c1", "discord", "c1", "u1", "queued task")
	time.Sleep(20 * time.Millisecond)
	if got := m.Active(); got != 1 {
		t.Fatalf("active = %d, want 1 while slot is held", got)
	}

	close(release)
	waitFor(t, "both reports", func() bool { return len(h.router.inbound()) == 2 })
}

func TestSpawnSubagentTool(t *testing.T) {
	h := newHarness(t, reply("background work done"))
	m := newSubagentManager(t, h, 0, 0)
	tool := NewSpawnSubagentTool(m)

	t.Run("requires task", func(t *testing.T) {
		res := tool.Execute(context.Background(), map[string]interface{}{})
		if !res.IsError {
			t.Errorf("want error without task, got %+v", res)
		}
	})

	t.Run("requires session context", func(t *testing.T) {
		res := tool.Execute(context.Background(), map[string]interface{}{"task": "do x"})
		if !res.IsError {
			t.Errorf("want error without session, got %+v", res)
		}
	})

	t.Run("spawns and reports", func(t *testing.T) {
		ctx := tools.WithToolSessionKey(context.Background(), "discord_c1")
		ctx = tools.WithToolChannel(ctx, "discord")
		ctx = tools.WithToolChatID(ctx, "c1")
		ctx = tools.WithToolSenderID(ctx, "u1")

		res := tool.Execute(ctx, map[string]interface{}{"task": "background work"})
		if res.IsError || !res.Async {
			t.Fatalf("result = %+v", res)
		}
		if !strings.Contains(res.ForLLM, "discord_c1_sub_") {
			t.Errorf("result should name the child session: %q", res.ForLLM)
		}
		waitFor(t, "report", func() bool { return len(h.router.inbound()) == 1 })
		if !strings.Contains(h.router.inbound()[0].Content, "background work done") {
			t.Errorf("report = %q", h.router.inbound()[0].Content)
		}
	})
}

var _ bus.MessageRouter = (*recordingRouter)(nil)
