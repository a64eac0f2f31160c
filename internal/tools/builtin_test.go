package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/cron"
)

func TestSendMessageTool(t *testing.T) {
	router := &recordingRouter{}
	tool := NewSendMessageTool(router)

	ctx := WithToolChannel(context.Background(), "discord")
	ctx = WithToolChatID(ctx, "chat42")

	res := tool.Execute(ctx, map[string]interface{}{"message": "ping"})
	if res.IsError {
		t.Fatalf("send failed: %s", res.ForLLM)
	}

	msgs := router.all()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Channel != "discord" || m.ChatID != "chat42" || m.Content != "ping" {
		t.Errorf("message = %+v", m)
	}
	if m.Type() != bus.TypeMessage {
		t.Errorf("type = %q, want message", m.Type())
	}
}

func TestSendMessageToolExplicitTarget(t *testing.T) {
	router := &recordingRouter{}
	tool := NewSendMessageTool(router)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"message": "hi",
		"channel": "whatsapp",
		"chat_id": "123",
	})
	if res.IsError {
		t.Fatalf("send failed: %s", res.ForLLM)
	}
	m := router.all()[0]
	if m.Channel != "whatsapp" || m.ChatID != "123" {
		t.Errorf("explicit target ignored: %+v", m)
	}
}

func TestSendMessageToolRequiresMessage(t *testing.T) {
	tool := NewSendMessageTool(&recordingRouter{})
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError {
		t.Error("empty message should be rejected")
	}
}

func TestCronToolsRoundTrip(t *testing.T) {
	store, err := cron.NewStore(filepath.Join(t.TempDir(), "cron.json"))
	if err != nil {
		t.Fatal(err)
	}

	ctx := WithToolChannel(context.Background(), "console")
	ctx = WithToolChatID(ctx, "user")
	ctx = WithToolSenderID(ctx, "user")

	add := NewCronAddTool(store)
	res := add.Execute(ctx, map[string]interface{}{"message": "water the plants", "in_minutes": 5.0})
	if res.IsError {
		t.Fatalf("cron_add failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "Scheduled job ") {
		t.Errorf("add result = %q", res.ForLLM)
	}

	list := NewCronListTool(store)
	res = list.Execute(ctx, map[string]interface{}{})
	if !strings.Contains(res.ForLLM, "water the plants") {
		t.Errorf("list result = %q", res.ForLLM)
	}

	jobs := store.List()
	if len(jobs) != 1 {
		t.Fatalf("store has %d jobs, want 1", len(jobs))
	}
	if jobs[0].Context.Channel != "console" || jobs[0].Context.ChatID != "user" {
		t.Errorf("job context = %+v, want conversation identity from ctx", jobs[0].Context)
	}

	rm := NewCronRemoveTool(store)
	res = rm.Execute(ctx, map[string]interface{}{"id": jobs[0].ID})
	if res.IsError {
		t.Fatalf("cron_remove failed: %s", res.ForLLM)
	}
	if len(store.List()) != 0 {
		t.Error("job not removed from store")
	}

	res = rm.Execute(ctx, map[string]interface{}{"id": "job_missing"})
	if !res.IsError || !strings.Contains(res.ForLLM, "no job with id") {
		t.Errorf("removing a missing job = %q, want error", res.ForLLM)
	}
}

func TestCronAddRequiresMessage(t *testing.T) {
	store, err := cron.NewStore(filepath.Join(t.TempDir(), "cron.json"))
	if err != nil {
		t.Fatal(err)
	}
	add := NewCronAddTool(store)
	res := add.Execute(context.Background(), map[string]interface{}{"message": "   "})
	if !res.IsError {
		t.Error("blank message should be rejected")
	}
}

func TestCronAddRecurring(t *testing.T) {
	store, err := cron.NewStore(filepath.Join(t.TempDir(), "cron.json"))
	if err != nil {
		t.Fatal(err)
	}
	add := NewCronAddTool(store)
	res := add.Execute(context.Background(), map[string]interface{}{
		"message": "standup",
		"cron":    "0 9 * * 1-5",
	})
	if res.IsError {
		t.Fatalf("recurring add failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "cron \"0 9 * * 1-5\"") {
		t.Errorf("result = %q, want cron expression echoed", res.ForLLM)
	}
	jobs := store.List()
	if len(jobs) != 1 || !jobs[0].Recurring() {
		t.Errorf("jobs = %+v, want one recurring job", jobs)
	}
}
