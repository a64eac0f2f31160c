package cron

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "cron.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestAddRequiresTriggerOrCron(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Add(Job{Payload: "p"}); err == nil {
		t.Error("job without trigger or cron accepted")
	}
	if _, err := s.Add(Job{Payload: "p", CronExpr: "not a cron"}); err == nil {
		t.Error("invalid cron expression accepted")
	}
}

func TestAddComputesFirstCronTrigger(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Add(Job{Payload: "p", CronExpr: "*/5 * * * *"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	job, ok := s.Get(id)
	if !ok {
		t.Fatal("job missing after Add")
	}
	if job.TriggerAt == 0 {
		t.Error("cron job has no computed trigger")
	}
	if !job.TriggerTime().After(time.Now().Add(-time.Second)) {
		t.Errorf("computed trigger in the past: %v", job.TriggerTime())
	}
}

func TestExplicitTriggerUsedVerbatimThenCronAdvances(t *testing.T) {
	s := newTestStore(t)
	first := time.Now().Add(-time.Second) // already due
	id, err := s.Add(Job{
		Payload:   "p",
		CronExpr:  "0 0 * * *",
		TriggerAt: float64(first.Unix()),
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	due := s.TakeDue(time.Now())
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due = %+v, want the explicit-trigger job", due)
	}

	// After firing, the recurring job must carry a future cron-derived trigger.
	job, ok := s.Get(id)
	if !ok {
		t.Fatal("recurring job removed after firing")
	}
	if !job.TriggerTime().After(time.Now()) {
		t.Errorf("rescheduled trigger not in the future: %v", job.TriggerTime())
	}
}

func TestOneShotRemovedAfterFiring(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Add(Job{Payload: "p", TriggerAt: float64(time.Now().Add(-time.Second).Unix())})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	due := s.TakeDue(time.Now())
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}
	if _, ok := s.Get(id); ok {
		t.Error("one-shot job still present after firing")
	}
}

func TestDowntimeCollapsesToSingleFiring(t *testing.T) {
	s := newTestStore(t)
	// Trigger far in the past, as after a long process stop.
	old := time.Now().Add(-48 * time.Hour)
	id, err := s.Add(Job{Payload: "p", CronExpr: "0 * * * *", TriggerAt: float64(old.Unix())})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	now := time.Now()
	due := s.TakeDue(now)
	if len(due) != 1 {
		t.Fatalf("first tick fired %d jobs, want 1", len(due))
	}
	// Immediately re-checking must fire nothing: the missed periods are skipped.
	due = s.TakeDue(now.Add(time.Second))
	if len(due) != 0 {
		t.Errorf("second tick fired %d jobs, want 0 (missed periods must not burst)", len(due))
	}
	job, _ := s.Get(id)
	if !job.TriggerTime().After(now) {
		t.Errorf("trigger not advanced past now: %v", job.TriggerTime())
	}
}

func TestTriggersSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron.json")

	s1, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	id, err := s1.Add(Job{Payload: "p", CronExpr: "0 0 * * *"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	before, _ := s1.Get(id)

	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	after, ok := s2.Get(id)
	if !ok {
		t.Fatal("job missing after reload")
	}
	if diff := after.TriggerAt - before.TriggerAt; diff > 1 || diff < -1 {
		t.Errorf("trigger drifted across restart: before=%v after=%v", before.TriggerAt, after.TriggerAt)
	}
}

func TestLoadDropsJobsWithoutTrigger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron.json")
	writeFile(t, path, `[
		{"id":"keep","trigger_ts":99999999999,"payload":"ok","context":{"channel":"web","chat_id":"C"}},
		{"id":"drop","payload":"no trigger","context":{"channel":"web","chat_id":"C"}}
	]`)

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := s.Get("keep"); !ok {
		t.Error("valid job dropped on load")
	}
	if _, ok := s.Get("drop"); ok {
		t.Error("triggerless job survived load")
	}
}

func TestTimezoneOffsetShiftsCronEvaluation(t *testing.T) {
	s := newTestStore(t)
	// Daily at midnight, +120 min offset: next trigger is midnight in
	// UTC+2, which is 22:00 UTC.
	id, err := s.Add(Job{Payload: "p", CronExpr: "0 0 * * *", TZOffsetMin: 120})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	job, _ := s.Get(id)
	utc := job.TriggerTime().UTC()
	if utc.Hour() != 22 || utc.Minute() != 0 {
		t.Errorf("trigger at %02d:%02d UTC, want 22:00", utc.Hour(), utc.Minute())
	}
}

func TestSchedulerPublishesSyntheticInbound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Add(Job{
		Payload:   "ping",
		TriggerAt: float64(time.Now().Add(-time.Second).Unix()),
		Context:   JobContext{Channel: "web", ChatID: "C"},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	b := bus.New()
	defer b.Stop()
	sched := NewScheduler(s, b)

	if n := sched.RunOnce(context.Background()); n != 1 {
		t.Fatalf("RunOnce fired %d, want 1", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no synthetic inbound within 2s")
	}
	if msg.Content != "[SCHEDULER] ping" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.SessionKey() != "web_C" {
		t.Errorf("session key = %q, want web_C", msg.SessionKey())
	}
	if msg.SenderID != "scheduler" {
		t.Errorf("sender = %q, want scheduler default", msg.SenderID)
	}
}

func TestSchedulerTickLoopFires(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Add(Job{
		Payload:   "tick",
		TriggerAt: float64(time.Now().Unix()),
		Context:   JobContext{Channel: "web", ChatID: "C"},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	b := bus.New()
	defer b.Stop()
	sched := NewScheduler(s, b, WithTickInterval(20*time.Millisecond))
	sched.Start(context.Background())
	defer sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("tick loop never fired the job")
	}
	if !strings.HasPrefix(msg.Content, "[SCHEDULER] ") {
		t.Errorf("content = %q", msg.Content)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
