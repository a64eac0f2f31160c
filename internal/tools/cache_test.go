package tools

import (
	"fmt"
	"testing"
	"time"
)

func TestIsErrorResult(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"Error: something broke", true},
		{"Failed: no route", true},
		{"Action Blocked: unsafe command", true},
		{"ACTION CANCELLED: user did not approve", true},
		{"ACTION BLOCKED: policy", true},
		{"ok", false},
		{"", false},
		{"The word Error: appears mid-string", false},
		{"error: lowercase is not the convention", false},
	}
	for _, tt := range tests {
		if got := IsErrorResult(tt.in); got != tt.want {
			t.Errorf("IsErrorResult(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCacheHitAndMiss(t *testing.T) {
	c := NewCache(10, time.Minute)

	if _, ok := c.Get("web_fetch", `{"url":"a"}`); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("web_fetch", `{"url":"a"}`, "result A")
	got, ok := c.Get("web_fetch", `{"url":"a"}`)
	if !ok || got != "result A" {
		t.Fatalf("Get = (%q, %v), want (result A, true)", got, ok)
	}

	// Same args under a different tool name is a different entry.
	if _, ok := c.Get("web_search", `{"url":"a"}`); ok {
		t.Error("expected miss for different tool with same args")
	}
}

func TestCacheKeySeparatorPreventsCollisions(t *testing.T) {
	c := NewCache(10, time.Minute)
	c.Set("ab", `c`, "first")
	if _, ok := c.Get("a", `bc`); ok {
		t.Error("tool/args boundary collided: (a, bc) hit the entry for (ab, c)")
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Set("t", "1", "one")
	c.Set("t", "2", "two")

	// Touch "1" so "2" becomes least recently used.
	if _, ok := c.Get("t", "1"); !ok {
		t.Fatal("expected hit for entry 1")
	}

	c.Set("t", "3", "three")
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("t", "2"); ok {
		t.Error("entry 2 should have been evicted as LRU")
	}
	if _, ok := c.Get("t", "1"); !ok {
		t.Error("entry 1 should have survived eviction")
	}
	if _, ok := c.Get("t", "3"); !ok {
		t.Error("entry 3 should be present")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	now := time.Now()
	c := NewCache(10, 5*time.Minute)
	c.now = func() time.Time { return now }

	c.Set("t", "k", "v")

	now = now.Add(4 * time.Minute)
	if _, ok := c.Get("t", "k"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("t", "k"); ok {
		t.Fatal("entry survived past its TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted, Len = %d", c.Len())
	}
}

func TestCachePerToolTTL(t *testing.T) {
	now := time.Now()
	c := NewCache(10, 5*time.Minute)
	c.now = func() time.Time { return now }
	c.SetToolTTL("volatile", 10*time.Second)

	c.Set("volatile", "k", "v1")
	c.Set("steady", "k", "v2")

	now = now.Add(30 * time.Second)
	if _, ok := c.Get("volatile", "k"); ok {
		t.Error("per-tool TTL not applied, volatile entry still cached")
	}
	if _, ok := c.Get("steady", "k"); !ok {
		t.Error("default-TTL entry expired early")
	}
}

func TestCacheRejectsErrorResults(t *testing.T) {
	c := NewCache(10, time.Minute)
	for i, prefix := range []string{"Error:", "Failed:", "Action Blocked:", "ACTION CANCELLED:", "ACTION BLOCKED:"} {
		args := fmt.Sprintf(`{"n":%d}`, i)
		c.Set("t", args, prefix+" details")
		if _, ok := c.Get("t", args); ok {
			t.Errorf("error result %q was cached", prefix)
		}
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestCacheUpdateInPlace(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Set("t", "k", "old")
	c.Set("t", "k", "new")
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after overwrite", c.Len())
	}
	if got, _ := c.Get("t", "k"); got != "new" {
		t.Errorf("Get = %q, want new", got)
	}
}

func TestCacheClear(t *testing.T) {
	c := NewCache(10, time.Minute)
	c.Set("t", "1", "a")
	c.Set("t", "2", "b")
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len = %d after Clear, want 0", c.Len())
	}
	if _, ok := c.Get("t", "1"); ok {
		t.Error("entry survived Clear")
	}
}
