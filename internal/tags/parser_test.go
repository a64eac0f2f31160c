package tags

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type recordingSink struct {
	calls   []string
	failOn  string
	failErr error
}

func (r *recordingSink) record(kind, content string) error {
	if kind == r.failOn {
		return r.failErr
	}
	r.calls = append(r.calls, kind+":"+content)
	return nil
}

func (r *recordingSink) SaveSoul(_ context.Context, c string) error  { return r.record("soul", c) }
func (r *recordingSink) SaveIdentity(_ context.Context, c string) error {
	return r.record("identity", c)
}
func (r *recordingSink) SaveMood(_ context.Context, c string) error { return r.record("mood", c) }
func (r *recordingSink) SaveRelationships(_ context.Context, c string) error {
	return r.record("relationship", c)
}
func (r *recordingSink) SaveUser(_ context.Context, sender, c string) error {
	return r.record("user", sender+"|"+c)
}
func (r *recordingSink) LogMemory(_ context.Context, c string) error { return r.record("memory", c) }
func (r *recordingSink) SaveMemoryIndex(_ context.Context, c string) error {
	return r.record("memidx", c)
}
func (r *recordingSink) DiscordSend(_ context.Context, c string) error { return r.record("dsend", c) }
func (r *recordingSink) DiscordEmbed(_ context.Context, c string) error {
	return r.record("dembed", c)
}

func process(t *testing.T, text string) (Result, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	res := NewProcessor(sink).Process(context.Background(), text, "alice")
	return res, sink
}

const soulBody = "I value honesty above comfort and say so plainly."

func TestEachTagRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantCall string
	}{
		{"soul", "<save_soul>" + soulBody + "</save_soul>", "soul:" + soulBody},
		{"identity", "<save_identity>Name: Lime\nStyle: dry</save_identity>", "identity:Name: Lime\nStyle: dry"},
		{"mood", "<save_mood>quietly pleased</save_mood>", "mood:quietly pleased"},
		{"relationship", "<save_relationship>Alice: trusted collaborator</save_relationship>", "relationship:Alice: trusted collaborator"},
		{"user", "<save_user>prefers short answers</save_user>", "user:alice|prefers short answers"},
		{"log memory", "<log_memory>shipped the cron store today</log_memory>", "memory:shipped the cron store today"},
		{"memory index", "<save_memory># Memory\n- cron shipped</save_memory>", "memidx:# Memory\n- cron shipped"},
		{"discord send", "<discord_send>see you there!</discord_send>", "dsend:see you there!"},
		{"discord embed", `<discord_embed>{"title":"Build","description":"green"}</discord_embed>`, `dembed:{"title":"Build","description":"green"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, sink := process(t, "before "+tt.text+" after")
			if strings.Contains(res.CleanText, "<") || !strings.HasPrefix(res.CleanText, "before") || !strings.HasSuffix(res.CleanText, "after") {
				t.Errorf("tag not removed cleanly: %q", res.CleanText)
			}
			if len(sink.calls) != 1 || sink.calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%q]", sink.calls, tt.wantCall)
			}
		})
	}
}

func TestAttributeBearingOpener(t *testing.T) {
	res, sink := process(t, `noted <save_user id="alice" priority="high">prefers short answers</save_user> bye`)
	if len(sink.calls) != 1 || sink.calls[0] != "user:alice|prefers short answers" {
		t.Fatalf("calls = %v", sink.calls)
	}
	if strings.Contains(res.CleanText, "<") || strings.Contains(res.CleanText, "priority") {
		t.Errorf("opener attributes leaked: %q", res.CleanText)
	}
	if !strings.HasPrefix(res.CleanText, "noted") || !strings.HasSuffix(res.CleanText, "bye") {
		t.Errorf("surrounding text mangled: %q", res.CleanText)
	}
}

func TestTagNamePrefixNotATag(t *testing.T) {
	const text = "see <save_userdata> for details"
	res, sink := process(t, text)
	if len(sink.calls) != 0 {
		t.Fatalf("no side effects expected, got %v", sink.calls)
	}
	if res.CleanText != text {
		t.Errorf("clean text = %q, want unchanged", res.CleanText)
	}
}

func TestUpdatedFlags(t *testing.T) {
	res, _ := process(t, "<save_soul>"+soulBody+"</save_soul><save_mood>upbeat</save_mood>")
	if !res.SoulUpdated || !res.MoodUpdated {
		t.Errorf("flags: soul=%v mood=%v, want both true", res.SoulUpdated, res.MoodUpdated)
	}
	if res.IdentityUpdated || res.RelationshipUpdated {
		t.Error("untouched flags should stay false")
	}
}

func TestSoftClosureAtNextOpeningTag(t *testing.T) {
	res, sink := process(t, "<save_mood>happy<log_memory>met alice at the cafe</log_memory>done")
	want := []string{"mood:happy", "memory:met alice at the cafe"}
	if len(sink.calls) != 2 || sink.calls[0] != want[0] || sink.calls[1] != want[1] {
		t.Fatalf("calls = %v, want %v", sink.calls, want)
	}
	if res.CleanText != "done" {
		t.Errorf("clean text = %q, want %q", res.CleanText, "done")
	}
}

func TestSoftClosureAtEndOfString(t *testing.T) {
	res, sink := process(t, "noted. <save_mood>wistful")
	if len(sink.calls) != 1 || sink.calls[0] != "mood:wistful" {
		t.Fatalf("calls = %v", sink.calls)
	}
	if res.CleanText != "noted." {
		t.Errorf("clean text = %q", res.CleanText)
	}
}

func TestCloserAfterNextOpenerBecomesOrphan(t *testing.T) {
	res, sink := process(t, "<save_mood>calm<log_memory>fact</log_memory></save_mood>tail")
	if len(sink.calls) != 2 {
		t.Fatalf("calls = %v", sink.calls)
	}
	if strings.Contains(res.CleanText, "</save_mood>") {
		t.Errorf("orphan closer survived: %q", res.CleanText)
	}
	if res.CleanText != "tail" {
		t.Errorf("clean text = %q, want tail", res.CleanText)
	}
}

func TestStandaloneOrphanCloserRemoved(t *testing.T) {
	res, sink := process(t, "all done </save_soul> here")
	if len(sink.calls) != 0 {
		t.Fatalf("no side effects expected, got %v", sink.calls)
	}
	if strings.Contains(res.CleanText, "save_soul") {
		t.Errorf("closer survived: %q", res.CleanText)
	}
}

func TestNewlineCollapse(t *testing.T) {
	res, _ := process(t, "line one\n\n\n\n<save_mood>fine</save_mood>\n\n\nline two")
	if strings.Contains(res.CleanText, "\n\n\n") {
		t.Errorf("newlines not collapsed: %q", res.CleanText)
	}
}

func TestPlaceholderWhenCleaningEmptiesText(t *testing.T) {
	res, sink := process(t, "<log_memory>the only content was this tag</log_memory>")
	if len(sink.calls) != 1 {
		t.Fatalf("calls = %v", sink.calls)
	}
	if res.CleanText != placeholderReply {
		t.Errorf("clean text = %q, want placeholder", res.CleanText)
	}
	if empty, _ := process(t, "   "); empty.CleanText != "" {
		t.Errorf("originally-empty text should stay empty, got %q", empty.CleanText)
	}
}

func TestValidationRejections(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty body", "<save_mood></save_mood>ok"},
		{"soul too short", "<save_soul>short</save_soul>ok"},
		{"identity without name", "<save_identity>Style: dry and warm enough</save_identity>ok"},
		{"instruction echo", "<save_user>what you learned about this user</save_user>ok"},
		{"placeholder echo", "<save_soul>" + soulBody + " placeholder text here</save_soul>ok"},
		{"embed not json", "<discord_embed>not json at all</discord_embed>ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, sink := process(t, tt.text)
			if len(sink.calls) != 0 {
				t.Errorf("side effect fired for invalid tag: %v", sink.calls)
			}
			if res.SoulUpdated || res.IdentityUpdated || res.MoodUpdated || res.RelationshipUpdated {
				t.Error("no flag should be set for invalid tag")
			}
			if strings.Contains(res.CleanText, "<") {
				t.Errorf("invalid tag should still be stripped: %q", res.CleanText)
			}
		})
	}
}

func TestSinkFailureClearsFlag(t *testing.T) {
	sink := &recordingSink{failOn: "soul", failErr: errors.New("disk full")}
	res := NewProcessor(sink).Process(context.Background(), "<save_soul>"+soulBody+"</save_soul>ok", "alice")
	if res.SoulUpdated {
		t.Error("flag must not be set when the sink errored")
	}
	if res.CleanText != "ok" {
		t.Errorf("clean text = %q", res.CleanText)
	}
}

func TestTagsProcessedInTextOrder(t *testing.T) {
	var text strings.Builder
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&text, "<log_memory>fact number %d</log_memory>", i)
	}
	_, sink := process(t, text.String())
	for i, call := range sink.calls {
		if want := fmt.Sprintf("memory:fact number %d", i); call != want {
			t.Errorf("call %d = %q, want %q", i, call, want)
		}
	}
}

func TestPlainTextPassesThrough(t *testing.T) {
	const text = "Nothing special here, just <b>html</b> and a < comparison."
	res, sink := process(t, text)
	if res.CleanText != text {
		t.Errorf("text altered: %q", res.CleanText)
	}
	if len(sink.calls) != 0 {
		t.Errorf("unexpected side effects: %v", sink.calls)
	}
}
