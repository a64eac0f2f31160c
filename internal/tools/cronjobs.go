package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/cron"
)

// CronAddTool schedules a future or recurring message to self.
type CronAddTool struct {
	store *cron.Store
}

func NewCronAddTool(store *cron.Store) *CronAddTool {
	return &CronAddTool{store: store}
}

func (t *CronAddTool) Name() string { return "cron_add" }
func (t *CronAddTool) Description() string {
	return "Schedule a reminder or recurring task. Provide either in_minutes for a one-shot or cron for a recurring schedule, not both."
}
func (t *CronAddTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "What to be reminded about; delivered back to this conversation",
			},
			"in_minutes": map[string]interface{}{
				"type":        "number",
				"description": "Fire once, this many minutes from now",
			},
			"cron": map[string]interface{}{
				"type":        "string",
				"description": "Recurring 5-field cron expression, e.g. '0 9 * * 1-5'",
			},
			"tz_offset_min": map[string]interface{}{
				"type":        "number",
				"description": "Timezone offset from UTC in minutes for the cron expression",
			},
		},
		"required": []string{"message"},
	}
}

func (t *CronAddTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return ErrorResult("message is required")
	}

	job := cron.Job{
		Payload: message,
		Context: cron.JobContext{
			Channel:  ToolChannelFromCtx(ctx),
			ChatID:   ToolChatIDFromCtx(ctx),
			SenderID: ToolSenderIDFromCtx(ctx),
		},
	}
	if v, ok := args["in_minutes"].(float64); ok && v > 0 {
		job.TriggerAt = float64(time.Now().Add(time.Duration(v * float64(time.Minute))).Unix())
	}
	if expr, ok := args["cron"].(string); ok && expr != "" {
		job.CronExpr = expr
	}
	if v, ok := args["tz_offset_min"].(float64); ok {
		job.TZOffsetMin = int(v)
	}

	id, err := t.store.Add(job)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: could not schedule: %v", err)).WithError(err)
	}

	stored, _ := t.store.Get(id)
	when := time.Unix(int64(stored.TriggerAt), 0).UTC().Format(time.RFC3339)
	if stored.Recurring() {
		return NewResult(fmt.Sprintf("Scheduled job %s (cron %q, next fire %s)", id, stored.CronExpr, when))
	}
	return NewResult(fmt.Sprintf("Scheduled job %s for %s", id, when))
}

// CronListTool lists pending scheduled jobs.
type CronListTool struct {
	store *cron.Store
}

func NewCronListTool(store *cron.Store) *CronListTool {
	return &CronListTool{store: store}
}

func (t *CronListTool) Name() string        { return "cron_list" }
func (t *CronListTool) Description() string { return "List scheduled jobs" }
func (t *CronListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *CronListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	jobs := t.store.List()
	if len(jobs) == 0 {
		return SilentResult("No scheduled jobs.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d scheduled job(s):\n", len(jobs))
	for _, j := range jobs {
		when := time.Unix(int64(j.TriggerAt), 0).UTC().Format(time.RFC3339)
		if j.Recurring() {
			fmt.Fprintf(&b, "- %s: %q next %s (cron %s)\n", j.ID, truncateStr(j.Payload, 60), when, j.CronExpr)
		} else {
			fmt.Fprintf(&b, "- %s: %q at %s\n", j.ID, truncateStr(j.Payload, 60), when)
		}
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// CronRemoveTool cancels a scheduled job.
type CronRemoveTool struct {
	store *cron.Store
}

func NewCronRemoveTool(store *cron.Store) *CronRemoveTool {
	return &CronRemoveTool{store: store}
}

func (t *CronRemoveTool) Name() string        { return "cron_remove" }
func (t *CronRemoveTool) Description() string { return "Cancel a scheduled job by id" }
func (t *CronRemoveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Job id from cron_list",
			},
		},
		"required": []string{"id"},
	}
}

func (t *CronRemoveTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required")
	}
	removed, err := t.store.Remove(id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: could not remove job: %v", err)).WithError(err)
	}
	if !removed {
		return ErrorResult(fmt.Sprintf("Error: no job with id %s", id))
	}
	return NewResult("Removed job " + id)
}
