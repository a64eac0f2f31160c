package skills

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
)

const defaultSkillTimeout = 60 * time.Second

// skillTool adapts one manifest into a callable tool. The command runs
// directly (no shell), with the skill directory as working directory.
type skillTool struct {
	manifest    Manifest
	dir         string
	timeout     time.Duration
	allowUnsafe bool
}

func newSkillTool(m Manifest, dir string, fallback time.Duration, allowUnsafe bool) *skillTool {
	timeout := fallback
	if m.TimeoutSec > 0 {
		timeout = time.Duration(m.TimeoutSec) * time.Second
	}
	if timeout <= 0 {
		timeout = defaultSkillTimeout
	}
	return &skillTool{manifest: m, dir: dir, timeout: timeout, allowUnsafe: allowUnsafe}
}

// ToolName is the registry name for a skill, prefixed to keep manifests
// from shadowing builtin tools.
func ToolName(skill string) string { return "skill_" + skill }

func (t *skillTool) Name() string { return ToolName(t.manifest.Name) }

func (t *skillTool) Description() string {
	if t.manifest.Description != "" {
		return t.manifest.Description
	}
	return fmt.Sprintf("Run the %s skill", t.manifest.Name)
}

func (t *skillTool) Parameters() map[string]interface{} {
	if t.manifest.Parameters != nil {
		return t.manifest.Parameters
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *skillTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	for _, req := range t.manifest.requiredParams() {
		if v, ok := args[req]; !ok || v == nil {
			return tools.ErrorResult(fmt.Sprintf("missing required argument %q", req))
		}
	}

	argv := expandArgs(t.manifest.Args, args)

	// The command never passes through a shell, but argument text still
	// must not smuggle chaining or escalation sequences downstream.
	line := strings.Join(append([]string{t.manifest.Command}, argv...), " ")
	if err := tools.CheckCommand(line, t.allowUnsafe); err != nil {
		return tools.ErrorResult("Action Blocked: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.manifest.Command, argv...)
	cmd.Dir = t.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var result string
	if stdout.Len() > 0 {
		result = stdout.String()
	}
	if stderr.Len() > 0 {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return tools.ErrorResult(fmt.Sprintf("Error: skill timed out after %s", t.timeout))
		}
		if result == "" {
			result = err.Error()
		}
		return tools.ErrorResult("Error: " + result)
	}

	if result == "" {
		result = "(skill completed with no output)"
	}
	return tools.SilentResult(result)
}
