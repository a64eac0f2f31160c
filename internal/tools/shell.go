package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

const defaultExecTimeout = 60 * time.Second

// ExecTool runs a single shell command in the workspace.
type ExecTool struct {
	workspace   string
	timeout     time.Duration
	allowUnsafe bool
}

func NewExecTool(workspace string, timeout time.Duration, allowUnsafe bool) *ExecTool {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &ExecTool{workspace: workspace, timeout: timeout, allowUnsafe: allowUnsafe}
}

func (t *ExecTool) Name() string        { return "run_command" }
func (t *ExecTool) Description() string { return "Execute a shell command and return its output" }
func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute. One command only; chaining and redirection are rejected.",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Optional working directory, relative to the workspace",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	if err := CheckCommand(command, t.allowUnsafe); err != nil {
		return ErrorResult("Action Blocked: " + err.Error())
	}

	cwd := t.workspace
	if wd, _ := args["working_dir"].(string); wd != "" {
		resolved, err := resolvePath(wd, t.workspace)
		if err != nil {
			return ErrorResult(err.Error())
		}
		cwd = resolved
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd

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
			return ErrorResult(fmt.Sprintf("Error: command timed out after %s", t.timeout))
		}
		if result == "" {
			result = err.Error()
		}
		return ErrorResult("Error: " + result)
	}

	if result == "" {
		result = "(command completed with no output)"
	}
	return SilentResult(result)
}
