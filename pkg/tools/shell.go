package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// ShellTool runs a shell command to completion, streaming each output line
// as a ToolStreamEvent progress item before resolving with the combined
// output. Grounded on the teacher's process.go session model, narrowed
// from its persistent background-session design to a single
// run-to-completion-or-timeout invocation, since this core has no
// long-lived session registry to park a backgrounded process in.
type ShellTool struct {
	Workspace      string
	DefaultTimeout time.Duration
}

func NewShellTool(workspace string, defaultTimeout time.Duration) *ShellTool {
	if defaultTimeout == 0 {
		defaultTimeout = 2 * time.Minute
	}
	return &ShellTool{Workspace: workspace, DefaultTimeout: defaultTimeout}
}

type shellArgs struct {
	Command string
	Timeout time.Duration
}

func (t *ShellTool) Describe() Description {
	return Description{
		Name:        "bash",
		Description: "Run a shell command in the workspace and return its combined stdout/stderr.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":         map[string]any{"type": "string"},
				"timeout_seconds": map[string]any{"type": "number", "description": "Overrides the default timeout."},
			},
			"required": []string{"command"},
		},
	}
}

func (t *ShellTool) Validate(rawArgs map[string]any) (any, error) {
	command, _ := rawArgs["command"].(string)
	if command == "" {
		return nil, &ToolError{Message: "command is required"}
	}
	timeout := t.DefaultTimeout
	if secs, ok := rawArgs["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	return shellArgs{Command: command, Timeout: timeout}, nil
}

func (t *ShellTool) CheckAllowlistDenylist(args any) core.ToolPermission {
	return core.PermissionUnset
}

// Invoke owns its own timeout (per spec §5: "individual tools own their
// own timeouts; the runner does not impose a global per-tool timeout but
// respects cancellation") layered underneath the caller's ctx.
func (t *ShellTool) Invoke(ctx InvokeContext, args any) (<-chan StreamItem, error) {
	a := args.(shellArgs)
	out := make(chan StreamItem, 8)

	go func() {
		defer close(out)

		runCtx, cancel := context.WithTimeout(ctx.Context, a.Timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "sh", "-c", a.Command)
		if t.Workspace != "" {
			cmd.Dir = t.Workspace
		}

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			out <- StreamItem{Kind: StreamDone, Result: ErrorResult(err.Error(), &ToolError{Message: err.Error()})}
			return
		}
		cmd.Stderr = cmd.Stdout

		if err := cmd.Start(); err != nil {
			out <- StreamItem{Kind: StreamDone, Result: ErrorResult(err.Error(), &ToolError{Message: err.Error()})}
			return
		}

		var collected []byte
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			collected = append(collected, line...)
			collected = append(collected, '\n')
			out <- StreamItem{Kind: StreamProgress, Message: line}
		}
		_ = drainErr(scanner.Err())

		err = cmd.Wait()

		text := string(collected)
		if runCtx.Err() == context.DeadlineExceeded {
			out <- StreamItem{Kind: StreamDone, Result: ErrorResult(
				fmt.Sprintf("command timed out after %s\n%s", a.Timeout, text),
				&ToolError{Message: "command timed out"},
			)}
			return
		}
		if err != nil {
			out <- StreamItem{Kind: StreamDone, Result: Result{
				ForLLM:  fmt.Sprintf("exit status: %s\n%s", err, text),
				ForUser: text,
				IsError: true,
				Err:     &ToolError{Message: err.Error()},
			}}
			return
		}

		out <- StreamItem{Kind: StreamDone, Result: NewResult(text)}
	}()

	return out, nil
}

func drainErr(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}

func (t *ShellTool) GetCallDisplay(args any) string {
	a, ok := args.(shellArgs)
	if !ok {
		return "bash"
	}
	return fmt.Sprintf("bash(%s)", a.Command)
}

func (t *ShellTool) GetResultDisplay(result Result) string {
	if s, ok := result.ForUser.(string); ok {
		return s
	}
	return result.ForLLM
}
