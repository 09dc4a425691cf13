package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinra-ai/kin-code/pkg/core"
	"github.com/kinra-ai/kin-code/pkg/tools"
)

// fakeTool is a minimal tools.Tool double for exercising the runner's
// resolve -> authorize -> execute -> record pipeline without any real
// side effects.
type fakeTool struct {
	name       string
	permission core.ToolPermission
	result     tools.Result
	invokeErr  error
}

func (f *fakeTool) Describe() tools.Description {
	return tools.Description{Name: f.name, Description: "fake"}
}

func (f *fakeTool) Validate(rawArgs map[string]any) (any, error) { return rawArgs, nil }

func (f *fakeTool) CheckAllowlistDenylist(args any) core.ToolPermission {
	return core.PermissionUnset
}

func (f *fakeTool) Invoke(ctx tools.InvokeContext, args any) (<-chan tools.StreamItem, error) {
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	out := make(chan tools.StreamItem, 1)
	out <- tools.StreamItem{Kind: tools.StreamDone, Result: f.result}
	close(out)
	return out, nil
}

func newRunnerFixture(t *testing.T, tool *fakeTool, approval core.ApprovalCallback) (*ToolRunner, *tools.Manager) {
	t.Helper()
	mgr := tools.NewManager()
	mgr.Register(tool, core.ToolConfig{Permission: tool.permission})
	runner := NewToolRunner(mgr, approval, false)
	return runner, mgr
}

type yesApproval struct{}

func (yesApproval) Approve(string, json.RawMessage, string) (core.ApprovalResponse, string) {
	return core.ApprovalYes, ""
}

func TestToolRunner_ExecutesAllowedCall(t *testing.T) {
	tool := &fakeTool{name: "echo", permission: core.PermissionAlways, result: tools.NewResult("hi")}
	runner, _ := newRunnerFixture(t, tool, nil)

	var events []core.Event
	var history []core.Message
	resolved := core.ResolvedMessage{ResolvedCalls: []core.ResolvedToolCall{{ToolName: "echo", CallID: "c1"}}}
	stats := &core.AgentStats{}

	err := runner.HandleToolCalls(context.Background(), resolved, stats,
		func(e core.Event) { events = append(events, e) },
		func(m core.Message) { history = append(history, m) },
	)

	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, core.RoleTool, history[0].Role)
	assert.Equal(t, 1, stats.ToolCallsSucceeded)
	assert.Equal(t, 1, stats.ToolCallsAgreed)

	var sawResult bool
	for _, e := range events {
		if e.Type == core.EventToolResult {
			sawResult = true
		}
	}
	assert.True(t, sawResult)
}

func TestToolRunner_SkipsWithoutApproval(t *testing.T) {
	tool := &fakeTool{name: "shell", permission: core.PermissionAsk, result: tools.NewResult("should not run")}
	runner, _ := newRunnerFixture(t, tool, core.RejectAllApproval{})

	var history []core.Message
	resolved := core.ResolvedMessage{ResolvedCalls: []core.ResolvedToolCall{{ToolName: "shell", CallID: "c1"}}}
	stats := &core.AgentStats{}

	err := runner.HandleToolCalls(context.Background(), resolved, stats,
		func(core.Event) {},
		func(m core.Message) { history = append(history, m) },
	)

	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, stats.ToolCallsRejected)
	assert.Equal(t, 0, stats.ToolCallsSucceeded)
}

func TestToolRunner_NeverPermissionBlocksEvenWithApproval(t *testing.T) {
	tool := &fakeTool{name: "rm", permission: core.PermissionNever, result: tools.NewResult("should not run")}
	runner, _ := newRunnerFixture(t, tool, yesApproval{})

	stats := &core.AgentStats{}
	resolved := core.ResolvedMessage{ResolvedCalls: []core.ResolvedToolCall{{ToolName: "rm", CallID: "c1"}}}

	err := runner.HandleToolCalls(context.Background(), resolved, stats, func(core.Event) {}, func(core.Message) {})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.ToolCallsRejected)
}

func TestToolRunner_AutoApproveSkipsAskFlow(t *testing.T) {
	tool := &fakeTool{name: "read_file", permission: core.PermissionAsk, result: tools.NewResult("contents")}
	mgr := tools.NewManager()
	mgr.Register(tool, core.ToolConfig{Permission: tool.permission})
	runner := NewToolRunner(mgr, core.RejectAllApproval{}, true)

	stats := &core.AgentStats{}
	resolved := core.ResolvedMessage{ResolvedCalls: []core.ResolvedToolCall{{ToolName: "read_file", CallID: "c1"}}}

	var history []core.Message
	err := runner.HandleToolCalls(context.Background(), resolved, stats, func(core.Event) {}, func(m core.Message) { history = append(history, m) })

	require.NoError(t, err)
	assert.Equal(t, 1, stats.ToolCallsSucceeded)
	require.Len(t, history, 1)
	assert.Equal(t, "contents", history[0].Content)
}

func TestToolRunner_RecordsFailedCallsWithoutExecuting(t *testing.T) {
	runner, _ := newRunnerFixture(t, &fakeTool{name: "noop", permission: core.PermissionAlways}, nil)

	stats := &core.AgentStats{}
	resolved := core.ResolvedMessage{FailedCalls: []core.FailedToolCall{{CallID: "c1", ToolName: "bogus", Error: "unknown tool"}}}

	var history []core.Message
	err := runner.HandleToolCalls(context.Background(), resolved, stats, func(core.Event) {}, func(m core.Message) { history = append(history, m) })

	require.NoError(t, err)
	assert.Equal(t, 1, stats.ToolCallsFailed)
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Content, "unknown tool")
}
