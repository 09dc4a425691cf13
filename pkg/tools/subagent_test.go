package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgentManager struct {
	result SubagentResult
	err    error

	gotProfile string
	gotTask    string
	gotTags    []string
}

func (f *fakeAgentManager) SpawnSubagent(ctx context.Context, profile, task string, capabilityTags []string) (SubagentResult, error) {
	f.gotProfile = profile
	f.gotTask = task
	f.gotTags = capabilityTags
	return f.result, f.err
}

func TestSubagentTool_Validate_DefaultsToFirstAvailableProfile(t *testing.T) {
	tool := NewSubagentTool([]string{"subagent", "plan"})

	args, err := tool.Validate(map[string]any{"task": "investigate the bug"})

	require.NoError(t, err)
	a := args.(subagentArgs)
	assert.Equal(t, "subagent", a.Profile)
	assert.Equal(t, "investigate the bug", a.Task)
	assert.Empty(t, a.CapabilityTags)
}

func TestSubagentTool_Validate_RejectsUnavailableProfile(t *testing.T) {
	tool := NewSubagentTool([]string{"subagent"})

	_, err := tool.Validate(map[string]any{"profile": "plan", "task": "do it"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available for delegation")
}

func TestSubagentTool_Validate_RequiresTask(t *testing.T) {
	tool := NewSubagentTool(nil)

	_, err := tool.Validate(map[string]any{"profile": "subagent"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "task is required")
}

func TestSubagentTool_Validate_CollectsStringCapabilityTags(t *testing.T) {
	tool := NewSubagentTool([]string{"subagent"})

	args, err := tool.Validate(map[string]any{
		"task":            "read the diagram",
		"capability_tags": []any{"vision", "", 42, "long-context"},
	})

	require.NoError(t, err)
	a := args.(subagentArgs)
	assert.Equal(t, []string{"vision", "long-context"}, a.CapabilityTags, "non-string and empty entries are dropped")
}

func TestSubagentTool_Invoke_ReturnsCompletedResponse(t *testing.T) {
	tool := NewSubagentTool([]string{"subagent"})
	mgr := &fakeAgentManager{result: SubagentResult{Response: "all done", Completed: true}}

	stream, err := tool.Invoke(InvokeContext{Context: context.Background(), AgentManager: mgr},
		subagentArgs{Profile: "subagent", Task: "do something", CapabilityTags: []string{"vision"}})
	require.NoError(t, err)

	var final Result
	for item := range stream {
		if item.Kind == StreamDone {
			final = item.Result
		}
	}

	assert.Equal(t, "all done", final.ForLLM)
	assert.False(t, final.IsError)
	assert.Equal(t, "subagent", mgr.gotProfile)
	assert.Equal(t, "do something", mgr.gotTask)
	assert.Equal(t, []string{"vision"}, mgr.gotTags)
}

func TestSubagentTool_Invoke_TagsIncompleteResponse(t *testing.T) {
	tool := NewSubagentTool([]string{"subagent"})
	mgr := &fakeAgentManager{result: SubagentResult{Response: "partial progress", Completed: false, TurnsUsed: 5}}

	stream, err := tool.Invoke(InvokeContext{Context: context.Background(), AgentManager: mgr},
		subagentArgs{Profile: "subagent", Task: "do something"})
	require.NoError(t, err)

	var final Result
	for item := range stream {
		if item.Kind == StreamDone {
			final = item.Result
		}
	}

	assert.Contains(t, final.ForLLM, "partial progress")
	assert.Contains(t, final.ForLLM, "subagent_incomplete")
	assert.Contains(t, final.ForLLM, "5 turns")
}

func TestSubagentTool_Invoke_RequiresAgentManager(t *testing.T) {
	tool := NewSubagentTool([]string{"subagent"})

	_, err := tool.Invoke(InvokeContext{Context: context.Background()}, subagentArgs{Profile: "subagent", Task: "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available in this session")
}

var _ AgentManager = (*fakeAgentManager)(nil)
