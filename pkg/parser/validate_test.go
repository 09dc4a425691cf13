package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinra-ai/kin-code/pkg/core"
	"github.com/kinra-ai/kin-code/pkg/tools"
)

type echoTool struct{}

func (echoTool) Describe() tools.Description {
	return tools.Description{Name: "echo", Description: "echoes back"}
}

func (echoTool) Validate(rawArgs map[string]any) (any, error) {
	if _, ok := rawArgs["text"]; !ok {
		return nil, &tools.ToolError{Message: "text is required"}
	}
	return rawArgs, nil
}

func (echoTool) CheckAllowlistDenylist(args any) core.ToolPermission { return core.PermissionUnset }

func (echoTool) Invoke(ctx tools.InvokeContext, args any) (<-chan tools.StreamItem, error) {
	out := make(chan tools.StreamItem)
	close(out)
	return out, nil
}

func TestValidate_ResolvesKnownCall(t *testing.T) {
	mgr := tools.NewManager()
	mgr.Register(echoTool{}, core.ToolConfig{})

	resolved := Validate(mgr, []core.ParsedToolCall{
		{ToolName: "echo", CallID: "c1", RawArgs: map[string]any{"text": "hi"}},
	})

	require.Len(t, resolved.ResolvedCalls, 1)
	assert.Empty(t, resolved.FailedCalls)
	assert.Equal(t, "c1", resolved.ResolvedCalls[0].CallID)
}

func TestValidate_UnknownToolBecomesFailedCall(t *testing.T) {
	mgr := tools.NewManager()

	resolved := Validate(mgr, []core.ParsedToolCall{
		{ToolName: "does_not_exist", CallID: "c1"},
	})

	assert.Empty(t, resolved.ResolvedCalls)
	require.Len(t, resolved.FailedCalls, 1)
	assert.Equal(t, "tool not found", resolved.FailedCalls[0].Error)
}

func TestValidate_SchemaFailureBecomesFailedCall(t *testing.T) {
	mgr := tools.NewManager()
	mgr.Register(echoTool{}, core.ToolConfig{})

	resolved := Validate(mgr, []core.ParsedToolCall{
		{ToolName: "echo", CallID: "c1", RawArgs: map[string]any{}},
	})

	assert.Empty(t, resolved.ResolvedCalls)
	require.Len(t, resolved.FailedCalls, 1)
	assert.Contains(t, resolved.FailedCalls[0].Error, "text is required")
}
