package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinra-ai/kin-code/pkg/core"
)

func TestHistoryClean_FillsMissingToolResponses(t *testing.T) {
	h := NewHistory([]core.Message{
		{Role: core.RoleSystem, Content: "sys"},
		{Role: core.RoleUser, Content: "do the thing"},
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{
			{ID: "call_1", Function: core.FunctionCall{Name: "shell"}},
			{ID: "call_2", Function: core.FunctionCall{Name: "read_file"}},
		}},
		{Role: core.RoleTool, ToolCallID: "call_1", ToolName: "shell", Content: "ok"},
	})

	h.Clean()

	// Fill inserts the missing call_2 response, then since that now ends
	// the history on a tool message, EnsureAssistantAfterTools appends one
	// more trailing assistant message.
	require.Len(t, h.Messages, 6)
	assert.Equal(t, core.RoleTool, h.Messages[4].Role)
	assert.Equal(t, "call_2", h.Messages[4].ToolCallID)
	assert.Equal(t, "read_file", h.Messages[4].ToolName)
	assert.Contains(t, h.Messages[4].Content, "no response available")
	assert.Equal(t, core.RoleAssistant, h.Messages[5].Role)
}

func TestHistoryClean_EnsuresAssistantAfterTools(t *testing.T) {
	h := NewHistory([]core.Message{
		{Role: core.RoleSystem, Content: "sys"},
		{Role: core.RoleUser, Content: "go"},
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{
			{ID: "call_1", Function: core.FunctionCall{Name: "shell"}},
		}},
		{Role: core.RoleTool, ToolCallID: "call_1", ToolName: "shell", Content: "done"},
	})

	h.Clean()

	last := h.Messages[len(h.Messages)-1]
	assert.Equal(t, core.RoleAssistant, last.Role)
	assert.Equal(t, "Understood.", last.Content)
}

func TestHistoryClean_IsIdempotent(t *testing.T) {
	h := NewHistory([]core.Message{
		{Role: core.RoleSystem, Content: "sys"},
		{Role: core.RoleUser, Content: "go"},
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{
			{ID: "call_1", Function: core.FunctionCall{Name: "shell"}},
			{ID: "call_2", Function: core.FunctionCall{Name: "read_file"}},
		}},
	})

	h.Clean()
	first := append([]core.Message(nil), h.Messages...)

	h.Clean()
	h.Clean()

	assert.Equal(t, first, h.Messages, "repeated Clean calls must not keep inserting synthetic messages")
}

func TestHistoryClean_NoopBelowAcceptableSize(t *testing.T) {
	h := NewHistory([]core.Message{{Role: core.RoleSystem, Content: "sys"}})
	h.Clean()
	assert.Len(t, h.Messages, 1)
}

func TestHistory_ReplaceSystemMessage(t *testing.T) {
	h := NewHistory([]core.Message{
		{Role: core.RoleSystem, Content: "old"},
		{Role: core.RoleUser, Content: "hi"},
	})

	h.ReplaceSystemMessage("new prompt")

	require.Len(t, h.Messages, 2)
	assert.Equal(t, core.RoleSystem, h.Messages[0].Role)
	assert.Equal(t, "new prompt", h.Messages[0].Content)
	assert.Equal(t, "hi", h.Messages[1].Content)
}

func TestHistory_Reset(t *testing.T) {
	h := NewHistory([]core.Message{
		{Role: core.RoleSystem, Content: "old"},
		{Role: core.RoleUser, Content: "hi"},
		{Role: core.RoleAssistant, Content: "hello"},
	})

	h.Reset(core.Message{Role: core.RoleSystem, Content: "fresh"})

	require.Len(t, h.Messages, 1)
	assert.Equal(t, "fresh", h.Messages[0].Content)
}
