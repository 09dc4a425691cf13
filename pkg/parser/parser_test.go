package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinra-ai/kin-code/pkg/core"
)

func TestParse_XMLOnlyToolCall(t *testing.T) {
	content := `Let me check that.
<function=read_file><parameter=path>/tmp/a.txt</parameter></function>`

	result := Parse(Input{Content: content, Format: core.ToolCallFormatXML})

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "read_file", result.ToolCalls[0].ToolName)
	assert.Equal(t, "/tmp/a.txt", result.ToolCalls[0].RawArgs["path"])
	assert.Equal(t, "Let me check that.", result.Content)
}

func TestParse_XMLCallCoercesJSONLikeParameters(t *testing.T) {
	content := `<function=shell><parameter=cmd>"ls -la"</parameter><parameter=timeout>30</parameter><parameter=background>true</parameter></function>`

	result := Parse(Input{Content: content, Format: core.ToolCallFormatXML})

	require.Len(t, result.ToolCalls, 1)
	args := result.ToolCalls[0].RawArgs
	assert.Equal(t, "ls -la", args["cmd"])
	assert.Equal(t, float64(30), args["timeout"])
	assert.Equal(t, true, args["background"])
}

func TestParse_StructuredToolCallsAPIFormat(t *testing.T) {
	calls := []core.ToolCall{
		{ID: "call_1", Function: core.FunctionCall{Name: "echo", Arguments: `{"text":"hi"}`}},
	}

	result := Parse(Input{Content: "done", StructuredToolCalls: calls, Format: core.ToolCallFormatAPI})

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "echo", result.ToolCalls[0].ToolName)
	assert.Equal(t, "call_1", result.ToolCalls[0].CallID)
	assert.Equal(t, "hi", result.ToolCalls[0].RawArgs["text"])
	assert.Equal(t, "done", result.Content)
}

func TestParse_AutoFormatPrefersStructuredOverXML(t *testing.T) {
	calls := []core.ToolCall{{ID: "call_1", Function: core.FunctionCall{Name: "echo", Arguments: `{}`}}}
	content := `<function=ignored></function>`

	result := Parse(Input{Content: content, StructuredToolCalls: calls, Format: core.ToolCallFormatAuto})

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "echo", result.ToolCalls[0].ToolName)
}

func TestParse_ThinkTagsStrippedByDefault(t *testing.T) {
	content := "<think>pondering</think>The answer is 42."

	result := Parse(Input{Content: content, Format: core.ToolCallFormatNone})

	assert.Equal(t, "pondering", result.ReasoningContent)
	assert.Equal(t, "The answer is 42.", result.Content)
}

func TestParse_ThinkTagsPreservedWhenConfigured(t *testing.T) {
	content := "<think>pondering</think>The answer is 42."

	result := Parse(Input{Content: content, Format: core.ToolCallFormatNone, ReasoningMode: core.ReasoningPreserve})

	assert.Equal(t, "pondering", result.ReasoningContent)
	assert.Contains(t, result.Content, "<think>pondering</think>")
}

func TestParse_MiniMaxDialectFoldedAlongsideXML(t *testing.T) {
	content := `[TOOL_CALL]<invoke name="search"><parameter name="query">golang</parameter></invoke></minimax:tool_call>`

	result := Parse(Input{Content: content, Format: core.ToolCallFormatXML})

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "search", result.ToolCalls[0].ToolName)
	assert.Equal(t, "golang", result.ToolCalls[0].RawArgs["query"])
}

func TestParse_MiniMaxDialectBracketCloseVariant(t *testing.T) {
	content := `[TOOL_CALL]<invoke name="search"><parameter name="query">golang</parameter></invoke>[/minimax:tool_call]`

	result := Parse(Input{Content: content, Format: core.ToolCallFormatXML})

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "search", result.ToolCalls[0].ToolName)
}

func TestParse_MiniMaxDialectDecodesHTMLEntities(t *testing.T) {
	content := `[TOOL_CALL]<invoke name="search"><parameter name="query">a &amp; b</parameter></invoke></minimax:tool_call>`

	result := Parse(Input{Content: content, Format: core.ToolCallFormatXML})

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "a & b", result.ToolCalls[0].RawArgs["query"])
}

func TestParse_NoneFormatSkipsAllToolCallExtraction(t *testing.T) {
	content := `[TOOL_CALL]<invoke name="search"></invoke></minimax:tool_call> and <function=x></function>`

	result := Parse(Input{Content: content, Format: core.ToolCallFormatNone})

	assert.Empty(t, result.ToolCalls)
	assert.Equal(t, content, result.Content)
}
