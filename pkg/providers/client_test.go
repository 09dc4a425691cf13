package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// scriptedBackend replays a fixed Chunk sequence for CompleteStreaming, or
// a single Chunk for Complete, without touching any network.
type scriptedBackend struct {
	chunks       []Chunk
	completeResp Chunk
}

func (b *scriptedBackend) Open(context.Context) error { return nil }

func (b *scriptedBackend) Close() error { return nil }

func (b *scriptedBackend) Complete(ctx context.Context, model string, messages []core.Message, tools []ToolDefinition, opts ChatOptions) (Chunk, error) {
	return b.completeResp, nil
}

func (b *scriptedBackend) CompleteStreaming(ctx context.Context, model string, messages []core.Message, tools []ToolDefinition, opts ChatOptions) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, len(b.chunks))
	errs := make(chan error)
	for _, c := range b.chunks {
		chunks <- c
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (b *scriptedBackend) CountTokens(context.Context, string, []core.Message, []ToolDefinition) (int, error) {
	return 0, nil
}

func TestCompleteStreaming_TerminalChunkReplacesNotAppends(t *testing.T) {
	// Mirrors a real backend's shape: incremental deltas for live display,
	// then one terminal chunk (Usage != nil) carrying the fully-assembled
	// canonical message. Concatenating every chunk's Content naively would
	// double the text; the client must take the terminal chunk as-is.
	backend := &scriptedBackend{
		chunks: []Chunk{
			{Message: core.Message{Content: "The "}},
			{Message: core.Message{Content: "answer "}},
			{Message: core.Message{Content: "is 42."}},
			{Message: core.Message{Content: "The answer is 42."}, Usage: &Usage{PromptTokens: 10, CompletionTokens: 5}},
		},
	}
	client := NewClient(backend, "sess-1")

	var deltas []string
	msg, err := client.CompleteStreaming(context.Background(), "model", nil, nil, core.ModelConfig{}, &core.AgentStats{}, func(partial core.Message) {
		deltas = append(deltas, partial.Content)
	})

	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", msg.Content, "final message must equal the terminal chunk's content exactly once, not duplicated")
	assert.Len(t, deltas, 4, "onChunk still sees every chunk for live display")
}

func TestCompleteStreaming_MergesToolCallsAcrossChunks(t *testing.T) {
	backend := &scriptedBackend{
		chunks: []Chunk{
			{Message: core.Message{ToolCalls: []core.ToolCall{{ID: "call_1", Function: core.FunctionCall{Name: "shell", Arguments: `{"cmd":`}}}}},
			{
				Message: core.Message{ToolCalls: []core.ToolCall{{ID: "call_1", Function: core.FunctionCall{Name: "shell", Arguments: `{"cmd":"ls"}`}}}},
				Usage:   &Usage{PromptTokens: 1, CompletionTokens: 1},
			},
		},
	}
	client := NewClient(backend, "sess-1")

	msg, err := client.CompleteStreaming(context.Background(), "model", nil, nil, core.ModelConfig{}, &core.AgentStats{}, nil)

	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, `{"cmd":"ls"}`, msg.ToolCalls[0].Function.Arguments, "later chunk for the same call id wins")
}

func TestCompleteStreaming_RecordsUsageFromTerminalChunkOnly(t *testing.T) {
	backend := &scriptedBackend{
		chunks: []Chunk{
			{Message: core.Message{Content: "partial"}},
			{Message: core.Message{Content: "partial final"}, Usage: &Usage{PromptTokens: 100, CompletionTokens: 20}},
		},
	}
	client := NewClient(backend, "sess-1")
	stats := &core.AgentStats{}

	_, err := client.CompleteStreaming(context.Background(), "model", nil, nil, core.ModelConfig{}, stats, nil)

	require.NoError(t, err)
	assert.Equal(t, 100, stats.LastTurnPromptTokens)
	assert.Equal(t, 20, stats.LastTurnCompletionTokens)
}

func TestComplete_NonStreamingSingleChunk(t *testing.T) {
	backend := &scriptedBackend{completeResp: Chunk{Message: core.Message{Content: "hi there"}, Usage: &Usage{PromptTokens: 3, CompletionTokens: 2}}}
	client := NewClient(backend, "sess-1")
	stats := &core.AgentStats{}

	msg, err := client.Complete(context.Background(), "model", nil, nil, core.ModelConfig{}, stats)

	require.NoError(t, err)
	assert.Equal(t, "hi there", msg.Content)
	assert.Equal(t, 3, stats.LastTurnPromptTokens)
}
