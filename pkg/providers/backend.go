// Package providers implements the LLM Backend port (C4) and the LLM
// Client (C5): pluggable backends providing non-streaming, streaming, and
// token-counting operations, wrapped by a client that injects headers,
// tracks AgentStats, and classifies failover-worthy errors.
package providers

import (
	"context"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// ToolDefinition is what the client sends to a backend describing one
// available tool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatOptions carries the per-call tunables a backend may honor.
type ChatOptions struct {
	Temperature  float64
	TopP         *float64
	MaxTokens    int
	ToolChoice   string
	ExtraHeaders map[string]string
}

// Chunk is one unit of backend output. Non-streaming Complete returns
// exactly one Chunk. CompleteStreaming yields a sequence of incremental
// partial Chunks for live display, followed by exactly one terminal
// Chunk identified by a non-nil Usage: the terminal Chunk's Message is
// already the fully-assembled canonical message (not a delta to append),
// so a caller assembling the final message takes it from the terminal
// Chunk rather than concatenating every Chunk's Content.
type Chunk struct {
	Message core.Message
	Usage   *Usage
}

// Usage is token accounting for one backend call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Backend is the pluggable LLM transport port. Implementations exist per
// provider (native Anthropic, OpenAI-compatible); there is no generic HTTP
// JSON backend.
type Backend interface {
	Open(ctx context.Context) error
	Close() error
	Complete(ctx context.Context, model string, messages []core.Message, tools []ToolDefinition, opts ChatOptions) (Chunk, error)
	CompleteStreaming(ctx context.Context, model string, messages []core.Message, tools []ToolDefinition, opts ChatOptions) (<-chan Chunk, <-chan error)
	CountTokens(ctx context.Context, model string, messages []core.Message, tools []ToolDefinition) (int, error)
}
