package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// Version is the client's reported build version, used in the user-agent
// header.
var Version = "dev"

// Client wraps a Backend: it calls the model name it is given (model and
// provider resolution happen elsewhere), injects per-call headers for
// session affinity, aggregates streaming chunks into
// one canonical message, and updates AgentStats after every call.
type Client struct {
	backend   Backend
	sessionID string
}

func NewClient(backend Backend, sessionID string) *Client {
	return &Client{backend: backend, sessionID: sessionID}
}

// SwapBackend resets the client onto a new backend, e.g. on model switch.
func (c *Client) SwapBackend(backend Backend) {
	c.backend = backend
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"user-agent": fmt.Sprintf("kin-code/%s", Version),
		"x-affinity": c.sessionID,
	}
}

// Complete drives one non-streaming turn and updates stats in place.
func (c *Client) Complete(ctx context.Context, model string, messages []core.Message, tools []ToolDefinition, model_cfg core.ModelConfig, stats *core.AgentStats) (core.Message, error) {
	opts := ChatOptions{
		Temperature:  model_cfg.Temperature,
		TopP:         model_cfg.TopP,
		ExtraHeaders: c.headers(),
	}

	start := time.Now()
	if err := c.backend.Open(ctx); err != nil {
		return core.Message{}, err
	}
	defer c.backend.Close()

	chunk, err := c.backend.Complete(ctx, model, messages, tools, opts)
	if err != nil {
		return core.Message{}, err
	}
	c.recordStats(stats, chunk.Usage, time.Since(start), model_cfg)
	return chunk.Message, nil
}

// CompleteStreaming drives one streaming turn, forwarding aggregation
// hints to onChunk as partials arrive, and returns the final canonical
// message once the stream ends.
func (c *Client) CompleteStreaming(
	ctx context.Context,
	model string,
	messages []core.Message,
	tools []ToolDefinition,
	model_cfg core.ModelConfig,
	stats *core.AgentStats,
	onChunk func(core.Message),
) (core.Message, error) {
	opts := ChatOptions{
		Temperature:  model_cfg.Temperature,
		TopP:         model_cfg.TopP,
		ExtraHeaders: c.headers(),
	}

	start := time.Now()
	if err := c.backend.Open(ctx); err != nil {
		return core.Message{}, err
	}
	defer c.backend.Close()

	chunks, errs := c.backend.CompleteStreaming(ctx, model, messages, tools, opts)

	var final core.Message
	var lastUsage *Usage
	toolCallsByID := map[string]core.ToolCall{}
	var toolCallOrder []string

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				final.ToolCalls = orderedToolCalls(toolCallsByID, toolCallOrder)
				c.recordStats(stats, lastUsage, time.Since(start), model_cfg)
				return final, nil
			}
			// A backend's terminal chunk (identified by carrying Usage)
			// is the fully-assembled, backend-parsed message; it replaces
			// rather than appends to final, since intermediate delta
			// chunks are a live-display echo of the same text, not a
			// disjoint slice of it (openai-compatible backends parse out
			// <think>/XML tool-call markers only once the stream ends).
			if chunk.Usage != nil {
				final.Content = chunk.Message.Content
				final.ReasoningContent = chunk.Message.ReasoningContent
				lastUsage = chunk.Usage
			}
			for _, tc := range chunk.Message.ToolCalls {
				if _, seen := toolCallsByID[tc.ID]; !seen {
					toolCallOrder = append(toolCallOrder, tc.ID)
				}
				toolCallsByID[tc.ID] = tc
			}
			if onChunk != nil {
				onChunk(chunk.Message)
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return core.Message{}, err
			}
		case <-ctx.Done():
			return core.Message{}, ctx.Err()
		}
	}
}

func orderedToolCalls(byID map[string]core.ToolCall, order []string) []core.ToolCall {
	if len(order) == 0 {
		return nil
	}
	out := make([]core.ToolCall, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func (c *Client) recordStats(stats *core.AgentStats, usage *Usage, elapsed time.Duration, model_cfg core.ModelConfig) {
	if stats == nil {
		return
	}
	promptTokens, completionTokens := 0, 0
	if usage != nil {
		promptTokens, completionTokens = usage.PromptTokens, usage.CompletionTokens
	}
	stats.LastTurnDuration = elapsed.Seconds()
	stats.LastTurnPromptTokens = promptTokens
	stats.LastTurnCompletionTokens = completionTokens
	stats.SessionPromptTokens += promptTokens
	stats.SessionCompletionTokens += completionTokens
	stats.ContextTokens = stats.SessionPromptTokens + stats.SessionCompletionTokens
	stats.InputPricePerMillion = model_cfg.InputPricePerM
	stats.OutputPricePerMillion = model_cfg.OutputPricePerM
	if model_cfg.ContextWindow > 0 {
		stats.MaxContextWindow = model_cfg.ContextWindow
	}
	if elapsed.Seconds() > 0 {
		stats.TokensPerSecond = float64(completionTokens) / elapsed.Seconds()
	}
}

// CountTokens delegates to the backend (API call or local estimate,
// backend-specific).
func (c *Client) CountTokens(ctx context.Context, model string, messages []core.Message, tools []ToolDefinition) (int, error) {
	return c.backend.CountTokens(ctx, model, messages, tools)
}
