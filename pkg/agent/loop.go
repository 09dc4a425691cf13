// Package agent implements the Agent Loop (C9): the turn-based state
// machine driving history repair, middleware, the LLM client, and the tool
// runner to completion, plus the Subagent (Task) delegation path (C10).
// Grounded on pkg/agent/loop.go's runAgentLoop/runLLMIteration shape and
// pkg/agent/compaction.go's summarization technique.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kinra-ai/kin-code/pkg/core"
	"github.com/kinra-ai/kin-code/pkg/parser"
	"github.com/kinra-ai/kin-code/pkg/providers"
	"github.com/kinra-ai/kin-code/pkg/tools"
)

// streamBatchSize is the number of streamed content deltas the loop
// coalesces into one Event before emitting, matching the teacher's N=5
// batching heuristic for terminal-refresh-rate-friendly output.
const streamBatchSize = 5

// Profile names the three builtin agent configurations.
type Profile string

const (
	ProfileDefault  Profile = "default"
	ProfilePlan     Profile = "plan"
	ProfileSubagent Profile = "subagent"
)

// Observer receives the Event stream a running turn produces.
type Observer func(core.Event)

// Loop is one conversation's agent state machine: message history,
// middleware pipeline, tool runner, and the provider client it drives.
type Loop struct {
	History    *History
	Stats      *core.AgentStats
	Middleware *MiddlewarePipeline
	Runner     *ToolRunner
	Tools      *tools.Manager
	Client     *providers.Client

	Model    core.ModelConfig
	Profile  Profile
	observer Observer

	// Streaming selects the per-turn LLM call mode (spec §4.8.1): streaming
	// batches content/reasoning deltas into Events as they arrive (see
	// runOneLLMTurn/streamBatcher); non-streaming issues one blocking call
	// and emits a single Event per non-empty field once it returns.
	Streaming bool

	spawnSubagent func(ctx context.Context, profile Profile, task string, capabilityTags []string) (tools.SubagentResult, error)
}

// NewLoop wires a fresh Loop from its collaborators. systemPrompt seeds
// history[0].
func NewLoop(systemPrompt string, model core.ModelConfig, manager *tools.Manager, client *providers.Client, runner *ToolRunner, mw *MiddlewarePipeline) *Loop {
	loop := &Loop{
		History:    NewHistory([]core.Message{{Role: core.RoleSystem, Content: systemPrompt}}),
		Stats:      &core.AgentStats{MaxContextWindow: model.ContextWindow},
		Middleware: mw,
		Runner:     runner,
		Tools:      manager,
		Client:     client,
		Model:      model,
		Profile:    ProfileDefault,
		Streaming:  true,
	}
	runner.SetAgentManager(loop)
	return loop
}

// SetObserver installs the event sink Act writes to for the duration of
// one call.
func (l *Loop) SetObserver(obs Observer) { l.observer = obs }

func (l *Loop) emit(e core.Event) {
	if l.observer != nil {
		l.observer(e)
	}
}

// SpawnSubagent implements tools.AgentManager so the Task tool can ask
// this loop's owner to run a nested loop without pkg/tools importing
// pkg/agent.
func (l *Loop) SpawnSubagent(ctx context.Context, profile string, task string, capabilityTags []string) (tools.SubagentResult, error) {
	if l.spawnSubagent == nil {
		return tools.SubagentResult{}, fmt.Errorf("subagent delegation not configured")
	}
	return l.spawnSubagent(ctx, Profile(profile), task, capabilityTags)
}

// SetSubagentSpawner installs the callback SpawnSubagent delegates to,
// typically a closure owned by the process hosting multiple Loop
// instances (one per agent profile/session).
func (l *Loop) SetSubagentSpawner(fn func(ctx context.Context, profile Profile, task string, capabilityTags []string) (tools.SubagentResult, error)) {
	l.spawnSubagent = fn
}

// Act appends userMessage (if non-empty, i.e. not a resumed/injected
// turn) and drives turns until a middleware STOPs the loop, the model
// responds with no further tool calls, or ctx is cancelled.
func (l *Loop) Act(ctx context.Context, userMessage string) error {
	if userMessage != "" {
		l.History.Messages = append(l.History.Messages, core.Message{Role: core.RoleUser, Content: userMessage})
		l.Stats.Steps++
		l.emit(core.Event{Type: core.EventUserMessage, Content: userMessage})
	}

	for {
		l.History.Clean()

		beforeResult := l.Middleware.RunBeforeTurn(&ConversationContext{Messages: l.History.Messages, Stats: l.Stats})
		switch beforeResult.Action {
		case core.ActionStop:
			l.emit(core.Event{Type: core.EventAssistant, Content: fmt.Sprintf("<%s>%s</%s>", core.TagStopEvent, beforeResult.Reason, core.TagStopEvent), StoppedByMiddleware: true})
			return nil
		case core.ActionCompact:
			if err := l.compact(ctx, beforeResult.Metadata); err != nil {
				return err
			}
			continue
		case core.ActionInjectMessage:
			l.spliceIntoLastMessage(beforeResult.Message)
		}

		l.Stats.Steps++
		assistantMsg, err := l.runOneLLMTurn(ctx)
		if err != nil {
			return err
		}

		l.appendHistory(assistantMsg)

		// Streaming already emitted content/reasoning as batched Events
		// while the turn ran (see runOneLLMTurn/streamBatcher); a
		// non-streaming turn emits its one-shot equivalent here instead.
		if !l.Streaming {
			if assistantMsg.ReasoningContent != "" {
				l.emit(core.Event{Type: core.EventReasoning, Content: assistantMsg.ReasoningContent, MessageID: assistantMsg.ID})
			}
			if assistantMsg.Content != "" {
				l.emit(core.Event{Type: core.EventAssistant, Content: assistantMsg.Content, MessageID: assistantMsg.ID})
			}
		}

		afterResult := l.Middleware.RunAfterTurn(&ConversationContext{Messages: l.History.Messages, Stats: l.Stats})
		if afterResult.Action == core.ActionStop {
			return nil
		}
		if afterResult.Action == core.ActionCompact {
			if err := l.compact(ctx, afterResult.Metadata); err != nil {
				return err
			}
			continue
		}

		if len(assistantMsg.ToolCalls) == 0 {
			return nil
		}

		resolved := parser.Validate(l.Tools, fromCoreToolCalls(assistantMsg.ToolCalls))
		if err := l.Runner.HandleToolCalls(ctx, resolved, l.Stats, l.emit, l.appendHistory); err != nil {
			return err
		}
	}
}

func (l *Loop) appendHistory(msg core.Message) {
	l.History.Messages = append(l.History.Messages, msg)
}

// spliceIntoLastMessage realises INJECT_MESSAGE by folding text into the
// content of the last message in history, separated by a blank line, so
// the model sees it as part of what's already there rather than a new
// turn. A user message is appended instead only when history is completely
// empty; a history holding just the system prompt gets the text folded
// into that system message.
func (l *Loop) spliceIntoLastMessage(text string) {
	n := len(l.History.Messages)
	if n == 0 {
		l.appendHistory(core.Message{Role: core.RoleUser, Content: text})
		return
	}
	last := &l.History.Messages[n-1]
	if last.Content == "" {
		last.Content = text
		return
	}
	last.Content = last.Content + "\n\n" + text
}

func fromCoreToolCalls(calls []core.ToolCall) []core.ParsedToolCall {
	out := make([]core.ParsedToolCall, 0, len(calls))
	for _, tc := range calls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out = append(out, core.ParsedToolCall{ToolName: tc.Function.Name, CallID: tc.ID, RawArgs: args})
	}
	return out
}

// runOneLLMTurn drives a single backend call and returns the
// fully-assembled assistant message. In non-streaming mode (spec §4.8.1)
// it issues one blocking call; Act emits the resulting content/reasoning
// itself once this returns. In streaming mode, a streamBatcher coalesces
// chunks into Events as they arrive, so the message it returns has
// already been fully reported to the observer.
func (l *Loop) runOneLLMTurn(ctx context.Context) (core.Message, error) {
	toolDefs := toolDefinitions(l.Tools.SchemasForLLM())

	if !l.Streaming {
		msg, err := l.Client.Complete(ctx, l.Model.Name, l.History.Messages, toolDefs, l.Model, l.Stats)
		if err != nil {
			return core.Message{}, err
		}
		msg.Role = core.RoleAssistant
		return msg, nil
	}

	batcher := newStreamBatcher(l.emit)
	msg, err := l.Client.CompleteStreaming(ctx, l.Model.Name, l.History.Messages, toolDefs, l.Model, l.Stats, batcher.onChunk)
	if err != nil {
		return core.Message{}, err
	}
	batcher.flush()
	msg.Role = core.RoleAssistant
	return msg, nil
}

// streamBatcher coalesces a stream of content/reasoning deltas into
// batched Events, grounded on the original's _stream_assistant_events
// content_buffer/reasoning_buffer technique: each kind accumulates until
// either streamBatchSize chunks have landed or the stream switches to the
// other kind, at which point the accumulated side flushes first so
// content and reasoning are never interleaved within one Event.
type streamBatcher struct {
	emit Observer

	contentBuf   strings.Builder
	reasoningBuf strings.Builder
	contentN     int
	reasoningN   int
	messageID    string
}

func newStreamBatcher(emit Observer) *streamBatcher {
	return &streamBatcher{emit: emit}
}

func (b *streamBatcher) onChunk(partial core.Message) {
	if b.messageID == "" && partial.ID != "" {
		b.messageID = partial.ID
	}

	if partial.ReasoningContent != "" {
		b.flushContent()
		b.reasoningBuf.WriteString(partial.ReasoningContent)
		b.reasoningN++
		if b.reasoningN >= streamBatchSize {
			b.flushReasoning()
		}
	}

	if partial.Content != "" {
		b.flushReasoning()
		b.contentBuf.WriteString(partial.Content)
		b.contentN++
		if b.contentN >= streamBatchSize {
			b.flushContent()
		}
	}
}

func (b *streamBatcher) flushReasoning() {
	if b.reasoningBuf.Len() == 0 {
		return
	}
	text := b.reasoningBuf.String()
	b.reasoningBuf.Reset()
	b.reasoningN = 0
	b.emit(core.Event{Type: core.EventReasoning, Content: text, MessageID: b.messageID})
}

func (b *streamBatcher) flushContent() {
	if b.contentBuf.Len() == 0 {
		return
	}
	text := b.contentBuf.String()
	b.contentBuf.Reset()
	b.contentN = 0
	if strings.TrimSpace(text) == "" {
		return
	}
	b.emit(core.Event{Type: core.EventAssistant, Content: text, MessageID: b.messageID})
}

// flush emits whatever remains buffered once the stream ends, reasoning
// before content to match the mid-stream flush-on-switch order.
func (b *streamBatcher) flush() {
	b.flushReasoning()
	b.flushContent()
}

func toolDefinitions(descs []tools.Description) []providers.ToolDefinition {
	out := make([]providers.ToolDefinition, 0, len(descs))
	for _, d := range descs {
		out = append(out, providers.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Schema})
	}
	return out
}

// ClearHistory resets history to just a (possibly new) system prompt and
// resets stats and middleware state, e.g. on a user-issued /clear.
func (l *Loop) ClearHistory(systemPrompt string) {
	l.History.Reset(core.Message{Role: core.RoleSystem, Content: systemPrompt})
	*l.Stats = core.AgentStats{
		InputPricePerMillion:  l.Stats.InputPricePerMillion,
		OutputPricePerMillion: l.Stats.OutputPricePerMillion,
		MaxContextWindow:      l.Stats.MaxContextWindow,
	}
	l.Middleware.Reset(core.ResetStop)
}

// ReloadWithInitialMessages replaces history wholesale, e.g. resuming a
// persisted session, repairing invariants immediately so the first turn
// never sees a broken transcript.
func (l *Loop) ReloadWithInitialMessages(messages []core.Message) {
	l.History.Messages = messages
	l.History.Clean()
}

// SwitchAgent reconfigures the loop for a different model/profile without
// losing conversation history, resetting only the provider backend (model
// and provider may differ) and any middleware state tied to the previous
// model's context window.
func (l *Loop) SwitchAgent(profile Profile, model core.ModelConfig, backend providers.Backend) {
	l.Profile = profile
	l.Model = model
	l.Stats.MaxContextWindow = model.ContextWindow
	l.Client.SwapBackend(backend)
	l.Middleware.Reset(core.ResetStop)
}
