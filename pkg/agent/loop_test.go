package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinra-ai/kin-code/pkg/core"
	"github.com/kinra-ai/kin-code/pkg/providers"
	"github.com/kinra-ai/kin-code/pkg/tools"
)

// scriptedBackend replays a queue of canned responses, one per LLM turn,
// regardless of whether the Loop calls Complete or CompleteStreaming.
type scriptedBackend struct {
	responses []core.Message
	calls     int
}

func (b *scriptedBackend) Open(context.Context) error { return nil }
func (b *scriptedBackend) Close() error                { return nil }

func (b *scriptedBackend) next() core.Message {
	if b.calls >= len(b.responses) {
		return core.Message{}
	}
	msg := b.responses[b.calls]
	b.calls++
	return msg
}

func (b *scriptedBackend) Complete(ctx context.Context, model string, messages []core.Message, toolDefs []providers.ToolDefinition, opts providers.ChatOptions) (providers.Chunk, error) {
	return providers.Chunk{Message: b.next(), Usage: &providers.Usage{PromptTokens: 1, CompletionTokens: 1}}, nil
}

func (b *scriptedBackend) CompleteStreaming(ctx context.Context, model string, messages []core.Message, toolDefs []providers.ToolDefinition, opts providers.ChatOptions) (<-chan providers.Chunk, <-chan error) {
	msg := b.next()
	chunks := make(chan providers.Chunk, 1)
	errs := make(chan error)
	chunks <- providers.Chunk{Message: msg, Usage: &providers.Usage{PromptTokens: 1, CompletionTokens: 1}}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (b *scriptedBackend) CountTokens(context.Context, string, []core.Message, []providers.ToolDefinition) (int, error) {
	return 0, nil
}

// blockingTool never resolves until its context is cancelled, used to
// exercise the user-cancel scenario.
type blockingTool struct{}

func (blockingTool) Describe() tools.Description {
	return tools.Description{Name: "wait", Description: "blocks until cancelled"}
}
func (blockingTool) Validate(rawArgs map[string]any) (any, error) { return nil, nil }
func (blockingTool) CheckAllowlistDenylist(any) core.ToolPermission {
	return core.PermissionAlways
}
func (blockingTool) Invoke(ctx tools.InvokeContext, args any) (<-chan tools.StreamItem, error) {
	out := make(chan tools.StreamItem)
	go func() {
		<-ctx.Context.Done()
	}()
	return out, nil
}

func newTestLoop(t *testing.T, backend providers.Backend, maxTurns int) *Loop {
	t.Helper()
	manager := tools.NewManager()
	manager.Register(tools.NewShellTool(t.TempDir(), 5*time.Second), core.ToolConfig{Permission: core.PermissionAlways})
	manager.Register(blockingTool{}, core.ToolConfig{Permission: core.PermissionAlways})

	client := providers.NewClient(backend, "test-session")
	runner := NewToolRunner(manager, core.RejectAllApproval{}, true)
	mw := NewMiddlewarePipeline()
	if maxTurns > 0 {
		mw.Add(&TurnLimitMiddleware{MaxTurns: maxTurns})
	}

	model := core.ModelConfig{Name: "test-model", ContextWindow: 100000}
	return NewLoop("you are a test agent", model, manager, client, runner, mw)
}

func TestLoop_EchoScenario(t *testing.T) {
	backend := &scriptedBackend{responses: []core.Message{
		{Content: "hello yourself"},
	}}
	loop := newTestLoop(t, backend, 0)

	var events []core.Event
	loop.SetObserver(func(e core.Event) { events = append(events, e) })

	err := loop.Act(context.Background(), "hello")

	require.NoError(t, err)
	require.Len(t, loop.History.Messages, 3) // system, user, assistant
	assert.Equal(t, "hello yourself", loop.History.Messages[2].Content)

	var sawAssistant bool
	for _, e := range events {
		if e.Type == core.EventAssistant && e.Content == "hello yourself" {
			sawAssistant = true
		}
	}
	assert.True(t, sawAssistant)
}

func TestLoop_SingleShellToolScenario(t *testing.T) {
	backend := &scriptedBackend{responses: []core.Message{
		{ToolCalls: []core.ToolCall{{ID: "call_1", Function: core.FunctionCall{Name: "bash", Arguments: `{"command":"echo hi"}`}}}},
		{Content: "the command printed hi"},
	}}
	loop := newTestLoop(t, backend, 0)

	var events []core.Event
	loop.SetObserver(func(e core.Event) { events = append(events, e) })

	err := loop.Act(context.Background(), "run echo hi")

	require.NoError(t, err)

	var sawToolCall, sawToolResult bool
	for _, e := range events {
		if e.Type == core.EventToolCall && e.ToolName == "bash" {
			sawToolCall = true
		}
		if e.Type == core.EventToolResult && e.ToolName == "bash" {
			sawToolResult = true
			assert.Empty(t, e.Error)
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawToolResult)

	last := loop.History.Messages[len(loop.History.Messages)-1]
	assert.Equal(t, "the command printed hi", last.Content)
}

func TestLoop_TurnLimitScenario(t *testing.T) {
	// Every turn asks to run the same tool again, so without a cap this
	// would loop forever; TurnLimitMiddleware must cut it off.
	infiniteToolCall := core.Message{ToolCalls: []core.ToolCall{{ID: "call_1", Function: core.FunctionCall{Name: "bash", Arguments: `{"command":"true"}`}}}}
	backend := &scriptedBackend{responses: []core.Message{infiniteToolCall, infiniteToolCall, infiniteToolCall, infiniteToolCall}}
	loop := newTestLoop(t, backend, 1)

	var events []core.Event
	loop.SetObserver(func(e core.Event) { events = append(events, e) })

	err := loop.Act(context.Background(), "go")

	require.NoError(t, err)

	var stopped bool
	for _, e := range events {
		if e.Type == core.EventAssistant && e.StoppedByMiddleware {
			stopped = true
		}
	}
	assert.True(t, stopped, "turn limit must emit a StoppedByMiddleware assistant event")
}

func TestLoop_AutoCompactScenario(t *testing.T) {
	backend := &scriptedBackend{responses: []core.Message{
		{Content: "recap of everything so far"}, // compaction's summarize() call
		{Content: "continuing after compaction"},
	}}
	loop := newTestLoop(t, backend, 0)
	loop.Middleware.Add(&AutoCompactMiddleware{ThresholdPercent: 0.5, MaxContext: 100})
	loop.Stats.ContextTokens = 80

	// Pad history so compaction has more than keepRecentMessages to summarize.
	for i := 0; i < 10; i++ {
		loop.History.Messages = append(loop.History.Messages,
			core.Message{Role: core.RoleUser, Content: "filler"},
			core.Message{Role: core.RoleAssistant, Content: "ack"},
		)
	}

	var events []core.Event
	loop.SetObserver(func(e core.Event) { events = append(events, e) })

	err := loop.Act(context.Background(), "go")

	require.NoError(t, err)

	var sawStart, sawEnd bool
	for _, e := range events {
		if e.Type == core.EventCompactStart {
			sawStart = true
		}
		if e.Type == core.EventCompactEnd {
			sawEnd = true
		}
	}
	assert.True(t, sawStart)
	assert.True(t, sawEnd)

	found := false
	for _, m := range loop.History.Messages {
		if m.Role == core.RoleUser && strings.Contains(m.Content, "conversation_summary") {
			found = true
		}
	}
	assert.True(t, found, "compaction should splice a conversation_summary message into history")
}

func TestLoop_UserCancelScenario(t *testing.T) {
	backend := &scriptedBackend{responses: []core.Message{
		{ToolCalls: []core.ToolCall{{ID: "call_1", Function: core.FunctionCall{Name: "wait"}}}},
	}}
	loop := newTestLoop(t, backend, 0)
	loop.SetObserver(func(core.Event) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := loop.Act(ctx, "go")

	assert.ErrorIs(t, err, context.Canceled)
}
