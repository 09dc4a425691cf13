package core

import "time"

// EventType is the closed set of event-stream variants the agent loop
// emits from Act.
type EventType string

const (
	EventUserMessage  EventType = "user"
	EventAssistant    EventType = "assistant"
	EventReasoning    EventType = "reasoning"
	EventToolCall     EventType = "tool_call"
	EventToolStream   EventType = "tool_stream"
	EventToolResult   EventType = "tool_result"
	EventCompactStart EventType = "compact_start"
	EventCompactEnd   EventType = "compact_end"
)

// Event is the single type carrying every variant in the event stream;
// only the fields relevant to Type are populated. Ordering guarantee:
// UserMessage -> (Reasoning* | Assistant*)+ -> (ToolCall -> ToolStream* ->
// ToolResult)* -> repeat or end.
type Event struct {
	Type   EventType `json:"type"`
	Content string   `json:"content,omitempty"`

	// Assistant
	MessageID         string `json:"message_id,omitempty"`
	StoppedByMiddleware bool `json:"stopped_by_middleware,omitempty"`

	// ToolCall / ToolStream / ToolResult
	ToolName  string `json:"tool_name,omitempty"`
	ToolClass string `json:"tool_class,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Args      any    `json:"args,omitempty"`
	Message   string `json:"message,omitempty"` // ToolStream progress text

	// ToolResult
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`

	// CompactStart / CompactEnd
	OldTokens int `json:"old_tokens,omitempty"`
	NewTokens int `json:"new_tokens,omitempty"`
	Threshold int `json:"threshold,omitempty"`
}
