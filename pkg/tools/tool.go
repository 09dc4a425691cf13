// Package tools defines the tool contract (C1) and the tool manager (C2):
// uniform invocation, permission policy, schema discovery, and deterministic
// sorted iteration so the tool list sent to the LLM never reorders between
// calls (reordering would invalidate prompt-prefix caching).
package tools

import (
	"context"
	"encoding/json"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// Description is what a tool reports about itself to the LLM and to the
// tool manager's schema index.
type Description struct {
	Name        string
	Description string
	Schema      map[string]any // JSON schema of the tool's arguments
}

// InvokeContext carries the per-call collaborators a tool implementation
// may need.
type InvokeContext struct {
	Context          context.Context
	ToolCallID       string
	ApprovalCallback core.ApprovalCallback
	AgentManager     AgentManager
	UserInputCallback func(prompt string) (string, error)
}

// AgentManager is the narrow surface the Task (subagent) tool needs from
// the owning agent loop, kept here to avoid an import cycle between
// pkg/tools and pkg/agent.
type AgentManager interface {
	// capabilityTags, when non-empty, asks the spawner to pick the
	// subagent's model by capability (e.g. "vision", "long-context")
	// rather than the profile's configured default.
	SpawnSubagent(ctx context.Context, profile string, task string, capabilityTags []string) (SubagentResult, error)
}

// SubagentResult is what a spawned subagent reports back to its caller.
type SubagentResult struct {
	Response    string
	Reasoning   string
	TurnsUsed   int
	Completed   bool
	ModelAlias  string
	Provider    string
}

// Result is the single typed object a tool's invocation sequence must
// terminate with. ForLLM is what the model sees as the tool-role message
// content; ForUser is the (optionally richer) frontend-facing rendering.
type Result struct {
	ForLLM  string
	ForUser any
	Silent  bool
	Async   bool
	IsError bool
	Err     error
}

func NewResult(forLLM string) Result {
	return Result{ForLLM: forLLM, ForUser: forLLM}
}

func ErrorResult(forLLM string, err error) Result {
	return Result{ForLLM: forLLM, ForUser: forLLM, IsError: true, Err: err}
}

func SilentResult(forLLM string) Result {
	return Result{ForLLM: forLLM, ForUser: forLLM, Silent: true}
}

// StreamKind distinguishes a progress event from the terminal result in a
// tool's invocation sequence.
type StreamKind int

const (
	StreamProgress StreamKind = iota
	StreamDone
)

// StreamItem is one element of a tool's invocation sequence: either a
// progress message (Kind == StreamProgress) or the terminal Result
// (Kind == StreamDone). Exactly one StreamDone item terminates a
// successful sequence; an error terminates it otherwise.
type StreamItem struct {
	Kind    StreamKind
	Message string
	Result  Result
}

// ToolError is a domain failure: recoverable, reported to the LLM as
// <tool_error>.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string { return e.Message }

// ToolPermissionError is re-classified by the Tool Runner as a rejection
// rather than a failure.
type ToolPermissionError struct {
	Message string
}

func (e *ToolPermissionError) Error() string { return e.Message }

// Tool is the uniform interface every tool implementation satisfies.
type Tool interface {
	Describe() Description
	Validate(rawArgs map[string]any) (any, error)
	// CheckAllowlistDenylist returns PermissionUnset unless a configured
	// pattern overrides user approval for these specific args.
	CheckAllowlistDenylist(args any) core.ToolPermission
	// Invoke runs the tool, writing StreamItems to the returned channel
	// and closing it when done (or when ctx is cancelled).
	Invoke(ctx InvokeContext, args any) (<-chan StreamItem, error)
}

// ContextualTool receives per-session routing context (channel/chat id)
// before invocation; tools that don't need it simply don't implement this.
type ContextualTool interface {
	SetContext(channel, chatID string)
}

// DisplayTool renders presentational hints for frontends; purely
// cosmetic, never consulted by the runner's control flow.
type DisplayTool interface {
	GetCallDisplay(args any) string
	GetResultDisplay(result Result) string
}

// marshalArgs renders args back to JSON for display or error messages;
// none of the tools in this package call it at present.
func marshalArgs(args any) json.RawMessage {
	raw, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
