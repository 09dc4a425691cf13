// Package core holds the data model shared by the agent loop, tool runner,
// response parser, and provider backends: messages, tool calls, stats, and
// the closed event-stream variants the loop emits.
package core

import "encoding/json"

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation history.
//
// Invariants: messages[0].Role == RoleSystem; a RoleTool message's
// ToolCallID must match some earlier assistant ToolCall.ID.
type Message struct {
	ID               string     `json:"id,omitempty"`
	Role             Role       `json:"role"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	ToolName         string     `json:"tool_name,omitempty"`
}

// ToolCall is a single invocation request emitted by the model, either
// structured (provider-issued ID) or extracted from embedded XML (ID
// carries the "xml_" prefix).
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is the name/arguments pair inside a ToolCall.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON text
}

// ParsedToolCall is produced by the response parser before validation
// against the tool manager's schemas.
type ParsedToolCall struct {
	ToolName string
	CallID   string
	RawArgs  map[string]any
}

// ResolvedToolCall is a ParsedToolCall that validated successfully.
type ResolvedToolCall struct {
	ToolName      string
	CallID        string
	ToolClass     string
	ValidatedArgs any
}

// FailedToolCall is a ParsedToolCall that failed name lookup or arg
// validation.
type FailedToolCall struct {
	CallID   string
	ToolName string
	Error    string
}

// ResolvedMessage is the output of the response parser: the tool calls
// ready to execute plus the ones that failed before execution.
type ResolvedMessage struct {
	ResolvedCalls []ResolvedToolCall
	FailedCalls   []FailedToolCall
}

// AgentStats is process-local, mutable, observable counters for one agent
// loop instance.
type AgentStats struct {
	Steps                    int
	SessionPromptTokens      int
	SessionCompletionTokens  int
	ContextTokens            int
	LastTurnDuration         float64
	LastTurnPromptTokens     int
	LastTurnCompletionTokens int
	ToolCallsAgreed          int
	ToolCallsRejected        int
	ToolCallsSucceeded       int
	ToolCallsFailed          int
	TokensPerSecond          float64
	InputPricePerMillion     float64
	OutputPricePerMillion    float64
	MaxContextWindow         int
}

// SessionCost is derived from token counts and configured per-million
// prices; everything else on AgentStats is written at most once per turn.
func (s *AgentStats) SessionCost() float64 {
	in := float64(s.SessionPromptTokens) / 1_000_000 * s.InputPricePerMillion
	out := float64(s.SessionCompletionTokens) / 1_000_000 * s.OutputPricePerMillion
	return in + out
}

// ReasoningMode controls whether extracted <think> content is kept in a
// message's Content as well as its ReasoningContent.
type ReasoningMode string

const (
	ReasoningStrip    ReasoningMode = "strip"
	ReasoningPreserve ReasoningMode = "preserve"
)

// ToolCallFormat selects which Response Parser extractor strategy applies
// to a model.
type ToolCallFormat string

const (
	ToolCallFormatAPI  ToolCallFormat = "api"
	ToolCallFormatXML  ToolCallFormat = "xml"
	ToolCallFormatAuto ToolCallFormat = "auto"
	ToolCallFormatNone ToolCallFormat = "none"
)

// ModelConfig describes one selectable model.
type ModelConfig struct {
	Name             string
	ProviderRef      string
	Alias            string
	Temperature      float64
	TopP             *float64
	ReasoningEnabled bool
	ReasoningMode    ReasoningMode
	ReasoningBudget  int
	ToolCallFormat   ToolCallFormat
	ContextWindow    int
	InputPricePerM   float64
	OutputPricePerM  float64
	CapabilityTags   []string // e.g. "vision", "code", "fast", "long-context", "reasoning"
}

// ProviderConfig describes one backend provider.
type ProviderConfig struct {
	Name               string
	APIBase            string
	APIKeyEnvVar       string
	BackendKind        string
	ReasoningFieldName string
}

// ToolPermission is the three-valued decision a tool/config can render for
// a call before it reaches interactive approval.
type ToolPermission string

const (
	PermissionUnset  ToolPermission = ""
	PermissionAsk    ToolPermission = "ask"
	PermissionAlways ToolPermission = "always"
	PermissionNever  ToolPermission = "never"
)

// ToolConfig is the per-tool permission override record consulted by the
// Tool Runner before falling back to interactive approval.
type ToolConfig struct {
	Permission ToolPermission
	Allowlist  []string
	Denylist   []string
}

// CancellationReason enumerates why a synthetic tool-role message is being
// manufactured instead of a real tool response.
type CancellationReason string

const (
	CancellationToolNoResponse  CancellationReason = "tool_no_response"
	CancellationToolSkipped     CancellationReason = "tool_skipped"
	CancellationToolInterrupted CancellationReason = "tool_interrupted"
)

// UserCancellationMessage renders the fixed, user-facing text for a
// cancellation reason, tagged per the closed error-tag vocabulary.
func UserCancellationMessage(reason CancellationReason, toolName string) string {
	switch reason {
	case CancellationToolNoResponse:
		return "<user_cancellation>Tool execution interrupted - no response available</user_cancellation>"
	case CancellationToolSkipped:
		if toolName != "" {
			return "<user_cancellation>Tool execution skipped: " + toolName + "</user_cancellation>"
		}
		return "<user_cancellation>Tool execution skipped</user_cancellation>"
	case CancellationToolInterrupted:
		return "<user_cancellation>Tool execution interrupted</user_cancellation>"
	default:
		return "<user_cancellation>Tool execution interrupted</user_cancellation>"
	}
}

// ApprovalResponse is the verdict an approval callback renders for one
// tool call.
type ApprovalResponse string

const (
	ApprovalYes ApprovalResponse = "yes"
	ApprovalNo  ApprovalResponse = "no"
)

// ApprovalCallback asks an external collaborator (a human, or an
// auto-policy) whether a tool call may proceed. A default implementation
// rejects everything.
type ApprovalCallback interface {
	Approve(toolName string, args json.RawMessage, callID string) (ApprovalResponse, string)
}

// RejectAllApproval is the default ApprovalCallback: it rejects every
// call with a fixed explanation.
type RejectAllApproval struct{}

func (RejectAllApproval) Approve(string, json.RawMessage, string) (ApprovalResponse, string) {
	return ApprovalNo, "Tool execution not permitted."
}

// MiddlewareAction is the four-valued verdict a middleware's hook renders.
type MiddlewareAction string

const (
	ActionContinue      MiddlewareAction = "continue"
	ActionStop          MiddlewareAction = "stop"
	ActionCompact       MiddlewareAction = "compact"
	ActionInjectMessage MiddlewareAction = "inject_message"
)

// MiddlewareResult is returned from every middleware hook.
type MiddlewareResult struct {
	Action   MiddlewareAction
	Message  string
	Reason   string
	Metadata map[string]any
}

// ResetReason tells a middleware why Reset was called.
type ResetReason string

const (
	ResetStop    ResetReason = "stop"
	ResetCompact ResetReason = "compact"
)

// Error-tag vocabulary (spec §6.5): a closed set of XML-like sentinels
// wrapping text shown to the LLM or the user.
const (
	TagUserCancellation = "user_cancellation"
	TagToolError        = "tool_error"
	TagStopEvent        = "kin_stop_event"
	TagWarning          = "kin_warning"
)
