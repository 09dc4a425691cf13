package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kinra-ai/kin-code/pkg/core"
	"github.com/kinra-ai/kin-code/pkg/tools"
)

// ToolRunner coordinates tool execution with permission handling, ported
// mechanically from the original tool_runner.py: resolve -> authorize
// (allowlist/denylist/per-tool permission/approval) -> execute -> stream ->
// record, with exactly-consistent message-history bookkeeping.
type ToolRunner struct {
	manager          *tools.Manager
	approvalCallback core.ApprovalCallback
	autoApprove      bool
	agentManager     tools.AgentManager
}

func NewToolRunner(manager *tools.Manager, approval core.ApprovalCallback, autoApprove bool) *ToolRunner {
	if approval == nil {
		approval = core.RejectAllApproval{}
	}
	return &ToolRunner{manager: manager, approvalCallback: approval, autoApprove: autoApprove}
}

// SetAgentManager installs the collaborator the Task (subagent) tool
// spawns nested loops through. Set once, after the owning Loop exists,
// since Loop.SpawnSubagent closes over the Loop itself.
func (r *ToolRunner) SetAgentManager(m tools.AgentManager) {
	r.agentManager = m
}

func (r *ToolRunner) SetApprovalCallback(cb core.ApprovalCallback) {
	if cb == nil {
		cb = core.RejectAllApproval{}
	}
	r.approvalCallback = cb
}

// HandleToolCalls executes every failed call (emit+record error) then every
// resolved call in order (serial, never parallel within one message),
// writing events to emit and appending tool-role messages via appendHistory.
// Returns an error only for a propagated cancellation.
func (r *ToolRunner) HandleToolCalls(
	ctx context.Context,
	resolved core.ResolvedMessage,
	stats *core.AgentStats,
	emit func(core.Event),
	appendHistory func(core.Message),
) error {
	for _, failed := range resolved.FailedCalls {
		errMsg := fmt.Sprintf("<%s>%s: %s</%s>", core.TagToolError, failed.ToolName, failed.Error, core.TagToolError)

		emit(core.Event{
			Type:     core.EventToolResult,
			ToolName: failed.ToolName,
			Error:    errMsg,
			CallID:   failed.CallID,
		})
		stats.ToolCallsFailed++

		appendHistory(core.Message{
			Role:       core.RoleTool,
			ToolName:   failed.ToolName,
			ToolCallID: failed.CallID,
			Content:    errMsg,
		})
	}

	for _, call := range resolved.ResolvedCalls {
		emit(core.Event{
			Type:      core.EventToolCall,
			ToolName:  call.ToolName,
			ToolClass: call.ToolClass,
			Args:      call.ValidatedArgs,
			CallID:    call.CallID,
		})

		tool, err := r.manager.Get(call.ToolName)
		if err != nil {
			errMsg := fmt.Sprintf("Error getting tool '%s': %s", call.ToolName, err)
			emit(core.Event{Type: core.EventToolResult, ToolName: call.ToolName, Error: errMsg, CallID: call.CallID})
			appendHistory(core.Message{Role: core.RoleTool, ToolName: call.ToolName, ToolCallID: call.CallID, Content: errMsg})
			continue
		}

		verdict, feedback := r.shouldExecute(tool, call.ValidatedArgs, call.CallID)

		if !verdict {
			stats.ToolCallsRejected++
			skipReason := feedback
			if skipReason == "" {
				skipReason = core.UserCancellationMessage(core.CancellationToolSkipped, call.ToolName)
			}

			emit(core.Event{
				Type:       core.EventToolResult,
				ToolName:   call.ToolName,
				Skipped:    true,
				SkipReason: skipReason,
				CallID:     call.CallID,
			})
			appendHistory(core.Message{Role: core.RoleTool, ToolName: call.ToolName, ToolCallID: call.CallID, Content: skipReason})
			continue
		}

		stats.ToolCallsAgreed++

		if err := r.executeOne(ctx, tool, call, stats, emit, appendHistory); err != nil {
			return err
		}
	}

	return nil
}

func (r *ToolRunner) executeOne(
	ctx context.Context,
	tool tools.Tool,
	call core.ResolvedToolCall,
	stats *core.AgentStats,
	emit func(core.Event),
	appendHistory func(core.Message),
) error {
	start := time.Now()

	stream, err := tool.Invoke(tools.InvokeContext{Context: ctx, ToolCallID: call.CallID, ApprovalCallback: r.approvalCallback, AgentManager: r.agentManager}, call.ValidatedArgs)
	if err != nil {
		return r.handleInvokeError(tool, call, err, emit, appendHistory, stats)
	}

	var result tools.Result
	haveResult := false

	for {
		select {
		case <-ctx.Done():
			cancel := core.UserCancellationMessage(core.CancellationToolInterrupted, call.ToolName)
			emit(core.Event{Type: core.EventToolResult, ToolName: call.ToolName, Error: cancel, CallID: call.CallID})
			appendHistory(core.Message{Role: core.RoleTool, ToolName: call.ToolName, ToolCallID: call.CallID, Content: cancel})
			return ctx.Err()

		case item, ok := <-stream:
			if !ok {
				if !haveResult {
					return r.handleInvokeError(tool, call, &tools.ToolError{Message: "tool did not yield a result"}, emit, appendHistory, stats)
				}
				duration := time.Since(start)
				text := result.ForLLM
				appendHistory(core.Message{Role: core.RoleTool, ToolName: call.ToolName, ToolCallID: call.CallID, Content: text})
				emit(core.Event{
					Type:     core.EventToolResult,
					ToolName: call.ToolName,
					Result:   result.ForUser,
					Duration: duration,
					CallID:   call.CallID,
				})
				stats.ToolCallsSucceeded++
				return nil
			}
			switch item.Kind {
			case tools.StreamProgress:
				emit(core.Event{Type: core.EventToolStream, ToolName: call.ToolName, Message: item.Message, CallID: call.CallID})
			case tools.StreamDone:
				result = item.Result
				haveResult = true
				if result.IsError {
					return r.handleInvokeError(tool, call, result.Err, emit, appendHistory, stats)
				}
			}
		}
	}
}

func (r *ToolRunner) handleInvokeError(
	tool tools.Tool,
	call core.ResolvedToolCall,
	err error,
	emit func(core.Event),
	appendHistory func(core.Message),
	stats *core.AgentStats,
) error {
	name := tool.Describe().Name
	errMsg := fmt.Sprintf("<%s>%s failed: %s</%s>", core.TagToolError, name, err, core.TagToolError)

	emit(core.Event{Type: core.EventToolResult, ToolName: call.ToolName, Error: errMsg, CallID: call.CallID})

	var permErr *tools.ToolPermissionError
	if asPermissionError(err, &permErr) {
		stats.ToolCallsAgreed--
		stats.ToolCallsRejected++
	} else {
		stats.ToolCallsFailed++
	}

	appendHistory(core.Message{Role: core.RoleTool, ToolName: call.ToolName, ToolCallID: call.CallID, Content: errMsg})
	return nil
}

func asPermissionError(err error, target **tools.ToolPermissionError) bool {
	if pe, ok := err.(*tools.ToolPermissionError); ok {
		*target = pe
		return true
	}
	return false
}

// shouldExecute renders the EXECUTE/SKIP verdict: auto_approve first, then
// the per-call allowlist/denylist check (denylist wins over allowlist when
// both match), then the tool's static permission, then interactive
// approval.
func (r *ToolRunner) shouldExecute(tool tools.Tool, args any, callID string) (execute bool, feedback string) {
	if r.autoApprove {
		return true, ""
	}

	switch tool.CheckAllowlistDenylist(args) {
	case core.PermissionAlways:
		return true, ""
	case core.PermissionNever:
		name := tool.Describe().Name
		cfg := r.manager.GetToolConfig(name)
		return false, fmt.Sprintf("Tool '%s' blocked by denylist: %v", name, cfg.Denylist)
	}

	name := tool.Describe().Name
	cfg := r.manager.GetToolConfig(name)
	switch cfg.Permission {
	case core.PermissionAlways:
		return true, ""
	case core.PermissionNever:
		return false, fmt.Sprintf("Tool '%s' is permanently disabled", name)
	}

	return r.askApproval(name, args, callID)
}

func (r *ToolRunner) askApproval(toolName string, args any, callID string) (bool, string) {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = json.RawMessage("{}")
	}
	response, feedback := r.approvalCallback.Approve(toolName, raw, callID)
	return response == core.ApprovalYes, feedback
}
