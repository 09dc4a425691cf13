package parser

import (
	"fmt"

	"github.com/kinra-ai/kin-code/pkg/core"
	"github.com/kinra-ai/kin-code/pkg/tools"
)

// Validate looks up each ParsedToolCall by name in the tool manager and
// validates its arguments against the tool's schema, producing the
// ResolvedMessage the Tool Runner consumes. A missing tool or a validation
// failure becomes a FailedToolCall carrying the error text the LLM will
// see, rather than aborting the whole batch.
func Validate(manager *tools.Manager, calls []core.ParsedToolCall) core.ResolvedMessage {
	var out core.ResolvedMessage

	for _, call := range calls {
		tool, err := manager.Get(call.ToolName)
		if err != nil {
			out.FailedCalls = append(out.FailedCalls, core.FailedToolCall{
				CallID:   call.CallID,
				ToolName: call.ToolName,
				Error:    "tool not found",
			})
			continue
		}

		validated, err := tool.Validate(call.RawArgs)
		if err != nil {
			out.FailedCalls = append(out.FailedCalls, core.FailedToolCall{
				CallID:   call.CallID,
				ToolName: call.ToolName,
				Error:    fmt.Sprintf("%s", err),
			})
			continue
		}

		out.ResolvedCalls = append(out.ResolvedCalls, core.ResolvedToolCall{
			ToolName:      call.ToolName,
			CallID:        call.CallID,
			ToolClass:     tool.Describe().Name,
			ValidatedArgs: validated,
		})
	}

	return out
}
