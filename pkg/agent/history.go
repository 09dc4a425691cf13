package agent

import "github.com/kinra-ai/kin-code/pkg/core"

// History wraps a message slice and repairs the two invariants every LLM
// call depends on: tool-response completeness and a non-tool terminal
// message. Ported from the original conversation_history.py.
type History struct {
	Messages []core.Message
}

// NewHistory wraps an existing message slice (not copied).
func NewHistory(messages []core.Message) *History {
	return &History{Messages: messages}
}

const acceptableHistorySize = 2

// Clean fills missing tool responses and ensures a non-tool terminal
// message. A no-op below acceptableHistorySize, and idempotent.
func (h *History) Clean() {
	if len(h.Messages) < acceptableHistorySize {
		return
	}
	h.FillMissingToolResponses()
	h.EnsureAssistantAfterTools()
}

// CountToolResponses counts consecutive role=tool messages starting at
// startIndex.
func (h *History) CountToolResponses(startIndex int) int {
	count := 0
	j := startIndex
	for j < len(h.Messages) && h.Messages[j].Role == core.RoleTool {
		count++
		j++
	}
	return count
}

// CreateMissingResponse builds a synthetic tool-role message standing in
// for a tool call that never received a response.
func CreateMissingResponse(call core.ToolCall) core.Message {
	return core.Message{
		Role:       core.RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Content:    core.UserCancellationMessage(core.CancellationToolNoResponse, call.Function.Name),
	}
}

// FillMissingToolResponses inserts synthetic tool messages for any
// assistant tool_calls whose responses are missing, preserving order.
func (h *History) FillMissingToolResponses() {
	i := 1
	for i < len(h.Messages) {
		msg := h.Messages[i]

		if msg.Role != core.RoleAssistant || len(msg.ToolCalls) == 0 {
			i++
			continue
		}

		expected := len(msg.ToolCalls)
		actual := h.CountToolResponses(i + 1)

		if actual < expected {
			insertAt := i + 1 + actual
			for callIdx := actual; callIdx < expected; callIdx++ {
				missing := CreateMissingResponse(msg.ToolCalls[callIdx])
				h.Messages = insertMessage(h.Messages, insertAt, missing)
				insertAt++
			}
		}

		i = i + 1 + expected
	}
}

// EnsureAssistantAfterTools appends a trivial assistant message if the
// last message is role=tool, so backends that reject ending on a tool
// message still see a valid history.
func (h *History) EnsureAssistantAfterTools() {
	if len(h.Messages) < acceptableHistorySize {
		return
	}
	last := h.Messages[len(h.Messages)-1]
	if last.Role == core.RoleTool {
		h.Messages = append(h.Messages, core.Message{
			Role:    core.RoleAssistant,
			Content: "Understood.",
		})
	}
}

// Reset replaces the history with just the given system message.
func (h *History) Reset(systemMessage core.Message) {
	h.Messages = []core.Message{systemMessage}
}

// ReplaceSystemMessage swaps messages[0] for a new system prompt,
// preserving every other message's order.
func (h *History) ReplaceSystemMessage(newSystemPrompt string) {
	kept := make([]core.Message, 0, len(h.Messages))
	for _, msg := range h.Messages {
		if msg.Role != core.RoleSystem {
			kept = append(kept, msg)
		}
	}
	h.Messages = append([]core.Message{{Role: core.RoleSystem, Content: newSystemPrompt}}, kept...)
}

func insertMessage(messages []core.Message, at int, msg core.Message) []core.Message {
	messages = append(messages, core.Message{})
	copy(messages[at+1:], messages[at:])
	messages[at] = msg
	return messages
}
