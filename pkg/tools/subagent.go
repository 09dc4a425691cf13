package tools

import (
	"context"
	"fmt"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// SubagentTool (the "Task" tool) delegates a bounded piece of work to a
// nested agent loop running under a named profile, returning its final
// response as this call's result. Grounded on the teacher's
// pkg/tools/subagent.go and the original's capability-tag model
// resolution in AgentManager.
type SubagentTool struct {
	// AvailableProfiles lists the profile names the calling agent is
	// permitted to delegate to; empty means "subagent" only.
	AvailableProfiles []string
}

func NewSubagentTool(profiles []string) *SubagentTool {
	if len(profiles) == 0 {
		profiles = []string{"subagent"}
	}
	return &SubagentTool{AvailableProfiles: profiles}
}

type subagentArgs struct {
	Profile        string   `json:"profile"`
	Task           string   `json:"task"`
	CapabilityTags []string `json:"capability_tags,omitempty"`
}

func (t *SubagentTool) Describe() Description {
	return Description{
		Name:        "task",
		Description: "Delegate a self-contained task to a subagent running under the named profile. Returns the subagent's final response once it completes or exhausts its turn budget.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"profile": map[string]any{
					"type":        "string",
					"description": "Which agent profile to run the task under.",
					"enum":        t.AvailableProfiles,
				},
				"task": map[string]any{
					"type":        "string",
					"description": "The self-contained task description the subagent should complete.",
				},
				"capability_tags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Optional capability requirements (e.g. \"vision\", \"long-context\") used to pick the subagent's model instead of the profile default.",
				},
			},
			"required": []string{"profile", "task"},
		},
	}
}

func (t *SubagentTool) Validate(rawArgs map[string]any) (any, error) {
	profile, _ := rawArgs["profile"].(string)
	task, _ := rawArgs["task"].(string)
	if task == "" {
		return nil, &ToolError{Message: "task is required"}
	}
	if profile == "" {
		profile = t.AvailableProfiles[0]
	}
	allowed := false
	for _, p := range t.AvailableProfiles {
		if p == profile {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &ToolError{Message: fmt.Sprintf("profile %q is not available for delegation", profile)}
	}

	var tags []string
	if raw, ok := rawArgs["capability_tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok && s != "" {
				tags = append(tags, s)
			}
		}
	}

	return subagentArgs{Profile: profile, Task: task, CapabilityTags: tags}, nil
}

func (t *SubagentTool) CheckAllowlistDenylist(args any) core.ToolPermission {
	return core.PermissionUnset
}

// Invoke spawns the subagent via ctx.AgentManager, accumulating its
// response. If the subagent is interrupted before completing (TurnsUsed
// exhausted without Completed), the tool still returns whatever partial
// response it produced rather than erroring, tagged so the parent model
// knows the delegation didn't finish cleanly.
func (t *SubagentTool) Invoke(ctx InvokeContext, args any) (<-chan StreamItem, error) {
	a, ok := args.(subagentArgs)
	if !ok {
		return nil, &ToolError{Message: "invalid arguments"}
	}
	if ctx.AgentManager == nil {
		return nil, &ToolError{Message: "subagent delegation is not available in this session"}
	}

	out := make(chan StreamItem, 1)
	go func() {
		defer close(out)

		out <- StreamItem{Kind: StreamProgress, Message: fmt.Sprintf("delegating to %s subagent", a.Profile)}

		result, err := ctx.AgentManager.SpawnSubagent(ctx.Context, a.Profile, a.Task, a.CapabilityTags)
		if err != nil {
			out <- StreamItem{Kind: StreamDone, Result: ErrorResult(fmt.Sprintf("subagent failed: %s", err), err)}
			return
		}

		text := result.Response
		if !result.Completed {
			text = fmt.Sprintf("%s\n\n<subagent_incomplete>Subagent stopped after %d turns without completing.</subagent_incomplete>", text, result.TurnsUsed)
		}
		out <- StreamItem{Kind: StreamDone, Result: NewResult(text)}
	}()

	return out, nil
}

func (t *SubagentTool) GetCallDisplay(args any) string {
	a, ok := args.(subagentArgs)
	if !ok {
		return "task"
	}
	return fmt.Sprintf("task(%s)", a.Profile)
}

func (t *SubagentTool) GetResultDisplay(result Result) string {
	if s, ok := result.ForUser.(string); ok {
		return s
	}
	return result.ForLLM
}
