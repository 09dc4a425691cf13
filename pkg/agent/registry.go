package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kinra-ai/kin-code/pkg/core"
	"github.com/kinra-ai/kin-code/pkg/providers"
	"github.com/kinra-ai/kin-code/pkg/tools"
)

// malformedToolCallPattern detects a subagent's accumulated response that
// looks like a stray, unterminated tool-call fragment rather than prose —
// the spec's literal regex for the Task tool's "did the child actually
// answer" fallback check.
var malformedToolCallPattern = regexp.MustCompile(`<(function[=\s]|tool_call>|parameter[=\s])`)

const subagentNoSummarySentinel = "Subagent completed tool execution but did not provide a summary."

// LoopFactory builds a fresh, independent Loop for one subagent profile —
// its own history, stats, middleware pipeline, and tool manager, sharing
// only the approval callback with its parent (spec §4.9: "the user stays
// in control of irreversible tools").
type LoopFactory func(profile Profile) (*Loop, error)

// BackendFactory builds the provider Backend for a resolved model config,
// used to re-point a freshly spawned subagent loop onto a
// capability-resolved model that differs from its profile's default.
type BackendFactory func(model core.ModelConfig) (providers.Backend, error)

// Registry resolves profiles/model aliases by capability tag and spawns
// isolated subagent loops on behalf of the Task tool, grounded on the
// original's AgentManager capability-tag model resolution.
type Registry struct {
	models           map[string]core.ModelConfig // alias -> config
	factory          LoopFactory
	backendFactory   BackendFactory
	maxSubagentTurns int
}

func NewRegistry(models map[string]core.ModelConfig, factory LoopFactory, backendFactory BackendFactory, maxSubagentTurns int) *Registry {
	if maxSubagentTurns <= 0 {
		maxSubagentTurns = 25
	}
	return &Registry{models: models, factory: factory, backendFactory: backendFactory, maxSubagentTurns: maxSubagentTurns}
}

// ResolveByCapability picks the first configured model alias (in lexical
// alias order, for determinism) carrying every
// requested tag, falling back to the alias named in fallbackAlias if no
// model matches.
func (r *Registry) ResolveByCapability(tags []string, fallbackAlias string) (core.ModelConfig, error) {
	for _, cfg := range r.sortedModels() {
		if hasAllTags(cfg.CapabilityTags, tags) {
			return cfg, nil
		}
	}
	if cfg, ok := r.models[fallbackAlias]; ok {
		return cfg, nil
	}
	return core.ModelConfig{}, fmt.Errorf("no model satisfies capability tags %v and fallback alias %q is not configured", tags, fallbackAlias)
}

func (r *Registry) sortedModels() []core.ModelConfig {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	// deterministic order: lexical by alias name.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && less(names[j], names[j-1]); j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	out := make([]core.ModelConfig, 0, len(names))
	for _, name := range names {
		out = append(out, r.models[name])
	}
	return out
}

func less(a, b string) bool { return a < b }

func hasAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// SpawnSubagent implements tools.AgentManager: builds a fresh Loop for
// profile, runs it to completion on task, and reports the accumulated
// response per the Task tool's accumulation/fallback rules (spec §4.9). If
// capabilityTags is non-empty, the child's model is re-resolved by
// capability before it runs, falling back to the profile's default model
// when no configured model satisfies every tag.
func (r *Registry) SpawnSubagent(ctx context.Context, profile string, task string, capabilityTags []string) (tools.SubagentResult, error) {
	child, err := r.factory(Profile(profile))
	if err != nil {
		return tools.SubagentResult{}, err
	}
	child.Profile = Profile(profile)

	if len(capabilityTags) > 0 {
		if resolved, rerr := r.ResolveByCapability(capabilityTags, child.Model.Alias); rerr == nil && resolved.Alias != child.Model.Alias {
			if r.backendFactory == nil {
				return tools.SubagentResult{}, fmt.Errorf("capability-tagged subagent requires a backend factory")
			}
			backend, berr := r.backendFactory(resolved)
			if berr != nil {
				return tools.SubagentResult{}, berr
			}
			child.SwitchAgent(child.Profile, resolved, backend)
		}
	}

	turnLimit := &TurnLimitMiddleware{MaxTurns: r.maxSubagentTurns}
	child.Middleware.Add(turnLimit)

	var (
		accumulated     string
		reasoning       string
		lastGoodMessage string
		stopped         bool
	)
	child.SetObserver(func(e core.Event) {
		switch e.Type {
		case core.EventAssistant:
			if e.StoppedByMiddleware {
				stopped = true
			} else {
				accumulated += e.Content
				if !malformedToolCallPattern.MatchString(e.Content) && strings.TrimSpace(e.Content) != "" {
					lastGoodMessage = e.Content
				}
			}
		case core.EventReasoning:
			reasoning += e.Content
		case core.EventToolCall:
			// A new tool call starts; only the post-tool summary survives.
			accumulated = ""
		}
	})

	err = child.Act(ctx, task)
	completed := err == nil && !stopped

	response := strings.TrimSpace(accumulated)
	if response == "" || malformedToolCallPattern.MatchString(response) {
		if lastGoodMessage != "" {
			response = lastGoodMessage
		} else {
			response = subagentNoSummarySentinel
		}
	}

	return tools.SubagentResult{
		Response:   response,
		Reasoning:  reasoning,
		TurnsUsed:  child.Stats.Steps,
		Completed:  completed,
		ModelAlias: child.Model.Alias,
		Provider:   child.Model.ProviderRef,
	}, nil
}
