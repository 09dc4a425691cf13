package agent

import (
	"fmt"
	"strings"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// warningTag wraps the <kin_warning> sentinel per the closed error-tag
// vocabulary.
const warningTag = core.TagWarning

// ConversationContext is the read-only (from a middleware's perspective)
// view of agent state passed to before/after-turn hooks.
type ConversationContext struct {
	Messages []core.Message
	Stats    *core.AgentStats
}

// Middleware intercepts conversation turns. Implementations are called in
// pipeline order; in before_turn the first STOP or COMPACT takes effect
// at once, while INJECT_MESSAGE payloads are collected and joined.
type Middleware interface {
	BeforeTurn(ctx *ConversationContext) core.MiddlewareResult
	AfterTurn(ctx *ConversationContext) core.MiddlewareResult
	Reset(reason core.ResetReason)
}

// MiddlewarePipeline runs an ordered list of Middleware.
type MiddlewarePipeline struct {
	middlewares []Middleware
}

func NewMiddlewarePipeline() *MiddlewarePipeline {
	return &MiddlewarePipeline{}
}

func (p *MiddlewarePipeline) Add(mw Middleware) *MiddlewarePipeline {
	p.middlewares = append(p.middlewares, mw)
	return p
}

func (p *MiddlewarePipeline) Clear() {
	p.middlewares = nil
}

func (p *MiddlewarePipeline) Reset(reason core.ResetReason) {
	for _, mw := range p.middlewares {
		mw.Reset(reason)
	}
}

// RunBeforeTurn executes every middleware in order. A STOP or COMPACT
// short-circuits and is returned immediately. Otherwise, any INJECT_MESSAGE
// payloads collected along the way are joined with blank lines and
// returned as a single INJECT_MESSAGE result.
func (p *MiddlewarePipeline) RunBeforeTurn(ctx *ConversationContext) core.MiddlewareResult {
	var toInject []string

	for _, mw := range p.middlewares {
		result := mw.BeforeTurn(ctx)
		switch result.Action {
		case core.ActionInjectMessage:
			if result.Message != "" {
				toInject = append(toInject, result.Message)
			}
		case core.ActionStop, core.ActionCompact:
			return result
		}
	}

	if len(toInject) > 0 {
		return core.MiddlewareResult{
			Action:  core.ActionInjectMessage,
			Message: strings.Join(toInject, "\n\n"),
		}
	}

	return core.MiddlewareResult{Action: core.ActionContinue}
}

// RunAfterTurn executes every middleware in order. INJECT_MESSAGE is
// forbidden here and panics if returned by a middleware.
func (p *MiddlewarePipeline) RunAfterTurn(ctx *ConversationContext) core.MiddlewareResult {
	for _, mw := range p.middlewares {
		result := mw.AfterTurn(ctx)
		if result.Action == core.ActionInjectMessage {
			panic(fmt.Sprintf("INJECT_MESSAGE not allowed in after_turn (from %T)", mw))
		}
		if result.Action == core.ActionStop || result.Action == core.ActionCompact {
			return result
		}
	}
	return core.MiddlewareResult{Action: core.ActionContinue}
}

// TurnLimitMiddleware stops the loop once the turn cap is reached.
type TurnLimitMiddleware struct {
	MaxTurns int
}

func (m *TurnLimitMiddleware) BeforeTurn(ctx *ConversationContext) core.MiddlewareResult {
	if ctx.Stats.Steps-1 >= m.MaxTurns {
		return core.MiddlewareResult{
			Action: core.ActionStop,
			Reason: fmt.Sprintf("Turn limit of %d reached", m.MaxTurns),
		}
	}
	return core.MiddlewareResult{Action: core.ActionContinue}
}

func (m *TurnLimitMiddleware) AfterTurn(*ConversationContext) core.MiddlewareResult {
	return core.MiddlewareResult{Action: core.ActionContinue}
}

func (m *TurnLimitMiddleware) Reset(core.ResetReason) {}

// PriceLimitMiddleware stops the loop once session cost exceeds the cap.
type PriceLimitMiddleware struct {
	MaxPrice float64
}

func (m *PriceLimitMiddleware) BeforeTurn(ctx *ConversationContext) core.MiddlewareResult {
	cost := ctx.Stats.SessionCost()
	if cost > m.MaxPrice {
		return core.MiddlewareResult{
			Action: core.ActionStop,
			Reason: fmt.Sprintf("Price limit exceeded: $%.4f > $%.2f", cost, m.MaxPrice),
		}
	}
	return core.MiddlewareResult{Action: core.ActionContinue}
}

func (m *PriceLimitMiddleware) AfterTurn(*ConversationContext) core.MiddlewareResult {
	return core.MiddlewareResult{Action: core.ActionContinue}
}

func (m *PriceLimitMiddleware) Reset(core.ResetReason) {}

// AutoCompactMiddleware triggers compaction once context usage crosses a
// percentage of the context window (or an absolute hard ceiling, if lower).
type AutoCompactMiddleware struct {
	ThresholdPercent float64
	MaxContext       int
	HardCeiling      *int
}

func (m *AutoCompactMiddleware) threshold() int {
	percentThreshold := int(float64(m.MaxContext) * m.ThresholdPercent)
	if m.HardCeiling != nil && *m.HardCeiling < percentThreshold {
		return *m.HardCeiling
	}
	return percentThreshold
}

func (m *AutoCompactMiddleware) BeforeTurn(ctx *ConversationContext) core.MiddlewareResult {
	threshold := m.threshold()
	if ctx.Stats.ContextTokens >= threshold {
		return core.MiddlewareResult{
			Action: core.ActionCompact,
			Metadata: map[string]any{
				"old_tokens": ctx.Stats.ContextTokens,
				"threshold":  threshold,
			},
		}
	}
	return core.MiddlewareResult{Action: core.ActionContinue}
}

func (m *AutoCompactMiddleware) AfterTurn(*ConversationContext) core.MiddlewareResult {
	return core.MiddlewareResult{Action: core.ActionContinue}
}

func (m *AutoCompactMiddleware) Reset(core.ResetReason) {}

// ContextWarningMiddleware injects a one-shot warning the first time
// context usage crosses a threshold. Reset always clears the fired flag,
// matching the original's unconditional ContextWarningMiddleware.reset
// (the flag does not survive either STOP or COMPACT).
type ContextWarningMiddleware struct {
	ThresholdPercent float64
	MaxContext       *int
	hasWarned        bool
}

func NewContextWarningMiddleware(maxContext *int) *ContextWarningMiddleware {
	return &ContextWarningMiddleware{ThresholdPercent: 0.5, MaxContext: maxContext}
}

func (m *ContextWarningMiddleware) BeforeTurn(ctx *ConversationContext) core.MiddlewareResult {
	if m.hasWarned || m.MaxContext == nil {
		return core.MiddlewareResult{Action: core.ActionContinue}
	}

	maxContext := *m.MaxContext
	if float64(ctx.Stats.ContextTokens) >= float64(maxContext)*m.ThresholdPercent {
		m.hasWarned = true
		percentage := float64(ctx.Stats.ContextTokens) / float64(maxContext) * 100
		warning := fmt.Sprintf("<%s>You have used %.0f%% of your total context (%d/%d tokens)</%s>",
			warningTag, percentage, ctx.Stats.ContextTokens, maxContext, warningTag)
		return core.MiddlewareResult{Action: core.ActionInjectMessage, Message: warning}
	}
	return core.MiddlewareResult{Action: core.ActionContinue}
}

func (m *ContextWarningMiddleware) AfterTurn(*ConversationContext) core.MiddlewareResult {
	return core.MiddlewareResult{Action: core.ActionContinue}
}

func (m *ContextWarningMiddleware) Reset(core.ResetReason) {
	m.hasWarned = false
}

// PlanAgentReminder is the fixed read-only-mode reminder injected while
// the Plan profile is active.
const PlanAgentReminder = `<` + warningTag + `>Plan mode is active. The user indicated that they do not want you to execute yet -- you MUST NOT make any edits, run any non-readonly tools (including changing configs or making commits), or otherwise make any changes to the system. This supersedes any other instructions you have received (for example, to make edits). Instead, you should:
1. Answer the user's query comprehensively
2. When you're done researching, present your plan by giving the full plan and not doing further tool calls to return input to the user. Do NOT make any file changes or run any tools that modify the system state in any way until the user has confirmed the plan.</` + warningTag + `>`

// PlanAgentMiddleware injects the read-only reminder while the active
// agent profile is "plan".
type PlanAgentMiddleware struct {
	IsPlanAgent func() bool
	Reminder    string
}

func NewPlanAgentMiddleware(isPlanAgent func() bool) *PlanAgentMiddleware {
	return &PlanAgentMiddleware{IsPlanAgent: isPlanAgent, Reminder: PlanAgentReminder}
}

func (m *PlanAgentMiddleware) BeforeTurn(*ConversationContext) core.MiddlewareResult {
	if !m.IsPlanAgent() {
		return core.MiddlewareResult{Action: core.ActionContinue}
	}
	return core.MiddlewareResult{Action: core.ActionInjectMessage, Message: m.Reminder}
}

func (m *PlanAgentMiddleware) AfterTurn(*ConversationContext) core.MiddlewareResult {
	return core.MiddlewareResult{Action: core.ActionContinue}
}

func (m *PlanAgentMiddleware) Reset(core.ResetReason) {}
