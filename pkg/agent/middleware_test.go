package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kinra-ai/kin-code/pkg/core"
)

func TestTurnLimitMiddleware_StopsAtCap(t *testing.T) {
	mw := &TurnLimitMiddleware{MaxTurns: 3}
	ctx := &ConversationContext{Stats: &core.AgentStats{Steps: 4}}

	result := mw.BeforeTurn(ctx)

	assert.Equal(t, core.ActionStop, result.Action)
}

func TestTurnLimitMiddleware_ContinuesBelowCap(t *testing.T) {
	mw := &TurnLimitMiddleware{MaxTurns: 3}
	ctx := &ConversationContext{Stats: &core.AgentStats{Steps: 2}}

	result := mw.BeforeTurn(ctx)

	assert.Equal(t, core.ActionContinue, result.Action)
}

func TestAutoCompactMiddleware_TriggersAtThreshold(t *testing.T) {
	mw := &AutoCompactMiddleware{ThresholdPercent: 0.8, MaxContext: 1000}
	ctx := &ConversationContext{Stats: &core.AgentStats{ContextTokens: 800}}

	result := mw.BeforeTurn(ctx)

	assert.Equal(t, core.ActionCompact, result.Action)
	assert.Equal(t, 800, result.Metadata["old_tokens"])
}

func TestAutoCompactMiddleware_HardCeilingWins(t *testing.T) {
	ceiling := 500
	mw := &AutoCompactMiddleware{ThresholdPercent: 0.8, MaxContext: 1000, HardCeiling: &ceiling}
	ctx := &ConversationContext{Stats: &core.AgentStats{ContextTokens: 600}}

	result := mw.BeforeTurn(ctx)

	assert.Equal(t, core.ActionCompact, result.Action)
	assert.Equal(t, 500, result.Metadata["threshold"])
}

func TestContextWarningMiddleware_FiresOnce(t *testing.T) {
	maxContext := 1000
	mw := NewContextWarningMiddleware(&maxContext)
	ctx := &ConversationContext{Stats: &core.AgentStats{ContextTokens: 600}}

	first := mw.BeforeTurn(ctx)
	assert.Equal(t, core.ActionInjectMessage, first.Action)

	second := mw.BeforeTurn(ctx)
	assert.Equal(t, core.ActionContinue, second.Action, "should not warn twice without a reset")
}

func TestContextWarningMiddleware_ResetClearsFlag(t *testing.T) {
	maxContext := 1000
	mw := NewContextWarningMiddleware(&maxContext)
	ctx := &ConversationContext{Stats: &core.AgentStats{ContextTokens: 600}}

	mw.BeforeTurn(ctx)
	mw.Reset(core.ResetStop)

	result := mw.BeforeTurn(ctx)
	assert.Equal(t, core.ActionInjectMessage, result.Action)
}

func TestPlanAgentMiddleware_InjectsOnlyWhenActive(t *testing.T) {
	active := false
	mw := NewPlanAgentMiddleware(func() bool { return active })

	assert.Equal(t, core.ActionContinue, mw.BeforeTurn(nil).Action)

	active = true
	result := mw.BeforeTurn(nil)
	assert.Equal(t, core.ActionInjectMessage, result.Action)
	assert.Contains(t, result.Message, "Plan mode is active")
}

func TestMiddlewarePipeline_StopShortCircuits(t *testing.T) {
	pipeline := NewMiddlewarePipeline()
	pipeline.Add(&TurnLimitMiddleware{MaxTurns: 1})
	maxContext := 1000
	pipeline.Add(NewContextWarningMiddleware(&maxContext))

	ctx := &ConversationContext{Stats: &core.AgentStats{Steps: 2, ContextTokens: 900}}
	result := pipeline.RunBeforeTurn(ctx)

	assert.Equal(t, core.ActionStop, result.Action)
}

func TestMiddlewarePipeline_JoinsInjectedMessages(t *testing.T) {
	pipeline := NewMiddlewarePipeline()
	active := true
	pipeline.Add(NewPlanAgentMiddleware(func() bool { return active }))
	maxContext := 1000
	pipeline.Add(NewContextWarningMiddleware(&maxContext))

	ctx := &ConversationContext{Stats: &core.AgentStats{ContextTokens: 900}}
	result := pipeline.RunBeforeTurn(ctx)

	assert.Equal(t, core.ActionInjectMessage, result.Action)
	assert.Contains(t, result.Message, "Plan mode is active")
	assert.Contains(t, result.Message, "used 90%")
}

func TestMiddlewarePipeline_RunAfterTurnPanicsOnInject(t *testing.T) {
	pipeline := NewMiddlewarePipeline()
	pipeline.Add(&injectAlwaysMiddleware{})

	assert.Panics(t, func() {
		pipeline.RunAfterTurn(&ConversationContext{Stats: &core.AgentStats{}})
	})
}

type injectAlwaysMiddleware struct{}

func (injectAlwaysMiddleware) BeforeTurn(*ConversationContext) core.MiddlewareResult {
	return core.MiddlewareResult{Action: core.ActionContinue}
}

func (injectAlwaysMiddleware) AfterTurn(*ConversationContext) core.MiddlewareResult {
	return core.MiddlewareResult{Action: core.ActionInjectMessage, Message: "nope"}
}

func (injectAlwaysMiddleware) Reset(core.ResetReason) {}
