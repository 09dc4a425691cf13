package agent

import (
	"context"
	"fmt"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// compactionSystemPrompt instructs the model to produce a dense recap of
// everything before the cut point, grounded on the teacher's
// compaction.go summarization prompt.
const compactionSystemPrompt = `Summarize the conversation so far into a compact recap a new assistant turn can continue from. Preserve: the user's goal, decisions made, files touched, and any unresolved steps. Omit tool call/response noise that led nowhere. Be terse.`

// keepRecentMessages is how many of the most recent messages survive
// compaction untouched, so the model's immediate working context isn't
// itself summarized away.
const keepRecentMessages = 6

// compact implements the 7-step compaction algorithm: emit compact_start,
// split history into a summarizable prefix and a kept suffix, ask the
// model for a recap of the prefix, replace the prefix with a single
// synthetic user message carrying that recap, re-run FillMissingToolResponses
// on the spliced result, recompute ContextTokens via the backend's token
// counter, reset AutoCompact/ContextWarning middleware state, emit
// compact_end.
func (l *Loop) compact(ctx context.Context, metadata map[string]any) error {
	oldTokens := l.Stats.ContextTokens
	threshold, _ := metadata["threshold"].(int)

	l.emit(core.Event{Type: core.EventCompactStart, OldTokens: oldTokens, Threshold: threshold})

	system := l.History.Messages[0]
	rest := l.History.Messages[1:]

	if len(rest) <= keepRecentMessages {
		l.Middleware.Reset(core.ResetCompact)
		l.emit(core.Event{Type: core.EventCompactEnd, OldTokens: oldTokens, NewTokens: l.Stats.ContextTokens})
		return nil
	}

	cut := len(rest) - keepRecentMessages
	toSummarize := rest[:cut]
	kept := rest[cut:]

	recap, err := l.summarize(ctx, toSummarize)
	if err != nil {
		return fmt.Errorf("compaction: %w", err)
	}

	recapMessage := core.Message{Role: core.RoleUser, Content: fmt.Sprintf("<conversation_summary>%s</conversation_summary>", recap)}

	spliced := make([]core.Message, 0, 2+len(kept))
	spliced = append(spliced, system, recapMessage)
	spliced = append(spliced, kept...)

	l.History.Messages = spliced
	l.History.FillMissingToolResponses()
	l.History.EnsureAssistantAfterTools()

	newTokens, err := l.Client.CountTokens(ctx, l.Model.Name, l.History.Messages, toolDefinitions(l.Tools.SchemasForLLM()))
	if err == nil {
		l.Stats.ContextTokens = newTokens
	}

	l.Middleware.Reset(core.ResetCompact)
	l.Tools.ResetAll()

	l.emit(core.Event{Type: core.EventCompactEnd, OldTokens: oldTokens, NewTokens: l.Stats.ContextTokens})
	return nil
}

func (l *Loop) summarize(ctx context.Context, messages []core.Message) (string, error) {
	summarizeHistory := append([]core.Message{{Role: core.RoleSystem, Content: compactionSystemPrompt}}, messages...)
	summarizeHistory = append(summarizeHistory, core.Message{Role: core.RoleUser, Content: "Produce the recap now."})

	msg, err := l.Client.Complete(ctx, l.Model.Name, summarizeHistory, nil, l.Model, nil)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}
