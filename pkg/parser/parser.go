// Package parser implements the Response Parser (C3): it normalizes
// heterogeneous LLM outputs (structured tool_calls, embedded XML-ish
// function calls, <think> reasoning tags) into a canonical
// []core.ParsedToolCall plus a reasoning string, deterministically.
//
// XML extraction is grounded on the brace/tag-scanning technique in the
// teacher's tool_call_extract.go and openai_compat/provider.go's
// <think>/invoke-parameter handling: this spec's own
// <function=name><parameter=k>v</parameter></function> dialect, plus the
// teacher's MiniMax [TOOL_CALL]<invoke name="..."> dialect folded in
// alongside it since both can appear in the same raw completion.
package parser

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/kinra-ai/kin-code/pkg/core"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"

	functionOpenPrefix = "<function="
	functionClose      = "</function>"
	paramOpenPrefix    = "<parameter="
	paramClose         = "</parameter>"

	// MiniMax's dialect wraps an Anthropic-shaped <invoke>/<parameter
	// name="..."> block in a [TOOL_CALL] marker instead of <function=name>.
	miniMaxOpen    = "[TOOL_CALL]"
	miniMaxCloseA  = "</minimax:tool_call>"
	miniMaxCloseB  = "[/minimax:tool_call]"
	invokeOpenAttr = "<invoke name=\""
	invokeClose    = "</invoke>"
	paramOpenAttr  = "<parameter name=\""

	maxFunctionBlocks   = 64
	maxParameters       = 64
	maxMiniMaxToolCalls = 20
)

// ParseResult is the canonical output of one parse pass.
type ParseResult struct {
	Content          string
	ReasoningContent string
	ToolCalls        []core.ParsedToolCall
}

// ReasoningDetailBlock models one OpenRouter reasoning_details entry.
type ReasoningDetailBlock struct {
	Type string // "reasoning.summary" | "reasoning.text" | "reasoning.encrypted"
	Text string
}

// Input bundles everything a parse pass needs from the raw LLM message.
type Input struct {
	Content              string
	StructuredToolCalls  []core.ToolCall // message.tool_calls, when Format == API/AUTO
	Format               core.ToolCallFormat
	ReasoningMode        core.ReasoningMode
	ReasoningDetails     []ReasoningDetailBlock // OpenRouter-style, strategy 1
	NamedReasoningField  string                 // provider-configured reasoning_field_name value, strategy 2
}

// Parse extracts tool calls per Format and reasoning content via the
// first-match-wins strategy chain: reasoning_details -> named field ->
// <think> tags.
func Parse(in Input) ParseResult {
	content := in.Content

	reasoning, content := extractReasoning(in, content)

	var calls []core.ParsedToolCall
	switch in.Format {
	case core.ToolCallFormatAPI:
		calls = fromStructured(in.StructuredToolCalls)
	case core.ToolCallFormatXML:
		calls, content = extractXMLCalls(content)
	case core.ToolCallFormatAuto:
		if len(in.StructuredToolCalls) > 0 {
			calls = fromStructured(in.StructuredToolCalls)
		} else {
			calls, content = extractXMLCalls(content)
		}
	}

	// MiniMax's [TOOL_CALL] dialect can show up alongside either XML or
	// structured output, so it's folded in regardless of Format.
	if in.Format != core.ToolCallFormatNone {
		var miniMaxCalls []core.ParsedToolCall
		miniMaxCalls, content = extractMiniMaxCalls(content)
		calls = append(calls, miniMaxCalls...)
	}

	return ParseResult{Content: content, ReasoningContent: reasoning, ToolCalls: calls}
}

func extractReasoning(in Input, content string) (reasoning string, remainingContent string) {
	for _, block := range in.ReasoningDetails {
		if block.Type == "reasoning.encrypted" {
			continue
		}
		if block.Type == "reasoning.summary" || block.Type == "reasoning.text" {
			if reasoning == "" {
				reasoning = block.Text
			} else if block.Text != "" {
				reasoning += "\n\n" + block.Text
			}
		}
	}
	if reasoning != "" {
		return reasoning, content
	}

	if in.NamedReasoningField != "" {
		return in.NamedReasoningField, content
	}

	return extractThinkTags(content, in.ReasoningMode)
}

// extractThinkTags pulls every <think>...</think> block out of content,
// concatenating their text as reasoning. In PRESERVE mode the tags stay in
// content as well; in STRIP mode (the default) they're removed.
func extractThinkTags(content string, mode core.ReasoningMode) (reasoning string, remaining string) {
	remaining = content
	if mode == "" {
		mode = core.ReasoningStrip
	}

	if mode == core.ReasoningPreserve {
		cursor := 0
		for {
			start := strings.Index(remaining[cursor:], thinkOpen)
			if start == -1 {
				break
			}
			start += cursor
			end := strings.Index(remaining[start:], thinkClose)
			if end == -1 {
				break
			}
			end += start
			text := strings.TrimSpace(remaining[start+len(thinkOpen) : end])
			if reasoning == "" {
				reasoning = text
			} else if text != "" {
				reasoning += "\n\n" + text
			}
			cursor = end + len(thinkClose)
		}
		return reasoning, remaining
	}

	for {
		start := strings.Index(remaining, thinkOpen)
		if start == -1 {
			break
		}
		end := strings.Index(remaining[start:], thinkClose)
		if end == -1 {
			break
		}
		end += start
		text := strings.TrimSpace(remaining[start+len(thinkOpen) : end])
		if reasoning == "" {
			reasoning = text
		} else if text != "" {
			reasoning += "\n\n" + text
		}
		remaining = strings.TrimSpace(remaining[:start] + remaining[end+len(thinkClose):])
	}
	return reasoning, remaining
}

func fromStructured(calls []core.ToolCall) []core.ParsedToolCall {
	out := make([]core.ParsedToolCall, 0, len(calls))
	for _, tc := range calls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out = append(out, core.ParsedToolCall{
			ToolName: tc.Function.Name,
			CallID:   tc.ID,
			RawArgs:  args,
		})
	}
	return out
}

// extractXMLCalls scans content for <function=name>...</function> blocks,
// each carrying zero or more <parameter=k>v</parameter> children. Matched
// spans are removed from content. Call IDs get an "xml_" prefix so
// downstream code can distinguish synthetic IDs from provider-issued ones.
func extractXMLCalls(content string) ([]core.ParsedToolCall, string) {
	var calls []core.ParsedToolCall
	remaining := content
	xmlIndex := 0

	for i := 0; i < maxFunctionBlocks; i++ {
		start := strings.Index(remaining, functionOpenPrefix)
		if start == -1 {
			break
		}
		nameStart := start + len(functionOpenPrefix)
		nameEnd := strings.IndexByte(remaining[nameStart:], '>')
		if nameEnd == -1 {
			break
		}
		nameEnd += nameStart
		name := remaining[nameStart:nameEnd]

		closeIdx := strings.Index(remaining[nameEnd:], functionClose)
		if closeIdx == -1 {
			break
		}
		closeIdx += nameEnd
		body := remaining[nameEnd+1 : closeIdx]
		blockEnd := closeIdx + len(functionClose)

		args := extractParameters(body)
		xmlIndex++
		calls = append(calls, core.ParsedToolCall{
			ToolName: name,
			CallID:   fmt.Sprintf("xml_%x", xmlIndex),
			RawArgs:  args,
		})

		prefix := strings.TrimRight(remaining[:start], " \t\n\r")
		suffix := strings.TrimLeft(remaining[blockEnd:], " \t\n\r")
		switch {
		case prefix == "":
			remaining = suffix
		case suffix == "":
			remaining = prefix
		default:
			remaining = prefix + "\n\n" + suffix
		}
	}

	return calls, strings.TrimSpace(remaining)
}

// extractMiniMaxCalls scans for [TOOL_CALL]<invoke name="...">...[/minimax:tool_call]
// (or the </minimax:tool_call> closing variant) blocks, matching whichever
// closing tag appears first after the opening marker. Malformed parameter
// lists drop the whole call rather than yield partial args.
func extractMiniMaxCalls(content string) ([]core.ParsedToolCall, string) {
	var calls []core.ParsedToolCall

	for i := 0; i < maxMiniMaxToolCalls; i++ {
		tagStart := strings.Index(content, miniMaxOpen)
		if tagStart == -1 {
			break
		}

		angleIdx := strings.Index(content[tagStart:], miniMaxCloseA)
		bracketIdx := strings.Index(content[tagStart:], miniMaxCloseB)

		tagEndIdx := -1
		tagLen := 0
		switch {
		case angleIdx != -1 && (bracketIdx == -1 || angleIdx < bracketIdx):
			tagEndIdx = tagStart + angleIdx
			tagLen = len(miniMaxCloseA)
		case bracketIdx != -1:
			tagEndIdx = tagStart + bracketIdx
			tagLen = len(miniMaxCloseB)
		}
		if tagEndIdx == -1 {
			break
		}

		xmlBodyStart := tagStart + len(miniMaxOpen)
		if xmlBodyStart > tagEndIdx {
			break
		}
		xmlPart := content[xmlBodyStart:tagEndIdx]

		if call, ok := parseMiniMaxInvoke(xmlPart, i); ok {
			calls = append(calls, call)
		}

		content = strings.TrimSpace(content[:tagStart] + content[tagEndIdx+tagLen:])
	}

	return calls, content
}

func parseMiniMaxInvoke(xmlPart string, idx int) (core.ParsedToolCall, bool) {
	nameStart := strings.Index(xmlPart, invokeOpenAttr)
	if nameStart == -1 {
		return core.ParsedToolCall{}, false
	}
	nameStart += len(invokeOpenAttr)
	nameEnd := strings.Index(xmlPart[nameStart:], "\"")
	invokeEnd := strings.Index(xmlPart, invokeClose)
	if nameEnd == -1 || invokeEnd == -1 {
		return core.ParsedToolCall{}, false
	}
	toolName := xmlPart[nameStart : nameStart+nameEnd]

	args := map[string]any{}
	paramsPart := xmlPart[nameStart+nameEnd:]

	for p := 0; p < maxParameters; p++ {
		pStart := strings.Index(paramsPart, paramOpenAttr)
		if pStart == -1 {
			break
		}
		pStart += len(paramOpenAttr)
		if pStart >= len(paramsPart) {
			return core.ParsedToolCall{}, false
		}
		pNameEnd := strings.Index(paramsPart[pStart:], "\"")
		if pNameEnd == -1 {
			return core.ParsedToolCall{}, false
		}
		pName := paramsPart[pStart : pStart+pNameEnd]

		valMarkerIdx := strings.Index(paramsPart[pStart+pNameEnd:], ">")
		if valMarkerIdx == -1 {
			return core.ParsedToolCall{}, false
		}
		valueStart := pStart + pNameEnd + valMarkerIdx + 1
		if valueStart > len(paramsPart) {
			return core.ParsedToolCall{}, false
		}

		valueEndMarkerIdx := strings.Index(paramsPart[valueStart:], paramClose)
		if valueEndMarkerIdx == -1 {
			return core.ParsedToolCall{}, false
		}
		valueEnd := valueStart + valueEndMarkerIdx

		args[pName] = html.UnescapeString(paramsPart[valueStart:valueEnd])

		nextParamStart := valueEnd + len(paramClose)
		if nextParamStart > len(paramsPart) {
			break
		}
		paramsPart = paramsPart[nextParamStart:]
	}

	return core.ParsedToolCall{
		ToolName: toolName,
		CallID:   fmt.Sprintf("minimax_%x", idx+1),
		RawArgs:  args,
	}, true
}

func extractParameters(body string) map[string]any {
	args := map[string]any{}
	remaining := body

	for i := 0; i < maxParameters; i++ {
		start := strings.Index(remaining, paramOpenPrefix)
		if start == -1 {
			break
		}
		nameStart := start + len(paramOpenPrefix)
		nameEnd := strings.IndexByte(remaining[nameStart:], '>')
		if nameEnd == -1 {
			break
		}
		nameEnd += nameStart
		key := remaining[nameStart:nameEnd]

		closeIdx := strings.Index(remaining[nameEnd:], paramClose)
		if closeIdx == -1 {
			break
		}
		closeIdx += nameEnd
		value := strings.TrimSpace(remaining[nameEnd+1 : closeIdx])

		args[key] = coerceValue(value)
		remaining = remaining[closeIdx+len(paramClose):]
	}

	return args
}

// coerceValue parses a parameter's text as JSON when it looks like JSON
// (an object, array, number, bool, or quoted string); otherwise it's kept
// as a plain string, matching the spec's "arguments that look like JSON
// are parsed as JSON, else kept as strings".
func coerceValue(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	switch trimmed[0] {
	case '{', '[', '"':
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	case 't', 'f':
		if trimmed == "true" {
			return true
		}
		if trimmed == "false" {
			return false
		}
	default:
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil && isNumericLiteral(trimmed) {
			return n
		}
	}
	return value
}

func isNumericLiteral(s string) bool {
	for i, r := range s {
		if r == '-' && i == 0 {
			continue
		}
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}
