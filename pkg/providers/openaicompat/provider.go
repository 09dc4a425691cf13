// Package openaicompat implements the OpenAI-compatible Backend: the SDK
// path grounded on pkg/providers/openai_sdk/provider.go, plus the
// <think>/MiniMax-XML response-shape parsing grounded on
// pkg/providers/openai_compat/provider.go's parseResponse stages, folded
// here into pkg/parser rather than duplicated.
package openaicompat

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/kinra-ai/kin-code/pkg/core"
	"github.com/kinra-ai/kin-code/pkg/parser"
	"github.com/kinra-ai/kin-code/pkg/providers"
)

// Provider talks to any OpenAI-Chat-Completions-compatible endpoint
// (OpenAI itself, MiniMax, DeepSeek, local vLLM/Ollama servers, etc.) via
// the official SDK, with a configurable base URL and tool-call dialect.
type Provider struct {
	client       openai.Client
	defaultModel string
	format       core.ToolCallFormat
	reasoning    core.ReasoningMode
}

func NewProvider(apiKey, baseURL, defaultModel string, format core.ToolCallFormat, reasoning core.ReasoningMode) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
		format:       format,
		reasoning:    reasoning,
	}
}

func (p *Provider) Open(ctx context.Context) error { return nil }
func (p *Provider) Close() error                    { return nil }

func (p *Provider) Complete(ctx context.Context, model string, messages []core.Message, toolDefs []providers.ToolDefinition, opts providers.ChatOptions) (providers.Chunk, error) {
	params := p.buildParams(model, messages, toolDefs, opts)

	reqOpts := headerOptions(opts.ExtraHeaders)
	resp, err := p.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return providers.Chunk{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return providers.Chunk{}, providers.ErrFormat
	}

	msg := p.parseChoice(resp.Choices[0])
	return providers.Chunk{
		Message: msg,
		Usage: &providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (p *Provider) CompleteStreaming(ctx context.Context, model string, messages []core.Message, toolDefs []providers.ToolDefinition, opts providers.ChatOptions) (<-chan providers.Chunk, <-chan error) {
	chunks := make(chan providers.Chunk)
	errs := make(chan error, 1)

	params := p.buildParams(model, messages, toolDefs, opts)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: param.NewOpt(true)}
	reqOpts := headerOptions(opts.ExtraHeaders)

	go func() {
		defer close(chunks)
		defer close(errs)

		stream := p.client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)
		acc := openai.ChatCompletionAccumulator{}

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) > 0 {
				delta := chunk.Choices[0].Delta
				if delta.Content != "" {
					chunks <- providers.Chunk{Message: core.Message{Content: delta.Content}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- classifyOpenAIError(err)
			return
		}
		if len(acc.Choices) == 0 {
			errs <- providers.ErrFormat
			return
		}

		msg := p.parseChoice(acc.Choices[0])
		chunks <- providers.Chunk{
			Message: msg,
			Usage: &providers.Usage{
				PromptTokens:     int(acc.Usage.PromptTokens),
				CompletionTokens: int(acc.Usage.CompletionTokens),
			},
		}
	}()

	return chunks, errs
}

func (p *Provider) CountTokens(ctx context.Context, model string, messages []core.Message, toolDefs []providers.ToolDefinition) (int, error) {
	// Most OpenAI-compatible endpoints expose no counting endpoint; estimate
	// via a coarse chars/4 heuristic, matching openai_compat/provider.go's
	// fallback behavior when the server omits usage on a dry-run call.
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / 4, nil
}

func (p *Provider) parseChoice(choice openai.ChatCompletionChoice) core.Message {
	var structured []core.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		structured = append(structured, core.ToolCall{
			ID: tc.ID,
			Function: core.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	format := p.format
	if format == "" {
		format = core.ToolCallFormatAuto
	}

	result := parser.Parse(parser.Input{
		Content:             choice.Message.Content,
		StructuredToolCalls: structured,
		Format:              format,
		ReasoningMode:       p.reasoning,
		NamedReasoningField: choice.Message.JSON.ExtraFields["reasoning_content"].Raw(),
	})

	out := core.Message{
		Role:             core.RoleAssistant,
		Content:          result.Content,
		ReasoningContent: result.ReasoningContent,
	}
	for _, tc := range result.ToolCalls {
		args, _ := json.Marshal(tc.RawArgs)
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID: tc.CallID,
			Function: core.FunctionCall{
				Name:      tc.ToolName,
				Arguments: string(args),
			},
		})
	}
	return out
}

func (p *Provider) buildParams(model string, messages []core.Message, toolDefs []providers.ToolDefinition, opts providers.ChatOptions) openai.ChatCompletionNewParams {
	if model == "" {
		model = p.defaultModel
	}

	var openaiMessages []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			openaiMessages = append(openaiMessages, openai.SystemMessage(m.Content))
		case core.RoleUser:
			openaiMessages = append(openaiMessages, openai.UserMessage(m.Content))
		case core.RoleAssistant:
			msg := openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(m.Content)},
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			openaiMessages = append(openaiMessages, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case core.RoleTool:
			openaiMessages = append(openaiMessages, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: openaiMessages,
	}
	if opts.Temperature != 0 {
		params.Temperature = param.NewOpt(opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = param.NewOpt(*opts.TopP)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(opts.MaxTokens))
	}
	if len(toolDefs) > 0 {
		params.Tools = make([]openai.ChatCompletionToolUnionParam, 0, len(toolDefs))
		for _, td := range toolDefs {
			params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  openai.FunctionParameters(td.Parameters),
			}))
		}
	}
	return params
}

func headerOptions(headers map[string]string) []option.RequestOption {
	var opts []option.RequestOption
	for k, v := range headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return opts
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if ok, ae := asOpenAIError(err); ok {
		apiErr = ae
		switch apiErr.StatusCode {
		case 401, 403:
			return joinErr(providers.ErrAuth, err)
		case 429:
			return joinErr(providers.ErrRateLimit, err)
		case 402:
			return joinErr(providers.ErrBilling, err)
		case 503:
			return joinErr(providers.ErrOverloaded, err)
		}
	}
	return err
}

func asOpenAIError(err error) (bool, *openai.Error) {
	ae, ok := err.(*openai.Error)
	return ok, ae
}

func joinErr(sentinel, wrapped error) error {
	return &wrappedError{sentinel: sentinel, wrapped: wrapped}
}

type wrappedError struct {
	sentinel error
	wrapped  error
}

func (w *wrappedError) Error() string { return w.wrapped.Error() }
func (w *wrappedError) Unwrap() error { return w.sentinel }
