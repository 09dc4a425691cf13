package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// AnthropicBackend is the native Anthropic Backend, grounded on
// pkg/providers/anthropic/provider.go: a thin wrapper over the SDK client
// that builds MessageNewParams from our canonical []core.Message, merging
// consecutive tool-result messages into the single user turn Anthropic's
// API requires immediately after an assistant tool_use turn.
type AnthropicBackend struct {
	client       *anthropic.Client
	defaultModel string
}

func NewAnthropicBackend(apiKey, baseURL, defaultModel string) *AnthropicBackend {
	opts := []option.RequestOption{option.WithAuthToken(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicBackend{client: &client, defaultModel: defaultModel}
}

func (b *AnthropicBackend) Open(ctx context.Context) error  { return nil }
func (b *AnthropicBackend) Close() error                    { return nil }

func (b *AnthropicBackend) Complete(ctx context.Context, model string, messages []core.Message, toolDefs []ToolDefinition, opts ChatOptions) (Chunk, error) {
	params := b.buildParams(model, messages, toolDefs, opts)

	reqOpts := headerOptions(opts.ExtraHeaders)
	msg, err := b.client.Messages.New(ctx, params, reqOpts...)
	if err != nil {
		return Chunk{}, classifyAnthropicError(err)
	}

	return Chunk{
		Message: anthropicMessageToCore(msg),
		Usage: &Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (b *AnthropicBackend) CompleteStreaming(ctx context.Context, model string, messages []core.Message, toolDefs []ToolDefinition, opts ChatOptions) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	params := b.buildParams(model, messages, toolDefs, opts)
	reqOpts := headerOptions(opts.ExtraHeaders)

	go func() {
		defer close(chunks)
		defer close(errs)

		stream := b.client.Messages.NewStreaming(ctx, params, reqOpts...)
		accumulated := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()
			if err := accumulated.Accumulate(event); err != nil {
				errs <- err
				return
			}

			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				delta := variant.Delta
				if delta.Text != "" {
					chunks <- Chunk{Message: core.Message{Content: delta.Text}}
				}
				if delta.Thinking != "" {
					chunks <- Chunk{Message: core.Message{ReasoningContent: delta.Thinking}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- classifyAnthropicError(err)
			return
		}

		chunks <- Chunk{
			Message: anthropicMessageToCore(&accumulated),
			Usage: &Usage{
				PromptTokens:     int(accumulated.Usage.InputTokens),
				CompletionTokens: int(accumulated.Usage.OutputTokens),
			},
		}
	}()

	return chunks, errs
}

func (b *AnthropicBackend) CountTokens(ctx context.Context, model string, messages []core.Message, toolDefs []ToolDefinition) (int, error) {
	params := b.buildParams(model, messages, toolDefs, ChatOptions{})
	count, err := b.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model:    params.Model,
		Messages: params.Messages,
		System:   params.System,
		Tools:    countTokensTools(params.Tools),
	})
	if err != nil {
		return 0, classifyAnthropicError(err)
	}
	return int(count.InputTokens), nil
}

func headerOptions(headers map[string]string) []option.RequestOption {
	var opts []option.RequestOption
	for k, v := range headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return opts
}

// buildParams converts our canonical message list into Anthropic's wire
// shape. Anthropic requires every tool_result to appear inside the single
// user message immediately following the assistant's tool_use turn, so
// consecutive core.RoleTool messages are collected into one user message.
func (b *AnthropicBackend) buildParams(model string, messages []core.Message, toolDefs []ToolDefinition, opts ChatOptions) anthropic.MessageNewParams {
	if model == "" {
		model = b.defaultModel
	}

	var system string
	var anthropicMessages []anthropic.MessageParam

	i := 0
	for i < len(messages) {
		msg := messages[i]

		switch msg.Role {
		case core.RoleSystem:
			if system == "" {
				system = msg.Content
			} else {
				system += "\n\n" + msg.Content
			}
			i++

		case core.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			i++

		case core.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(blocks...))
			i++

		case core.RoleTool:
			var resultBlocks []anthropic.ContentBlockParamUnion
			for i < len(messages) && messages[i].Role == core.RoleTool {
				resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(messages[i].ToolCallID, messages[i].Content, false))
				i++
			}
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(resultBlocks...))

		default:
			i++
		}
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 8192
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthropicMessages,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.TopP != nil {
		params.TopP = anthropic.Float(*opts.TopP)
	}
	if opts.Temperature != 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if len(toolDefs) > 0 {
		params.Tools = make([]anthropic.ToolUnionParam, 0, len(toolDefs))
		for _, td := range toolDefs {
			params.Tools = append(params.Tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        td.Name,
					Description: anthropic.String(td.Description),
					InputSchema: anthropic.ToolInputSchemaParam{Properties: td.Parameters},
				},
			})
		}
	}

	return params
}

func countTokensTools(tools []anthropic.ToolUnionParam) []anthropic.MessageCountTokensParamsToolUnion {
	out := make([]anthropic.MessageCountTokensParamsToolUnion, 0, len(tools))
	for _, t := range tools {
		if t.OfTool == nil {
			continue
		}
		out = append(out, anthropic.MessageCountTokensParamsToolUnion{
			OfTool: &anthropic.MessageCountTokensParamsToolUnion_Tool{
				Name:        t.OfTool.Name,
				Description: t.OfTool.Description,
				InputSchema: t.OfTool.InputSchema,
			},
		})
	}
	return out
}

func anthropicMessageToCore(msg *anthropic.Message) core.Message {
	out := core.Message{Role: core.RoleAssistant}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
		case anthropic.ThinkingBlock:
			out.ReasoningContent += variant.Thinking
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID: variant.ID,
				Function: core.FunctionCall{
					Name:      variant.Name,
					Arguments: string(args),
				},
			})
		}
	}
	return out
}

// classifyAnthropicError maps SDK errors to the provider-agnostic sentinel
// errors the fallback chain switches on.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if ok := asAnthropicAPIError(err, &apiErr); ok {
		switch apiErr.StatusCode {
		case 401, 403:
			return fmt.Errorf("%w: %s", ErrAuth, err)
		case 429:
			return fmt.Errorf("%w: %s", ErrRateLimit, err)
		case 529:
			return fmt.Errorf("%w: %s", ErrOverloaded, err)
		case 402:
			return fmt.Errorf("%w: %s", ErrBilling, err)
		}
	}
	return err
}

func asAnthropicAPIError(err error, target **anthropic.Error) bool {
	ae, ok := err.(*anthropic.Error)
	if ok {
		*target = ae
	}
	return ok
}
