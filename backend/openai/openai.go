// Package openai provides a ChatBackend adapter for the OpenAI Chat
// Completions API (including function/tool calling). It adapts the
// normalized Request into the SDK's message format and back.
package openai

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hupe1980/polymesh/backend"
	"github.com/openai/openai-go"
)

// Options configure the OpenAI backend adapter. Fields mirror a subset of
// Chat Completion parameters intentionally kept minimal; extend via
// functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Backend wraps the OpenAI Chat Completions API behind the generic
// backend.ChatBackend interface.
type Backend struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI backend using the official client.
func New(optFns ...func(o *Options)) *Backend {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI backend from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{client: client, opts: opts}
}

// Chat implements backend.ChatBackend.
func (b *Backend) Chat(ctx context.Context, req backend.Request) ([]backend.ContentBlock, error) {
	ctx, cancel := backend.WithTimeout(ctx)
	defer cancel()

	params := b.buildParams(req)

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, asTransportError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &backend.TransportError{Message: "no choices returned"}
	}

	msg := resp.Choices[0].Message
	blocks := make([]backend.ContentBlock, 0, len(msg.ToolCalls)+1)
	if msg.Content != "" {
		blocks = append(blocks, backend.TextBlock(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		blocks = append(blocks, backend.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}

	return blocks, nil
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (b *Backend) buildParams(req backend.Request) openai.ChatCompletionNewParams {
	model := b.opts.Model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := b.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               model,
		Temperature:         openai.Float(b.opts.Temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.InputSchema,
			},
		}
	}
	params.Tools = tools

	return params
}

// buildMessages converts normalized messages into OpenAI chat messages,
// encoding assistant tool calls and their matching tool result messages.
func buildMessages(req backend.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			if len(m.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Input)
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case "tool":
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	return messages
}

// asTransportError maps SDK errors to *backend.TransportError preserving the
// HTTP status when available.
func asTransportError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &backend.TransportError{Status: apierr.StatusCode, Message: apierr.Error(), Cause: err}
	}
	return &backend.TransportError{Message: err.Error(), Cause: err}
}
