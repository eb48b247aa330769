package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIProvider adapts the Chat Completions API to the LLMProvider /
// StreamingProvider ports, for chat modes that route to an OpenAI model
// instead of Claude.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider authenticated with a static API key.
func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	if defaultModel == "" {
		defaultModel = openai.ChatModelGPT4o
	}
	return &OpenAIProvider{client: &client, model: defaultModel}
}

func (p *OpenAIProvider) GetDefaultModel() string {
	return p.model
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts Options) (*LLMResponse, error) {
	params, err := buildOpenAIParams(messages, tools, model, opts)
	if err != nil {
		return nil, err
	}

	comp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return parseOpenAIMessage(comp), nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts Options, handler StreamHandler) (*LLMResponse, error) {
	params, err := buildOpenAIParams(messages, tools, model, opts)
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	proc := newOpenAIStreamProcessor(handler)
	for stream.Next() {
		if err := proc.handle(ctx, stream.Current()); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	resp := proc.final()
	if err := handler(ctx, StreamEvent{Type: EventDone, Response: resp}); err != nil {
		return nil, err
	}
	return resp, nil
}

func buildOpenAIParams(messages []Message, tools []ToolDefinition, model string, opts Options) (openai.ChatCompletionNewParams, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			if m.Text != "" {
				msgs = append(msgs, openai.SystemMessage(m.Text))
			}
		case "assistant":
			msg, err := encodeOpenAIAssistant(m)
			if err != nil {
				return openai.ChatCompletionNewParams{}, err
			}
			msgs = append(msgs, msg)
		default:
			msgs = append(msgs, encodeOpenAIUser(m)...)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if len(tools) > 0 {
		params.Tools = encodeOpenAITools(tools)
	}

	return params, nil
}

// encodeOpenAIAssistant turns an assistant turn's tool_use blocks into
// OpenAI function tool calls, since only the model-side turn carries them.
func encodeOpenAIAssistant(m Message) (openai.ChatCompletionMessageParamUnion, error) {
	if len(m.Blocks) == 0 {
		return openai.AssistantMessage(m.Text), nil
	}

	assistant := openai.ChatCompletionAssistantMessageParam{}
	var text string
	var calls []openai.ChatCompletionMessageToolCallUnionParam
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			text += b.Text
		case BlockToolUse:
			args, err := json.Marshal(b.Input)
			if err != nil {
				return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("marshal tool input: %w", err)
			}
			calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: b.ToolUseID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      b.ToolName,
						Arguments: string(args),
					},
				},
			})
		}
	}
	if text != "" {
		assistant.Content.OfString = openai.String(text)
	}
	assistant.ToolCalls = calls
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}, nil
}

// encodeOpenAIUser turns a user turn's tool_result blocks into the
// standalone "tool" role messages OpenAI requires, preceded by the plain
// user text block if any.
func encodeOpenAIUser(m Message) []openai.ChatCompletionMessageParamUnion {
	if len(m.Blocks) == 0 {
		if m.Text == "" {
			return nil
		}
		return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(m.Text)}
	}

	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			if b.Text != "" {
				out = append(out, openai.UserMessage(b.Text))
			}
		case BlockToolResult:
			out = append(out, openai.ToolMessage(b.Result, b.ToolUseID))
		}
	}
	return out
}

func encodeOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.InputSchema),
		}))
	}
	return out
}

func parseOpenAIMessage(comp *openai.ChatCompletion) *LLMResponse {
	resp := &LLMResponse{}
	if len(comp.Choices) == 0 {
		return resp
	}
	msg := comp.Choices[0].Message
	resp.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		switch v := tc.AsAny().(type) {
		case openai.ChatCompletionMessageFunctionToolCall:
			args, _ := decodeOpenAIArguments(v.Function.Arguments)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        v.ID,
				Name:      v.Function.Name,
				Arguments: args,
			})
		case openai.ChatCompletionMessageCustomToolCall:
			args, _ := decodeOpenAIArguments(v.Custom.Input)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        v.ID,
				Name:      v.Custom.Name,
				Arguments: args,
			})
		}
	}
	resp.StopForTools = len(resp.ToolCalls) > 0
	return resp
}

func decodeOpenAIArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// openaiStreamProcessor accumulates streamed chat-completion chunks into
// typed StreamEvents. OpenAI delivers tool-call name/id on the first delta
// that carries a given index and argument fragments on every delta after,
// so in-flight calls are tracked by index the same way the Claude
// processor tracks them by content-block index.
type openaiStreamProcessor struct {
	handler   StreamHandler
	text      string
	toolCalls map[int64]*toolBuffer
	order     []int64
}

func newOpenAIStreamProcessor(handler StreamHandler) *openaiStreamProcessor {
	return &openaiStreamProcessor{handler: handler, toolCalls: make(map[int64]*toolBuffer)}
}

func (p *openaiStreamProcessor) handle(ctx context.Context, chunk openai.ChatCompletionChunk) error {
	if len(chunk.Choices) == 0 {
		return nil
	}
	delta := chunk.Choices[0].Delta

	if delta.Content != "" {
		p.text += delta.Content
		if err := p.handler(ctx, StreamEvent{Type: EventTextChunk, Chunk: delta.Content}); err != nil {
			return err
		}
	}

	for _, tc := range delta.ToolCalls {
		idx := tc.Index
		tb, seen := p.toolCalls[idx]
		if !seen {
			tb = &toolBuffer{id: tc.ID, name: tc.Function.Name}
			p.toolCalls[idx] = tb
			p.order = append(p.order, idx)
			if err := p.handler(ctx, StreamEvent{
				Type:     EventToolUseStart,
				ToolCall: ToolCall{ID: tb.id, Name: tb.name},
			}); err != nil {
				return err
			}
		}
		tb.fragments += tc.Function.Arguments
	}

	if chunk.Choices[0].FinishReason == "tool_calls" {
		for _, idx := range p.order {
			tb := p.toolCalls[idx]
			args, _ := decodeOpenAIArguments(tb.fragments)
			if args == nil {
				args = map[string]interface{}{}
			}
			call := ToolCall{ID: tb.id, Name: tb.name, Arguments: args}
			if err := p.handler(ctx, StreamEvent{Type: EventToolUse, ToolCall: call}); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *openaiStreamProcessor) final() *LLMResponse {
	resp := &LLMResponse{Text: p.text}
	for _, idx := range p.order {
		tb := p.toolCalls[idx]
		args, _ := decodeOpenAIArguments(tb.fragments)
		if args == nil {
			args = map[string]interface{}{}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tb.id, Name: tb.name, Arguments: args})
	}
	resp.StopForTools = len(resp.ToolCalls) > 0
	return resp
}
