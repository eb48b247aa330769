package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeProvider adapts the Anthropic Messages API to the LLMProvider /
// StreamingProvider ports.
type ClaudeProvider struct {
	client      *anthropic.Client
	tokenSource func() (string, error)
}

// NewClaudeProvider creates a provider authenticated with a static API key.
func NewClaudeProvider(apiKey string) *ClaudeProvider {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL("https://api.anthropic.com"),
	)
	return &ClaudeProvider{client: &client}
}

// NewClaudeProviderOAuth creates a provider that authenticates via an OAuth
// Bearer token sourced on every call instead of a static x-api-key — the
// same middleware shape the teacher used for Claude Max/Pro subscriptions.
func NewClaudeProviderOAuth(tokenSource func() (string, error)) *ClaudeProvider {
	client := anthropic.NewClient(
		option.WithBaseURL("https://api.anthropic.com"),
		option.WithMiddleware(oauthBearerMiddleware(tokenSource)),
	)
	return &ClaudeProvider{client: &client, tokenSource: tokenSource}
}

func oauthBearerMiddleware(tokenSource func() (string, error)) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		token, err := tokenSource()
		if err != nil {
			return nil, fmt.Errorf("refreshing OAuth token: %w", err)
		}
		req.Header.Del("X-Api-Key")
		req.Header.Set("Authorization", "Bearer "+token)
		return next(req)
	}
}

func (p *ClaudeProvider) GetDefaultModel() string {
	return "claude-sonnet-4-5-20250929"
}

func (p *ClaudeProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts Options) (*LLMResponse, error) {
	params, err := buildClaudeParams(messages, tools, model, opts)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude API call: %w", err)
	}
	return parseClaudeMessage(resp), nil
}

func (p *ClaudeProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts Options, handler StreamHandler) (*LLMResponse, error) {
	params, err := buildClaudeParams(messages, tools, model, opts)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	proc := newClaudeStreamProcessor(handler)
	for stream.Next() {
		if err := proc.handle(ctx, stream.Current()); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("claude stream: %w", err)
	}

	resp := proc.final()
	if err := handler(ctx, StreamEvent{Type: EventDone, Response: resp}); err != nil {
		return nil, err
	}
	return resp, nil
}

func buildClaudeParams(messages []Message, tools []ToolDefinition, model string, opts Options) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	var anthropicMessages []anthropic.MessageParam

	for _, m := range messages {
		if m.Role == "system" {
			if m.Text != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Text})
			}
			continue
		}

		blocks, err := encodeBlocks(m)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == "assistant" {
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(blocks...))
		} else {
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(blocks...))
		}
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  anthropicMessages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if len(tools) > 0 {
		toolParams, err := encodeTools(tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = toolParams
	}

	return params, nil
}

func encodeBlocks(m Message) ([]anthropic.ContentBlockParamUnion, error) {
	if len(m.Blocks) == 0 {
		if m.Text == "" {
			return nil, nil
		}
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Text)}, nil
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			blocks = append(blocks, anthropic.NewTextBlock(b.Text))
		case BlockToolUse:
			blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, b.Input, b.ToolName))
		case BlockToolResult:
			blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Result, b.IsError))
		}
	}
	return blocks, nil
}

func encodeTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for tool %q: %w", t.Name, err)
		}
		var fields map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, fmt.Errorf("decode schema for tool %q: %w", t.Name, err)
			}
		}
		schema := anthropic.ToolInputSchemaParam{ExtraFields: fields}
		u := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool != nil {
			u.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func parseClaudeMessage(msg *anthropic.Message) *LLMResponse {
	resp := &LLMResponse{}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ToolUseBlock:
			args, _ := decodeToolInput(variant.Input)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	resp.StopForTools = len(resp.ToolCalls) > 0
	return resp
}

func decodeToolInput(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// claudeStreamProcessor accumulates a streamed Anthropic response into
// typed StreamEvents, tracking in-flight tool_use blocks by content index
// since Anthropic delivers their name/id on content_block_start and their
// argument JSON incrementally on content_block_delta.
type claudeStreamProcessor struct {
	handler     StreamHandler
	text        string
	toolBlocks  map[int64]*toolBuffer
	toolCalls   []ToolCall
}

type toolBuffer struct {
	id        string
	name      string
	fragments string
}

func newClaudeStreamProcessor(handler StreamHandler) *claudeStreamProcessor {
	return &claudeStreamProcessor{handler: handler, toolBlocks: make(map[int64]*toolBuffer)}
}

func (p *claudeStreamProcessor) handle(ctx context.Context, event anthropic.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			p.toolBlocks[ev.Index] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
			return p.handler(ctx, StreamEvent{
				Type:     EventToolUseStart,
				ToolCall: ToolCall{ID: toolUse.ID, Name: toolUse.Name},
			})
		}
		return nil

	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text == "" {
				return nil
			}
			p.text += delta.Text
			return p.handler(ctx, StreamEvent{Type: EventTextChunk, Chunk: delta.Text})
		case anthropic.InputJSONDelta:
			if tb := p.toolBlocks[ev.Index]; tb != nil {
				tb.fragments += delta.PartialJSON
			}
		}
		return nil

	case anthropic.ContentBlockStopEvent:
		if tb := p.toolBlocks[ev.Index]; tb != nil {
			var args map[string]interface{}
			if tb.fragments != "" {
				_ = json.Unmarshal([]byte(tb.fragments), &args)
			}
			if args == nil {
				args = map[string]interface{}{}
			}
			call := ToolCall{ID: tb.id, Name: tb.name, Arguments: args}
			p.toolCalls = append(p.toolCalls, call)
			delete(p.toolBlocks, ev.Index)
			return p.handler(ctx, StreamEvent{Type: EventToolUse, ToolCall: call})
		}
		return nil

	case anthropic.MessageStopEvent:
		return nil

	default:
		return nil
	}
}

func (p *claudeStreamProcessor) final() *LLMResponse {
	return &LLMResponse{
		Text:         p.text,
		ToolCalls:    p.toolCalls,
		StopForTools: len(p.toolCalls) > 0,
	}
}
