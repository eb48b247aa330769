// Package providers defines the model provider port: a token-streaming,
// tool-use capable chat interface, plus concrete Anthropic/OpenAI
// adapters and a fallback wrapper. The provider is treated as a
// capability-bearing port — callers depend only on the interfaces in
// this file.
package providers

import "context"

// BlockType distinguishes the kinds of content a message turn can carry.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one typed unit of a message's content. A message's
// Content is either a plain string (Blocks is nil) or a list of typed
// blocks — mirroring the chat_history invariant in spec.md §3 that an
// assistant tool_use block is always followed by a matching tool_result.
type ContentBlock struct {
	Type      BlockType   `json:"type"`
	Text      string      `json:"text,omitempty"`
	ToolUseID string      `json:"tool_use_id,omitempty"`
	ToolName  string      `json:"tool_name,omitempty"`
	Input     interface{} `json:"input,omitempty"`
	Result    string      `json:"result,omitempty"`
	IsError   bool        `json:"is_error,omitempty"`
}

// Message is one turn in the conversation sent to/received from the
// provider.
type Message struct {
	Role   string // "user" | "assistant"
	Text   string // plain-text shorthand; used when Blocks is empty
	Blocks []ContentBlock
}

// ToolDefinition is the schema a tool is exposed to the model under.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ToolCall is a single tool invocation the model requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// LLMResponse is a complete, non-streaming model turn.
type LLMResponse struct {
	Text      string
	ToolCalls []ToolCall
	StopForTools bool // true if the model stopped specifically to request tool use
}

// StreamEventType enumerates the typed stream events. The Claude and
// OpenAI adapters emit text_chunk, tool_use_start, tool_use and done;
// tool_result is declared but neither adapter emits it.
type StreamEventType string

const (
	EventTextChunk     StreamEventType = "text_chunk"
	EventToolUseStart  StreamEventType = "tool_use_start"
	EventToolUse       StreamEventType = "tool_use"
	EventToolResult    StreamEventType = "tool_result"
	EventDone          StreamEventType = "done"
)

// StreamEvent is one unit of a streaming model response.
type StreamEvent struct {
	Type     StreamEventType
	Chunk    string   // EventTextChunk
	ToolCall ToolCall // EventToolUseStart (Name only populated), EventToolUse (full)
	Response *LLMResponse // EventDone: the fully assembled response
}

// StreamHandler receives events as they arrive. Returning an error
// aborts the stream.
type StreamHandler func(ctx context.Context, ev StreamEvent) error

// Options carries per-call tuning knobs.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// LLMProvider is the minimal non-streaming port.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts Options) (*LLMResponse, error)
	GetDefaultModel() string
}

// StreamingProvider is implemented by providers that can emit the
// typed event sequence.
type StreamingProvider interface {
	LLMProvider
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts Options, handler StreamHandler) (*LLMResponse, error)
}
