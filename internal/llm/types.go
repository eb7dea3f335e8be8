package llm

import (
	"context"
	"time"
)

// Client is the streaming chat-completion interface the orchestrator depends on.
type Client interface {
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamEvent, error)
}

// ChatRequest represents a chat-completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"` // auto|none|required
}

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool defines a tool available to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function.
type ToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"`
}

// ToolCall is a fully assembled tool invocation requested by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction contains the function name and raw JSON arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallDelta is one streamed fragment of a tool call. The same index may
// arrive many times, each carrying a piece of the name or arguments.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamEvent is one unit of a streaming response: a text token, a batch of
// tool-call fragments, or the explicit terminator.
type StreamEvent struct {
	Token        string          `json:"token,omitempty"`
	ToolDeltas   []ToolCallDelta `json:"tool_deltas,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Done         bool            `json:"done"`
}

// GatewayConfig holds configuration for the gateway client.
type GatewayConfig struct {
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}
