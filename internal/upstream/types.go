// Package upstream defines the provider-neutral chat-completion types and the
// collaborator interfaces the orchestrator dispatches through: a protocol
// client that owns payload building, retries, and stream conversion, and an
// auth session that owns token refresh for one pool credential.
package upstream

import "encoding/json"

// ChatMessage is a single turn in a conversation.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall references one tool invocation requested by the assistant.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the tool name and serialized arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool declares a tool the model may call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable tool.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatCompletionRequest is the provider-neutral inbound completion request.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []Tool        `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// Usage carries token-usage totals extracted from an upstream response.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// ChatCompletion is one aggregated non-streaming completion.
type ChatCompletion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

// CompletionChoice is one alternative in an aggregated completion.
type CompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ToolTruncation diagnoses a tool call cut off by the upstream mid-stream.
type ToolTruncation struct {
	ToolCallID string // Stable id of the interrupted tool call.
	ToolName   string // Tool being invoked when the stream ended.
	SizeBytes  int    // Bytes of arguments received before the cut.
	Reason     string // Parser's best explanation.
}

// StreamChunk is one unit of streamed output handed back to the caller.
// Raw carries the wire bytes forwarded verbatim; the remaining fields are
// extracted metadata for accounting and truncation tracking.
type StreamChunk struct {
	Raw          []byte          // SSE event bytes, ready to write to the client.
	Content      string          // Delta text carried by the chunk, if any.
	FinishReason string          // Set on the terminating chunk of a choice.
	Usage        *Usage          // Set when the chunk carries usage totals.
	Truncation   *ToolTruncation // Set when the chunk ends a cut-off tool call.
}
