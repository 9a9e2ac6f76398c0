package aruna

import "encoding/json"

// --- LLM protocol types ---

// ChatMessage is one message in a conversation, in the internal wire shape
// shared by all provider adapters.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCallStatus tracks a tool call through its lifecycle. Every call
// referenced by an assistant message must reach a terminal status
// (succeeded or failed) before the turn completes.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallSucceeded ToolCallStatus = "succeeded"
	ToolCallFailed    ToolCallStatus = "failed"
)

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args"`
	Status ToolCallStatus  `json:"status,omitempty"`
	Result *ToolResult     `json:"result,omitempty"`
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// ToolDefinition describes a callable tool: name, human description, and a
// JSON Schema for its arguments. Shared between the Registry (validation)
// and provider adapters (inclusion in the model request).
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// FinishReason is the normalized reason a provider stopped generating.
// Adapters map vendor-specific reasons into this enumeration.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCall      FinishReason = "tool_call"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// ChatRequest is a provider-agnostic generation request.
type ChatRequest struct {
	Messages []ChatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// ChatResponse is a provider-agnostic generation response.
type ChatResponse struct {
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// Usage counts tokens consumed by one provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Channel boundary types ---

// IncomingTurn is one inbound message from the channel layer.
type IncomingTurn struct {
	OwnerID         string            `json:"owner_id"`
	Text            string            `json:"text"`
	ChannelMetadata map[string]string `json:"channel_metadata,omitempty"`
}

// PayloadType discriminates ChannelPayload renderings.
type PayloadType string

const (
	PayloadText        PayloadType = "text"
	PayloadInteractive PayloadType = "interactive"
)

// Button is one interactive reply option.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ChannelPayload is the outbound reply in the shape the channel layer
// delivers to the user.
type ChannelPayload struct {
	Type    PayloadType `json:"type"`
	Body    string      `json:"body"`
	Header  string      `json:"header,omitempty"`
	Footer  string      `json:"footer,omitempty"`
	Buttons []Button    `json:"buttons,omitempty"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
