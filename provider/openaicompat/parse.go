package openaicompat

import (
	"encoding/json"

	"github.com/danarsa/aruna"
)

// ParseResponse converts an OpenAI-format ChatResponse to the internal
// shape, normalizing the finish reason. Content, tool calls, and usage come
// from choices[0].
func ParseResponse(resp ChatResponse) (aruna.ChatResponse, error) {
	var out aruna.ChatResponse
	out.FinishReason = aruna.FinishStop

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}
	out.FinishReason = NormalizeFinishReason(choice.FinishReason, len(out.ToolCalls) > 0)

	if resp.Usage != nil {
		out.Usage = aruna.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// NormalizeFinishReason maps OpenAI finish_reason strings onto the internal
// enumeration. Some proxies omit finish_reason on tool-call responses, so
// the presence of tool calls wins over the string.
func NormalizeFinishReason(reason string, hasToolCalls bool) aruna.FinishReason {
	if hasToolCalls {
		return aruna.FinishToolCall
	}
	switch reason {
	case "stop", "":
		return aruna.FinishStop
	case "length":
		return aruna.FinishLength
	case "tool_calls", "function_call":
		return aruna.FinishToolCall
	case "content_filter":
		return aruna.FinishContentFilter
	default:
		return aruna.FinishError
	}
}

// ParseToolCalls converts OpenAI tool call requests to internal ToolCalls.
// OpenAI returns function.arguments as a JSON string; invalid JSON is
// replaced with an empty object so the registry reports a schema error
// instead of the decoder panicking downstream.
func ParseToolCalls(tcs []ToolCallRequest) []aruna.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]aruna.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		id := tc.ID
		if id == "" {
			id = aruna.NewID()
		}
		out = append(out, aruna.ToolCall{
			ID:   id,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
