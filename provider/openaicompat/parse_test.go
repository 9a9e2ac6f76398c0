package openaicompat

import (
	"testing"

	"github.com/danarsa/aruna"
)

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse(ChatResponse{
		ID: "chatcmpl-1",
		Choices: []Choice{{
			Message:      &ChoiceMessage{Role: "assistant", Content: "Hi there"},
			FinishReason: "stop",
		}},
		Usage: &Usage{PromptTokens: 10, CompletionTokens: 3},
	})
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}
	if resp.Content != "Hi there" {
		t.Errorf("expected content 'Hi there', got %q", resp.Content)
	}
	if resp.FinishReason != aruna.FinishStop {
		t.Errorf("expected stop, got %q", resp.FinishReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 3 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestParseResponseEmptyChoices(t *testing.T) {
	resp, err := ParseResponse(ChatResponse{ID: "chatcmpl-1"})
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}
	if resp.Content != "" || resp.FinishReason != aruna.FinishStop {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestNormalizeFinishReason(t *testing.T) {
	tests := []struct {
		reason       string
		hasToolCalls bool
		want         aruna.FinishReason
	}{
		{"stop", false, aruna.FinishStop},
		{"", false, aruna.FinishStop},
		{"length", false, aruna.FinishLength},
		{"tool_calls", false, aruna.FinishToolCall},
		{"function_call", false, aruna.FinishToolCall},
		{"content_filter", false, aruna.FinishContentFilter},
		{"weird_reason", false, aruna.FinishError},
		// Presence of tool calls wins over the string.
		{"stop", true, aruna.FinishToolCall},
		{"", true, aruna.FinishToolCall},
	}
	for _, tt := range tests {
		got := NormalizeFinishReason(tt.reason, tt.hasToolCalls)
		if got != tt.want {
			t.Errorf("NormalizeFinishReason(%q, %v) = %q, want %q", tt.reason, tt.hasToolCalls, got, tt.want)
		}
	}
}

func TestParseToolCalls(t *testing.T) {
	calls := ParseToolCalls([]ToolCallRequest{
		{ID: "call_1", Function: FunctionCall{Name: "calculate", Arguments: `{"expression":"1+1"}`}},
	})
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "calculate" {
		t.Errorf("unexpected call: %+v", calls[0])
	}
}

func TestParseToolCallsInvalidArguments(t *testing.T) {
	calls := ParseToolCalls([]ToolCallRequest{
		{ID: "call_1", Function: FunctionCall{Name: "calculate", Arguments: `{"broken`}},
	})
	if string(calls[0].Args) != `{}` {
		t.Errorf("expected invalid args replaced with {}, got %s", calls[0].Args)
	}
}

func TestParseToolCallsMissingID(t *testing.T) {
	calls := ParseToolCalls([]ToolCallRequest{
		{Function: FunctionCall{Name: "calculate", Arguments: `{}`}},
	})
	if calls[0].ID == "" {
		t.Error("expected a generated id for a call without one")
	}
}

func TestParseToolCallsEmpty(t *testing.T) {
	if calls := ParseToolCalls(nil); calls != nil {
		t.Errorf("expected nil, got %v", calls)
	}
}
