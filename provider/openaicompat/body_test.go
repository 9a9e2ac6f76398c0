package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/danarsa/aruna"
)

func TestBuildBody(t *testing.T) {
	messages := []aruna.ChatMessage{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "Hi"},
	}
	body := BuildBody(messages, nil, "gpt-4o-mini")

	if body.Model != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini, got %s", body.Model)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}
	if body.Messages[0].Role != "system" || body.Messages[0].Content != "You are helpful." {
		t.Errorf("unexpected system message: %+v", body.Messages[0])
	}
	if len(body.Tools) != 0 {
		t.Errorf("expected no tools, got %d", len(body.Tools))
	}
}

func TestBuildBodyAssistantToolCalls(t *testing.T) {
	messages := []aruna.ChatMessage{
		{Role: "user", Content: "what is 2+2?"},
		{Role: "assistant", ToolCalls: []aruna.ToolCall{
			{ID: "call_1", Name: "calculate", Args: json.RawMessage(`{"expression":"2+2"}`)},
		}},
		{Role: "tool", Content: "2+2 = 4", ToolCallID: "call_1"},
	}
	body := BuildBody(messages, nil, "gpt-4o-mini")

	if len(body.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(body.Messages))
	}

	assistant := body.Messages[1]
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(assistant.ToolCalls))
	}
	tc := assistant.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if tc.Function.Name != "calculate" || tc.Function.Arguments != `{"expression":"2+2"}` {
		t.Errorf("unexpected function: %+v", tc.Function)
	}

	tool := body.Messages[2]
	if tool.Role != "tool" || tool.ToolCallID != "call_1" || tool.Content != "2+2 = 4" {
		t.Errorf("unexpected tool message: %+v", tool)
	}
}

func TestBuildBodyOptions(t *testing.T) {
	body := BuildBody([]aruna.ChatMessage{{Role: "user", Content: "Hi"}}, nil, "m",
		WithTemperature(0.7), WithTopP(0.9), WithMaxTokens(256))
	if body.Temperature == nil || *body.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", body.Temperature)
	}
	if body.TopP == nil || *body.TopP != 0.9 {
		t.Errorf("expected top_p 0.9, got %v", body.TopP)
	}
	if body.MaxTokens != 256 {
		t.Errorf("expected max_tokens 256, got %d", body.MaxTokens)
	}
}

func TestBuildToolDefs(t *testing.T) {
	defs := BuildToolDefs([]aruna.ToolDefinition{
		{Name: "calculate", Description: "does math", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "noparams"},
	})
	if len(defs) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(defs))
	}
	if defs[0].Type != "function" || defs[0].Function.Name != "calculate" {
		t.Errorf("unexpected tool: %+v", defs[0])
	}
	if string(defs[1].Function.Parameters) != `{}` {
		t.Errorf("expected empty params defaulted to {}, got %s", defs[1].Function.Parameters)
	}
}
