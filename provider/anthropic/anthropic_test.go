package anthropic

import (
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/danarsa/aruna"
)

func TestNormalizeStopReason(t *testing.T) {
	tests := []struct {
		reason       string
		hasToolCalls bool
		want         aruna.FinishReason
	}{
		{"end_turn", false, aruna.FinishStop},
		{"stop_sequence", false, aruna.FinishStop},
		{"pause_turn", false, aruna.FinishStop},
		{"", false, aruna.FinishStop},
		{"max_tokens", false, aruna.FinishLength},
		{"tool_use", false, aruna.FinishToolCall},
		{"refusal", false, aruna.FinishContentFilter},
		{"something_new", false, aruna.FinishError},
		// Tool blocks win over the reported reason.
		{"end_turn", true, aruna.FinishToolCall},
	}
	for _, tt := range tests {
		got := normalizeStopReason(tt.reason, tt.hasToolCalls)
		if got != tt.want {
			t.Errorf("normalizeStopReason(%q, %v) = %q, want %q", tt.reason, tt.hasToolCalls, got, tt.want)
		}
	}
}

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages([]aruna.ChatMessage{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	})
	// System messages are carried separately, not in the list.
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("got roles %q, %q", msgs[0].Role, msgs[1].Role)
	}
}

func TestBuildMessagesMergesToolResults(t *testing.T) {
	msgs := buildMessages([]aruna.ChatMessage{
		{Role: "user", Content: "run both"},
		{Role: "assistant", ToolCalls: []aruna.ToolCall{
			{ID: "c1", Name: "a", Args: json.RawMessage(`{}`)},
			{ID: "c2", Name: "b", Args: json.RawMessage(`{}`)},
		}},
		{Role: "tool", ToolCallID: "c1", Content: "result a"},
		{Role: "tool", ToolCallID: "c2", Content: "result b"},
	})
	// user, assistant(tool_use x2), one merged user message with both
	// tool results.
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != "assistant" || len(msgs[1].Content) != 2 {
		t.Errorf("got assistant %+v, want two tool_use blocks", msgs[1])
	}
	last := msgs[2]
	if last.Role != "user" {
		t.Errorf("got role %q, want user", last.Role)
	}
	if len(last.Content) != 2 {
		t.Errorf("got %d content blocks, want both tool results merged", len(last.Content))
	}
	for _, block := range last.Content {
		if block.OfToolResult == nil {
			t.Error("want only tool_result blocks in the merged message")
		}
	}
}

func TestSystemBlocks(t *testing.T) {
	blocks := systemBlocks([]aruna.ChatMessage{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: "hello"},
		{Role: "system", Content: ""},
	})
	if len(blocks) != 1 || blocks[0].Text != "persona" {
		t.Errorf("got %+v, want the non-empty system text", blocks)
	}
}

func TestBuildTools(t *testing.T) {
	tools, err := buildTools([]aruna.ToolDefinition{{
		Name:        "calculate",
		Description: "does math",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"}},"required":["expression"]}`),
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("got %+v", tools)
	}
	if tools[0].OfTool.Name != "calculate" {
		t.Errorf("got %q", tools[0].OfTool.Name)
	}
	if got := tools[0].OfTool.InputSchema.Required; len(got) != 1 || got[0] != "expression" {
		t.Errorf("got required %v", got)
	}
}

func TestBuildToolsInvalidSchema(t *testing.T) {
	_, err := buildTools([]aruna.ToolDefinition{{
		Name:       "broken",
		Parameters: json.RawMessage(`{not json`),
	}})
	if err == nil {
		t.Error("want error for malformed schema")
	}
}

func TestBuildParamsEmptyMessages(t *testing.T) {
	p := New("key", "claude-sonnet-4-5")
	_, err := p.buildParams(aruna.ChatRequest{})
	var pe *aruna.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("got %T, want ProviderError", err)
	}
	if pe.Kind != aruna.ProviderInvalidRequest {
		t.Errorf("got kind %q, want invalid_request", pe.Kind)
	}
}

func TestTranslateMessage(t *testing.T) {
	msg := &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "checking that for you"},
			{Type: "tool_use", ID: "toolu_1", Name: "calculate", Input: json.RawMessage(`{"expression":"2+2"}`)},
		},
		StopReason: "tool_use",
		Usage:      sdk.Usage{InputTokens: 12, OutputTokens: 4},
	}
	resp := translateMessage(msg)
	if resp.Content != "checking that for you" {
		t.Errorf("got %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "calculate" || tc.Status != aruna.ToolCallPending {
		t.Errorf("got %+v", tc)
	}
	if resp.FinishReason != aruna.FinishToolCall {
		t.Errorf("got %q, want tool_call", resp.FinishReason)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 4 {
		t.Errorf("got usage %+v", resp.Usage)
	}
}

func TestTranslateMessageEmptyToolInput(t *testing.T) {
	msg := &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", ID: "toolu_1", Name: "noop"},
		},
		StopReason: "tool_use",
	}
	resp := translateMessage(msg)
	if string(resp.ToolCalls[0].Args) != `{}` {
		t.Errorf("got %s, want empty input defaulted to {}", resp.ToolCalls[0].Args)
	}
}

func TestName(t *testing.T) {
	if got := New("k", "m").Name(); got != "anthropic" {
		t.Errorf("got %q", got)
	}
}
