package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/danarsa/aruna"
)

// StreamSSE reads an SSE stream from body, sends content chunks to ch, and
// returns the fully accumulated response (content + tool calls + usage).
//
// The channel is closed when streaming completes. The context cancels
// channel sends if the consumer is no longer interested.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- string) (aruna.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Large SSE payloads need more than the default buffer.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var usage aruna.Usage
	finish := ""

	// Tool calls stream incrementally: each chunk carries an index and
	// argument string fragments. Held by pointer so growing the slice
	// never copies a live Builder.
	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var toolCalls []*partialToolCall

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if len(chunk.Choices) == 0 {
			// Usage-only chunk (some providers send this).
			if chunk.Usage != nil {
				usage.InputTokens = chunk.Usage.PromptTokens
				usage.OutputTokens = chunk.Usage.CompletionTokens
			}
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		delta := choice.Delta
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			fullContent.WriteString(delta.Content)
			select {
			case ch <- delta.Content:
			case <-ctx.Done():
				return aruna.ChatResponse{}, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			for len(toolCalls) <= tc.Index {
				toolCalls = append(toolCalls, &partialToolCall{})
			}
			p := toolCalls[tc.Index]
			if tc.ID != "" {
				p.ID = tc.ID
			}
			if tc.Function.Name != "" {
				p.Name = tc.Function.Name
			}
			p.Args.WriteString(tc.Function.Arguments)
		}

		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return aruna.ChatResponse{}, err
	}

	assembled := make([]ToolCallRequest, 0, len(toolCalls))
	for _, p := range toolCalls {
		if p.Name == "" {
			continue
		}
		assembled = append(assembled, ToolCallRequest{
			ID:       p.ID,
			Function: FunctionCall{Name: p.Name, Arguments: p.Args.String()},
		})
	}

	resp := aruna.ChatResponse{
		Content:   fullContent.String(),
		ToolCalls: ParseToolCalls(assembled),
		Usage:     usage,
	}
	resp.FinishReason = NormalizeFinishReason(finish, len(resp.ToolCalls) > 0)
	return resp, nil
}
