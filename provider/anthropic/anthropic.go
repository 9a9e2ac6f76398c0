// Package anthropic adapts the Anthropic Claude Messages API to the
// aruna.Provider interface using the official Go SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/danarsa/aruna"
)

const defaultMaxTokens = 4096

// Provider implements aruna.Provider on top of the Anthropic Messages API.
type Provider struct {
	client      sdk.Client
	model       string
	maxTokens   int64
	temperature float64
	hasTemp     bool
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithMaxTokens sets the completion token cap (default 4096).
func WithMaxTokens(n int64) ProviderOption {
	return func(p *Provider) { p.maxTokens = n }
}

// WithTemperature sets the sampling temperature. Unset by default so the
// API applies its own default.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = t
		p.hasTemp = true
	}
}

// WithRequestOptions passes extra options to the underlying SDK client
// (custom base URL, HTTP client, headers).
func WithRequestOptions(opts ...option.RequestOption) ProviderOption {
	return func(p *Provider) {
		p.client = sdk.NewClient(append([]option.RequestOption{}, opts...)...)
	}
}

// New creates an Anthropic chat provider for the given model.
func New(apiKey, model string, opts ...ProviderOption) *Provider {
	p := &Provider{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// Generate sends a non-streaming Messages request and returns the complete
// response with normalized finish reason and tool calls.
func (p *Provider) Generate(ctx context.Context, req aruna.ChatRequest) (aruna.ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return aruna.ChatResponse{}, err
	}
	msg, err := p.client.Messages.New(ctx, *params)
	if err != nil {
		return aruna.ChatResponse{}, p.classify(err)
	}
	return translateMessage(msg), nil
}

// StreamGenerate streams text deltas to ch and returns the assembled
// response. ch is closed before returning.
func (p *Provider) StreamGenerate(ctx context.Context, req aruna.ChatRequest, ch chan<- string) (aruna.ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		close(ch)
		return aruna.ChatResponse{}, err
	}
	stream := p.client.Messages.NewStreaming(ctx, *params)
	defer stream.Close()
	defer close(ch)

	var (
		content    strings.Builder
		usage      aruna.Usage
		stopReason string
		toolBufs   = make(map[int]*toolBuffer)
	)
	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.MessageStartEvent:
			usage.InputTokens = int(ev.Message.Usage.InputTokens)
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBufs[int(ev.Index)] = &toolBuffer{id: tu.ID, name: tu.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				content.WriteString(delta.Text)
				select {
				case ch <- delta.Text:
				case <-ctx.Done():
					return aruna.ChatResponse{}, p.classify(ctx.Err())
				}
			case sdk.InputJSONDelta:
				if tb := toolBufs[int(ev.Index)]; tb != nil {
					tb.args.WriteString(delta.PartialJSON)
				}
			}
		case sdk.MessageDeltaEvent:
			stopReason = string(ev.Delta.StopReason)
			usage.OutputTokens = int(ev.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return aruna.ChatResponse{}, p.classify(err)
	}

	calls := make([]aruna.ToolCall, 0, len(toolBufs))
	for _, idx := range sortedKeys(toolBufs) {
		tb := toolBufs[idx]
		args := json.RawMessage(tb.args.String())
		if !json.Valid(args) || len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, aruna.ToolCall{
			ID:     tb.id,
			Name:   tb.name,
			Args:   args,
			Status: aruna.ToolCallPending,
		})
	}
	return aruna.ChatResponse{
		Content:      content.String(),
		ToolCalls:    calls,
		FinishReason: normalizeStopReason(stopReason, len(calls) > 0),
		Usage:        usage,
	}, nil
}

type toolBuffer struct {
	id   string
	name string
	args strings.Builder
}

func sortedKeys(m map[int]*toolBuffer) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func (p *Provider) buildParams(req aruna.ChatRequest) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, &aruna.ProviderError{
			Provider: "anthropic",
			Kind:     aruna.ProviderInvalidRequest,
			Err:      errors.New("messages must be non-empty"),
		}
	}
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  buildMessages(req.Messages),
	}
	if p.hasTemp {
		params.Temperature = sdk.Float(p.temperature)
	}
	if system := systemBlocks(req.Messages); len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		tools, err := buildTools(req.Tools)
		if err != nil {
			return nil, &aruna.ProviderError{
				Provider: "anthropic",
				Kind:     aruna.ProviderInvalidRequest,
				Err:      err,
			}
		}
		params.Tools = tools
	}
	return params, nil
}

// systemBlocks collects system-role messages; the Messages API carries
// them in a dedicated field rather than the message list.
func systemBlocks(messages []aruna.ChatMessage) []sdk.TextBlockParam {
	var blocks []sdk.TextBlockParam
	for _, m := range messages {
		if m.Role == "system" && m.Content != "" {
			blocks = append(blocks, sdk.TextBlockParam{Text: m.Content})
		}
	}
	return blocks
}

func buildMessages(messages []aruna.ChatMessage) []sdk.MessageParam {
	var out []sdk.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			continue
		case "assistant":
			var content []sdk.ContentBlockParamUnion
			if m.Content != "" {
				content = append(content, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.Args, &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				out = append(out, sdk.NewAssistantMessage(content...))
			}
		case "tool":
			// The API expects tool results as user-role content blocks.
			block := sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)
			if n := len(out); n > 0 && out[n-1].Role == "user" && isToolResultOnly(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
			} else {
				out = append(out, sdk.NewUserMessage(block))
			}
		default:
			if m.Content != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}
		}
	}
	return out
}

func isToolResultOnly(m sdk.MessageParam) bool {
	for _, c := range m.Content {
		if c.OfToolResult == nil {
			return false
		}
	}
	return len(m.Content) > 0
}

func buildTools(defs []aruna.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	tools := make([]sdk.ToolUnionParam, len(defs))
	for i, def := range defs {
		var schema struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %q: invalid parameters schema: %w", def.Name, err)
			}
		}
		tu := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: schema.Properties,
			Required:   schema.Required,
		}, def.Name)
		if def.Description != "" {
			tu.OfTool.Description = sdk.String(def.Description)
		}
		tools[i] = tu
	}
	return tools, nil
}

func translateMessage(msg *sdk.Message) aruna.ChatResponse {
	var (
		content strings.Builder
		calls   []aruna.ToolCall
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			args := block.Input
			if !json.Valid(args) || len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			calls = append(calls, aruna.ToolCall{
				ID:     block.ID,
				Name:   block.Name,
				Args:   args,
				Status: aruna.ToolCallPending,
			})
		}
	}
	return aruna.ChatResponse{
		Content:      content.String(),
		ToolCalls:    calls,
		FinishReason: normalizeStopReason(string(msg.StopReason), len(calls) > 0),
		Usage: aruna.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}

// normalizeStopReason maps Anthropic stop reasons onto the shared finish
// reason enumeration. A response carrying tool_use blocks is a tool call
// regardless of the reported reason.
func normalizeStopReason(reason string, hasToolCalls bool) aruna.FinishReason {
	if hasToolCalls {
		return aruna.FinishToolCall
	}
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn", "":
		return aruna.FinishStop
	case "max_tokens":
		return aruna.FinishLength
	case "tool_use":
		return aruna.FinishToolCall
	case "refusal":
		return aruna.FinishContentFilter
	default:
		return aruna.FinishError
	}
}

// classify maps SDK and transport failures onto ProviderError kinds so the
// router can decide whether to retry or advance the fallback chain.
func (p *Provider) classify(err error) error {
	var pe *aruna.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		herr := &aruna.ErrHTTP{Status: apierr.StatusCode, Body: apierr.Error()}
		if apierr.Response != nil {
			herr.RetryAfter = aruna.ParseRetryAfter(apierr.Response.Header.Get("Retry-After"))
		}
		ce := aruna.ClassifyHTTP("anthropic", herr)
		// The API reports overload as 529; treat it like any other
		// server-side transient failure.
		if apierr.StatusCode == 529 {
			ce.Kind = aruna.ProviderTransient
			ce.Retriable = true
		}
		return ce
	}
	kind := aruna.ProviderTransient
	if errors.Is(err, context.DeadlineExceeded) {
		kind = aruna.ProviderTimeout
	}
	return &aruna.ProviderError{
		Provider:  "anthropic",
		Kind:      kind,
		Retriable: true,
		Err:       err,
	}
}

var _ aruna.Provider = (*Provider)(nil)
