package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/danarsa/aruna"
)

// Provider implements aruna.Provider for any OpenAI-compatible API.
// It uses the shared helpers in this package (BuildBody, StreamSSE,
// ParseResponse) for body building, streaming, and response parsing.
//
// Works with OpenAI, OpenRouter, Groq, Together, Fireworks, DeepSeek,
// Mistral, Ollama, vLLM, LM Studio, Azure OpenAI, and any other provider
// that implements the OpenAI chat completions API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName overrides the provider name reported by Name() and used in
// classified errors (default "openai").
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the HTTP client (timeouts, proxies, test servers).
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithOptions applies request-body options to every request.
func WithOptions(opts ...Option) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}

// New creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
func New(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via
// WithName).
func (p *Provider) Name() string { return p.name }

// Generate sends a non-streaming chat request and returns the complete
// response. When req.Tools is non-empty, the response may contain tool
// calls with FinishToolCall.
func (p *Provider) Generate(ctx context.Context, req aruna.ChatRequest) (aruna.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return aruna.ChatResponse{}, p.invalidRequest(errors.New("messages must be non-empty"))
	}
	body := BuildBody(req.Messages, req.Tools, p.model, p.opts...)

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return aruna.ChatResponse{}, p.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return aruna.ChatResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return aruna.ChatResponse{}, &aruna.ProviderError{
			Provider: p.name, Kind: aruna.ProviderTransient, Retriable: true,
			Err: fmt.Errorf("decode response: %w", err),
		}
	}

	return ParseResponse(chatResp)
}

// StreamGenerate streams content chunks into ch, then returns the final
// accumulated response. ch is always closed before returning.
func (p *Provider) StreamGenerate(ctx context.Context, req aruna.ChatRequest, ch chan<- string) (aruna.ChatResponse, error) {
	if len(req.Messages) == 0 {
		close(ch)
		return aruna.ChatResponse{}, p.invalidRequest(errors.New("messages must be non-empty"))
	}
	body := BuildBody(req.Messages, req.Tools, p.model, p.opts...)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return aruna.ChatResponse{}, p.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return aruna.ChatResponse{}, p.httpErr(resp)
	}

	// StreamSSE closes ch when done.
	return StreamSSE(ctx, resp.Body, ch)
}

// sendHTTP marshals the request body and posts it to the chat completions
// endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body and classifies the failure for the
// Router. Parses the Retry-After header when present (429/503 responses).
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return aruna.ClassifyHTTP(p.name, &aruna.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: aruna.ParseRetryAfter(resp.Header.Get("Retry-After")),
	})
}

// classifyTransport classifies transport-level failures: context deadline
// becomes a retriable timeout, everything else a retriable transient.
func (p *Provider) classifyTransport(ctx context.Context, err error) error {
	kind := aruna.ProviderTransient
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = aruna.ProviderTimeout
	}
	return &aruna.ProviderError{Provider: p.name, Kind: kind, Retriable: true, Err: err}
}

func (p *Provider) invalidRequest(err error) error {
	return &aruna.ProviderError{Provider: p.name, Kind: aruna.ProviderInvalidRequest, Err: err}
}

// Compile-time interface check.
var _ aruna.Provider = (*Provider)(nil)
