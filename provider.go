package aruna

import "context"

// Provider abstracts one LLM vendor behind a fixed capability interface.
// Adapters translate the internal wire shape (ChatRequest/ChatResponse,
// tool definitions, tool calls) into the vendor's native format and
// normalize finish reasons and failures on the way back.
//
// Failures are reported as *ProviderError so the Router can classify them.
// Adapters perform no side effects beyond the outbound network call and
// never mutate conversation state.
type Provider interface {
	// Generate sends a request and returns the complete response. When
	// req.Tools is non-empty the response may carry tool calls and
	// FinishToolCall.
	Generate(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// StreamGenerate streams partial content chunks into ch, then returns
	// the final accumulated response. The stream is finite and not
	// restartable; ch is closed before returning.
	StreamGenerate(ctx context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "anthropic").
	Name() string
}

// EmbeddingProvider abstracts text embedding for memory search.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// ProviderConfig identifies one provider/model pair and its capabilities.
// Immutable after load; the Router looks it up, never mutates it.
type ProviderConfig struct {
	Provider string `toml:"provider"` // "openai", "groq", "anthropic", ...
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"` // openai-compatible endpoints only

	SupportsStreaming bool `toml:"supports_streaming"`
	SupportsTools     bool `toml:"supports_tools"`
	MaxContextTokens  int  `toml:"max_context_tokens"`
}

// Key returns the adapter-cache key for this config.
func (c ProviderConfig) Key() string {
	return c.Provider + ":" + c.Model
}
