// Package resolve maps provider-agnostic configs to concrete adapters.
// Its Adapter function is the standard aruna.AdapterFactory for routers.
package resolve

import (
	"fmt"

	"github.com/danarsa/aruna"
	"github.com/danarsa/aruna/provider/anthropic"
	"github.com/danarsa/aruna/provider/openaicompat"
)

// EmbeddingConfig holds provider-agnostic configuration for creating an
// EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	Dimensions int    `toml:"dimensions"`
}

// Adapter creates an aruna.Provider from a ProviderConfig. It satisfies
// aruna.AdapterFactory.
func Adapter(cfg aruna.ProviderConfig) (aruna.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(cfg.APIKey, cfg.Model), nil
	case "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg), nil
	default:
		if cfg.BaseURL != "" {
			// Unknown names with an explicit base URL are treated as
			// OpenAI-compatible endpoints (vLLM, LM Studio, proxies).
			return openaiCompatProvider(cfg), nil
		}
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

// Embedding creates an aruna.EmbeddingProvider from an EmbeddingConfig.
func Embedding(cfg EmbeddingConfig) (aruna.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "openai", "together", "mistral", "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		return openaicompat.NewEmbedding(cfg.APIKey, cfg.Model, baseURL, cfg.Dimensions,
			openaicompat.WithEmbeddingName(cfg.Provider)), nil
	default:
		if cfg.BaseURL != "" {
			return openaicompat.NewEmbedding(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Dimensions,
				openaicompat.WithEmbeddingName(cfg.Provider)), nil
		}
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", cfg.Provider)
	}
}

func openaiCompatProvider(cfg aruna.ProviderConfig) aruna.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	return openaicompat.New(cfg.APIKey, cfg.Model, baseURL,
		openaicompat.WithName(cfg.Provider))
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
