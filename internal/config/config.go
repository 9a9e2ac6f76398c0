package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/danarsa/aruna"
	"github.com/danarsa/aruna/provider/resolve"
)

type Config struct {
	WhatsApp  WhatsAppConfig          `toml:"whatsapp"`
	LLM       LLMConfig               `toml:"llm"`
	Embedding resolve.EmbeddingConfig `toml:"embedding"`
	Memory    MemoryConfig            `toml:"memory"`
	Workflow  WorkflowConfig          `toml:"workflow"`
	Observer  ObserverConfig          `toml:"observer"`
}

type WhatsAppConfig struct {
	AccessToken   string `toml:"access_token"`
	PhoneNumberID string `toml:"phone_number_id"`
	VerifyToken   string `toml:"verify_token"`
	ListenAddr    string `toml:"listen_addr"`
}

// LLMConfig holds the primary model and its ordered fallback chain. The
// router tries Fallback entries in order after the primary is exhausted.
type LLMConfig struct {
	Primary  aruna.ProviderConfig   `toml:"primary"`
	Fallback []aruna.ProviderConfig `toml:"fallback"`

	MaxAttempts  int     `toml:"max_attempts"`
	BaseDelaySec float64 `toml:"base_delay_sec"`
}

// Chain returns the primary followed by the fallbacks.
func (c LLMConfig) Chain() []aruna.ProviderConfig {
	chain := make([]aruna.ProviderConfig, 0, 1+len(c.Fallback))
	chain = append(chain, c.Primary)
	chain = append(chain, c.Fallback...)
	return chain
}

type MemoryConfig struct {
	Store string `toml:"store"` // "sqlite", "postgres", "redis"

	SQLitePath  string `toml:"sqlite_path"`
	PostgresURL string `toml:"postgres_url"`
	RedisAddr   string `toml:"redis_addr"`
	RedisDB     int    `toml:"redis_db"`
}

type WorkflowConfig struct {
	SystemPrompt    string `toml:"system_prompt"`
	MemoryPolicy    string `toml:"memory_policy"` // "always", "heuristic", "never"
	MaxToolRounds   int    `toml:"max_tool_rounds"`
	MaxToolFailures int    `toml:"max_tool_failures"`
	HistoryWindow   int    `toml:"history_window"`
	MemoryLimit     int    `toml:"memory_limit"`
	FallbackReply   string `toml:"fallback_reply"`
}

type ObserverConfig struct {
	Enabled  bool                       `toml:"enabled"`
	Endpoint string                     `toml:"endpoint"`
	Pricing  map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		WhatsApp: WhatsAppConfig{ListenAddr: ":8080"},
		LLM: LLMConfig{
			Primary:     aruna.ProviderConfig{Provider: "openai", Model: "gpt-4o-mini", SupportsStreaming: true, SupportsTools: true},
			MaxAttempts: 3,
		},
		Embedding: resolve.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 1536},
		Memory:    MemoryConfig{Store: "sqlite", SQLitePath: "aruna.db", RedisAddr: "localhost:6379"},
		Workflow: WorkflowConfig{
			MemoryPolicy:    "always",
			MaxToolRounds:   5,
			MaxToolFailures: 3,
			HistoryWindow:   10,
			MemoryLimit:     5,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "aruna.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("ARUNA_WHATSAPP_ACCESS_TOKEN"); v != "" {
		cfg.WhatsApp.AccessToken = v
	}
	if v := os.Getenv("ARUNA_WHATSAPP_PHONE_NUMBER_ID"); v != "" {
		cfg.WhatsApp.PhoneNumberID = v
	}
	if v := os.Getenv("ARUNA_WHATSAPP_VERIFY_TOKEN"); v != "" {
		cfg.WhatsApp.VerifyToken = v
	}
	if v := os.Getenv("ARUNA_LLM_API_KEY"); v != "" {
		cfg.LLM.Primary.APIKey = v
	}
	if v := os.Getenv("ARUNA_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("ARUNA_POSTGRES_URL"); v != "" {
		cfg.Memory.PostgresURL = v
	}
	if v := os.Getenv("ARUNA_REDIS_ADDR"); v != "" {
		cfg.Memory.RedisAddr = v
	}
	if v := os.Getenv("ARUNA_OBSERVER_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
	}
	if os.Getenv("ARUNA_OBSERVER_ENABLED") == "true" || os.Getenv("ARUNA_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.Primary.APIKey
	}
	for i := range cfg.LLM.Fallback {
		if cfg.LLM.Fallback[i].APIKey == "" {
			cfg.LLM.Fallback[i].APIKey = cfg.LLM.Primary.APIKey
		}
	}

	return cfg
}
