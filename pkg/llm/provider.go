package llm

import (
	"fmt"
	"strings"
)

// ProviderConfig selects and configures a decision endpoint.
type ProviderConfig struct {
	// Kind is "openai" (any OpenAI-compatible endpoint, the default) or "anthropic".
	Kind        string
	BaseURL     string
	APIKey      string
	ModelConfig map[string]any
}

// NewProvider creates a provider for cfg.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	switch strings.ToLower(cfg.Kind) {
	case "", "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.ModelConfig), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.ModelConfig), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Kind)
	}
}

// DefaultModelConfig returns the request options sent with every decision call.
func DefaultModelConfig() map[string]any {
	return map[string]any{
		"seed":                1,
		"parallel_tool_calls": false,
		"tool_choice":         "auto",
		"extra_headers": map[string]any{
			"HTTP-Referer": "https://github.com/coder/balatrollm",
			"X-Title":      "BalatroLLM",
		},
		"extra_body": map[string]any{
			"usage": map[string]any{"include": true},
		},
	}
}
