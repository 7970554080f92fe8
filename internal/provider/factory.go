package provider

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/neoclaw-ai/vulnagent/internal/config"
)

func resolveMaxTokens(requestMaxTokens, configuredMaxTokens int) int {
	if requestMaxTokens > 0 {
		return requestMaxTokens
	}
	return configuredMaxTokens
}

// NewProviderFromConfig builds an LLM provider from the selected LLM profile.
func NewProviderFromConfig(cfg config.LLMProviderConfig) (Provider, error) {
	var httpClient *http.Client
	if cfg.RequestTimeout > 0 {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return newProvider(cfg, httpClient)
}

func newProvider(cfg config.LLMProviderConfig, httpClient *http.Client) (Provider, error) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicProvider(cfg, httpClient)
	case "openrouter":
		return newOpenRouterProvider(cfg, httpClient)
	case "openai", "ollama":
		return newOpenAIProvider(cfg, httpClient)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
