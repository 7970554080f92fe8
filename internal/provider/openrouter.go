package provider

import (
	"net/http"

	openaiopt "github.com/openai/openai-go/option"

	"github.com/neoclaw-ai/vulnagent/internal/config"
)

const (
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	openRouterAppTitle       = "vulnagent"
	openRouterAppReferer     = "https://github.com/neoclaw-ai/vulnagent"
)

// newOpenRouterProvider reaches OpenRouter through its OpenAI-compatible
// chat completions API. Requests carry the app attribution headers
// OpenRouter uses for its rankings.
func newOpenRouterProvider(cfg config.LLMProviderConfig, httpClient *http.Client) (Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	p, err := newOpenAICompatible("openrouter", cfg.APIKey, baseURL, cfg, httpClient,
		openaiopt.WithHeader("X-Title", openRouterAppTitle),
		openaiopt.WithHeader("HTTP-Referer", openRouterAppReferer),
	)
	if err != nil {
		return nil, err
	}
	// OpenRouter normalizes max_tokens across upstream models.
	p.legacyMaxTokens = true
	return p, nil
}
