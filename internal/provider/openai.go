package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/neoclaw-ai/vulnagent/internal/config"
)

const defaultOllamaBaseURL = "http://localhost:11434/v1"

// openAIProvider talks to any OpenAI-compatible chat completions endpoint,
// including a local Ollama server and OpenRouter.
type openAIProvider struct {
	name      string
	client    openai.Client
	model     string
	maxTokens int
	// legacyMaxTokens sends max_tokens instead of max_completion_tokens.
	legacyMaxTokens bool
}

func newOpenAIProvider(cfg config.LLMProviderConfig, httpClient *http.Client) (Provider, error) {
	apiKey := cfg.APIKey
	baseURL := cfg.BaseURL
	legacy := false
	if cfg.Provider == "ollama" {
		if baseURL == "" {
			baseURL = defaultOllamaBaseURL
		}
		if apiKey == "" {
			// Ollama ignores the key but the client requires one.
			apiKey = "ollama"
		}
		legacy = true
	}
	p, err := newOpenAICompatible(cfg.Provider, apiKey, baseURL, cfg, httpClient)
	if err != nil {
		return nil, err
	}
	p.legacyMaxTokens = legacy
	return p, nil
}

func newOpenAICompatible(name, apiKey, baseURL string, cfg config.LLMProviderConfig, httpClient *http.Client, extra ...openaiopt.RequestOption) (*openAIProvider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%s model is required", name)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%s api key is required", name)
	}

	opts := []openaiopt.RequestOption{
		openaiopt.WithAPIKey(apiKey),
		openaiopt.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	if httpClient != nil {
		opts = append(opts, openaiopt.WithHTTPClient(httpClient))
	}
	opts = append(opts, extra...)
	return &openAIProvider{
		name:      name,
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Chat sends a provider-agnostic chat request to the chat completions API.
func (p *openAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: toOpenAIMessages(req.SystemPrompt, req.Messages),
	}
	if maxTokens := resolveMaxTokens(req.MaxTokens, p.maxTokens); maxTokens > 0 {
		if p.legacyMaxTokens {
			params.MaxTokens = openai.Int(int64(maxTokens))
		} else {
			params.MaxCompletionTokens = openai.Int(int64(maxTokens))
		}
	}
	if len(req.Tools) > 0 {
		tools, err := toOpenAITools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
		params.ParallelToolCalls = openai.Bool(false)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	if len(completion.Choices) == 0 {
		return nil, protocolErrorf(p.name, "response has no choices")
	}

	msg := completion.Choices[0].Message
	calls := make([]ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == "" {
			return nil, protocolErrorf(p.name, "tool call %s has no function name", tc.ID)
		}
		calls = append(calls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return &ChatResponse{
		Content:   msg.Content,
		ToolCalls: calls,
		Usage: TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}, nil
}

func toOpenAIMessages(systemPrompt string, messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(systemPrompt)},
			},
		})
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case RoleTool:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content:    openai.ChatCompletionToolMessageParamContentUnion{OfString: openai.String(msg.Content)},
					ToolCallID: msg.ToolCallID,
				},
			})
		default:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(msg.Content)},
				},
			})
		}
	}
	return out
}

func toOpenAITools(tools []ToolDefinition) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		// Round-trip through JSON so nested schema maps match the SDK type.
		raw, err := json.Marshal(tool.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema for %s: %w", tool.Name, err)
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(raw, &parameters); err != nil {
			return nil, fmt.Errorf("unmarshal tool schema for %s: %w", tool.Name, err)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  parameters,
			},
		})
	}
	return out, nil
}
