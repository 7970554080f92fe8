package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/neoclaw-ai/vulnagent/internal/conversation"
	"github.com/neoclaw-ai/vulnagent/internal/logging"
	"github.com/neoclaw-ai/vulnagent/internal/provider"
	"github.com/neoclaw-ai/vulnagent/internal/tools"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

// Decision is one model turn: either a final answer or a single tool call.
type Decision struct {
	Answer string
	// Call is set when the model requests a tool.
	Call *conversation.ToolCall
	// Text is any reasoning emitted alongside Call.
	Text  string
	Usage provider.TokenUsage
}

// Final reports whether the decision is a final answer.
func (d Decision) Final() bool {
	return d.Call == nil
}

// Gateway turns the conversation and available tools into one model decision.
// Implementations do not retry.
type Gateway interface {
	Decide(ctx context.Context, messages []conversation.Message, available []transport.ToolDescriptor) (Decision, error)
}

// ModelGateway is a Gateway backed by an LLM provider.
type ModelGateway struct {
	provider  provider.Provider
	maxTokens int
}

// NewModelGateway wraps p. maxTokens of zero uses the provider default.
func NewModelGateway(p provider.Provider, maxTokens int) *ModelGateway {
	return &ModelGateway{provider: p, maxTokens: maxTokens}
}

// Decide sends the conversation to the model and classifies the reply.
func (g *ModelGateway) Decide(ctx context.Context, messages []conversation.Message, available []transport.ToolDescriptor) (Decision, error) {
	systemPrompt, history := toChatMessages(messages)
	resp, err := g.provider.Chat(ctx, provider.ChatRequest{
		SystemPrompt: systemPrompt,
		Messages:     history,
		Tools:        tools.ToolDefinitions(available),
		MaxTokens:    g.maxTokens,
	})
	if err != nil {
		if provider.IsProtocolError(err) {
			return Decision{}, fmt.Errorf("%w: %w", ErrModelProtocol, err)
		}
		return Decision{}, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if resp == nil {
		return Decision{}, fmt.Errorf("%w: empty response", ErrModelProtocol)
	}

	d := Decision{Usage: resp.Usage}
	if len(resp.ToolCalls) == 0 {
		if strings.TrimSpace(resp.Content) == "" {
			return Decision{}, fmt.Errorf("%w: response has neither text nor a tool call", ErrModelProtocol)
		}
		d.Answer = resp.Content
		return d, nil
	}

	if len(resp.ToolCalls) > 1 {
		logging.Logger().Warn(
			"model requested several tool calls; only the first is dispatched",
			"tool_call_count", len(resp.ToolCalls),
			"dispatched", resp.ToolCalls[0].Name,
		)
	}
	first := resp.ToolCalls[0]
	if strings.TrimSpace(first.Name) == "" {
		return Decision{}, fmt.Errorf("%w: tool call without a name", ErrModelProtocol)
	}
	call := conversation.ToolCall{ID: first.ID, Name: first.Name, Arguments: first.Arguments}
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}
	if strings.TrimSpace(call.Arguments) == "" {
		call.Arguments = "{}"
	}
	d.Call = &call
	d.Text = resp.Content
	return d, nil
}

func toChatMessages(messages []conversation.Message) (string, []provider.ChatMessage) {
	var systemPrompt string
	out := make([]provider.ChatMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case conversation.RoleSystem:
			systemPrompt = m.Content
		case conversation.RoleUser:
			out = append(out, provider.ChatMessage{Role: provider.RoleUser, Content: m.Content})
		case conversation.RoleAssistant:
			msg := provider.ChatMessage{Role: provider.RoleAssistant, Content: m.Content}
			if m.ToolCall != nil {
				msg.ToolCalls = []provider.ToolCall{{ID: m.ToolCall.ID, Name: m.ToolCall.Name, Arguments: m.ToolCall.Arguments}}
			}
			out = append(out, msg)
		case conversation.RoleTool:
			out = append(out, provider.ChatMessage{
				Role:       provider.RoleTool,
				ToolCallID: m.ToolCallID,
				Content:    toolMessageText(m),
				IsError:    m.Failed,
			})
		}
	}
	return systemPrompt, out
}

// toolMessageText renders a tool message the way the model sees it.
func toolMessageText(m conversation.Message) string {
	if !m.Failed {
		return m.Content
	}
	kind := m.FailureKind
	if kind == "" {
		kind = string(transport.FailureProvider)
	}
	return fmt.Sprintf("tool execution error (%s): %s", kind, m.Content)
}
