// Package transport connects to tool providers over MCP and exposes a uniform
// connect/list/invoke/disconnect surface regardless of the physical channel.
package transport

import (
	"context"
	"time"
)

// FailureKind classifies a failed ToolCallResult.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureProvider         FailureKind = "provider_error"
	FailureTimeout          FailureKind = "timeout"
	FailureInvalidArguments FailureKind = "invalid_arguments"
	FailureToolNotFound     FailureKind = "tool_not_found"
	FailureProviderCrashed  FailureKind = "provider_crashed"
	FailureCanceled         FailureKind = "canceled"
)

// ToolDescriptor is the static metadata a provider advertises for one tool.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Provider    string         `json:"provider"`
}

// Call is one tool invocation request.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
	// Timeout bounds the invocation. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// ToolCallResult is the outcome of one tool invocation.
type ToolCallResult struct {
	ToolName    string        `json:"tool_name"`
	CallID      string        `json:"call_id"`
	Succeeded   bool          `json:"succeeded"`
	Payload     string        `json:"payload,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	Kind        FailureKind   `json:"kind,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Failed builds a failed result for call with the given kind and detail.
func Failed(call Call, kind FailureKind, detail string) ToolCallResult {
	return ToolCallResult{
		ToolName:    call.Name,
		CallID:      call.ID,
		Kind:        kind,
		ErrorDetail: detail,
	}
}

// Transport is a channel to one tool provider.
//
// Invoke returns a nil error for provider-reported tool errors; those come back
// as a result with Succeeded=false. A non-nil error is one of ErrTimeout,
// ErrProviderCrashed, ErrClosed, ErrConnection or a context error.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	Invoke(ctx context.Context, call Call) (ToolCallResult, error)
	Disconnect() error
	// Done is closed when the provider channel ends for any reason.
	Done() <-chan struct{}
	// Crashed reports whether the channel ended without Disconnect.
	Crashed() bool
}
