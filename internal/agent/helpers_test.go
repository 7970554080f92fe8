package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/neoclaw-ai/vulnagent/internal/provider"
	"github.com/neoclaw-ai/vulnagent/internal/tools"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

// scriptProvider replays canned responses by call index. A non-nil errs[i]
// fails call i instead.
type scriptProvider struct {
	mu        sync.Mutex
	responses []*provider.ChatResponse
	errs      []error
	calls     int
	requests  []provider.ChatRequest
}

func (p *scriptProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.responses) || p.responses[i] == nil {
		return nil, errors.New("script exhausted")
	}
	return p.responses[i], nil
}

func toolCallResponse(id, name, args string) *provider.ChatResponse {
	return &provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: id, Name: name, Arguments: args}}}
}

type invokeFunc func(ctx context.Context, call transport.Call) (transport.ToolCallResult, error)

// fakeTransport serves tools from in-memory handlers.
type fakeTransport struct {
	name     string
	handlers map[string]invokeFunc

	mu      sync.Mutex
	invoked []transport.Call
	done    chan struct{}
}

func newFakeTransport(name string, handlers map[string]invokeFunc) *fakeTransport {
	return &fakeTransport{name: name, handlers: handlers, done: make(chan struct{})}
}

func (f *fakeTransport) Name() string                  { return f.name }
func (f *fakeTransport) Connect(context.Context) error { return nil }
func (f *fakeTransport) Disconnect() error             { return nil }
func (f *fakeTransport) Done() <-chan struct{}         { return f.done }
func (f *fakeTransport) Crashed() bool                 { return false }

func (f *fakeTransport) ListTools(context.Context) ([]transport.ToolDescriptor, error) {
	return nil, nil
}

func (f *fakeTransport) Invoke(ctx context.Context, call transport.Call) (transport.ToolCallResult, error) {
	f.mu.Lock()
	f.invoked = append(f.invoked, call)
	f.mu.Unlock()
	h, ok := f.handlers[call.Name]
	if !ok {
		return transport.Failed(call, transport.FailureProvider, "unknown tool"), nil
	}
	return h(ctx, call)
}

func (f *fakeTransport) calls() []transport.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Call(nil), f.invoked...)
}

func payload(text string) invokeFunc {
	return func(_ context.Context, call transport.Call) (transport.ToolCallResult, error) {
		return transport.ToolCallResult{ToolName: call.Name, CallID: call.ID, Succeeded: true, Payload: text}, nil
	}
}

func severityDescriptor() transport.ToolDescriptor {
	return transport.ToolDescriptor{
		Name:        "query_cve_by_severity",
		Description: "Query records by severity",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"severity": map[string]any{
					"type": "string",
					"enum": []any{"CRITICAL", "HIGH", "MEDIUM", "LOW"},
				},
			},
			"required": []any{"severity"},
		},
	}
}

func statisticsDescriptor() transport.ToolDescriptor {
	return transport.ToolDescriptor{
		Name:        "get_cve_statistics",
		Description: "Aggregate statistics",
		InputSchema: map[string]any{"type": "object"},
	}
}

func newTestRegistry(t *testing.T, ft *fakeTransport, descs ...transport.ToolDescriptor) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewHandle(ft), descs); err != nil {
		t.Fatalf("register tools: %v", err)
	}
	return registry
}

func testSessionConfig() SessionConfig {
	return SessionConfig{MaxIterations: 5, RetryBackoff: 1}
}
