package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/neoclaw-ai/vulnagent/internal/conversation"
	"github.com/neoclaw-ai/vulnagent/internal/tools"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

const replayProviderName = "replay"

// ReplayGateway answers with the assistant messages of a recorded
// conversation. The k-th decision is returned when the conversation passed
// to Decide already holds k assistant messages, so replay is stateless.
type ReplayGateway struct {
	decisions []Decision
}

// NewReplayGateway builds a gateway from recorded messages.
func NewReplayGateway(recorded []conversation.Message) *ReplayGateway {
	g := &ReplayGateway{}
	for _, m := range recorded {
		if m.Role != conversation.RoleAssistant {
			continue
		}
		if m.ToolCall != nil {
			call := *m.ToolCall
			g.decisions = append(g.decisions, Decision{Call: &call, Text: m.Content})
			continue
		}
		g.decisions = append(g.decisions, Decision{Answer: m.Content})
	}
	return g
}

// Decide returns the next recorded decision.
func (g *ReplayGateway) Decide(ctx context.Context, messages []conversation.Message, _ []transport.ToolDescriptor) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	k := 0
	for _, m := range messages {
		if m.Role == conversation.RoleAssistant {
			k++
		}
	}
	if k >= len(g.decisions) {
		return Decision{}, fmt.Errorf("%w: recording has no decision %d", ErrModelProtocol, k+1)
	}
	d := g.decisions[k]
	if d.Call != nil {
		call := *d.Call
		d.Call = &call
	}
	return d, nil
}

// replayTransport returns recorded tool messages by call id.
type replayTransport struct {
	results  map[string]conversation.Message
	names    []string
	done     chan struct{}
	stopOnce sync.Once
}

func newReplayTransport(recorded []conversation.Message) *replayTransport {
	t := &replayTransport{
		results: make(map[string]conversation.Message),
		done:    make(chan struct{}),
	}
	seen := map[string]bool{}
	for _, m := range recorded {
		switch {
		case m.Role == conversation.RoleAssistant && m.ToolCall != nil:
			if !seen[m.ToolCall.Name] {
				seen[m.ToolCall.Name] = true
				t.names = append(t.names, m.ToolCall.Name)
			}
		case m.Role == conversation.RoleTool:
			t.results[m.ToolCallID] = m
		}
	}
	return t
}

func (t *replayTransport) Name() string { return replayProviderName }

func (t *replayTransport) Connect(context.Context) error { return nil }

func (t *replayTransport) ListTools(context.Context) ([]transport.ToolDescriptor, error) {
	out := make([]transport.ToolDescriptor, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, transport.ToolDescriptor{
			Name:        name,
			Description: "replayed tool",
			InputSchema: map[string]any{"type": "object"},
			Provider:    replayProviderName,
		})
	}
	return out, nil
}

func (t *replayTransport) Invoke(ctx context.Context, call transport.Call) (transport.ToolCallResult, error) {
	if err := ctx.Err(); err != nil {
		return transport.Failed(call, transport.FailureCanceled, err.Error()), err
	}
	m, ok := t.results[call.ID]
	if !ok {
		err := fmt.Errorf("%w: no recorded result for call %s", transport.ErrProviderCrashed, call.ID)
		return transport.Failed(call, transport.FailureProviderCrashed, err.Error()), err
	}
	if !m.Failed {
		return transport.ToolCallResult{ToolName: call.Name, CallID: call.ID, Succeeded: true, Payload: m.Content}, nil
	}
	kind := transport.FailureKind(m.FailureKind)
	res := transport.Failed(call, kind, m.Content)
	switch kind {
	case transport.FailureTimeout:
		return res, transport.ErrTimeout
	case transport.FailureProviderCrashed:
		return res, transport.ErrProviderCrashed
	case transport.FailureCanceled:
		return res, context.Canceled
	default:
		return res, nil
	}
}

func (t *replayTransport) Disconnect() error {
	t.stopOnce.Do(func() { close(t.done) })
	return nil
}

func (t *replayTransport) Done() <-chan struct{} { return t.done }

func (t *replayTransport) Crashed() bool { return false }

// Replay re-runs every query of a recorded conversation against its recorded
// decisions and tool results and returns the regenerated messages. Replaying
// the output again yields the same messages.
func Replay(ctx context.Context, recorded []conversation.Message, cfg SessionConfig) ([]conversation.Message, error) {
	if err := conversation.Validate(recorded); err != nil {
		return nil, err
	}
	rt := newReplayTransport(recorded)
	defer rt.Disconnect()
	descs, _ := rt.ListTools(ctx)
	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewHandle(rt), descs); err != nil {
		return nil, err
	}

	loop := NewLoop(NewReplayGateway(recorded), registry)
	conv := conversation.New(recorded[0].Content)
	for _, m := range recorded[1:] {
		if m.Role != conversation.RoleUser {
			continue
		}
		if _, err := loop.Continue(ctx, conv, m.Content, cfg); err != nil {
			var serr *SessionError
			if errors.As(err, &serr) {
				return serr.Messages, err
			}
			return conv.Messages(), err
		}
	}
	return conv.Messages(), nil
}
