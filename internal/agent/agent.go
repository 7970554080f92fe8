package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neoclaw-ai/vulnagent/internal/config"
	"github.com/neoclaw-ai/vulnagent/internal/conversation"
	"github.com/neoclaw-ai/vulnagent/internal/logging"
	runtimeapi "github.com/neoclaw-ai/vulnagent/internal/runtime"
	"github.com/neoclaw-ai/vulnagent/internal/session"
	"github.com/neoclaw-ai/vulnagent/internal/tools"
)

// TranscriptSink persists completed and failed sessions.
type TranscriptSink interface {
	Append(ctx context.Context, rec session.Record) error
}

// Options configures an Agent.
type Options struct {
	Session SessionConfig
	// RetainHistory carries the conversation across queries.
	RetainHistory bool
	Transcript    TranscriptSink
}

// Agent answers queries through the loop and implements runtime.Handler.
type Agent struct {
	loop       *Loop
	transcript TranscriptSink

	mu     sync.Mutex
	cfg    SessionConfig
	retain bool
	conv   *conversation.State
}

// New creates an Agent over gateway and registry.
func New(gateway Gateway, registry *tools.Registry, opts Options) *Agent {
	return &Agent{
		loop:       NewLoop(gateway, registry),
		transcript: opts.Transcript,
		cfg:        opts.Session.withDefaults(),
		retain:     opts.RetainHistory,
	}
}

// SubmitQuery answers one query. With retained history the query continues
// the previous conversation; otherwise every query starts fresh.
func (a *Agent) SubmitQuery(ctx context.Context, query string) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := a.cfg
	conv := a.conv
	if conv == nil || !a.retain {
		systemPrompt, err := SystemPrompt(cfg.BehaviorProfile)
		if err != nil {
			return nil, err
		}
		conv = conversation.New(systemPrompt)
	}
	start := conv.Len()

	startedAt := time.Now()
	res, err := a.loop.Continue(ctx, conv, query, cfg)
	if err != nil {
		// A failed session can leave the log mid-exchange; the next query starts over.
		a.conv = nil
	} else if a.retain {
		a.conv = conv
	}
	a.record(ctx, query, startedAt, start, res, err)
	return res, err
}

// SetProfile switches the behavior profile. The conversation is reset since
// its system message belongs to the old profile.
func (a *Agent) SetProfile(name string) error {
	if err := config.ValidateBehaviorProfile(name); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.BehaviorProfile = name
	a.conv = nil
	return nil
}

// Profile returns the active behavior profile.
func (a *Agent) Profile() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.BehaviorProfile == "" {
		return config.ProfileDefault
	}
	return a.cfg.BehaviorProfile
}

// Reset discards the retained conversation.
func (a *Agent) Reset(context.Context) error {
	a.mu.Lock()
	a.conv = nil
	a.mu.Unlock()
	return nil
}

// HandleMessage processes one inbound message and writes the answer.
func (a *Agent) HandleMessage(ctx context.Context, w runtimeapi.ResponseWriter, msg *runtimeapi.Message) error {
	if w == nil {
		return errors.New("response writer is required")
	}
	if msg == nil {
		return errors.New("message is required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}

	res, err := a.SubmitQuery(ctx, msg.Text)
	if err != nil {
		// Transports own the user-facing error and exit behavior.
		return err
	}
	return w.WriteMessage(ctx, res.Answer)
}

func (a *Agent) record(ctx context.Context, query string, startedAt time.Time, start int, res *Result, runErr error) {
	if a.transcript == nil {
		return
	}
	rec := session.Record{
		ID:        uuid.NewString(),
		StartedAt: startedAt.UTC(),
		Duration:  time.Since(startedAt),
		Profile:   a.cfg.BehaviorProfile,
		Query:     query,

		MaxIterations:  a.cfg.MaxIterations,
		PerCallTimeout: a.cfg.PerCallTimeout,
	}
	switch {
	case runErr == nil:
		rec.Answer = res.Answer
		rec.Degraded = res.Degraded
		rec.Diagnostic = res.Diagnostic
		rec.Iterations = res.Iterations
		rec.Usage = res.Usage
		rec.Messages = sessionMessages(res.Messages, start)
		rec.ToolResults = res.ToolResults
	default:
		rec.Error = runErr.Error()
		var serr *SessionError
		if errors.As(runErr, &serr) {
			rec.FailedState = serr.State.String()
			rec.Messages = sessionMessages(serr.Messages, start)
			rec.ToolResults = serr.ToolResults
		}
	}
	// Transcripts are best effort; an unwritable file never fails a query.
	if err := a.transcript.Append(context.WithoutCancel(ctx), rec); err != nil {
		logging.Logger().Warn("failed to write session transcript", "err", err)
	}
}

// sessionMessages keeps the system message plus everything this session appended.
func sessionMessages(messages []conversation.Message, start int) []conversation.Message {
	if start <= 1 || start > len(messages) {
		return messages
	}
	out := make([]conversation.Message, 0, len(messages)-start+1)
	out = append(out, messages[0])
	return append(out, messages[start:]...)
}
