package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neoclaw-ai/vulnagent/internal/conversation"
	"github.com/neoclaw-ai/vulnagent/internal/logging"
	"github.com/neoclaw-ai/vulnagent/internal/provider"
	"github.com/neoclaw-ai/vulnagent/internal/tools"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

const (
	defaultMaxIterations  = 5
	defaultPerCallTimeout = 30 * time.Second
	defaultRetryBackoff   = 500 * time.Millisecond

	// DiagnosticMaxIterations marks an answer synthesized after the
	// iteration budget ran out.
	DiagnosticMaxIterations = "max_iterations_exceeded"
)

// State is a position in the session state machine.
type State int

const (
	StateInit State = iota
	StateAwaitingDecision
	StateAwaitingToolResult
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateAwaitingToolResult:
		return "awaiting_tool_result"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionConfig tunes one query session. Zero fields take defaults.
type SessionConfig struct {
	BehaviorProfile string
	MaxIterations   int
	PerCallTimeout  time.Duration
	// RetryBackoff is the wait before the single model retry.
	RetryBackoff time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = defaultPerCallTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	return c
}

// Result is the outcome of a completed session.
type Result struct {
	Answer      string
	ToolResults []transport.ToolCallResult
	// Degraded is set when Answer was synthesized instead of produced by the model.
	Degraded   bool
	Diagnostic string
	Iterations int
	Usage      provider.TokenUsage
	Messages   []conversation.Message
}

// Loop drives sessions between a model gateway and the tool registry.
type Loop struct {
	gateway  Gateway
	registry *tools.Registry
}

// NewLoop creates a loop over gateway and registry.
func NewLoop(gateway Gateway, registry *tools.Registry) *Loop {
	return &Loop{gateway: gateway, registry: registry}
}

// Run answers query in a fresh conversation seeded with the profile's system prompt.
func (l *Loop) Run(ctx context.Context, query string, cfg SessionConfig) (*Result, error) {
	systemPrompt, err := SystemPrompt(cfg.BehaviorProfile)
	if err != nil {
		return nil, err
	}
	return l.Continue(ctx, conversation.New(systemPrompt), query, cfg)
}

// Continue answers query on top of an existing conversation. conv is
// appended to in place, also when the session fails.
func (l *Loop) Continue(ctx context.Context, conv *conversation.State, query string, cfg SessionConfig) (*Result, error) {
	if l.gateway == nil {
		return nil, errors.New("model gateway is required")
	}
	if l.registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if conv == nil {
		return nil, errors.New("conversation is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is required")
	}

	s := &exchange{
		loop: l,
		conv: conv,
		cfg:  cfg.withDefaults(),
	}
	conv.ResetIterations()

	ctx, span := tracer.Start(ctx, "session", trace.WithAttributes(
		attribute.String("behavior_profile", s.cfg.BehaviorProfile),
		attribute.Int("max_iterations", s.cfg.MaxIterations),
	))
	defer span.End()

	res, err := s.run(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("iterations", res.Iterations),
		attribute.Bool("degraded", res.Degraded),
	)
	return res, nil
}

// exchange is the state of one Continue call.
type exchange struct {
	loop    *Loop
	conv    *conversation.State
	cfg     SessionConfig
	results []transport.ToolCallResult
	usage   provider.TokenUsage
}

func (s *exchange) run(ctx context.Context, query string) (*Result, error) {
	state := StateInit
	res := &Result{}
	for {
		switch state {
		case StateInit:
			if err := s.conv.AppendUser(query); err != nil {
				return nil, s.fail(StateInit, err)
			}
			state = StateAwaitingDecision

		case StateAwaitingDecision:
			if err := ctx.Err(); err != nil {
				return nil, s.fail(state, err)
			}
			if s.conv.Iterations() >= s.cfg.MaxIterations {
				logging.Logger().Warn(
					"iteration budget exhausted",
					"max_iterations", s.cfg.MaxIterations,
					"tool_results", len(s.results),
				)
				res.Answer = exhaustedAnswer(s.cfg.MaxIterations, len(s.results))
				res.Degraded = true
				res.Diagnostic = DiagnosticMaxIterations
				if err := s.conv.AppendAnswer(res.Answer); err != nil {
					return nil, s.fail(state, err)
				}
				state = StateDone
				continue
			}

			decision, err := s.decide(ctx)
			if err != nil {
				return nil, s.fail(state, err)
			}
			if decision.Final() {
				res.Answer = decision.Answer
				if err := s.conv.AppendAnswer(decision.Answer); err != nil {
					return nil, s.fail(state, err)
				}
				state = StateDone
				continue
			}
			if err := s.conv.AppendToolRequest(decision.Text, *decision.Call); err != nil {
				return nil, s.fail(state, err)
			}
			state = StateAwaitingToolResult

		case StateAwaitingToolResult:
			if err := s.dispatch(ctx, *s.conv.Pending()); err != nil {
				return nil, s.fail(state, err)
			}
			state = StateAwaitingDecision

		case StateDone:
			res.ToolResults = s.results
			res.Iterations = s.conv.Iterations()
			res.Usage = s.usage
			res.Messages = s.conv.Messages()
			return res, nil
		}
	}
}

// decide asks the gateway for one decision, retrying a failure once after
// the configured backoff.
func (s *exchange) decide(ctx context.Context) (Decision, error) {
	available := s.loop.registry.Descriptors()
	history := s.conv.Messages()
	iteration := s.conv.Iterations() + 1

	logging.Logger().Info(
		"llm request",
		"iteration", iteration,
		"message_count", len(history),
		"tool_count", len(available),
		"latest_user_message", summarizeTextForLog(latestUserMessage(history), 300),
	)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryBackoff
	attempt := 0
	decision, err := backoff.Retry(ctx, func() (Decision, error) {
		attempt++
		d, err := s.decideOnce(ctx, history, available, attempt)
		if err != nil && ctx.Err() != nil {
			return Decision{}, backoff.Permanent(ctx.Err())
		}
		return d, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(2),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logging.Logger().Warn("llm request failed; retrying", "err", err, "retry_in", wait)
		}),
	)
	if err != nil {
		return Decision{}, err
	}

	s.usage.Add(decision.Usage)
	toolName := ""
	if decision.Call != nil {
		toolName = decision.Call.Name
	}
	logging.Logger().Info(
		"llm response",
		"iteration", iteration,
		"final", decision.Final(),
		"tool", toolName,
		"input_tokens", decision.Usage.InputTokens,
		"output_tokens", decision.Usage.OutputTokens,
		"total_tokens", decision.Usage.TotalTokens,
	)
	return decision, nil
}

func (s *exchange) decideOnce(ctx context.Context, history []conversation.Message, available []transport.ToolDescriptor, attempt int) (Decision, error) {
	ctx, span := tracer.Start(ctx, "model.decide", trace.WithAttributes(attribute.Int("attempt", attempt)))
	defer span.End()

	d, err := s.loop.gateway.Decide(ctx, history, available)
	outcome := "answer"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !d.Final():
		outcome = "tool_call"
	}
	recordModelCall(ctx, outcome)
	return d, err
}

// dispatch resolves and invokes the pending tool call and appends its result.
// A returned error is session-fatal.
func (s *exchange) dispatch(ctx context.Context, call conversation.ToolCall) error {
	tcall := transport.Call{ID: call.ID, Name: call.Name, Timeout: s.cfg.PerCallTimeout}

	handle, _, err := s.loop.registry.Resolve(call.Name)
	if err != nil {
		available := toolNames(s.loop.registry.Descriptors())
		logging.Logger().Warn(
			"tool call rejected: unknown tool",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"arguments", call.Arguments,
			"available_tools", available,
		)
		detail := fmt.Sprintf("unknown tool %q. Available tools: %s. Use an available tool name exactly.", call.Name, available)
		return s.recordAndAdvance(transport.Failed(tcall, transport.FailureToolNotFound, detail))
	}

	args, err := tools.ParseArguments(call.Name, call.Arguments)
	if err == nil {
		err = s.loop.registry.ValidateArguments(call.Name, args)
	}
	if err != nil {
		logging.Logger().Warn(
			"tool call rejected: invalid arguments",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"arguments", call.Arguments,
			"err", err,
		)
		return s.recordAndAdvance(transport.Failed(tcall, transport.FailureInvalidArguments, err.Error()))
	}
	tcall.Arguments = args

	logging.Logger().Info(
		"tool call start",
		"tool", call.Name,
		"tool_call_id", call.ID,
		"provider", handle.Provider(),
		"args", summarizeToolArgs(args),
	)

	ctx, span := tracer.Start(ctx, "tool.invoke "+call.Name, trace.WithAttributes(
		attribute.String("tool", call.Name),
		attribute.String("provider", handle.Provider()),
	))
	result, err := handle.Transport.Invoke(ctx, tcall)
	if result.CallID == "" {
		result.CallID = call.ID
	}
	if result.ToolName == "" {
		result.ToolName = call.Name
	}
	recordToolCall(ctx, result)
	if err != nil || !result.Succeeded {
		span.SetStatus(codes.Error, result.ErrorDetail)
	}
	span.End()

	switch {
	case err == nil:
		if result.Succeeded {
			logging.Logger().Info(
				"tool call complete",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"duration_ms", result.Duration.Milliseconds(),
			)
		} else {
			logging.Logger().Warn(
				"tool call failed",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"duration_ms", result.Duration.Milliseconds(),
				"err", result.ErrorDetail,
			)
		}
		return s.recordAndAdvance(result)

	case errors.Is(err, transport.ErrTimeout):
		logging.Logger().Warn(
			"tool call timed out",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"timeout", s.cfg.PerCallTimeout,
		)
		result.Succeeded = false
		result.Kind = transport.FailureTimeout
		if result.ErrorDetail == "" {
			result.ErrorDetail = err.Error()
		}
		return s.recordAndAdvance(result)

	default:
		logging.Logger().Error(
			"tool call aborted session",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"provider", handle.Provider(),
			"err", err,
		)
		result.Succeeded = false
		if result.Kind == transport.FailureNone {
			result.Kind = transport.FailureProvider
		}
		if result.ErrorDetail == "" {
			result.ErrorDetail = err.Error()
		}
		if appendErr := s.record(result); appendErr != nil {
			return errors.Join(err, appendErr)
		}
		return err
	}
}

func (s *exchange) recordAndAdvance(result transport.ToolCallResult) error {
	if err := s.record(result); err != nil {
		return err
	}
	s.conv.Advance()
	return nil
}

func (s *exchange) record(result transport.ToolCallResult) error {
	msg := conversation.Message{
		ToolCallID: result.CallID,
		ToolName:   result.ToolName,
		Content:    result.Payload,
	}
	if !result.Succeeded {
		msg.Failed = true
		msg.FailureKind = string(result.Kind)
		msg.Content = result.ErrorDetail
	}
	if err := s.conv.AppendToolResult(msg); err != nil {
		return err
	}
	s.results = append(s.results, result)
	return nil
}

func (s *exchange) fail(state State, err error) error {
	return &SessionError{
		State:       state,
		Err:         err,
		Messages:    s.conv.Messages(),
		ToolResults: append([]transport.ToolCallResult(nil), s.results...),
	}
}

func toolNames(descriptors []transport.ToolDescriptor) string {
	if len(descriptors) == 0 {
		return "<none>"
	}
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	return strings.Join(names, ", ")
}

func summarizeToolArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for key, value := range args {
		out[key] = summarizeToolArgValue(value)
	}
	return out
}

func summarizeToolArgValue(value any) any {
	const maxLoggedStringLen = 200

	switch v := value.(type) {
	case string:
		if len(v) <= maxLoggedStringLen {
			return v
		}
		return fmt.Sprintf("%s...[truncated %d chars]", v[:maxLoggedStringLen], len(v)-maxLoggedStringLen)
	default:
		return value
	}
}

func latestUserMessage(history []conversation.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleUser && strings.TrimSpace(history[i].Content) != "" {
			return history[i].Content
		}
	}
	return ""
}

func summarizeTextForLog(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	return fmt.Sprintf("%s...[truncated %d chars]", text[:maxLen], len(text)-maxLen)
}
