// Package conversation holds the append-only message log of one session.
//
// The log always starts with a single system message. User and assistant
// turns alternate after it, and a tool message immediately follows the
// assistant message that requested it. Every Append method enforces this and
// leaves the log unchanged on error.
package conversation

import (
	"errors"
	"fmt"
)

// ErrOrdering reports an append that would break the message ordering.
var ErrOrdering = errors.New("conversation ordering violation")

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is the tool request carried by an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of the log.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// ToolCall is set on assistant messages that request a tool.
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	// ToolCallID links a tool message to its request.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
	// FailureKind classifies a failed tool message.
	FailureKind string `json:"failure_kind,omitempty"`
}

// State is the conversation log plus the session's iteration counter.
// It is not safe for concurrent use; one session owns it.
type State struct {
	messages   []Message
	iterations int
}

// New starts a log with the given system message.
func New(systemPrompt string) *State {
	return &State{messages: []Message{{Role: RoleSystem, Content: systemPrompt}}}
}

// Resume rebuilds a state from a previously recorded message sequence.
// The iteration counter starts at zero.
func Resume(messages []Message) (*State, error) {
	if err := Validate(messages); err != nil {
		return nil, err
	}
	return &State{messages: cloneMessages(messages)}, nil
}

// AppendUser adds a user query. It must follow the system message or a
// final assistant answer.
func (s *State) AppendUser(text string) error {
	last := s.last()
	if last.Role != RoleSystem && !(last.Role == RoleAssistant && last.ToolCall == nil) {
		return s.violation("user message after %s", describe(last))
	}
	s.messages = append(s.messages, Message{Role: RoleUser, Content: text})
	return nil
}

// AppendAnswer adds a final assistant answer.
func (s *State) AppendAnswer(text string) error {
	if err := s.expectAssistantTurn(); err != nil {
		return err
	}
	s.messages = append(s.messages, Message{Role: RoleAssistant, Content: text})
	return nil
}

// AppendToolRequest adds an assistant message requesting call. text is any
// reasoning the model emitted alongside the request.
func (s *State) AppendToolRequest(text string, call ToolCall) error {
	if call.ID == "" || call.Name == "" {
		return s.violation("tool request without id or name")
	}
	if err := s.expectAssistantTurn(); err != nil {
		return err
	}
	c := call
	s.messages = append(s.messages, Message{Role: RoleAssistant, Content: text, ToolCall: &c})
	return nil
}

// AppendToolResult records the outcome of the pending tool request.
func (s *State) AppendToolResult(msg Message) error {
	pending := s.Pending()
	if pending == nil {
		return s.violation("tool result with no pending request")
	}
	if msg.ToolCallID != pending.ID {
		return s.violation("tool result for %q, pending request is %q", msg.ToolCallID, pending.ID)
	}
	msg.Role = RoleTool
	if msg.ToolName == "" {
		msg.ToolName = pending.Name
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Pending returns the tool request still awaiting its result, if any.
func (s *State) Pending() *ToolCall {
	last := s.last()
	if last.Role == RoleAssistant && last.ToolCall != nil {
		c := *last.ToolCall
		return &c
	}
	return nil
}

// Messages returns a copy of the log.
func (s *State) Messages() []Message {
	return cloneMessages(s.messages)
}

// Len returns the number of messages.
func (s *State) Len() int {
	return len(s.messages)
}

// SystemPrompt returns the content of the leading system message.
func (s *State) SystemPrompt() string {
	return s.messages[0].Content
}

// Iterations returns the number of completed tool round trips.
func (s *State) Iterations() int {
	return s.iterations
}

// Advance increments the iteration counter and returns the new value.
func (s *State) Advance() int {
	s.iterations++
	return s.iterations
}

// ResetIterations zeroes the counter when a retained log starts a new query.
func (s *State) ResetIterations() {
	s.iterations = 0
}

func (s *State) expectAssistantTurn() error {
	last := s.last()
	if last.Role != RoleUser && last.Role != RoleTool {
		return s.violation("assistant message after %s", describe(last))
	}
	return nil
}

func (s *State) last() Message {
	return s.messages[len(s.messages)-1]
}

func (s *State) violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s (at message %d)", ErrOrdering, fmt.Sprintf(format, args...), len(s.messages))
}

// Validate checks a recorded sequence against the ordering rules. A sequence
// may end with a pending tool request or an unanswered tool result.
func Validate(messages []Message) error {
	if len(messages) == 0 || messages[0].Role != RoleSystem {
		return fmt.Errorf("%w: sequence must start with a system message", ErrOrdering)
	}
	s := &State{messages: []Message{messages[0]}}
	for i, msg := range messages[1:] {
		var err error
		switch msg.Role {
		case RoleUser:
			err = s.AppendUser(msg.Content)
		case RoleAssistant:
			if msg.ToolCall != nil {
				err = s.AppendToolRequest(msg.Content, *msg.ToolCall)
			} else {
				err = s.AppendAnswer(msg.Content)
			}
		case RoleTool:
			err = s.AppendToolResult(msg)
		default:
			err = fmt.Errorf("%w: unknown role %q", ErrOrdering, msg.Role)
		}
		if err != nil {
			return fmt.Errorf("message %d: %w", i+1, err)
		}
	}
	return nil
}

func describe(m Message) string {
	if m.Role == RoleAssistant && m.ToolCall != nil {
		return "assistant tool request"
	}
	return string(m.Role) + " message"
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	for i := range out {
		if out[i].ToolCall != nil {
			c := *out[i].ToolCall
			out[i].ToolCall = &c
		}
	}
	return out
}
