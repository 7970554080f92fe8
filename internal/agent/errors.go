package agent

import (
	"errors"
	"fmt"

	"github.com/neoclaw-ai/vulnagent/internal/conversation"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

var (
	// ErrModelUnavailable reports a failure to reach the language model service.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrModelProtocol reports a model response that is neither an answer nor a tool call.
	ErrModelProtocol = errors.New("model protocol error")
)

// SessionError is the single structured error a failed session returns.
// Messages holds every message appended before the failure.
type SessionError struct {
	State       State
	Err         error
	Messages    []conversation.Message
	ToolResults []transport.ToolCallResult
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session failed while %s: %v", e.State, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
