package conversation

import (
	"errors"
	"testing"
)

func seeded(t *testing.T) *State {
	t.Helper()
	s := New("you answer vulnerability questions")
	if err := s.AppendUser("list critical records"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	return s
}

func TestStateToolRoundTrip(t *testing.T) {
	s := seeded(t)
	call := ToolCall{ID: "c1", Name: "query_cve_by_severity", Arguments: `{"severity":"CRITICAL"}`}
	if err := s.AppendToolRequest("", call); err != nil {
		t.Fatalf("append request: %v", err)
	}
	if p := s.Pending(); p == nil || p.ID != "c1" {
		t.Fatalf("expected pending c1, got %+v", p)
	}
	if err := s.AppendToolResult(Message{ToolCallID: "c1", Content: `{"count":3}`}); err != nil {
		t.Fatalf("append result: %v", err)
	}
	if s.Pending() != nil {
		t.Fatalf("expected no pending request after result")
	}
	if err := s.AppendAnswer("three critical records"); err != nil {
		t.Fatalf("append answer: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if msgs[3].Role != RoleTool || msgs[3].ToolName != "query_cve_by_severity" {
		t.Fatalf("expected tool message with tool name filled in, got %+v", msgs[3])
	}
	if err := Validate(msgs); err != nil {
		t.Fatalf("expected valid sequence, got %v", err)
	}
}

func TestStateRejectsOutOfOrderAppends(t *testing.T) {
	s := New("sys")
	if err := s.AppendAnswer("too early"); !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected ordering error for answer after system, got %v", err)
	}
	if err := s.AppendToolResult(Message{ToolCallID: "x"}); !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected ordering error for orphan tool result, got %v", err)
	}
	if err := s.AppendUser("q"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.AppendUser("q again"); !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected ordering error for consecutive user messages, got %v", err)
	}
	if err := s.AppendToolRequest("", ToolCall{ID: "c1", Name: "t"}); err != nil {
		t.Fatalf("append request: %v", err)
	}
	if err := s.AppendUser("interrupt"); !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected ordering error for user during pending tool call, got %v", err)
	}
	if err := s.AppendAnswer("skip tool"); !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected ordering error for answer during pending tool call, got %v", err)
	}
	if err := s.AppendToolResult(Message{ToolCallID: "c2"}); !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected ordering error for mismatched call id, got %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("expected rejected appends to leave log unchanged, got %d messages", s.Len())
	}
}

func TestStateRetainedConversationAcceptsFollowUp(t *testing.T) {
	s := seeded(t)
	if err := s.AppendAnswer("none"); err != nil {
		t.Fatalf("append answer: %v", err)
	}
	s.Advance()
	if err := s.AppendUser("and high severity?"); err != nil {
		t.Fatalf("expected follow-up user message after answer, got %v", err)
	}
	s.ResetIterations()
	if s.Iterations() != 0 {
		t.Fatalf("expected iteration counter reset")
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := seeded(t)
	if err := s.AppendToolRequest("", ToolCall{ID: "c1", Name: "t"}); err != nil {
		t.Fatalf("append request: %v", err)
	}
	msgs := s.Messages()
	msgs[0].Content = "mutated"
	msgs[2].ToolCall.Name = "mutated"
	if s.SystemPrompt() == "mutated" || s.Pending().Name == "mutated" {
		t.Fatalf("expected Messages to return a deep copy")
	}
}

func TestValidate(t *testing.T) {
	valid := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, ToolCall: &ToolCall{ID: "c1", Name: "t"}},
	}
	if err := Validate(valid); err != nil {
		t.Fatalf("expected trailing pending request to be valid, got %v", err)
	}

	cases := map[string][]Message{
		"empty":       nil,
		"no system":   {{Role: RoleUser, Content: "q"}},
		"two systems": {{Role: RoleSystem}, {Role: RoleSystem}},
		"tool after user": {
			{Role: RoleSystem}, {Role: RoleUser}, {Role: RoleTool, ToolCallID: "c1"},
		},
		"unknown role": {{Role: RoleSystem}, {Role: "narrator"}},
	}
	for name, msgs := range cases {
		if err := Validate(msgs); !errors.Is(err, ErrOrdering) {
			t.Fatalf("%s: expected ordering error, got %v", name, err)
		}
	}
}

func TestResume(t *testing.T) {
	s := seeded(t)
	if err := s.AppendAnswer("done"); err != nil {
		t.Fatalf("append answer: %v", err)
	}
	s.Advance()

	resumed, err := Resume(s.Messages())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Len() != s.Len() || resumed.Iterations() != 0 {
		t.Fatalf("unexpected resumed state: len=%d iterations=%d", resumed.Len(), resumed.Iterations())
	}
	if _, err := Resume([]Message{{Role: RoleUser}}); !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected resume of invalid log to fail, got %v", err)
	}
}
