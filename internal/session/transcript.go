// Package session persists query sessions as JSONL transcript records, one
// record per session, for inspection and replay.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neoclaw-ai/vulnagent/internal/conversation"
	"github.com/neoclaw-ai/vulnagent/internal/provider"
	"github.com/neoclaw-ai/vulnagent/internal/store"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

// ErrNotFound reports a transcript lookup with no matching record.
var ErrNotFound = errors.New("session record not found")

// Record is one finished or failed session.
type Record struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Profile    string        `json:"profile,omitempty"`
	Query      string        `json:"query"`
	Answer     string        `json:"answer,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Iterations int           `json:"iterations"`
	// MaxIterations and PerCallTimeout are the budget the session ran under.
	MaxIterations  int                        `json:"max_iterations,omitempty"`
	PerCallTimeout time.Duration              `json:"per_call_timeout,omitempty"`
	Usage          provider.TokenUsage        `json:"usage"`
	Error          string                     `json:"error,omitempty"`
	FailedState    string                     `json:"failed_state,omitempty"`
	Messages       []conversation.Message     `json:"messages"`
	ToolResults    []transport.ToolCallResult `json:"tool_results,omitempty"`
}

// Failed reports whether the session ended in an error.
func (r Record) Failed() bool {
	return r.Error != ""
}

// Transcript appends session records to a JSONL file.
type Transcript struct {
	path string
	mu   sync.Mutex
}

// NewTranscript creates a transcript backed by path.
func NewTranscript(path string) *Transcript {
	return &Transcript{path: path}
}

// Path returns the backing file path.
func (t *Transcript) Path() string {
	return t.path
}

// Append writes rec as one JSONL line.
func (t *Transcript) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil || t.path == "" {
		return errors.New("transcript path is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	if err := store.AppendLine(t.path, encoded); err != nil {
		return fmt.Errorf("append session record: %w", err)
	}
	return nil
}

// Load reads all records in file order. Malformed lines are skipped.
func (t *Transcript) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t == nil || t.path == "" {
		return nil, errors.New("transcript path is required")
	}

	lines, err := store.ReadLines(t.path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Find returns the record with the given id, or the most recent record when
// id is empty.
func (t *Transcript) Find(ctx context.Context, id string) (Record, error) {
	records, err := t.Load(ctx)
	if err != nil {
		return Record{}, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if id == "" || records[i].ID == id {
			return records[i], nil
		}
	}
	if id == "" {
		return Record{}, ErrNotFound
	}
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Reset removes every record.
func (t *Transcript) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := store.WriteFile(t.path, nil); err != nil {
		return fmt.Errorf("reset transcript: %w", err)
	}
	return nil
}
