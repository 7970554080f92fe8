// Package runtime queues interactive queries and runs them one session at a
// time against a Handler.
package runtime

import (
	"context"
	"time"
)

// Message is one user query delivered by a channel.
type Message struct {
	// ID correlates log lines for the query. Enqueue assigns one if empty.
	ID   string
	Text string
	// QueuedAt is stamped by Enqueue.
	QueuedAt time.Time
}

// ResponseWriter sends answers back to the channel that produced the query.
type ResponseWriter interface {
	WriteMessage(ctx context.Context, text string) error
}

// Handler answers one query. A returned context.Canceled means the session
// was stopped and is not reported to the user.
type Handler interface {
	HandleMessage(ctx context.Context, w ResponseWriter, msg *Message) error
}

// Listener reads queries from a channel and hands them to a Handler.
type Listener interface {
	Listen(ctx context.Context, handler Handler) error
}
