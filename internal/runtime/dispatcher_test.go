package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func startDispatcher(t *testing.T, handler Handler) *Dispatcher {
	t.Helper()
	d := NewDispatcher(handler, 20)
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start dispatcher: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Wait()
	})
	return d
}

func enqueue(t *testing.T, d *Dispatcher, text string, w ResponseWriter) {
	t.Helper()
	if err := d.Enqueue(context.Background(), &Message{Text: text}, w); err != nil {
		t.Fatalf("enqueue %q: %v", text, err)
	}
}

func TestDispatcherRunsQueriesInOrder(t *testing.T) {
	handler := &recordingHandler{}
	writer := &recordingWriter{}
	d := startDispatcher(t, handler)

	queries := []string{
		"Show me critical CVEs",
		"Details for CVE-2026-0001",
		"Any KEV entries this month?",
	}
	for _, q := range queries {
		enqueue(t, d, q, writer)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := d.WaitUntilIdle(waitCtx); err != nil {
		t.Fatalf("wait until idle: %v", err)
	}

	got := handler.snapshot()
	if len(got) != len(queries) {
		t.Fatalf("expected %d handled queries, got %#v", len(queries), got)
	}
	for i := range queries {
		if got[i] != queries[i] {
			t.Fatalf("expected FIFO order %#v, got %#v", queries, got)
		}
	}
}

func TestDispatcherHoldsQueryBehindRunningSession(t *testing.T) {
	handler := &blockingHandler{
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	writer := &recordingWriter{}
	d := startDispatcher(t, handler)

	enqueue(t, d, "critical CVEs", writer)
	if got := <-handler.started; got != "critical CVEs" {
		t.Fatalf("expected first query to start, got %q", got)
	}
	enqueue(t, d, "recent CVEs", writer)

	select {
	case got := <-handler.started:
		t.Fatalf("query %q started while a session was running", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(handler.release)
	select {
	case got := <-handler.started:
		if got != "recent CVEs" {
			t.Fatalf("expected queued query to start next, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("queued query did not start after the running session finished")
	}
}

func TestDispatcherWaitUntilIdleCoversQueuedQueries(t *testing.T) {
	handler := &blockingHandler{
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	writer := &recordingWriter{}
	d := startDispatcher(t, handler)

	enqueue(t, d, "first", writer)
	<-handler.started
	enqueue(t, d, "second", writer)
	if got := d.Pending(); got != 2 {
		t.Fatalf("expected running plus queued query pending, got %d", got)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	if err := d.WaitUntilIdle(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while a session runs, got %v", err)
	}

	close(handler.release)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := d.WaitUntilIdle(waitCtx); err != nil {
		t.Fatalf("wait until idle: %v", err)
	}
	if n := d.pending.Load(); n != 0 {
		t.Fatalf("expected no pending queries, got %d", n)
	}
	select {
	case got := <-handler.started:
		if got != "second" {
			t.Fatalf("expected second query to have run, got %q", got)
		}
	default:
		t.Fatalf("idle reported before the queued query ran")
	}
}

func TestDispatcherStopCancelsSessionAndDropsQueue(t *testing.T) {
	handler := &stopHandler{canceled: make(chan struct{}, 1)}
	writer := &recordingWriter{}
	d := startDispatcher(t, handler)

	enqueue(t, d, "long running", writer)
	waitFor(t, time.Second, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.started
	})
	enqueue(t, d, "queued one", writer)
	enqueue(t, d, "queued two", writer)

	d.Stop()

	select {
	case <-handler.canceled:
	case <-time.After(time.Second):
		t.Fatalf("expected running session to be canceled")
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := d.WaitUntilIdle(waitCtx); err != nil {
		t.Fatalf("wait until idle: %v", err)
	}
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.otherCalls != 0 {
		t.Fatalf("expected queued queries to be dropped, got %d extra calls", handler.otherCalls)
	}
	if len(writer.snapshot()) != 0 {
		t.Fatalf("expected cancellation to stay silent, got %#v", writer.snapshot())
	}
}

func TestDispatcherStopWhenIdle(t *testing.T) {
	d := startDispatcher(t, &recordingHandler{})
	d.Stop()
	if !d.isIdle() {
		t.Fatalf("expected dispatcher to stay idle")
	}
}

func TestDispatcherReportsHandlerFailure(t *testing.T) {
	writer := &recordingWriter{}
	d := startDispatcher(t, &errorHandler{err: errors.New("provider cve_details crashed")})

	enqueue(t, d, "critical CVEs", writer)
	waitFor(t, time.Second, func() bool { return len(writer.snapshot()) > 0 })

	got := writer.snapshot()
	if len(got) != 1 || got[0] != userVisibleHandlerError {
		t.Fatalf("expected one user-visible error, got %#v", got)
	}
}

func TestDispatcherSuppressesCanceledSession(t *testing.T) {
	writer := &recordingWriter{}
	d := startDispatcher(t, &errorHandler{err: context.Canceled})

	enqueue(t, d, "critical CVEs", writer)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := d.WaitUntilIdle(waitCtx); err != nil {
		t.Fatalf("wait until idle: %v", err)
	}
	if got := writer.snapshot(); len(got) != 0 {
		t.Fatalf("expected no error write for a canceled session, got %#v", got)
	}
}

func TestDispatcherAssignsQueryID(t *testing.T) {
	d := startDispatcher(t, &recordingHandler{})

	msg := &Message{Text: "critical CVEs"}
	if err := d.Enqueue(context.Background(), msg, &recordingWriter{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if msg.ID == "" || msg.QueuedAt.IsZero() {
		t.Fatalf("expected id and queue time to be stamped, got %+v", msg)
	}

	kept := &Message{ID: "query-1", Text: "recent CVEs"}
	if err := d.Enqueue(context.Background(), kept, &recordingWriter{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if kept.ID != "query-1" {
		t.Fatalf("expected caller id to be kept, got %q", kept.ID)
	}
}

func TestDispatcherRejectsInvalidUse(t *testing.T) {
	d := NewDispatcher(&recordingHandler{}, 0)
	if err := d.Enqueue(context.Background(), &Message{Text: "x"}, &recordingWriter{}); err == nil {
		t.Fatalf("expected enqueue before start to fail")
	}
	if err := NewDispatcher(nil, 1).Start(context.Background()); err == nil {
		t.Fatalf("expected start without handler to fail")
	}

	started := startDispatcher(t, &recordingHandler{})
	if err := started.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
	if err := started.Enqueue(context.Background(), nil, &recordingWriter{}); err == nil {
		t.Fatalf("expected nil message to be rejected")
	}
	if err := started.Enqueue(context.Background(), &Message{Text: "x"}, nil); err == nil {
		t.Fatalf("expected nil writer to be rejected")
	}
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *recordingHandler) HandleMessage(_ context.Context, _ ResponseWriter, msg *Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg.Text)
	return nil
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...)
}

// blockingHandler holds the first query until release is closed.
type blockingHandler struct {
	started chan string
	release chan struct{}
	once    sync.Once
}

func (h *blockingHandler) HandleMessage(_ context.Context, _ ResponseWriter, msg *Message) error {
	h.started <- msg.Text
	first := false
	h.once.Do(func() { first = true })
	if first {
		<-h.release
	}
	return nil
}

type stopHandler struct {
	mu         sync.Mutex
	started    bool
	otherCalls int

	canceled chan struct{}
}

func (h *stopHandler) HandleMessage(ctx context.Context, _ ResponseWriter, msg *Message) error {
	if msg.Text == "long running" {
		h.mu.Lock()
		h.started = true
		h.mu.Unlock()
		<-ctx.Done()
		h.canceled <- struct{}{}
		return ctx.Err()
	}
	h.mu.Lock()
	h.otherCalls++
	h.mu.Unlock()
	return nil
}

type errorHandler struct {
	err error
}

func (h *errorHandler) HandleMessage(_ context.Context, _ ResponseWriter, _ *Message) error {
	return h.err
}

type recordingWriter struct {
	mu       sync.Mutex
	messages []string
}

func (w *recordingWriter) WriteMessage(_ context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, text)
	return nil
}

func (w *recordingWriter) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.messages...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
