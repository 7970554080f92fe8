package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/neoclaw-ai/vulnagent/internal/logging"
)

const userVisibleHandlerError = "There was an error with your request. Check server logs for details"

const idlePollInterval = 5 * time.Millisecond

// Dispatcher runs queued queries in FIFO order, one session at a time.
type Dispatcher struct {
	handler Handler

	queue chan queued
	done  chan struct{}
	// pending counts queued plus running queries.
	pending atomic.Int64

	mu      sync.Mutex
	started bool
	rootCtx context.Context
	// cancelRun stops the running session, nil when none runs.
	cancelRun context.CancelFunc
}

type queued struct {
	msg    *Message
	writer ResponseWriter
}

// NewDispatcher creates a dispatcher holding at most queueSize waiting queries.
func NewDispatcher(handler Handler, queueSize int) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		queue:   make(chan queued, max(queueSize, 1)),
		done:    make(chan struct{}),
	}
}

// Start launches the dispatch loop. It stops when ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d == nil {
		return errors.New("dispatcher is required")
	}
	if d.handler == nil {
		return errors.New("handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}
	d.started = true
	d.rootCtx = ctx
	go d.loop(ctx)
	return nil
}

// Enqueue adds a query behind any queued or running ones. It blocks while
// the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, msg *Message, writer ResponseWriter) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if writer == nil {
		return errors.New("response writer is required")
	}
	d.mu.Lock()
	rootCtx, started := d.rootCtx, d.started
	d.mu.Unlock()
	if !started {
		return errors.New("dispatcher is not started")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.QueuedAt = time.Now()

	ahead := d.pending.Add(1) - 1
	select {
	case <-rootCtx.Done():
		d.pending.Add(-1)
		return rootCtx.Err()
	case <-ctx.Done():
		d.pending.Add(-1)
		return ctx.Err()
	case d.queue <- queued{msg: msg, writer: writer}:
		logging.Logger().Debug("query queued", "id", msg.ID, "ahead", ahead)
		return nil
	}
}

// Pending reports how many queries are queued or running.
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

// Stop cancels the running session and discards every queued query.
func (d *Dispatcher) Stop() {
	d.cancelCurrent()
	dropped := 0
	for {
		select {
		case <-d.queue:
			d.pending.Add(-1)
			dropped++
		default:
			if dropped > 0 {
				logging.Logger().Info("dropped queued queries", "count", dropped)
			}
			return
		}
	}
}

// WaitUntilIdle blocks until nothing is queued or running.
func (d *Dispatcher) WaitUntilIdle(ctx context.Context) error {
	if d == nil {
		return errors.New("dispatcher is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for !d.isIdle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Wait blocks until the dispatch loop exits.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	<-d.done
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.cancelCurrent()
			return
		case item := <-d.queue:
			d.run(ctx, item)
			d.pending.Add(-1)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, item queued) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.cancelRun = cancel
	d.mu.Unlock()

	logger := logging.Logger().With("id", item.msg.ID)
	logger.Debug("query started", "waited", time.Since(item.msg.QueuedAt))
	started := time.Now()
	err := d.handler.HandleMessage(runCtx, item.writer, item.msg)

	d.mu.Lock()
	d.cancelRun = nil
	d.mu.Unlock()

	switch {
	case err == nil:
		logger.Debug("query finished", "duration", time.Since(started))
	case errors.Is(err, context.Canceled):
		logger.Info("query stopped", "duration", time.Since(started))
	default:
		logger.Error("query failed", "err", err)
		if writeErr := item.writer.WriteMessage(ctx, userVisibleHandlerError); writeErr != nil {
			logger.Warn("failed to write query error", "err", writeErr)
		}
	}
}

func (d *Dispatcher) cancelCurrent() {
	d.mu.Lock()
	cancel := d.cancelRun
	d.cancelRun = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Dispatcher) isIdle() bool {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	return !started || d.pending.Load() == 0
}
