// Package channels provides runtime.Listener implementations for each supported input channel.
package channels

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/neoclaw-ai/vulnagent/internal/runtime"
)

const (
	defaultReplPrompt    = "you> "
	defaultDispatchQueue = 20
	// Allow queued input to finish when stdin closes before shutting down the dispatcher.
	dispatchDrainTimeout = 30 * time.Second
)

var _ runtime.Listener = (*CLIListener)(nil)

// CLIWriter writes assistant responses to terminal output.
type CLIWriter struct {
	mu  *sync.Mutex
	out io.Writer
}

// WriteMessage writes one assistant message block.
func (w *CLIWriter) WriteMessage(_ context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "assistant> %s\n\n", text)
	return err
}

// CLIOption configures a CLIListener.
type CLIOption func(*CLIListener)

// WithHistoryFile persists readline history at path.
func WithHistoryFile(path string) CLIOption {
	return func(c *CLIListener) {
		c.historyFile = path
	}
}

// WithBanner replaces the line printed when the session starts.
func WithBanner(banner string) CLIOption {
	return func(c *CLIListener) {
		c.banner = banner
	}
}

// CLIListener listens for interactive terminal input and dispatches messages.
type CLIListener struct {
	in  io.Reader
	out io.Writer

	historyFile string
	banner      string

	// outMu serializes prompts and answers written from different goroutines.
	outMu sync.Mutex

	rl       *readline.Instance
	fallback *bufio.Reader
}

// NewCLI creates a new CLI listener over stdin/stdout style streams.
func NewCLI(in io.Reader, out io.Writer, opts ...CLIOption) *CLIListener {
	c := &CLIListener{
		in:     in,
		out:    out,
		banner: "Interactive mode. Ask about vulnerabilities, /help for commands, /quit to exit.",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Listen runs the interactive loop until EOF, /quit, /exit, or context cancellation.
// /stop cancels the query in flight and drops queued input without exiting.
func (c *CLIListener) Listen(ctx context.Context, handler runtime.Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	c.ensureInputReady()
	if c.rl != nil {
		defer c.rl.Close()
	}

	if _, err := fmt.Fprintln(c.out, c.banner); err != nil {
		return err
	}

	writer := &CLIWriter{mu: &c.outMu, out: c.out}
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)

	dispatcher := runtime.NewDispatcher(handler, defaultDispatchQueue)
	if err := dispatcher.Start(dispatchCtx); err != nil {
		cancelDispatch()
		return err
	}
	defer func() {
		cancelDispatch()
		dispatcher.Wait()
	}()

	inputCh := make(chan inputEvent)
	go c.readInputLoop(ctx, inputCh)

	for {
		select {
		case <-ctx.Done():
			dispatcher.Stop()
			return nil
		case event, ok := <-inputCh:
			if !ok {
				c.drainDispatcher(dispatcher)
				return nil
			}
			if event.err != nil {
				if errors.Is(event.err, io.EOF) {
					c.drainDispatcher(dispatcher)
					return nil
				}
				if errors.Is(event.err, context.Canceled) {
					dispatcher.Stop()
					return nil
				}
				return event.err
			}

			line := strings.TrimSpace(event.line)
			if line == "" {
				continue
			}

			switch controlFor(line) {
			case controlStop:
				dispatcher.Stop()
				_ = writer.WriteMessage(ctx, "Stopped.")
				continue
			case controlQuit:
				dispatcher.Stop()
				_ = writer.WriteMessage(ctx, "Stopped.")
				return nil
			}

			if ahead := dispatcher.Pending(); ahead > 0 {
				_ = writer.WriteMessage(ctx, fmt.Sprintf("Queued behind %d earlier %s. /stop cancels.", ahead, plural(ahead, "query", "queries")))
			}
			if err := dispatcher.Enqueue(ctx, &runtime.Message{Text: line}, writer); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
	}
}

type control int

const (
	controlNone control = iota
	controlStop
	controlQuit
)

// controlFor recognizes the inputs the listener handles itself instead of
// dispatching.
func controlFor(line string) control {
	switch strings.ToLower(line) {
	case "/stop", "stop":
		return controlStop
	case "/quit", "quit", "/exit", "exit":
		return controlQuit
	default:
		return controlNone
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func (c *CLIListener) drainDispatcher(dispatcher *runtime.Dispatcher) {
	drainCtx, cancel := context.WithTimeout(context.Background(), dispatchDrainTimeout)
	defer cancel()
	if err := dispatcher.WaitUntilIdle(drainCtx); err != nil {
		dispatcher.Stop()
	}
}

func (c *CLIListener) ensureInputReady() {
	if c.rl != nil || c.fallback != nil {
		return
	}

	rl, err := newReadline(c.in, c.out, c.historyFile)
	if err == nil {
		c.rl = rl
		return
	}

	c.fallback = bufio.NewReader(c.in)
}

func (c *CLIListener) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if c.rl != nil {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return "", io.EOF
			}
			return "", err
		}
		return line, nil
	}

	c.outMu.Lock()
	_, err := fmt.Fprint(c.out, defaultReplPrompt)
	c.outMu.Unlock()
	if err != nil {
		return "", err
	}
	line, err := c.fallback.ReadString('\n')
	if err != nil {
		if len(line) > 0 {
			return line, nil
		}
		return "", err
	}
	return line, nil
}

func (c *CLIListener) readInputLoop(ctx context.Context, out chan<- inputEvent) {
	defer close(out)
	for {
		line, err := c.readLine(ctx)
		select {
		case out <- inputEvent{line: line, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

type inputEvent struct {
	line string
	err  error
}

func newReadline(in io.Reader, out io.Writer, historyFile string) (*readline.Instance, error) {
	stdin, ok := in.(io.ReadCloser)
	if !ok {
		return nil, fmt.Errorf("stdin is not read-closer")
	}
	inFile, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(inFile.Fd())) {
		return nil, fmt.Errorf("stdin is not terminal")
	}
	outFile, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(outFile.Fd())) {
		return nil, fmt.Errorf("stdout is not terminal")
	}

	return readline.NewEx(&readline.Config{
		Prompt:          defaultReplPrompt,
		HistoryFile:     historyFile,
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           stdin,
		Stdout:          out,
		Stderr:          out,
	})
}
