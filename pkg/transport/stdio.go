package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/logging"
)

// DefaultMaxFrameSize bounds a single line read from stdin.
const DefaultMaxFrameSize = 4 * 1024 * 1024

// StdioTransport exchanges newline-delimited frames over a reader and a
// writer, typically the process's stdin and stdout. A reader task and a
// writer task run in an errgroup and hand frames over through channels. EOF
// on the reader is the only shutdown signal coming from the peer.
type StdioTransport struct {
	reader   io.Reader
	out      io.Writer
	writer   *bufio.Writer
	maxFrame int
	logger   logging.Logger

	incoming chan []byte
	outgoing chan outboundFrame
	done     chan struct{}
	group    *errgroup.Group

	mu       sync.Mutex
	readErr  error
	stopOnce sync.Once
}

type outboundFrame struct {
	data   []byte
	result chan error
}

// StdioOption configures a StdioTransport.
type StdioOption func(*StdioTransport)

// WithMaxFrameSize sets the longest line accepted from the reader.
func WithMaxFrameSize(n int) StdioOption {
	return func(t *StdioTransport) {
		if n > 0 {
			t.maxFrame = n
		}
	}
}

// WithStdioLogger sets the logger used for I/O failures.
func WithStdioLogger(logger logging.Logger) StdioOption {
	return func(t *StdioTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewStdioTransport starts a transport over r and w. Nil arguments default to
// os.Stdin and os.Stdout.
func NewStdioTransport(r io.Reader, w io.Writer, opts ...StdioOption) *StdioTransport {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	t := &StdioTransport{
		reader:   r,
		out:      w,
		writer:   bufio.NewWriter(w),
		maxFrame: DefaultMaxFrameSize,
		logger:   logging.NewNop(),
		incoming: make(chan []byte, 16),
		outgoing: make(chan outboundFrame),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithFields(logging.String("component", "StdioTransport"))

	t.group = new(errgroup.Group)
	t.group.Go(t.readLoop)
	t.group.Go(t.writeLoop)
	return t
}

// readLoop reads lines until EOF, a read error or Close. A line longer than
// maxFrame is discarded up to its newline and reading goes on.
func (t *StdioTransport) readLoop() error {
	defer close(t.incoming)

	reader := bufio.NewReaderSize(t.reader, min(64*1024, t.maxFrame))
	var line []byte
	oversized := false

	for {
		chunk, more, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			select {
			case <-t.done:
				return nil
			default:
			}
			wrapped := mcperrors.StdioTransportError("read_input", err).
				WithContext(&mcperrors.Context{Component: "StdioTransport", Operation: "read_line"})
			t.mu.Lock()
			t.readErr = wrapped
			t.mu.Unlock()
			t.logger.WithError(wrapped).Error("stdin read failed")
			return wrapped
		}

		if !oversized {
			if len(line)+len(chunk) > t.maxFrame {
				oversized = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if more {
			continue
		}
		if oversized {
			oversized = false
			t.logger.Warn("oversized frame dropped", logging.Int("max_frame", t.maxFrame))
			continue
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			frame := make([]byte, len(trimmed))
			copy(frame, trimmed)
			select {
			case t.incoming <- frame:
			case <-t.done:
				return nil
			}
		}
		line = line[:0]
	}
}

// writeLoop serializes writes so frames never interleave.
func (t *StdioTransport) writeLoop() error {
	for {
		select {
		case <-t.done:
			err := t.writer.Flush()
			// Closing our end is how the peer learns the connection is over.
			if closer, ok := t.out.(io.Closer); ok && t.out != os.Stdout {
				if cerr := closer.Close(); err == nil {
					err = cerr
				}
			}
			return err
		case out := <-t.outgoing:
			out.result <- t.write(out.data)
		}
	}
}

func (t *StdioTransport) write(frame []byte) error {
	if _, err := t.writer.Write(frame); err != nil {
		return mcperrors.StdioTransportError("send_message", err).
			WithContext(&mcperrors.Context{Component: "StdioTransport", Operation: "write_data"})
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return mcperrors.StdioTransportError("send_message", err).
			WithContext(&mcperrors.Context{Component: "StdioTransport", Operation: "write_newline"})
	}
	if err := t.writer.Flush(); err != nil {
		return mcperrors.StdioTransportError("send_message", err).
			WithContext(&mcperrors.Context{Component: "StdioTransport", Operation: "flush_output"})
	}
	return nil
}

// Send writes one frame followed by a newline. Frames must not contain raw
// newlines.
func (t *StdioTransport) Send(ctx context.Context, frame []byte) error {
	if bytes.ContainsAny(frame, "\r\n") {
		return mcperrors.StdioTransportError("send_message", errors.New("frame contains a newline"))
	}
	out := outboundFrame{data: frame, result: make(chan error, 1)}

	select {
	case t.outgoing <- out:
	case <-t.done:
		return mcperrors.TransportClosed("stdio")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.result:
		return err
	case <-t.done:
		return mcperrors.TransportClosed("stdio")
	}
}

// Receive returns the next frame. It returns io.EOF after the reader hit EOF
// or the transport was closed.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-t.incoming:
		if !ok {
			t.mu.Lock()
			err := t.readErr
			t.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return frame, nil
	case <-t.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops both tasks. A reader that implements io.Closer is closed to
// unblock a pending read, and a closable writer other than os.Stdout is
// closed after the final flush so the peer reads EOF.
func (t *StdioTransport) Close() error {
	t.stopOnce.Do(func() {
		close(t.done)
		if closer, ok := t.reader.(io.Closer); ok && t.reader != os.Stdin {
			_ = closer.Close()
		}
	})
	return nil
}

// Wait blocks until both tasks have exited and returns the first task error.
func (t *StdioTransport) Wait() error {
	return t.group.Wait()
}
