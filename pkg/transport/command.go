package transport

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/logging"
)

// DefaultGracePeriod is how long Close waits for a child to exit on its own
// after its stdin is closed.
const DefaultGracePeriod = 2 * time.Second

// CommandTransport runs a server as a child process and speaks to it over
// the child's stdin and stdout. Lines the child writes to stderr go to the
// logger. The child exiting closes its stdout, which Receive reports as
// io.EOF.
type CommandTransport struct {
	*StdioTransport

	cmd    *exec.Cmd
	grace  time.Duration
	logger logging.Logger
	stdio  []StdioOption

	stdout     *os.File
	stderr     *os.File
	stderrDone chan struct{}
	exited     chan struct{}
	waitErr    error

	closeOnce sync.Once
	closeErr  error
}

// CommandOption configures a CommandTransport.
type CommandOption func(*CommandTransport)

// WithGracePeriod sets how long Close waits before killing the child.
func WithGracePeriod(d time.Duration) CommandOption {
	return func(t *CommandTransport) {
		if d > 0 {
			t.grace = d
		}
	}
}

// WithCommandLogger sets the logger for the child's stderr and lifecycle.
func WithCommandLogger(logger logging.Logger) CommandOption {
	return func(t *CommandTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithCommandStdioOptions passes options through to the underlying
// StdioTransport.
func WithCommandStdioOptions(opts ...StdioOption) CommandOption {
	return func(t *CommandTransport) {
		t.stdio = append(t.stdio, opts...)
	}
}

// NewCommandTransport starts cmd and returns a transport over its standard
// streams. cmd must not have Stdin, Stdout or Stderr set.
func NewCommandTransport(cmd *exec.Cmd, opts ...CommandOption) (*CommandTransport, error) {
	if cmd.Stdin != nil || cmd.Stdout != nil || cmd.Stderr != nil {
		return nil, mcperrors.StdioTransportError("start_process", errors.New("command streams already set"))
	}
	t := &CommandTransport{
		cmd:        cmd,
		grace:      DefaultGracePeriod,
		logger:     logging.NewNop(),
		stderrDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithFields(
		logging.String("component", "CommandTransport"),
		logging.String("command", cmd.Path),
	)

	// Plain pipes keep Wait from closing our read ends before the last
	// frame is consumed.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, mcperrors.StdioTransportError("start_process", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, mcperrors.StdioTransportError("start_process", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, mcperrors.StdioTransportError("start_process", err)
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdinR, stdoutW, stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, mcperrors.StdioTransportError("start_process", err).
			WithContext(&mcperrors.Context{Component: "CommandTransport", Operation: "start"})
	}
	// The child holds its own copies now.
	closeAll(stdinR, stdoutW, stderrW)

	t.stdout, t.stderr = stdoutR, stderrR
	t.logger.Info("process started", logging.Int("pid", cmd.Process.Pid))

	go t.logStderr()
	go func() {
		t.waitErr = cmd.Wait()
		close(t.exited)
		t.logger.Debug("process exited", logging.String("state", cmd.ProcessState.String()))
	}()

	stdioOpts := append([]StdioOption{WithStdioLogger(t.logger)}, t.stdio...)
	// The reader is hidden behind a plain io.Reader so that closing the
	// transport closes stdin only; stdout stays open until the child exits.
	t.StdioTransport = NewStdioTransport(struct{ io.Reader }{stdoutR}, stdinW, stdioOpts...)
	return t, nil
}

func (t *CommandTransport) logStderr() {
	defer close(t.stderrDone)
	scanner := bufio.NewScanner(t.stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		t.logger.Info(scanner.Text(), logging.String("stream", "stderr"))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		t.logger.WithError(err).Warn("stderr unreadable, discarding the rest")
		_, _ = io.Copy(io.Discard, t.stderr)
	}
}

// Exited is closed once the child has been reaped.
func (t *CommandTransport) Exited() <-chan struct{} {
	return t.exited
}

// Close closes the child's stdin and waits up to the grace period for it to
// exit before killing it. It returns the child's exit error, if any, unless
// the child had to be killed.
func (t *CommandTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.StdioTransport.Close()

		killed := false
		select {
		case <-t.exited:
		case <-time.After(t.grace):
			t.logger.Warn("process ignored stdin close, killing", logging.Duration("grace", t.grace))
			killed = true
			if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				t.logger.WithError(err).Error("failed to kill process")
			}
			<-t.exited
		}
		_ = t.stdout.Close()
		_ = t.StdioTransport.Wait()

		// Grandchildren may still hold stderr open.
		select {
		case <-t.stderrDone:
		case <-time.After(t.grace):
		}
		_ = t.stderr.Close()
		<-t.stderrDone

		if t.waitErr != nil && !killed {
			t.closeErr = mcperrors.StdioTransportError("wait_process", t.waitErr).
				WithContext(&mcperrors.Context{Component: "CommandTransport", Operation: "close"})
		}
	})
	return t.closeErr
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
