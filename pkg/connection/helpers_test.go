package connection

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/lifecycle"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

// fakeTransport lets a test play the peer frame by frame.
type fakeTransport struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
	eofOnce   sync.Once

	// holdRequests makes Send keep requests in flight until ctx ends, the way
	// a streamable HTTP POST waits for its reply.
	holdRequests atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []byte, 16),
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-f.done:
		return mcperrors.TransportClosed("fake")
	default:
	}
	select {
	case f.out <- append([]byte(nil), frame...):
		if f.holdRequests.Load() {
			if msg, err := protocol.Decode(frame); err == nil && msg.Kind() == protocol.KindRequest {
				<-ctx.Done()
				return ctx.Err()
			}
		}
		return nil
	case <-f.done:
		return mcperrors.TransportClosed("fake")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-f.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// hangUp simulates the peer going away.
func (f *fakeTransport) hangUp() {
	f.eofOnce.Do(func() { close(f.in) })
}

func (f *fakeTransport) inject(t *testing.T, frame string) {
	t.Helper()
	select {
	case f.in <- []byte(frame):
	case <-time.After(time.Second):
		t.Fatal("connection did not consume injected frame")
	}
}

func (f *fakeTransport) injectMessage(t *testing.T, msg *protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	f.inject(t, string(frame))
}

func (f *fakeTransport) nextFrame(t *testing.T) []byte {
	t.Helper()
	select {
	case frame := <-f.out:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sent")
		return nil
	}
}

func (f *fakeTransport) next(t *testing.T) *protocol.Message {
	t.Helper()
	msg, err := protocol.Decode(f.nextFrame(t))
	require.NoError(t, err)
	return msg
}

func (f *fakeTransport) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case frame := <-f.out:
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(d):
	}
}

var (
	testServerInfo = protocol.Implementation{Name: "test-server", Version: "1.0.0"}
	testClientInfo = protocol.Implementation{Name: "test-client", Version: "1.0.0"}
)

// serve runs c until the test ends.
func serve(t *testing.T, c *Connection) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return")
		}
	})
}

func newServer(t *testing.T, caps protocol.CapabilitySet, router *Router, opts ...Option) (*Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c := New(ft, lifecycle.New(lifecycle.RoleServer, testServerInfo, caps), router, opts...)
	serve(t, c)
	return c, ft
}

// initializeServer runs the handshake against a server connection.
func initializeServer(t *testing.T, ft *fakeTransport) protocol.InitializeResult {
	t.Helper()
	req, err := protocol.NewRequest(protocol.NumberID(0), protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.LatestVersion,
		ClientInfo:      testClientInfo,
	})
	require.NoError(t, err)
	ft.injectMessage(t, req)

	resp := ft.next(t)
	require.Nil(t, resp.Error)
	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))

	ft.inject(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	return result
}

// newClient returns an operational client connection whose peer is played by
// the returned transport. serverCaps are the capabilities the fake server
// declares.
func newClient(t *testing.T, serverCaps protocol.CapabilitySet, opts ...Option) (*Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	machine := lifecycle.New(lifecycle.RoleClient, testClientInfo, protocol.NewCapabilitySet())
	c := New(ft, machine, nil, opts...)
	serve(t, c)

	params, err := machine.BeginInitialize()
	require.NoError(t, err)

	var result protocol.InitializeResult
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Call(context.Background(), protocol.MethodInitialize, params, &result)
	}()

	req := ft.next(t)
	require.Equal(t, protocol.MethodInitialize, req.Method)
	resp, err := protocol.NewResponse(req.ID, protocol.InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		Capabilities:    serverCaps,
		ServerInfo:      testServerInfo,
	})
	require.NoError(t, err)
	ft.injectMessage(t, resp)

	require.NoError(t, <-errCh)
	require.NoError(t, machine.CompleteInitialize(result))
	return c, ft
}

func errorCode(t *testing.T, msg *protocol.Message) int {
	t.Helper()
	require.NotNil(t, msg.Error, "expected an error response")
	return int(msg.Error.Code)
}
