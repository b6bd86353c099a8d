package transport

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
)

// syncBuffer is a bytes.Buffer safe for the writer task and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStdioTransport_ReceiveFrames(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n\n   \n{\"jsonrpc\":\"2.0\",\"method\":\"notifications/initialized\"}\n"
	tr := NewStdioTransport(strings.NewReader(input), io.Discard)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frame, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(frame))

	frame, err = tr.Receive(ctx)
	require.NoError(t, err, "blank lines are skipped")
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(frame))

	_, err = tr.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF, "reader EOF ends the transport")
}

func TestStdioTransport_SendWritesOneLinePerFrame(t *testing.T) {
	out := &syncBuffer{}
	pr, pw := io.Pipe()
	defer pw.Close()

	tr := NewStdioTransport(pr, out)
	defer tr.Close()

	ctx := context.Background()
	require.NoError(t, tr.Send(ctx, []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)))
	require.NoError(t, tr.Send(ctx, []byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":"a","progress":1}}`)))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, lines[0])
}

func TestStdioTransport_SendRejectsEmbeddedNewlines(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := NewStdioTransport(pr, io.Discard)
	defer tr.Close()

	err := tr.Send(context.Background(), []byte("{\"a\":\n1}"))
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindTransport))
}

func TestStdioTransport_ConcurrentSendsDoNotInterleave(t *testing.T) {
	out := &syncBuffer{}
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := NewStdioTransport(pr, out)
	defer tr.Close()

	frame := []byte(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"` + strings.Repeat("x", 512) + `"}}`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.Send(context.Background(), frame))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 20)
	for _, line := range lines {
		assert.Equal(t, string(frame), line)
	}
}

func TestStdioTransport_OversizedFrameIsDropped(t *testing.T) {
	tests := []struct {
		name     string
		maxFrame int
		padding  int
	}{
		{"below the read buffer", 64, 256},
		{"spanning several buffer fills", 128 * 1024, 200 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"v":"` + strings.Repeat("y", tt.padding) + "\"}}\n" +
				`{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n"
			tr := NewStdioTransport(strings.NewReader(input), io.Discard, WithMaxFrameSize(tt.maxFrame))
			defer tr.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			frame, err := tr.Receive(ctx)
			require.NoError(t, err)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, string(frame))

			_, err = tr.Receive(ctx)
			assert.ErrorIs(t, err, io.EOF)
			require.NoError(t, tr.Close())
			assert.NoError(t, tr.Wait())
		})
	}
}

func TestStdioTransport_FrameWithoutTrailingNewline(t *testing.T) {
	tr := NewStdioTransport(strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"ping"}`), io.Discard)
	defer tr.Close()

	frame, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"method":"ping"}`, string(frame))
}

func TestStdioTransport_CloseEndsPeerStream(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	outR, outW := io.Pipe()

	tr := NewStdioTransport(inR, outW)
	peer := NewStdioTransport(outR, io.Discard)
	defer peer.Close()

	require.NoError(t, tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	require.NoError(t, tr.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := peer.Receive(ctx)
	require.NoError(t, err, "frames sent before Close still arrive")
	assert.Contains(t, string(frame), "initialized")

	_, err = peer.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStdioTransport_Close(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := NewStdioTransport(pr, io.Discard)

	received := make(chan error, 1)
	go func() {
		_, err := tr.Receive(context.Background())
		received <- err
	}()

	require.NoError(t, tr.Close())
	select {
	case err := <-received:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not unblock after Close")
	}

	err := tr.Send(context.Background(), []byte(`{}`))
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindTransport))
	assert.NoError(t, tr.Close(), "Close is idempotent")
	assert.NoError(t, tr.Wait())
}

func TestStdioTransport_ReceiveHonoursContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := NewStdioTransport(pr, io.Discard)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
