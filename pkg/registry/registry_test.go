package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

func response(t *testing.T, id protocol.RequestID) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewResponse(id, map[string]string{"ok": "yes"})
	require.NoError(t, err)
	return msg
}

func TestPendingResolve(t *testing.T) {
	p := NewPending()
	call, err := p.Register(protocol.NumberID(1), "tools/call", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())

	assert.True(t, p.Resolve(response(t, protocol.NumberID(1))))
	assert.Equal(t, 0, p.Len())

	got, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":"yes"}`, string(got.Result))

	assert.False(t, p.Resolve(response(t, protocol.NumberID(1))), "second response is dropped")
	assert.False(t, p.Resolve(response(t, protocol.NumberID(99))), "unknown id is dropped")
}

func TestPendingDistinguishesStringAndNumberIDs(t *testing.T) {
	p := NewPending()
	numCall, err := p.Register(protocol.NumberID(7), "ping", nil)
	require.NoError(t, err)
	strCall, err := p.Register(protocol.StringID("7"), "ping", nil)
	require.NoError(t, err)

	require.True(t, p.Resolve(response(t, protocol.StringID("7"))))
	select {
	case <-strCall.Done():
	default:
		t.Fatal("string call should be resolved")
	}
	select {
	case <-numCall.Done():
		t.Fatal("numeric call must not be resolved by a string id")
	default:
	}
}

func TestPendingRejectsDuplicates(t *testing.T) {
	p := NewPending()
	_, err := p.Register(protocol.NumberID(3), "ping", nil)
	require.NoError(t, err)

	_, err = p.Register(protocol.NumberID(3), "ping", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindProtocolViolation))

	_, err = p.Register(protocol.NoID, "ping", nil)
	assert.Error(t, err)
}

func TestPendingForgetAndFailAll(t *testing.T) {
	p := NewPending()
	a, _ := p.Register(protocol.NumberID(1), "a", nil)
	b, _ := p.Register(protocol.NumberID(2), "b", nil)

	assert.True(t, p.Forget(protocol.NumberID(1)))
	assert.False(t, p.Forget(protocol.NumberID(1)))

	closed := mcperrors.ConnectionClosed()
	assert.Equal(t, 1, p.FailAll(closed))

	_, err := b.Wait(context.Background())
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindCancelled))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "forgotten call is never resolved")
}

func TestPendingConcurrentResolveSingleWinner(t *testing.T) {
	p := NewPending()
	call, err := p.Register(protocol.NumberID(1), "x", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- p.Resolve(response(t, protocol.NumberID(1)))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.FailAll(errors.New("closed"))
	}()
	wg.Wait()
	close(wins)

	n := 0
	for w := range wins {
		if w {
			n++
		}
	}
	assert.LessOrEqual(t, n, 1)
	<-call.Done()
}

func TestInFlightCancel(t *testing.T) {
	f := NewInFlight()
	ctx, finish, err := f.Begin(context.Background(), protocol.NumberID(5))
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())

	assert.True(t, f.Cancel(protocol.NumberID(5), "user abort"))
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("handler context was not cancelled")
	}

	assert.True(t, finish(), "finish reports the cancellation")
	assert.Equal(t, 0, f.Len())
	assert.False(t, f.Cancel(protocol.NumberID(5), "late"), "completed request is unknown")
}

func TestInFlightFinishWithoutCancel(t *testing.T) {
	f := NewInFlight()
	ctx, finish, err := f.Begin(context.Background(), protocol.StringID("a"))
	require.NoError(t, err)

	assert.False(t, finish())
	assert.Error(t, ctx.Err(), "context is released after finish")
	assert.False(t, finish(), "finish is idempotent")

	_, finish2, err := f.Begin(context.Background(), protocol.StringID("a"))
	require.NoError(t, err, "id may be reused after completion")
	finish2()
}

func TestInFlightDuplicateAndCancelAll(t *testing.T) {
	f := NewInFlight()
	ctx1, _, err := f.Begin(context.Background(), protocol.NumberID(1))
	require.NoError(t, err)
	ctx2, _, err := f.Begin(context.Background(), protocol.NumberID(2))
	require.NoError(t, err)

	_, _, err = f.Begin(context.Background(), protocol.NumberID(1))
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindProtocolViolation))

	f.CancelAll("shutdown")
	assert.Error(t, ctx1.Err())
	assert.Error(t, ctx2.Err())
}

func TestProgressUpdates(t *testing.T) {
	p := NewProgress()
	token := protocol.StringID("tok")

	var events []Event
	require.NoError(t, p.Track(token, protocol.NumberID(9), func(ev Event) { events = append(events, ev) }))
	assert.Error(t, p.Track(token, protocol.NumberID(10), nil), "token already in use")

	total := 100.0
	for _, v := range []float64{10, 50, 40, 100} {
		_, ok := p.Update(protocol.ProgressParams{ProgressToken: token, Progress: v, Total: &total})
		require.True(t, ok)
	}

	require.Len(t, events, 4)
	assert.Equal(t, protocol.NumberID(9), events[0].RequestID)
	assert.False(t, events[1].NonMonotonic)
	assert.True(t, events[2].NonMonotonic, "50 -> 40 is flagged")
	assert.False(t, events[3].NonMonotonic)

	p.Release(token)
	_, ok := p.Update(protocol.ProgressParams{ProgressToken: token, Progress: 100})
	assert.False(t, ok, "released token is dropped")
	assert.Len(t, events, 4)
}

func TestProgressUnknownTokenAndClear(t *testing.T) {
	p := NewProgress()
	_, ok := p.Update(protocol.ProgressParams{ProgressToken: protocol.NumberID(1), Progress: 1})
	assert.False(t, ok)

	require.NoError(t, p.Track(protocol.NumberID(1), protocol.NumberID(1), nil))
	require.NoError(t, p.Track(protocol.NumberID(2), protocol.NumberID(2), nil))
	assert.Equal(t, 2, p.Len())
	p.Clear()
	assert.Equal(t, 0, p.Len())

	assert.Error(t, p.Track(protocol.NoID, protocol.NumberID(3), nil))
}
