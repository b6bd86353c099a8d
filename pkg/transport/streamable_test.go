package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sse "github.com/tmaxmax/go-sse"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

const rejectedVersion = "1999-01-01"

// echoEngine answers initialize with a result, or an error for
// rejectedVersion, and answers every other request with its method name.
func echoEngine(s *ServerSession) {
	go func() {
		for {
			frame, err := s.Receive(context.Background())
			if err != nil {
				return
			}
			msg, err := protocol.Decode(frame)
			if err != nil || msg.Kind() != protocol.KindRequest {
				continue
			}

			var reply *protocol.Message
			switch msg.Method {
			case protocol.MethodInitialize:
				var p protocol.InitializeParams
				_ = protocol.DecodeParams(msg.Params, &p)
				if p.ProtocolVersion == rejectedVersion {
					reply = protocol.NewErrorResponse(msg.ID, &protocol.Error{Code: protocol.InvalidParams, Message: "unsupported"})
				} else {
					reply, _ = protocol.NewResponse(msg.ID, protocol.InitializeResult{
						ProtocolVersion: p.ProtocolVersion,
						ServerInfo:      protocol.Implementation{Name: "echo", Version: "1.0.0"},
					})
				}
			case "slow":
				time.Sleep(50 * time.Millisecond)
				reply, _ = protocol.NewResponse(msg.ID, map[string]string{"method": msg.Method})
			default:
				reply, _ = protocol.NewResponse(msg.ID, map[string]string{"method": msg.Method})
			}
			data, _ := protocol.Encode(reply)
			_ = s.Send(context.Background(), data)
		}
	}()
}

func newTestServer(t *testing.T, opts ...HandlerOption) (*StreamableHandler, *httptest.Server) {
	t.Helper()
	h, err := NewStreamableHandler(echoEngine, opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		_ = h.Close()
		srv.Close()
	})
	return h, srv
}

func initializeFrame(version string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q,"capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`, version)
}

func post(t *testing.T, url, sessionID, body string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", ContentTypeJSON)
	req.Header.Set("Accept", ContentTypeJSON+", "+ContentTypeEventStream)
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func initialize(t *testing.T, url string) string {
	t.Helper()
	resp := post(t, url, "", initializeFrame("2025-06-18"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid := resp.Header.Get(HeaderSessionID)
	require.NotEmpty(t, sid)
	return sid
}

func streamAttached(s *ServerSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

func TestStreamableHandler_InitializeIssuesSession(t *testing.T) {
	h, srv := newTestServer(t)

	resp := post(t, srv.URL, "", initializeFrame("2025-06-18"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ContentTypeJSON, resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(HeaderSessionID))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	msg, err := protocol.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindResponse, msg.Kind())
	assert.Equal(t, 1, h.SessionCount())
}

func TestStreamableHandler_FailedInitializeIssuesNoSession(t *testing.T) {
	h, srv := newTestServer(t)

	resp := post(t, srv.URL, "", initializeFrame(rejectedVersion))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(HeaderSessionID))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	msg, err := protocol.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindErrorResponse, msg.Kind())
	assert.Zero(t, h.SessionCount())
}

func TestStreamableHandler_PostStatusCodes(t *testing.T) {
	_, srv := newTestServer(t)
	sid := initialize(t, srv.URL)

	tests := []struct {
		name      string
		sessionID string
		body      string
		headers   []string
		want      int
	}{
		{name: "notification accepted", sessionID: sid, body: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, want: http.StatusAccepted},
		{name: "response accepted", sessionID: sid, body: `{"jsonrpc":"2.0","id":9,"result":{}}`, want: http.StatusAccepted},
		{name: "request answered", sessionID: sid, body: `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, want: http.StatusOK},
		{name: "missing session", body: `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, want: http.StatusBadRequest},
		{name: "unknown session", sessionID: "nope", body: `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, want: http.StatusNotFound},
		{name: "malformed json", sessionID: sid, body: `{"jsonrpc":`, want: http.StatusBadRequest},
		{name: "batch rejected", sessionID: sid, body: `[{"jsonrpc":"2.0","id":3,"method":"ping"}]`, want: http.StatusBadRequest},
		{name: "unsupported protocol version", sessionID: sid, body: `{"jsonrpc":"2.0","id":4,"method":"ping"}`,
			headers: []string{HeaderProtocolVersion, "2000-01-01"}, want: http.StatusBadRequest},
		{name: "supported protocol version", sessionID: sid, body: `{"jsonrpc":"2.0","id":5,"method":"ping"}`,
			headers: []string{HeaderProtocolVersion, "2025-03-26"}, want: http.StatusOK},
		{name: "wrong content type", sessionID: sid, body: `{}`,
			headers: []string{"Content-Type", "text/plain"}, want: http.StatusUnsupportedMediaType},
		{name: "unacceptable response type", sessionID: sid, body: `{"jsonrpc":"2.0","id":6,"method":"ping"}`,
			headers: []string{"Accept", "text/html"}, want: http.StatusNotAcceptable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL, tt.sessionID, tt.body, tt.headers...)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestStreamableHandler_DecodeErrorCarriesJSONRPCBody(t *testing.T) {
	_, srv := newTestServer(t)
	sid := initialize(t, srv.URL)

	resp := post(t, srv.URL, sid, `{"jsonrpc":"1.0","id":7,"method":"ping"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		ID    json.RawMessage `json:"id"`
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int(protocol.InvalidRequest), body.Error.Code)
	assert.Equal(t, "7", string(body.ID))
}

func TestStreamableHandler_RequestAnsweredAsEventStream(t *testing.T) {
	_, srv := newTestServer(t)
	sid := initialize(t, srv.URL)

	resp := post(t, srv.URL, sid, `{"jsonrpc":"2.0","id":"abc","method":"tools/list"}`, "Accept", ContentTypeEventStream)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), ContentTypeEventStream))

	var frames []string
	for ev, err := range sse.Read(resp.Body, nil) {
		require.NoError(t, err)
		frames = append(frames, ev.Data)
	}
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"abc","result":{"method":"tools/list"}}`, frames[0])
}

func TestStreamableHandler_ConcurrentRequestsAreCorrelated(t *testing.T) {
	_, srv := newTestServer(t)
	sid := initialize(t, srv.URL)

	type result struct {
		id   int
		body string
	}
	results := make(chan result, 10)
	for i := 10; i < 20; i++ {
		go func(id int) {
			req, _ := http.NewRequest(http.MethodPost, srv.URL,
				strings.NewReader(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"slow"}`, id)))
			req.Header.Set("Content-Type", ContentTypeJSON)
			req.Header.Set("Accept", ContentTypeJSON)
			req.Header.Set(HeaderSessionID, sid)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				results <- result{id: id}
				return
			}
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			results <- result{id: id, body: string(data)}
		}(i)
	}

	for i := 0; i < 10; i++ {
		r := <-results
		assert.JSONEq(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"method":"slow"}}`, r.id), r.body)
	}
}

func TestStreamableHandler_OriginValidation(t *testing.T) {
	_, srv := newTestServer(t)

	tests := []struct {
		name   string
		origin string
		want   int
	}{
		{name: "no origin", want: http.StatusOK},
		{name: "localhost with port", origin: "http://localhost:3000", want: http.StatusOK},
		{name: "loopback", origin: "http://127.0.0.1", want: http.StatusOK},
		{name: "foreign origin", origin: "http://evil.example", want: http.StatusForbidden},
		{name: "lookalike host", origin: "http://localhost.evil.example", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.origin != "" {
				headers = []string{"Origin", tt.origin}
			}
			resp := post(t, srv.URL, "", initializeFrame("2025-06-18"), headers...)
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.want == http.StatusOK && tt.origin != "" {
				assert.Equal(t, tt.origin, resp.Header.Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestStreamableHandler_Preflight(t *testing.T) {
	_, srv := newTestServer(t, WithAuthorizer(AuthorizerFunc(func(r *http.Request) (context.Context, error) {
		return nil, errors.New("preflight must not be authorized")
	})))

	req, err := http.NewRequest(http.MethodOptions, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "DELETE")
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), HeaderSessionID)
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), HeaderSessionID)
}

func TestStreamableHandler_MethodNotAllowed(t *testing.T) {
	_, srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodPut, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Allow"))
}

type challengeError struct{ value string }

func (e challengeError) Error() string     { return "denied" }
func (e challengeError) Challenge() string { return e.value }

func TestStreamableHandler_Authorizer(t *testing.T) {
	type ctxKey struct{}
	authorizer := AuthorizerFunc(func(r *http.Request) (context.Context, error) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			return context.WithValue(r.Context(), ctxKey{}, "alice"), nil
		case "Bearer expired":
			return nil, challengeError{value: `Bearer error="invalid_token"`}
		default:
			return nil, errors.New("missing token")
		}
	})
	_, srv := newTestServer(t,
		WithAuthorizer(authorizer),
		WithResourceMetadataURL("https://mcp.example.com/.well-known/oauth-protected-resource"),
	)

	resp := post(t, srv.URL, "", initializeFrame("2025-06-18"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t,
		`Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`,
		resp.Header.Get(HeaderAuthenticate))

	resp = post(t, srv.URL, "", initializeFrame("2025-06-18"), "Authorization", "Bearer expired")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Bearer error="invalid_token"`, resp.Header.Get(HeaderAuthenticate))

	resp = post(t, srv.URL, "", initializeFrame("2025-06-18"), "Authorization", "Bearer good")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamableHandler_Delete(t *testing.T) {
	h, srv := newTestServer(t)
	sid := initialize(t, srv.URL)
	s, ok := h.Session(sid)
	require.True(t, ok)

	req, err := http.NewRequest(http.MethodDelete, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, sid)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, h.SessionCount())

	_, err = s.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	resp = post(t, srv.URL, sid, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	err = s.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/message"}`))
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindTransport))
}

func openStream(t *testing.T, url, sid, lastEventID string) <-chan sse.Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", ContentTypeEventStream)
	req.Header.Set(HeaderSessionID, sid)
	if lastEventID != "" {
		req.Header.Set(HeaderLastEventID, lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan sse.Event, 32)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			events <- ev
		}
	}()
	return events
}

func nextEvent(t *testing.T, events <-chan sse.Event) sse.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sse.Event{}
	}
}

func logFrame(n int) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":%d}}`, n))
}

func TestStreamableHandler_ReplayAfterLastEventID(t *testing.T) {
	h, srv := newTestServer(t)
	sid := initialize(t, srv.URL)
	s, ok := h.Session(sid)
	require.True(t, ok)

	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		require.NoError(t, s.Send(ctx, logFrame(i)))
	}

	events := openStream(t, srv.URL, sid, "5")

	ev := nextEvent(t, events)
	assert.Equal(t, "6", ev.LastEventID)
	assert.Equal(t, "message", ev.Type)
	assert.JSONEq(t, string(logFrame(6)), ev.Data)

	ev = nextEvent(t, events)
	assert.Equal(t, "7", ev.LastEventID)

	require.NoError(t, s.Send(ctx, logFrame(8)))
	ev = nextEvent(t, events)
	assert.Equal(t, "8", ev.LastEventID, "live events follow the replay without gaps or duplicates")
	assert.JSONEq(t, string(logFrame(8)), ev.Data)
}

func TestStreamableHandler_StreamWithoutLastEventIDIsLiveOnly(t *testing.T) {
	h, srv := newTestServer(t)
	sid := initialize(t, srv.URL)
	s, _ := h.Session(sid)

	require.NoError(t, s.Send(context.Background(), logFrame(1)))
	events := openStream(t, srv.URL, sid, "")
	require.Eventually(t, func() bool { return streamAttached(s) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Send(context.Background(), logFrame(2)))
	ev := nextEvent(t, events)
	assert.Equal(t, "2", ev.LastEventID)
}

func TestStreamableHandler_NewStreamReplacesOld(t *testing.T) {
	h, srv := newTestServer(t)
	sid := initialize(t, srv.URL)
	s, _ := h.Session(sid)

	first := openStream(t, srv.URL, sid, "")
	require.Eventually(t, func() bool { return streamAttached(s) }, 2*time.Second, 5*time.Millisecond)
	second := openStream(t, srv.URL, sid, "0")
	require.NoError(t, s.Send(context.Background(), logFrame(1)))

	ev := nextEvent(t, second)
	assert.Equal(t, "1", ev.LastEventID)

	select {
	case _, ok := <-first:
		assert.False(t, ok, "superseded stream must end")
	case <-time.After(2 * time.Second):
		t.Fatal("superseded stream still open")
	}
}

func TestStreamableHandler_ResponseToWaitingPostBypassesStream(t *testing.T) {
	h, srv := newTestServer(t)
	sid := initialize(t, srv.URL)
	s, _ := h.Session(sid)

	resp := post(t, srv.URL, sid, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events, err := h.store.After(context.Background(), s.id, 0)
	require.NoError(t, err)
	assert.Empty(t, events, "answers to POSTs never enter the history")
}

func TestStreamableHandler_ExpireIdleSessions(t *testing.T) {
	h, srv := newTestServer(t, WithSessionTimeout(time.Minute))
	sid := initialize(t, srv.URL)
	s, _ := h.Session(sid)

	assert.Zero(t, h.expire(time.Now()))
	assert.Equal(t, 1, h.expire(time.Now().Add(2*time.Minute)))
	assert.Zero(t, h.SessionCount())

	_, err := s.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamableHandler_OptionValidation(t *testing.T) {
	_, err := NewStreamableHandler(nil)
	assert.Error(t, err)

	tests := []struct {
		name string
		opt  HandlerOption
	}{
		{name: "bad origin pattern", opt: WithAllowedOrigins("http://[")},
		{name: "nil store", opt: WithEventStore(nil)},
		{name: "zero timeout", opt: WithSessionTimeout(0)},
		{name: "no versions", opt: WithSupportedVersions()},
		{name: "zero body", opt: WithMaxBodyBytes(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStreamableHandler(echoEngine, tt.opt)
			assert.Error(t, err)
		})
	}
}

func TestStreamableHandler_BodyLimit(t *testing.T) {
	_, srv := newTestServer(t, WithMaxBodyBytes(256))
	sid := initialize(t, srv.URL)

	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":%q}}`, strings.Repeat("x", 512))
	resp := post(t, srv.URL, sid, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestStreamableClient_RoundTrip(t *testing.T) {
	h, srv := newTestServer(t)
	c := NewStreamableClient(srv.URL, WithReconnectDelay(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Send(ctx, []byte(initializeFrame("2025-06-18"))))
	frame, err := c.Receive(ctx)
	require.NoError(t, err)
	msg, err := protocol.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindResponse, msg.Kind())

	sid := c.SessionID()
	require.NotEmpty(t, sid)
	c.SetProtocolVersion("2025-06-18")

	require.NoError(t, c.Send(ctx, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	require.NoError(t, c.Send(ctx, []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)))
	frame, err = c.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"result":{"method":"tools/list"}}`, string(frame))

	s, ok := h.Session(sid)
	require.True(t, ok)
	require.Eventually(t, func() bool { return streamAttached(s) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Send(ctx, logFrame(1)))
	frame, err = c.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, string(logFrame(1)), string(frame))

	require.NoError(t, c.Close())
	assert.Zero(t, h.SessionCount(), "Close terminates the session with DELETE")

	_, err = c.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
	err = c.Send(ctx, []byte(`{"jsonrpc":"2.0","id":3,"method":"ping"}`))
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindTransport))
}

func TestStreamableClient_ResumesStreamAfterDrop(t *testing.T) {
	h, srv := newTestServer(t)
	c := NewStreamableClient(srv.URL, WithReconnectDelay(10*time.Millisecond))
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Send(ctx, []byte(initializeFrame("2025-06-18"))))
	_, err := c.Receive(ctx)
	require.NoError(t, err)

	s, _ := h.Session(c.SessionID())
	require.Eventually(t, func() bool { return streamAttached(s) }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Send(ctx, logFrame(1)))
	frame, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, string(logFrame(1)), string(frame))

	// Cut the stream, then push while the client is away.
	s.mu.Lock()
	close(s.stream)
	s.stream = nil
	s.mu.Unlock()
	require.NoError(t, s.Send(ctx, logFrame(2)))

	frame, err = c.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, string(logFrame(2)), string(frame), "reconnect replays through Last-Event-ID")
}

func TestStreamableClient_Unauthorized(t *testing.T) {
	_, srv := newTestServer(t,
		WithAuthorizer(AuthorizerFunc(func(r *http.Request) (context.Context, error) {
			if r.Header.Get("Authorization") != "Bearer good" {
				return nil, errors.New("bad token")
			}
			return r.Context(), nil
		})),
		WithResourceMetadataURL("https://mcp.example.com/prm"),
	)
	ctx := context.Background()

	c := NewStreamableClient(srv.URL)
	defer c.Close()
	err := c.Send(ctx, []byte(initializeFrame("2025-06-18")))
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindUnauthorized))
	mcpErr, ok := mcperrors.AsMCPError(err)
	require.True(t, ok)
	data, ok := mcpErr.Data().(*mcperrors.UnauthorizedData)
	require.True(t, ok)
	assert.Equal(t, `Bearer resource_metadata="https://mcp.example.com/prm"`, data.WWWAuthenticate)

	authed := NewStreamableClient(srv.URL, WithHeader("Authorization", "Bearer good"), WithoutListener())
	defer authed.Close()
	require.NoError(t, authed.Send(ctx, []byte(initializeFrame("2025-06-18"))))
}

func TestStreamableClient_SessionExpiryEndsTransport(t *testing.T) {
	h, srv := newTestServer(t)
	c := NewStreamableClient(srv.URL, WithoutListener())
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Send(ctx, []byte(initializeFrame("2025-06-18"))))
	_, err := c.Receive(ctx)
	require.NoError(t, err)

	s, _ := h.Session(c.SessionID())
	require.NoError(t, s.Close())

	err = c.Send(ctx, []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`))
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindSessionNotFound))
	_, err = c.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamableClient_HTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewStreamableClient(srv.URL)
	defer c.Close()
	err := c.Send(context.Background(), bytes.TrimSpace([]byte(initializeFrame("2025-06-18"))))
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindTransport))
	assert.Contains(t, err.Error(), "500")
}
