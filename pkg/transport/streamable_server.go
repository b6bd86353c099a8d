package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	sse "github.com/tmaxmax/go-sse"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/logging"
	"github.com/ajitpratap0/mcp-engine/pkg/observability"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

const (
	// DefaultSessionTimeout is how long a session without an attached stream
	// survives without traffic.
	DefaultSessionTimeout = 30 * time.Minute

	// DefaultMaxBodyBytes bounds a POST body.
	DefaultMaxBodyBytes = 4 * 1024 * 1024

	streamBuffer = 64
	sseEventType = "message"
)

// DefaultAllowedOrigins are the browser origins accepted when no allow-list
// is configured.
var DefaultAllowedOrigins = []string{
	"http://localhost",
	"http://localhost:*",
	"http://127.0.0.1",
	"http://127.0.0.1:*",
}

var (
	jsonMediaType        = contenttype.NewMediaType(ContentTypeJSON)
	eventStreamMediaType = contenttype.NewMediaType(ContentTypeEventStream)
	postMediaTypes       = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
	streamMediaTypes     = []contenttype.MediaType{eventStreamMediaType}
)

// Authorizer runs before any message is dispatched. A nil error admits the
// request with the returned context; a non-nil error answers 401.
type Authorizer interface {
	Authorize(r *http.Request) (context.Context, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(r *http.Request) (context.Context, error)

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(r *http.Request) (context.Context, error) {
	return f(r)
}

// Challenger is implemented by authorization errors that carry their own
// WWW-Authenticate value.
type Challenger interface {
	Challenge() string
}

// StreamableHandler serves the streamable HTTP transport on a single
// endpoint. Every session created by an initialize POST is handed to the
// onSession callback, which is expected to attach a Connection and return.
type StreamableHandler struct {
	onSession func(*ServerSession)

	store          EventStore
	origins        []glob.Glob
	authorizer     Authorizer
	resourceMeta   string
	versions       []string
	sessionTimeout time.Duration
	maxBody        int64
	heartbeat      time.Duration
	logger         logging.Logger
	metrics        *observability.Metrics

	mu       sync.RWMutex
	sessions map[string]*ServerSession

	http      http.Handler
	stop      chan struct{}
	closeOnce sync.Once
}

// HandlerOption configures a StreamableHandler.
type HandlerOption func(*StreamableHandler) error

// WithEventStore sets where push events are kept for replay.
func WithEventStore(store EventStore) HandlerOption {
	return func(h *StreamableHandler) error {
		if store == nil {
			return errors.New("event store cannot be nil")
		}
		h.store = store
		return nil
	}
}

// WithAllowedOrigins replaces the origin allow-list. Patterns use glob
// syntax; "*" admits any origin.
func WithAllowedOrigins(patterns ...string) HandlerOption {
	return func(h *StreamableHandler) error {
		compiled := make([]glob.Glob, 0, len(patterns))
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return fmt.Errorf("invalid origin pattern %q: %w", p, err)
			}
			compiled = append(compiled, g)
		}
		h.origins = compiled
		return nil
	}
}

// WithAuthorizer installs the pre-dispatch authorization hook.
func WithAuthorizer(a Authorizer) HandlerOption {
	return func(h *StreamableHandler) error {
		h.authorizer = a
		return nil
	}
}

// WithResourceMetadataURL sets the protected resource metadata document
// referenced by 401 challenges.
func WithResourceMetadataURL(url string) HandlerOption {
	return func(h *StreamableHandler) error {
		h.resourceMeta = url
		return nil
	}
}

// WithSupportedVersions restricts the accepted Mcp-Protocol-Version values.
func WithSupportedVersions(versions ...string) HandlerOption {
	return func(h *StreamableHandler) error {
		if len(versions) == 0 {
			return errors.New("at least one protocol version is required")
		}
		h.versions = append([]string(nil), versions...)
		return nil
	}
}

// WithSessionTimeout sets the idle expiry of sessions.
func WithSessionTimeout(d time.Duration) HandlerOption {
	return func(h *StreamableHandler) error {
		if d <= 0 {
			return errors.New("session timeout must be positive")
		}
		h.sessionTimeout = d
		return nil
	}
}

// WithMaxBodyBytes bounds POST bodies.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *StreamableHandler) error {
		if n <= 0 {
			return errors.New("max body size must be positive")
		}
		h.maxBody = n
		return nil
	}
}

// WithHeartbeat makes open streams emit an SSE comment every d. Zero
// disables it.
func WithHeartbeat(d time.Duration) HandlerOption {
	return func(h *StreamableHandler) error {
		h.heartbeat = d
		return nil
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger logging.Logger) HandlerOption {
	return func(h *StreamableHandler) error {
		if logger != nil {
			h.logger = logger
		}
		return nil
	}
}

// WithHandlerMetrics records sessions and stream events.
func WithHandlerMetrics(m *observability.Metrics) HandlerOption {
	return func(h *StreamableHandler) error {
		h.metrics = m
		return nil
	}
}

// NewStreamableHandler creates the HTTP endpoint. onSession must not block.
func NewStreamableHandler(onSession func(*ServerSession), opts ...HandlerOption) (*StreamableHandler, error) {
	if onSession == nil {
		return nil, errors.New("session callback cannot be nil")
	}
	h := &StreamableHandler{
		onSession:      onSession,
		versions:       protocol.SupportedVersions(),
		sessionTimeout: DefaultSessionTimeout,
		maxBody:        DefaultMaxBodyBytes,
		logger:         logging.NewNop(),
		sessions:       make(map[string]*ServerSession),
		stop:           make(chan struct{}),
	}
	if err := WithAllowedOrigins(DefaultAllowedOrigins...)(h); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.store == nil {
		h.store = NewMemoryEventStore(DefaultHistoryLimit)
	}
	h.logger = h.logger.WithFields(logging.String("component", "StreamableHTTP"))
	h.http = logging.HTTPMiddleware(h.logger)(http.HandlerFunc(h.serve))

	go h.reap()
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *StreamableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.http.ServeHTTP(w, r)
}

// SessionCount returns the number of live sessions.
func (h *StreamableHandler) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Session returns a live session by id.
func (h *StreamableHandler) Session(id string) (*ServerSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Close terminates every session and stops the expiry loop.
func (h *StreamableHandler) Close() error {
	h.closeOnce.Do(func() { close(h.stop) })

	h.mu.RLock()
	live := make([]*ServerSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.RUnlock()

	for _, s := range live {
		_ = s.Close()
	}
	return nil
}

func (h *StreamableHandler) serve(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" {
		if !h.originAllowed(origin) {
			h.logger.Warn("origin rejected", logging.String("origin", origin))
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Expose-Headers", HeaderSessionID+", "+HeaderAuthenticate)
		w.Header().Add("Vary", "Origin")
	}

	if r.Method == http.MethodOptions {
		h.handlePreflight(w)
		return
	}

	if h.authorizer != nil {
		ctx, err := h.authorizer.Authorize(r)
		if err != nil {
			h.logger.WithContext(r.Context()).Info("authorization denied", logging.ErrorField(err))
			w.Header().Set(HeaderAuthenticate, h.challenge(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if ctx != nil {
			r = r.WithContext(ctx)
		}
	}

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *StreamableHandler) originAllowed(origin string) bool {
	for _, g := range h.origins {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

func (h *StreamableHandler) challenge(err error) string {
	var c Challenger
	if errors.As(err, &c) && c.Challenge() != "" {
		return c.Challenge()
	}
	if h.resourceMeta == "" {
		return "Bearer"
	}
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(h.resourceMeta)
	return fmt.Sprintf(`Bearer resource_metadata="%s"`, esc)
}

func (h *StreamableHandler) handlePreflight(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
		"Content-Type", "Accept", "Authorization", HeaderSessionID, HeaderProtocolVersion, HeaderLastEventID,
	}, ", "))
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// checkVersion enforces Mcp-Protocol-Version on requests after initialize.
// A missing header is accepted for older clients.
func (h *StreamableHandler) checkVersion(w http.ResponseWriter, r *http.Request) bool {
	v := r.Header.Get(HeaderProtocolVersion)
	if v == "" || protocol.IsSupported(v, h.versions) {
		return true
	}
	http.Error(w, fmt.Sprintf("unsupported protocol version %q", v), http.StatusBadRequest)
	return false
}

// sessionFor resolves the session header, writing 400 or 404 on failure.
func (h *StreamableHandler) sessionFor(w http.ResponseWriter, r *http.Request) (*ServerSession, bool) {
	sid := r.Header.Get(HeaderSessionID)
	if sid == "" {
		http.Error(w, "missing "+HeaderSessionID+" header", http.StatusBadRequest)
		return nil, false
	}
	s, ok := h.Session(sid)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}

func (h *StreamableHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	accepted, _, err := contenttype.GetAcceptableMediaType(r, postMediaTypes)
	if err != nil {
		http.Error(w, "client must accept application/json or text/event-stream", http.StatusNotAcceptable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	msg, err := protocol.Decode(body)
	if err != nil {
		h.metrics.RecordProtocolViolation("decode")
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			writeJSON(w, http.StatusBadRequest, protocol.NewErrorResponse(de.ID, de.RPCError()))
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if msg.Kind() == protocol.KindRequest && msg.Method == protocol.MethodInitialize && r.Header.Get(HeaderSessionID) == "" {
		h.handleInitialize(w, r, msg, body, accepted)
		return
	}

	s, ok := h.sessionFor(w, r)
	if !ok {
		return
	}
	if !h.checkVersion(w, r) {
		return
	}
	s.touch()

	if msg.Kind() != protocol.KindRequest {
		if err := s.deliver(r.Context(), body); err != nil {
			http.Error(w, "session closed", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	reply, ok := h.exchange(w, r, s, msg, body)
	if !ok {
		return
	}
	h.writeReply(w, r, accepted, reply)
}

func (h *StreamableHandler) handleInitialize(w http.ResponseWriter, r *http.Request, msg *protocol.Message, body []byte, accepted contenttype.MediaType) {
	s := h.newSession(context.WithoutCancel(r.Context()))
	h.onSession(s)

	reply, ok := h.exchange(w, r, s, msg, body)
	if !ok {
		_ = s.Close()
		return
	}
	if answer, err := protocol.Decode(reply); err != nil || answer.Kind() == protocol.KindErrorResponse {
		_ = s.Close()
	} else {
		w.Header().Set(HeaderSessionID, s.id)
	}
	h.writeReply(w, r, accepted, reply)
}

// exchange hands a request to the session and waits for its answer. On
// failure the HTTP response has already been written.
func (h *StreamableHandler) exchange(w http.ResponseWriter, r *http.Request, s *ServerSession, msg *protocol.Message, body []byte) ([]byte, bool) {
	key := msg.ID.String()
	reply, err := s.await(key)
	if err != nil {
		writeJSON(w, http.StatusConflict, protocol.NewErrorResponse(msg.ID, mcperrors.ToProtocolError(err)))
		return nil, false
	}
	defer s.release(key)

	if err := s.deliver(r.Context(), body); err != nil {
		writeJSON(w, http.StatusNotFound, protocol.NewErrorResponse(msg.ID, mcperrors.ToProtocolError(err)))
		return nil, false
	}

	select {
	case frame := <-reply:
		return frame, true
	case <-s.done:
		writeJSON(w, http.StatusServiceUnavailable,
			protocol.NewErrorResponse(msg.ID, mcperrors.ToProtocolError(mcperrors.ConnectionClosed())))
		return nil, false
	case <-r.Context().Done():
		s.abandon(msg.ID)
		return nil, false
	}
}

func (h *StreamableHandler) writeReply(w http.ResponseWriter, r *http.Request, accepted contenttype.MediaType, frame []byte) {
	if !accepted.Matches(eventStreamMediaType) {
		w.Header().Set("Content-Type", ContentTypeJSON)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(frame)
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		h.logger.WithError(err).Error("sse upgrade failed")
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	msg := &sse.Message{Type: sse.Type(sseEventType)}
	msg.AppendData(string(frame))
	if err := sess.Send(msg); err == nil {
		_ = sess.Flush()
	}
}

func (h *StreamableHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, streamMediaTypes); err != nil {
		http.Error(w, "client must accept text/event-stream", http.StatusNotAcceptable)
		return
	}
	s, ok := h.sessionFor(w, r)
	if !ok {
		return
	}
	if !h.checkVersion(w, r) {
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		h.logger.WithError(err).Error("sse upgrade failed")
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(HeaderSessionID, s.id)

	logger := h.logger.WithContext(r.Context()).WithFields(logging.String("session_id", s.id))
	events := s.attach()
	defer s.detach(events)

	var lastSent int64
	if raw := sess.LastEventID.String(); raw != "" {
		lastID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			logger.Warn("ignoring malformed Last-Event-ID", logging.String("last_event_id", raw))
		} else {
			lastSent = lastID
			missed, err := h.store.After(r.Context(), s.id, lastID)
			if err != nil {
				logger.WithError(err).Error("event history lookup failed")
			}
			for _, ev := range missed {
				if err := sendEvent(sess, ev); err != nil {
					return
				}
				lastSent = ev.ID
			}
			h.metrics.RecordSSEReplay(len(missed))
			logger.Debug("replayed events", logging.Int("count", len(missed)), logging.Int64("last_event_id", lastID))
		}
	}
	if err := sess.Flush(); err != nil {
		return
	}

	var beat <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		beat = ticker.C
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.ID <= lastSent {
				continue
			}
			if err := sendEvent(sess, ev); err != nil {
				logger.WithError(err).Debug("stream write failed")
				return
			}
			lastSent = ev.ID
		case <-beat:
			ping := &sse.Message{}
			ping.AppendComment("keepalive")
			if err := sess.Send(ping); err != nil {
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		case <-s.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func sendEvent(sess *sse.Session, ev Event) error {
	msg := &sse.Message{ID: sse.ID(strconv.FormatInt(ev.ID, 10)), Type: sse.Type(sseEventType)}
	msg.AppendData(string(ev.Data))
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}

func (h *StreamableHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFor(w, r)
	if !ok {
		return
	}
	_ = s.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (h *StreamableHandler) newSession(ctx context.Context) *ServerSession {
	s := &ServerSession{
		ctx:      ctx,
		id:       uuid.NewString(),
		handler:  h,
		incoming: make(chan []byte, 16),
		done:     make(chan struct{}),
		waiters:  make(map[string]chan []byte),
		lastUsed: time.Now(),
	}
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	h.metrics.RecordSessionDelta(1)
	h.logger.Info("session created", logging.String("session_id", s.id))
	return s
}

func (h *StreamableHandler) forget(s *ServerSession) {
	h.mu.Lock()
	_, ok := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.metrics.RecordSessionDelta(-1)
	if err := h.store.Drop(context.Background(), s.id); err != nil {
		h.logger.WithError(err).Warn("failed to drop event history", logging.String("session_id", s.id))
	}
	h.logger.Info("session closed", logging.String("session_id", s.id))
}

func (h *StreamableHandler) reap() {
	interval := h.sessionTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			h.expire(now)
		}
	}
}

// expire closes sessions idle for longer than the timeout. Sessions with an
// open stream stay alive.
func (h *StreamableHandler) expire(now time.Time) int {
	h.mu.RLock()
	var stale []*ServerSession
	for _, s := range h.sessions {
		if s.idleSince(now) > h.sessionTimeout {
			stale = append(stale, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		h.logger.Info("session expired", logging.String("session_id", s.id))
		_ = s.Close()
	}
	return len(stale)
}

// ServerSession is the server end of one HTTP session. It implements
// Transport: POSTed frames come out of Receive, and Send either answers a
// waiting POST or appends a push event to the session stream.
type ServerSession struct {
	ctx      context.Context
	id       string
	handler  *StreamableHandler
	incoming chan []byte
	done     chan struct{}

	closeOnce sync.Once
	sendMu    sync.Mutex

	mu       sync.Mutex
	waiters  map[string]chan []byte
	stream   chan Event
	lastUsed time.Time
}

// Context returns the values of the initialize request, including whatever
// the Authorizer attached. It is never cancelled.
func (s *ServerSession) Context() context.Context {
	return s.ctx
}

// SessionID implements SessionTransport.
func (s *ServerSession) SessionID() string {
	return s.id
}

// Send implements Transport.
func (s *ServerSession) Send(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return mcperrors.TransportClosed("http")
	default:
	}

	if msg, err := protocol.Decode(frame); err == nil {
		k := msg.Kind()
		if k == protocol.KindResponse || k == protocol.KindErrorResponse {
			if s.answer(msg.ID.String(), frame) {
				return nil
			}
		}
	}
	return s.push(ctx, frame)
}

func (s *ServerSession) answer(key string, frame []byte) bool {
	s.mu.Lock()
	ch, ok := s.waiters[key]
	if ok {
		delete(s.waiters, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- frame
	return true
}

// push stores the frame in the session history and forwards it to the
// attached stream. Appending and forwarding are serialized so the stream
// sees ids in order.
func (s *ServerSession) push(ctx context.Context, frame []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	ev, err := s.handler.store.Append(ctx, s.id, frame)
	if err != nil {
		return mcperrors.HTTPTransportError("append_event", "", 0, err)
	}
	s.handler.metrics.RecordSSEEvent()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	select {
	case s.stream <- ev:
	default:
		// Slow reader: drop the stream so the client reconnects and replays.
		close(s.stream)
		s.stream = nil
	}
	return nil
}

// Receive implements Transport.
func (s *ServerSession) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-s.incoming:
		return frame, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the session. Receive returns io.EOF afterwards.
func (s *ServerSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.stream != nil {
			close(s.stream)
			s.stream = nil
		}
		s.mu.Unlock()
		s.handler.forget(s)
	})
	return nil
}

func (s *ServerSession) deliver(ctx context.Context, frame []byte) error {
	select {
	case s.incoming <- frame:
		return nil
	case <-s.done:
		return mcperrors.SessionNotFound(s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abandon tells the engine that the client stopped waiting for a request.
func (s *ServerSession) abandon(id protocol.RequestID) {
	note, err := protocol.NewNotification(protocol.MethodCancelled, protocol.CancelledParams{
		RequestID: id,
		Reason:    "client disconnected",
	})
	if err != nil {
		return
	}
	frame, err := protocol.Encode(note)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.deliver(ctx, frame)
}

func (s *ServerSession) await(key string) (chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.waiters[key]; dup {
		return nil, mcperrors.InvalidRequest(fmt.Sprintf("request id %s is already in flight", key))
	}
	ch := make(chan []byte, 1)
	s.waiters[key] = ch
	return ch, nil
}

func (s *ServerSession) release(key string) {
	s.mu.Lock()
	delete(s.waiters, key)
	s.mu.Unlock()
}

// attach installs a new stream subscriber, closing any previous one.
func (s *ServerSession) attach() chan Event {
	ch := make(chan Event, streamBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		close(s.stream)
	}
	select {
	case <-s.done:
		close(ch)
	default:
		s.stream = ch
	}
	return ch
}

func (s *ServerSession) detach(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == ch {
		close(ch)
		s.stream = nil
	}
	s.lastUsed = time.Now()
}

func (s *ServerSession) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *ServerSession) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return 0
	}
	return now.Sub(s.lastUsed)
}

func writeJSON(w http.ResponseWriter, status int, msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
