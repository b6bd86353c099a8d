package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/lifecycle"
	"github.com/ajitpratap0/mcp-engine/pkg/logging"
	"github.com/ajitpratap0/mcp-engine/pkg/observability"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine/pkg/ratelimit"
	"github.com/ajitpratap0/mcp-engine/pkg/registry"
	"github.com/ajitpratap0/mcp-engine/pkg/transport"
)

// ErrAlreadyServing is returned by a second call to Serve.
var ErrAlreadyServing = errors.New("connection: already serving")

// Connection runs the MCP protocol over one transport. It owns the reader
// loop, correlates outbound calls with their responses and dispatches
// inbound requests to handlers.
type Connection struct {
	transport transport.Transport
	machine   *lifecycle.Machine
	pending   *registry.Pending
	inflight  *registry.InFlight
	progress  *registry.Progress
	limiter   *ratelimit.Limiter

	handlers map[string]HandlerFunc

	logger         logging.Logger
	metrics        *observability.Metrics
	tracer         trace.Tracer
	codes          mcperrors.Codes
	rateRules      map[ratelimit.Category]ratelimit.Rule
	requestTimeout time.Duration

	nextID  atomic.Int64
	serving atomic.Bool

	mu        sync.RWMutex
	logLevel  protocol.LogLevel
	listeners map[string][]NotificationFunc

	handlersWG sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// New creates a connection over t. machine decides the role and tracks the
// lifecycle; router supplies the application handlers and may be nil.
func New(t transport.Transport, machine *lifecycle.Machine, router *Router, opts ...Option) *Connection {
	if router == nil {
		router = NewRouter()
	}
	handlers, listeners := router.clone()

	c := &Connection{
		transport:      t,
		machine:        machine,
		pending:        registry.NewPending(),
		inflight:       registry.NewInFlight(),
		progress:       registry.NewProgress(),
		handlers:       handlers,
		listeners:      listeners,
		logger:         logging.NewNop(),
		tracer:         observability.DefaultTracer(),
		codes:          mcperrors.DefaultCodes(),
		rateRules:      ratelimit.DefaultRules(),
		requestTimeout: DefaultRequestTimeout,
		logLevel:       protocol.LogLevelInfo,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.limiter == nil {
		c.limiter = ratelimit.New(c.rateRules,
			ratelimit.WithErrorCode(c.codes.RateLimited),
			ratelimit.WithRejectHook(func(cat ratelimit.Category) {
				c.metrics.RecordRateLimited(string(cat))
			}))
	}
	if _, ok := c.handlers[protocol.MethodSetLogLevel]; !ok {
		c.handlers[protocol.MethodSetLogLevel] = c.handleSetLevel
	}

	fields := []logging.Field{
		logging.String("component", "connection"),
		logging.String("role", machine.Role().String()),
	}
	if st, ok := t.(transport.SessionTransport); ok {
		fields = append(fields, logging.String("session_id", st.SessionID()))
	}
	c.logger = c.logger.WithFields(fields...)
	return c
}

// Machine returns the lifecycle state machine of the connection.
func (c *Connection) Machine() *lifecycle.Machine {
	return c.machine
}

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// LogLevel returns the minimum level of outbound log notifications.
func (c *Connection) LogLevel() protocol.LogLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logLevel
}

// Serve runs the reader loop until the transport reports EOF, ctx ends or
// Close is called. Handlers inherit the values of ctx. Serve closes the
// connection and waits for running handlers before it returns.
func (c *Connection) Serve(ctx context.Context) error {
	if !c.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.Close()
		return c.readLoop(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			c.Close()
		case <-c.done:
		}
		return nil
	})

	err := g.Wait()
	c.handlersWG.Wait()
	return err
}

func (c *Connection) readLoop(ctx context.Context) error {
	for {
		frame, err := c.transport.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.logger.Debug("transport reached EOF")
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case c.closed():
				return nil
			}
			c.logger.WithError(err).Error("transport receive failed")
			return err
		}
		c.dispatch(ctx, frame)
	}
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) dispatch(ctx context.Context, frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		c.metrics.RecordProtocolViolation("decode")
		var de *protocol.DecodeError
		if !errors.As(err, &de) {
			c.logger.WithError(err).Warn("undecodable frame dropped")
			return
		}
		c.logger.Debug("answering malformed frame", logging.Int("code", int(de.Code)), logging.String("reason", de.Reason))
		_ = c.write(ctx, protocol.NewErrorResponse(de.ID, de.RPCError()))
		return
	}
	c.metrics.RecordMessage(observability.DirectionInbound, msg.Kind().String())

	if err := c.machine.CheckInbound(msg); err != nil {
		if errors.Is(err, lifecycle.ErrDrop) {
			c.logger.Debug("message dropped by lifecycle",
				logging.String("method", msg.Method),
				logging.String("state", c.machine.State().String()))
			return
		}
		c.replyError(ctx, msg.ID, err)
		return
	}

	switch msg.Kind() {
	case protocol.KindRequest:
		c.handleRequest(ctx, msg)
	case protocol.KindNotification:
		c.handleNotification(ctx, msg)
	case protocol.KindResponse, protocol.KindErrorResponse:
		if !c.pending.Resolve(msg) {
			c.metrics.RecordProtocolViolation("unmatched_response")
			c.logger.Debug("response without pending call dropped", logging.String("id", msg.ID.String()))
		}
	}
}

func (c *Connection) handleRequest(ctx context.Context, msg *protocol.Message) {
	switch {
	case msg.Method == protocol.MethodPing:
		c.reply(ctx, msg.ID, struct{}{})
		return
	case msg.Method == protocol.MethodInitialize && c.machine.Role() == lifecycle.RoleServer:
		c.handleInitialize(ctx, msg)
		return
	}

	if err := protocol.CheckCallee(msg.Method, c.machine.LocalCapabilities()); err != nil {
		c.replyError(ctx, msg.ID, capabilityError(err))
		return
	}
	handler, ok := c.handlers[msg.Method]
	if !ok {
		c.replyError(ctx, msg.ID, mcperrors.MethodNotFound(msg.Method))
		return
	}
	if cat, limited := ratelimit.CategoryForMethod(msg.Method); limited {
		if err := c.limiter.AllowKey(cat, ratelimit.KeyForRequest(msg.Method, msg.Params)); err != nil {
			c.replyError(ctx, msg.ID, err)
			return
		}
	}

	hctx, finish, err := c.inflight.Begin(ctx, msg.ID)
	if err != nil {
		c.metrics.RecordProtocolViolation("duplicate_request_id")
		c.replyError(ctx, msg.ID, mcperrors.InvalidRequest(err.Error()))
		return
	}

	req := &Request{
		ID:     msg.ID,
		Method: msg.Method,
		Params: msg.Params,
		conn:   c,
		token:  msg.ParamsMeta().ProgressToken,
	}
	c.handlersWG.Add(1)
	go c.run(hctx, finish, handler, req)
}

func (c *Connection) run(ctx context.Context, finish func() bool, handler HandlerFunc, req *Request) {
	defer c.handlersWG.Done()

	start := time.Now()
	ctx = logging.ContextWithRequestID(ctx, req.ID.String())
	ctx, span := observability.StartMethodSpan(ctx, c.tracer, req.Method, trace.SpanKindServer,
		attribute.String("mcp.request_id", req.ID.String()))

	result, err := c.invoke(ctx, handler, req)
	req.done.Store(true)
	cancelled := finish()
	observability.EndSpan(span, err)

	sendCtx := context.WithoutCancel(ctx)
	if cancelled {
		c.metrics.RecordRequest(observability.DirectionInbound, req.Method, "cancelled", time.Since(start))
		c.logger.Debug("response to cancelled request suppressed",
			logging.String("method", req.Method),
			logging.String("id", req.ID.String()))
		return
	}
	c.metrics.RecordRequest(observability.DirectionInbound, req.Method, outcome(err), time.Since(start))
	if err != nil {
		c.replyError(sendCtx, req.ID, err)
		return
	}
	c.reply(sendCtx, req.ID, result)
}

func (c *Connection) invoke(ctx context.Context, handler HandlerFunc, req *Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked",
				logging.String("method", req.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			err = mcperrors.InternalError(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler(ctx, req)
}

func (c *Connection) handleInitialize(ctx context.Context, msg *protocol.Message) {
	var params protocol.InitializeParams
	if err := protocol.DecodeParams(msg.Params, &params); err != nil {
		c.replyError(ctx, msg.ID, mcperrors.InvalidParams(err.Error()))
		return
	}
	result, err := c.machine.AcceptInitialize(params)
	if err != nil {
		c.logger.WithError(err).Warn("initialize rejected")
		c.replyError(ctx, msg.ID, err)
		return
	}
	c.logger.Info("initialize accepted",
		logging.String("client", params.ClientInfo.Name),
		logging.String("version", result.ProtocolVersion))
	c.reply(ctx, msg.ID, result)
}

func (c *Connection) handleSetLevel(_ context.Context, req *Request) (interface{}, error) {
	var params protocol.SetLevelParams
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	if !params.Level.Valid() {
		return nil, mcperrors.InvalidParams(fmt.Sprintf("unknown log level %q", params.Level))
	}
	c.mu.Lock()
	c.logLevel = params.Level
	c.mu.Unlock()
	return struct{}{}, nil
}

func (c *Connection) handleNotification(ctx context.Context, msg *protocol.Message) {
	switch msg.Method {
	case protocol.MethodInitialized:
		if c.machine.AcceptInitialized() {
			c.logger.Info("connection operational", logging.String("version", c.machine.Negotiated()))
		}

	case protocol.MethodCancelled:
		var params protocol.CancelledParams
		if err := protocol.DecodeParams(msg.Params, &params); err != nil {
			c.logger.WithError(err).Debug("malformed cancellation ignored")
			break
		}
		if c.inflight.Cancel(params.RequestID, params.Reason) {
			c.logger.Debug("request cancelled by peer",
				logging.String("id", params.RequestID.String()),
				logging.String("reason", params.Reason))
		}

	case protocol.MethodProgress:
		var params protocol.ProgressParams
		if err := protocol.DecodeParams(msg.Params, &params); err != nil {
			c.logger.WithError(err).Debug("malformed progress ignored")
			break
		}
		if ev, ok := c.progress.Update(params); !ok {
			c.logger.Debug("progress for unknown token dropped", logging.String("token", params.ProgressToken.String()))
		} else if ev.NonMonotonic {
			c.logger.Debug("non-monotonic progress", logging.String("token", ev.Token.String()))
		}
	}

	c.mu.RLock()
	listeners := c.listeners[msg.Method]
	c.mu.RUnlock()
	for _, fn := range listeners {
		c.notifyListener(ctx, fn, msg)
	}
}

func (c *Connection) notifyListener(ctx context.Context, fn NotificationFunc, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notification listener panicked",
				logging.String("method", msg.Method),
				logging.Any("panic", r))
		}
	}()
	fn(ctx, msg.Method, msg.Params)
}

// Call sends a request and blocks until its response arrives, the timeout
// passes, ctx ends or the connection shuts down. A non-nil result receives
// the decoded response result.
func (c *Connection) Call(ctx context.Context, method string, params, result interface{}, opts ...CallOption) (err error) {
	o := callOptions{timeout: c.requestTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	if err := c.machine.CheckOutbound(method); err != nil {
		return err
	}
	if err := protocol.CheckCallee(method, c.machine.PeerCapabilities()); err != nil {
		return capabilityError(err)
	}

	id := o.id
	if id.IsNone() {
		id = protocol.NumberID(c.nextID.Add(1))
	}

	var token *protocol.ProgressToken
	if o.progress != nil {
		t := protocol.StringID(uuid.NewString())
		token = &t
		if params, err = withProgressToken(params, t); err != nil {
			return mcperrors.InvalidParams(err.Error())
		}
	}
	msg, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return mcperrors.InvalidParams(err.Error())
	}

	call, err := c.pending.Register(id, method, token)
	if err != nil {
		return err
	}
	if token != nil {
		if err := c.progress.Track(*token, id, o.progress); err != nil {
			c.pending.Forget(id)
			return mcperrors.InternalError(err)
		}
		defer c.progress.Release(*token)
	}

	start := time.Now()
	ctx, span := observability.StartMethodSpan(ctx, c.tracer, method, trace.SpanKindClient,
		attribute.String("mcp.request_id", id.String()))
	defer func() {
		observability.EndSpan(span, err)
		c.metrics.RecordRequest(observability.DirectionOutbound, method, outcome(err), time.Since(start))
	}()

	// The deadline covers the write too: transports such as streamable HTTP
	// only return from Send once the reply is in.
	waitCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	if err := c.write(waitCtx, msg); err != nil {
		select {
		case <-call.Done():
		default:
			if c.pending.Forget(id) {
				return c.abandon(ctx, waitCtx, id, method, o.timeout, err)
			}
		}
	}

	select {
	case <-call.Done():
	case <-waitCtx.Done():
		if c.pending.Forget(id) {
			return c.abandon(ctx, waitCtx, id, method, o.timeout, waitCtx.Err())
		}
	}

	// Either resolved or lost the race against a response that is being
	// delivered right now. Both settle the call.
	resp, err := call.Wait(context.Background())
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return mcperrors.FromProtocolError(resp.Error, c.codes)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return mcperrors.InternalError(fmt.Errorf("decode %s result: %w", method, err))
		}
	}
	return nil
}

// abandon settles a call given up before its response. Expiry of the
// caller's ctx is Cancelled, expiry of the call timeout is Timeout, and both
// tell the peer to stop. Other failures are returned as they are.
func (c *Connection) abandon(ctx, waitCtx context.Context, id protocol.RequestID, method string, timeout time.Duration, cause error) error {
	switch {
	case ctx.Err() != nil:
		c.cancelRemote(id, method, ctx.Err().Error())
		return mcperrors.Cancelled(ctx.Err().Error())
	case timeout > 0 && waitCtx.Err() != nil:
		c.cancelRemote(id, method, "timeout")
		return mcperrors.Timeout(method, timeout)
	}
	return cause
}

func (c *Connection) cancelRemote(id protocol.RequestID, method, reason string) {
	if method == protocol.MethodInitialize {
		return
	}
	c.Notify(protocol.MethodCancelled, protocol.CancelledParams{RequestID: id, Reason: reason})
}

// Notify sends a notification. Notifications have no answer, so failures are
// only logged.
func (c *Connection) Notify(method string, params interface{}) {
	ctx := context.Background()
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	if err := c.notify(ctx, method, params); err != nil {
		c.logger.WithError(err).Debug("notification not sent", logging.String("method", method))
	}
}

func (c *Connection) notify(ctx context.Context, method string, params interface{}) error {
	if !c.machine.CanNotify(method) {
		if c.machine.State() == lifecycle.StateShutdown {
			return mcperrors.ConnectionClosed()
		}
		return mcperrors.InvalidRequest(fmt.Sprintf("notification %s not allowed in state %s", method, c.machine.State()))
	}
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.InvalidParams(err.Error())
	}
	return c.write(ctx, msg)
}

// Log sends a notifications/message to the peer. It requires the logging
// capability to be declared locally and drops messages below the level the
// peer asked for.
func (c *Connection) Log(ctx context.Context, level protocol.LogLevel, logger string, data interface{}) error {
	if !level.Valid() {
		return mcperrors.InvalidParams(fmt.Sprintf("unknown log level %q", level))
	}
	if !c.machine.LocalCapabilities().Has(protocol.CapabilityLogging) {
		return mcperrors.CapabilityUnavailable(protocol.MethodLogMessage, string(protocol.CapabilityLogging), "")
	}
	if !level.AtLeast(c.LogLevel()) {
		return nil
	}
	if err := c.limiter.AllowKey(ratelimit.CategoryLogs, logger); err != nil {
		return err
	}
	return c.notify(ctx, protocol.MethodLogMessage, protocol.LoggingMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}

// Close shuts the connection down. Outstanding calls fail with a cancelled
// error, running handlers are cancelled and the transport is closed. Close
// is idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.machine.Shutdown()
		if n := c.pending.FailAll(mcperrors.ConnectionClosed()); n > 0 {
			c.logger.Debug("failed outstanding calls", logging.Int("count", n))
		}
		c.inflight.CancelAll("connection closed")
		c.progress.Clear()

		c.mu.Lock()
		c.listeners = nil
		c.mu.Unlock()

		close(c.done)
		c.closeErr = c.transport.Close()
		c.logger.Info("connection closed")
	})
	return c.closeErr
}

func (c *Connection) reply(ctx context.Context, id protocol.RequestID, result interface{}) {
	msg, err := protocol.NewResponse(id, result)
	if err != nil {
		c.replyError(ctx, id, mcperrors.InternalError(err))
		return
	}
	_ = c.write(ctx, msg)
}

func (c *Connection) replyError(ctx context.Context, id protocol.RequestID, err error) {
	_ = c.write(ctx, protocol.NewErrorResponse(id, mcperrors.ToProtocolError(err)))
}

func (c *Connection) write(ctx context.Context, msg *protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.logger.WithError(err).Error("failed to encode message")
		return mcperrors.InternalError(err)
	}
	if err := c.transport.Send(ctx, frame); err != nil {
		if c.closed() {
			c.logger.Debug("send after close dropped", logging.String("kind", msg.Kind().String()))
		} else {
			c.logger.WithError(err).Warn("transport send failed", logging.String("kind", msg.Kind().String()))
		}
		return err
	}
	c.metrics.RecordMessage(observability.DirectionOutbound, msg.Kind().String())
	return nil
}

func capabilityError(err error) error {
	var capErr *protocol.CapabilityError
	if errors.As(err, &capErr) {
		return mcperrors.CapabilityUnavailable(capErr.Method, string(capErr.Capability), string(capErr.Feature))
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case mcperrors.IsKind(err, mcperrors.KindTimeout):
		return "timeout"
	case mcperrors.IsKind(err, mcperrors.KindCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

// withProgressToken merges params._meta.progressToken into params, which
// must encode to a JSON object or null.
func withProgressToken(params interface{}, token protocol.ProgressToken) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		if trimmed := bytes.TrimSpace(raw); !bytes.Equal(trimmed, []byte("null")) {
			if err := json.Unmarshal(trimmed, &fields); err != nil {
				return nil, fmt.Errorf("progress requires object params: %w", err)
			}
		}
	}

	meta := make(map[string]json.RawMessage)
	if existing, ok := fields["_meta"]; ok {
		if err := json.Unmarshal(existing, &meta); err != nil {
			return nil, fmt.Errorf("params._meta must be an object: %w", err)
		}
	}
	tok, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}
	meta["progressToken"] = tok
	if fields["_meta"], err = json.Marshal(meta); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}
