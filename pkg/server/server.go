package server

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-engine/pkg/connection"
	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/lifecycle"
	"github.com/ajitpratap0/mcp-engine/pkg/logging"
	"github.com/ajitpratap0/mcp-engine/pkg/observability"
	"github.com/ajitpratap0/mcp-engine/pkg/pagination"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine/pkg/ratelimit"
	"github.com/ajitpratap0/mcp-engine/pkg/transport"
)

// Server is the server role of MCP. One Server serves any number of
// connections; each gets its own lifecycle, registries and rate limiter.
type Server struct {
	impl         protocol.Implementation
	caps         map[protocol.Capability][]protocol.Feature
	instructions string
	versions     []string

	router *connection.Router

	logger         logging.Logger
	metrics        *observability.Metrics
	tracer         trace.Tracer
	codes          mcperrors.Codes
	rateRules      map[ratelimit.Category]ratelimit.Rule
	requestTimeout time.Duration
	pageSize       int
	keepalive      *connection.KeepaliveConfig

	subs *subscriptions

	mu    sync.Mutex
	conns map[*connection.Connection]struct{}
}

// New creates a server announcing impl.
func New(impl protocol.Implementation, opts ...Option) *Server {
	s := &Server{
		impl:           impl,
		caps:           make(map[protocol.Capability][]protocol.Feature),
		versions:       protocol.SupportedVersions(),
		router:         connection.NewRouter(),
		logger:         logging.NewNop(),
		tracer:         observability.DefaultTracer(),
		codes:          mcperrors.DefaultCodes(),
		rateRules:      ratelimit.DefaultRules(),
		requestTimeout: connection.DefaultRequestTimeout,
		pageSize:       pagination.DefaultPageSize,
		subs:           newSubscriptions(),
		conns:          make(map[*connection.Connection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.String("component", "server"), logging.String("server", impl.Name))

	if s.Capabilities().Feature(protocol.CapabilityResources, protocol.FeatureSubscribe) {
		s.router.Handle(protocol.MethodSubscribeResource, s.handleSubscribe)
		s.router.Handle(protocol.MethodUnsubscribeResource, s.handleUnsubscribe)
	}
	return s
}

// Capabilities returns the capability set announced in initialize.
func (s *Server) Capabilities() protocol.CapabilitySet {
	names := make([]string, 0, len(s.caps))
	for c := range s.caps {
		names = append(names, string(c))
	}
	sort.Strings(names)

	decls := make([]protocol.Declaration, 0, len(names))
	for _, name := range names {
		c := protocol.Capability(name)
		decls = append(decls, protocol.Declare(c, s.caps[c]...))
	}
	return protocol.NewCapabilitySet(decls...)
}

// Handle registers a request handler. Handlers only reach connections that
// start after the registration.
func (s *Server) Handle(method string, h connection.HandlerFunc) {
	s.router.Handle(method, h)
}

// OnNotification registers a listener for client notifications such as
// notifications/roots/list_changed.
func (s *Server) OnNotification(method string, fn connection.NotificationFunc) {
	s.router.OnNotification(method, fn)
}

// Serve runs the protocol over t until the client goes away or ctx ends.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	conn := s.newConnection(t)
	s.track(conn)
	defer s.untrack(conn)

	if s.keepalive != nil {
		cfg := *s.keepalive
		onFailure := cfg.OnFailure
		cfg.OnFailure = func(err error) {
			s.logger.WithError(err).Warn("client stopped answering pings")
			_ = conn.Close()
			if onFailure != nil {
				onFailure(err)
			}
		}
		go func() { _ = connection.Keepalive(ctx, conn, cfg) }()
	}

	err := conn.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).Error("connection ended with error")
	}
	return err
}

// ServeStdio serves one client over newline-delimited JSON on r and w,
// usually os.Stdin and os.Stdout.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	t := transport.NewStdioTransport(r, w, transport.WithStdioLogger(s.logger))
	defer t.Close()
	return s.Serve(ctx, t)
}

// HTTPHandler returns a streamable HTTP endpoint that runs one connection
// per session. The caller closes it on shutdown.
func (s *Server) HTTPHandler(opts ...transport.HandlerOption) (*transport.StreamableHandler, error) {
	base := []transport.HandlerOption{
		transport.WithSupportedVersions(s.versions...),
		transport.WithHandlerLogger(s.logger),
		transport.WithHandlerMetrics(s.metrics),
	}
	return transport.NewStreamableHandler(func(sess *transport.ServerSession) {
		go func() {
			_ = s.Serve(sess.Context(), sess)
		}()
	}, append(base, opts...)...)
}

func (s *Server) newConnection(t transport.Transport) *connection.Connection {
	machine := lifecycle.New(lifecycle.RoleServer, s.impl, s.Capabilities(),
		lifecycle.WithVersions(s.versions...),
		lifecycle.WithInstructions(s.instructions),
		lifecycle.WithCodes(s.codes))
	return connection.New(t, machine, s.router,
		connection.WithLogger(s.logger),
		connection.WithMetrics(s.metrics),
		connection.WithTracer(s.tracer),
		connection.WithCodes(s.codes),
		connection.WithRateRules(s.rateRules),
		connection.WithRequestTimeout(s.requestTimeout))
}

func (s *Server) track(conn *connection.Connection) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn *connection.Connection) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.subs.dropConnection(conn)
}

// connections returns the connections that finished the handshake.
func (s *Server) connections() []*connection.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*connection.Connection, 0, len(s.conns))
	for c := range s.conns {
		if c.Machine().State() == lifecycle.StateOperational {
			out = append(out, c)
		}
	}
	return out
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Broadcast sends a notification to every operational connection.
func (s *Server) Broadcast(method string, params interface{}) {
	for _, c := range s.connections() {
		c.Notify(method, params)
	}
}

var listChangedMethods = map[protocol.Capability]string{
	protocol.CapabilityTools:     protocol.MethodToolsListChanged,
	protocol.CapabilityResources: protocol.MethodResourcesListChanged,
	protocol.CapabilityPrompts:   protocol.MethodPromptsListChanged,
}

// NotifyListChanged tells every client that the list behind capability c
// changed. c must have been declared with listChanged.
func (s *Server) NotifyListChanged(c protocol.Capability) error {
	method, ok := listChangedMethods[c]
	if !ok || !s.Capabilities().Feature(c, protocol.FeatureListChanged) {
		return mcperrors.CapabilityUnavailable(method, string(c), string(protocol.FeatureListChanged))
	}
	s.Broadcast(method, nil)
	return nil
}

// Log sends a log message to every client, each filtered by the level that
// client selected. The errors of all connections are joined.
func (s *Server) Log(ctx context.Context, level protocol.LogLevel, logger string, data interface{}) error {
	var errs []error
	for _, c := range s.connections() {
		if err := c.Log(ctx, level, logger, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
