package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ajitpratap0/mcp-engine/pkg/connection"
	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/lifecycle"
	"github.com/ajitpratap0/mcp-engine/pkg/logging"
	"github.com/ajitpratap0/mcp-engine/pkg/pagination"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine/pkg/transport"
)

// Client is the client role of MCP over a single transport. The read loop
// starts in New; Initialize must succeed before any other call.
type Client struct {
	transport transport.Transport
	machine   *lifecycle.Machine
	conn      *connection.Connection

	caps     []protocol.Declaration
	versions []string
	codes    mcperrors.Codes
	router   *connection.Router
	connOpts []connection.Option
	logger   logging.Logger

	cancel   context.CancelFunc
	served   chan struct{}
	serveErr error

	closeOnce sync.Once
}

// New creates a client for impl on t and starts reading from t.
func New(t transport.Transport, impl protocol.Implementation, opts ...Option) *Client {
	c := &Client{
		transport: t,
		versions:  protocol.SupportedVersions(),
		codes:     mcperrors.DefaultCodes(),
		router:    connection.NewRouter(),
		logger:    logging.NewNop(),
		served:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logging.String("client", impl.Name))

	c.machine = lifecycle.New(lifecycle.RoleClient, impl, protocol.NewCapabilitySet(c.caps...),
		lifecycle.WithVersions(c.versions...),
		lifecycle.WithCodes(c.codes))
	connOpts := append([]connection.Option{
		connection.WithLogger(c.logger),
		connection.WithCodes(c.codes),
	}, c.connOpts...)
	c.conn = connection.New(t, c.machine, c.router, connOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		defer close(c.served)
		err := c.conn.Serve(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		c.serveErr = err
	}()
	return c
}

// Initialize performs the handshake. A server answering with a version this
// client does not support yields UnsupportedVersion; the transport stays
// open and closing it is up to the caller.
func (c *Client) Initialize(ctx context.Context) (protocol.InitializeResult, error) {
	var result protocol.InitializeResult
	params, err := c.machine.BeginInitialize()
	if err != nil {
		return result, err
	}
	if err := c.conn.Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return result, err
	}
	if err := c.machine.CompleteInitialize(result); err != nil {
		c.logger.WithError(err).Warn("server chose an unsupported protocol version")
		return result, err
	}

	if va, ok := c.transport.(transport.VersionAware); ok {
		va.SetProtocolVersion(result.ProtocolVersion)
	}
	c.conn.Notify(protocol.MethodInitialized, nil)

	c.logger.Info("initialized",
		logging.String("server", result.ServerInfo.Name),
		logging.String("protocol_version", result.ProtocolVersion))
	return result, nil
}

// Connection exposes the underlying connection.
func (c *Client) Connection() *connection.Connection {
	return c.conn
}

// ServerInfo returns the server's implementation info after Initialize.
func (c *Client) ServerInfo() protocol.Implementation {
	return c.machine.PeerInfo()
}

// ServerCapabilities returns what the server declared.
func (c *Client) ServerCapabilities() protocol.CapabilitySet {
	return c.machine.PeerCapabilities()
}

// ProtocolVersion returns the negotiated version, empty before Initialize.
func (c *Client) ProtocolVersion() string {
	return c.machine.Negotiated()
}

// Ping checks that the server is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Call(ctx, protocol.MethodPing, nil, nil)
}

// Call sends a request and decodes the result into result.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}, opts ...connection.CallOption) error {
	return c.conn.Call(ctx, method, params, result, opts...)
}

// CallTool invokes a tool and returns the raw result.
func (c *Client) CallTool(ctx context.Context, name string, args interface{}, opts ...connection.CallOption) (json.RawMessage, error) {
	params := protocol.CallToolParams{Name: name}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, mcperrors.InvalidParams("tool arguments: " + err.Error())
		}
		params.Arguments = raw
	}

	var result json.RawMessage
	if err := c.conn.Call(ctx, protocol.MethodCallTool, params, &result, opts...); err != nil {
		return nil, err
	}
	return result, nil
}

// ListAll walks every page of a list method and decodes the items found
// under key into into, which must be a pointer to a slice.
func (c *Client) ListAll(ctx context.Context, method, key string, into interface{}) error {
	items, err := pagination.Collect(ctx, func(ctx context.Context, cursor pagination.Cursor) (pagination.Page[json.RawMessage], error) {
		var page pagination.Page[json.RawMessage]
		var raw map[string]json.RawMessage
		if err := c.conn.Call(ctx, method, protocol.PaginatedParams{Cursor: cursor.Token()}, &raw); err != nil {
			return page, err
		}
		if list, ok := raw[key]; ok {
			if err := json.Unmarshal(list, &page.Items); err != nil {
				return page, mcperrors.InternalError(fmt.Errorf("decode %s: %w", key, err))
			}
		}
		var paged protocol.PaginatedResult
		if next, ok := raw["nextCursor"]; ok {
			if err := json.Unmarshal(next, &paged.NextCursor); err != nil {
				return page, mcperrors.InternalError(fmt.Errorf("decode nextCursor: %w", err))
			}
		}
		page.NextCursor = paged.NextCursor
		return page, nil
	})
	if err != nil {
		return err
	}
	if items == nil {
		items = []json.RawMessage{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return mcperrors.InternalError(err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return mcperrors.InternalError(fmt.Errorf("decode %s: %w", key, err))
	}
	return nil
}

// SetLogLevel asks the server to send log messages at level and above.
func (c *Client) SetLogLevel(ctx context.Context, level protocol.LogLevel) error {
	return c.conn.Call(ctx, protocol.MethodSetLogLevel, protocol.SetLevelParams{Level: level}, nil)
}

// NotifyRootsChanged tells the server the root list changed. It requires
// WithRoots(true, ...).
func (c *Client) NotifyRootsChanged() error {
	if !c.machine.LocalCapabilities().Feature(protocol.CapabilityRoots, protocol.FeatureListChanged) {
		return mcperrors.CapabilityUnavailable(protocol.MethodRootsListChanged,
			string(protocol.CapabilityRoots), string(protocol.FeatureListChanged))
	}
	c.conn.Notify(protocol.MethodRootsListChanged, nil)
	return nil
}

// StartKeepalive pings the server in the background until the client is
// closed. After cfg.MaxFailures consecutive failures the client closes.
func (c *Client) StartKeepalive(cfg connection.KeepaliveConfig) {
	onFailure := cfg.OnFailure
	cfg.OnFailure = func(err error) {
		c.logger.WithError(err).Warn("server stopped answering pings")
		if onFailure != nil {
			onFailure(err)
		}
		_ = c.Close()
	}
	go func() {
		_ = connection.Keepalive(context.Background(), c.conn, cfg)
	}()
}

// Done is closed once the connection has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Wait blocks until the read loop has ended and returns its error.
func (c *Client) Wait() error {
	<-c.served
	return c.serveErr
}

// Close shuts the connection down and waits for the read loop. Pending
// calls fail with a cancelled error. Close must not be called from a request
// handler of this client.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		c.cancel()
		<-c.served
	})
	return err
}
