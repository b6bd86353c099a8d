package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	sse "github.com/tmaxmax/go-sse"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/logging"
)

const (
	// DefaultReconnectDelay is the pause before reopening a dropped stream.
	DefaultReconnectDelay = time.Second

	closeTimeout = 5 * time.Second
)

// StreamableClient is the client end of the streamable HTTP transport. Each
// Send is one POST; answers arrive either in the POST response or on the
// session's GET stream, and both feed Receive.
type StreamableClient struct {
	endpoint       string
	client         *http.Client
	headers        http.Header
	logger         logging.Logger
	reconnectDelay time.Duration
	listen         bool
	maxEventSize   int

	incoming chan []byte
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	stopOnce  sync.Once
	closeOnce sync.Once

	mu          sync.RWMutex
	sessionID   string
	version     string
	lastEventID string
	listening   bool
}

// ClientOption configures a StreamableClient.
type ClientOption func(*StreamableClient)

// WithHTTPClient sets the HTTP client used for every exchange.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *StreamableClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithHeader adds a header to every request, for example Authorization.
func WithHeader(key, value string) ClientOption {
	return func(c *StreamableClient) {
		c.headers.Add(key, value)
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger logging.Logger) ClientOption {
	return func(c *StreamableClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReconnectDelay sets the pause between stream reconnects.
func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *StreamableClient) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithoutListener disables the GET stream. Server-initiated messages are
// then only seen inside POST responses.
func WithoutListener() ClientOption {
	return func(c *StreamableClient) {
		c.listen = false
	}
}

// WithMaxEventSize bounds a single event read from a stream.
func WithMaxEventSize(n int) ClientOption {
	return func(c *StreamableClient) {
		if n > 0 {
			c.maxEventSize = n
		}
	}
}

// NewStreamableClient creates a client for the MCP endpoint at endpoint.
func NewStreamableClient(endpoint string, opts ...ClientOption) *StreamableClient {
	ctx, cancel := context.WithCancel(context.Background())
	c := &StreamableClient{
		endpoint:       endpoint,
		client:         http.DefaultClient,
		headers:        make(http.Header),
		logger:         logging.NewNop(),
		reconnectDelay: DefaultReconnectDelay,
		listen:         true,
		maxEventSize:   DefaultMaxFrameSize,
		incoming:       make(chan []byte, 64),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logging.String("component", "StreamableHTTPClient"), logging.String("endpoint", endpoint))
	return c
}

// SessionID implements SessionTransport. It is empty until the server
// answered initialize.
func (c *StreamableClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// SetProtocolVersion implements VersionAware.
func (c *StreamableClient) SetProtocolVersion(version string) {
	c.mu.Lock()
	c.version = version
	c.mu.Unlock()
}

func (c *StreamableClient) newRequest(ctx context.Context, method string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint, rd)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	c.mu.RLock()
	if c.sessionID != "" {
		req.Header.Set(HeaderSessionID, c.sessionID)
	}
	if c.version != "" {
		req.Header.Set(HeaderProtocolVersion, c.version)
	}
	c.mu.RUnlock()
	return req, nil
}

// Send implements Transport. ctx bounds the exchange until the response
// headers arrive; a streamed answer is read in the background.
func (c *StreamableClient) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return mcperrors.TransportClosed("http")
	default:
	}

	reqCtx, cancel := context.WithCancel(c.ctx)
	stop := context.AfterFunc(ctx, cancel)

	req, err := c.newRequest(reqCtx, http.MethodPost, frame)
	if err != nil {
		cancel()
		return mcperrors.HTTPTransportError("send", c.endpoint, 0, err)
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	req.Header.Set("Accept", ContentTypeJSON+", "+ContentTypeEventStream)

	resp, err := c.client.Do(req)
	if !stop() {
		if resp != nil {
			resp.Body.Close()
		}
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return mcperrors.TransportClosed("http")
	}
	if err != nil {
		cancel()
		return mcperrors.HTTPTransportError("send", c.endpoint, 0, err)
	}

	if sid := resp.Header.Get(HeaderSessionID); sid != "" {
		c.adoptSession(sid)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		drain(resp, cancel)
		return mcperrors.Unauthorized(resp.Header.Get(HeaderAuthenticate))
	case resp.StatusCode == http.StatusNotFound && c.SessionID() != "":
		drain(resp, cancel)
		c.logger.Warn("session expired on server", logging.String("session_id", c.SessionID()))
		c.stop()
		return mcperrors.SessionNotFound(c.SessionID())
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		drain(resp, cancel)
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		drain(resp, cancel)
		var cause error
		if s := strings.TrimSpace(string(snippet)); s != "" {
			cause = errors.New(s)
		}
		return mcperrors.HTTPTransportError("send", c.endpoint, resp.StatusCode, cause)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), ContentTypeEventStream) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer drain(resp, cancel)
			c.readStream(resp.Body, false)
		}()
		return nil
	}

	defer drain(resp, cancel)
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.maxEventSize)+1))
	if err != nil {
		return mcperrors.HTTPTransportError("read_response", c.endpoint, resp.StatusCode, err)
	}
	if len(body) > c.maxEventSize {
		return mcperrors.HTTPTransportError("read_response", c.endpoint, resp.StatusCode, fmt.Errorf("response exceeds %d bytes", c.maxEventSize))
	}
	if len(bytes.TrimSpace(body)) > 0 {
		c.enqueue(body)
	}
	return nil
}

func drain(resp *http.Response, cancel context.CancelFunc) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	cancel()
}

func (c *StreamableClient) adoptSession(sid string) {
	c.mu.Lock()
	if c.sessionID != "" {
		c.mu.Unlock()
		return
	}
	c.sessionID = sid
	start := c.listen && !c.listening
	c.listening = c.listening || start
	c.mu.Unlock()

	c.logger.Debug("session established", logging.String("session_id", sid))
	if start {
		c.wg.Add(1)
		go c.listenLoop()
	}
}

// readStream forwards every event of an SSE body. It reports whether the
// stream ended for a reason worth reconnecting over.
func (c *StreamableClient) readStream(body io.Reader, track bool) bool {
	for ev, err := range sse.Read(body, &sse.ReadConfig{MaxEventSize: c.maxEventSize}) {
		if err != nil {
			select {
			case <-c.done:
				return false
			default:
			}
			c.logger.WithError(err).Debug("event stream interrupted")
			return true
		}
		if track && ev.LastEventID != "" {
			c.mu.Lock()
			c.lastEventID = ev.LastEventID
			c.mu.Unlock()
		}
		if strings.TrimSpace(ev.Data) == "" {
			continue
		}
		if !c.enqueue([]byte(ev.Data)) {
			return false
		}
	}
	return true
}

func (c *StreamableClient) listenLoop() {
	defer c.wg.Done()
	for {
		if !c.openStream() {
			return
		}
		select {
		case <-c.done:
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// openStream runs one GET stream and reports whether to reconnect.
func (c *StreamableClient) openStream() bool {
	req, err := c.newRequest(c.ctx, http.MethodGet, nil)
	if err != nil {
		c.logger.WithError(err).Error("failed to build stream request")
		return false
	}
	req.Header.Set("Accept", ContentTypeEventStream)
	c.mu.RLock()
	if c.lastEventID != "" {
		req.Header.Set(HeaderLastEventID, c.lastEventID)
	}
	c.mu.RUnlock()

	resp, err := c.client.Do(req)
	if err != nil {
		if c.ctx.Err() != nil {
			return false
		}
		c.logger.WithError(err).Warn("stream connect failed")
		return true
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusMethodNotAllowed:
		c.logger.Debug("server offers no event stream")
		return false
	case http.StatusNotFound:
		c.logger.Warn("session expired on server")
		c.stop()
		return false
	case http.StatusUnauthorized:
		c.logger.Warn("event stream unauthorized",
			logging.String("www_authenticate", resp.Header.Get(HeaderAuthenticate)))
		return false
	default:
		c.logger.Warn("unexpected stream status", logging.Int("status", resp.StatusCode))
		return true
	}

	return c.readStream(resp.Body, true)
}

func (c *StreamableClient) enqueue(frame []byte) bool {
	select {
	case c.incoming <- frame:
		return true
	case <-c.done:
		return false
	}
}

// Receive implements Transport.
func (c *StreamableClient) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.incoming:
		return frame, nil
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *StreamableClient) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// Close terminates the session with a DELETE and stops all background
// readers.
func (c *StreamableClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if sid := c.SessionID(); sid != "" {
			select {
			case <-c.done:
			default:
				err = c.terminate()
			}
		}
		c.stop()
		c.wg.Wait()
	})
	return err
}

func (c *StreamableClient) terminate() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodDelete, nil)
	if err != nil {
		return mcperrors.HTTPTransportError("close", c.endpoint, 0, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return mcperrors.HTTPTransportError("close", c.endpoint, 0, err)
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound, http.StatusMethodNotAllowed:
		return nil
	default:
		return mcperrors.HTTPTransportError("close", c.endpoint, resp.StatusCode, nil)
	}
}
