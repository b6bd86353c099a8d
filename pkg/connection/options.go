package connection

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/logging"
	"github.com/ajitpratap0/mcp-engine/pkg/observability"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine/pkg/ratelimit"
	"github.com/ajitpratap0/mcp-engine/pkg/registry"
)

// DefaultRequestTimeout bounds outbound calls that do not set their own.
const DefaultRequestTimeout = 30 * time.Second

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records traffic into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Connection) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for call and dispatch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Connection) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithCodes sets the engine error codes used to classify peer errors and to
// reject rate-limited requests.
func WithCodes(codes mcperrors.Codes) Option {
	return func(c *Connection) {
		c.codes = codes
	}
}

// WithRateRules sets the per-category budgets of the connection's limiter.
func WithRateRules(rules map[ratelimit.Category]ratelimit.Rule) Option {
	return func(c *Connection) {
		c.rateRules = rules
	}
}

// WithLimiter replaces the connection's limiter. Rules and codes set by
// other options are then ignored.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Connection) {
		c.limiter = l
	}
}

// WithRequestTimeout sets the default timeout of outbound calls. Zero
// disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d >= 0 {
			c.requestTimeout = d
		}
	}
}

// WithLogLevel sets the minimum level of outbound log notifications until
// the peer sends logging/setLevel.
func WithLogLevel(level protocol.LogLevel) Option {
	return func(c *Connection) {
		if level.Valid() {
			c.logLevel = level
		}
	}
}

// CallOption configures a single Call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout  time.Duration
	id       protocol.RequestID
	progress registry.ProgressFunc
}

// WithTimeout overrides the connection's request timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// WithProgress asks the peer for progress updates. A fresh token is placed
// in params._meta and fn receives every update until the call ends.
func WithProgress(fn registry.ProgressFunc) CallOption {
	return func(o *callOptions) {
		o.progress = fn
	}
}

// WithRequestID sends the call under id instead of the next integer. An id
// that is still outstanding is rejected.
func WithRequestID(id protocol.RequestID) CallOption {
	return func(o *callOptions) {
		o.id = id
	}
}
