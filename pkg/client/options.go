package client

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-engine/pkg/connection"
	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/logging"
	"github.com/ajitpratap0/mcp-engine/pkg/observability"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine/pkg/ratelimit"
)

// Option configures a Client.
type Option func(*Client)

// WithSampling declares the sampling capability and answers
// sampling/createMessage with h.
func WithSampling(h connection.HandlerFunc) Option {
	return func(c *Client) {
		c.caps = append(c.caps, protocol.Declare(protocol.CapabilitySampling))
		c.router.Handle(protocol.MethodCreateMessage, h)
	}
}

// WithRoots declares the roots capability and answers roots/list with h.
// With listChanged the client may call NotifyRootsChanged.
func WithRoots(listChanged bool, h connection.HandlerFunc) Option {
	return func(c *Client) {
		var features []protocol.Feature
		if listChanged {
			features = append(features, protocol.FeatureListChanged)
		}
		c.caps = append(c.caps, protocol.Declare(protocol.CapabilityRoots, features...))
		c.router.Handle(protocol.MethodListRoots, h)
	}
}

// WithElicitation declares the elicitation capability and answers
// elicitation/create with h.
func WithElicitation(h connection.HandlerFunc) Option {
	return func(c *Client) {
		c.caps = append(c.caps, protocol.Declare(protocol.CapabilityElicitation))
		c.router.Handle(protocol.MethodElicit, h)
	}
}

// WithNotificationHandler registers fn for server notifications such as
// notifications/message or notifications/tools/list_changed.
func WithNotificationHandler(method string, fn connection.NotificationFunc) Option {
	return func(c *Client) {
		c.router.OnNotification(method, fn)
	}
}

// WithVersions sets the protocol versions the client accepts. The newest is
// offered in initialize.
func WithVersions(versions ...string) Option {
	return func(c *Client) {
		if len(versions) > 0 {
			c.versions = protocol.SortNewestFirst(versions)
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.connOpts = append(c.connOpts, connection.WithMetrics(m))
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.connOpts = append(c.connOpts, connection.WithTracer(tracer))
	}
}

// WithCodes sets the engine error codes.
func WithCodes(codes mcperrors.Codes) Option {
	return func(c *Client) {
		c.codes = codes
	}
}

// WithRateRules sets the budgets applied to requests from the server.
func WithRateRules(rules map[ratelimit.Category]ratelimit.Rule) Option {
	return func(c *Client) {
		c.connOpts = append(c.connOpts, connection.WithRateRules(rules))
	}
}

// WithRequestTimeout sets the default timeout of every call. Zero disables
// it.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.connOpts = append(c.connOpts, connection.WithRequestTimeout(d))
	}
}
