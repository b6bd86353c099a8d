package server

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

// Option configures a Server.
type Option func(*Server)

func listChangedIf(on bool) []protocol.Feature {
	if on {
		return []protocol.Feature{protocol.FeatureListChanged}
	}
	return nil
}

// WithTools declares the tools capability.
func WithTools(listChanged bool) Option {
	return func(s *Server) {
		s.caps[protocol.CapabilityTools] = listChangedIf(listChanged)
	}
}

// WithResources declares the resources capability. With subscribe the
// server answers resources/subscribe and resources/unsubscribe itself.
func WithResources(subscribe, listChanged bool) Option {
	return func(s *Server) {
		features := listChangedIf(listChanged)
		if subscribe {
			features = append(features, protocol.FeatureSubscribe)
		}
		s.caps[protocol.CapabilityResources] = features
	}
}

// WithPrompts declares the prompts capability.
func WithPrompts(listChanged bool) Option {
	return func(s *Server) {
		s.caps[protocol.CapabilityPrompts] = listChangedIf(listChanged)
	}
}

// WithLogging declares the logging capability, which enables
// logging/setLevel and Server.Log.
func WithLogging() Option {
	return func(s *Server) {
		s.caps[protocol.CapabilityLogging] = nil
	}
}

// WithCompletions declares the completions capability.
func WithCompletions() Option {
	return func(s *Server) {
		s.caps[protocol.CapabilityCompletions] = nil
	}
}

// WithInstructions sets the text returned in the initialize result.
func WithInstructions(text string) Option {
	return func(s *Server) {
		s.instructions = text
	}
}

// WithVersions sets the supported protocol versions, newest first.
func WithVersions(versions ...string) Option {
	return func(s *Server) {
		if len(versions) > 0 {
			s.versions = protocol.SortNewestFirst(versions)
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records traffic of every connection into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTracer sets the tracer for dispatch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithCodes sets the engine error codes.
func WithCodes(codes mcperrors.Codes) Option {
	return func(s *Server) {
		s.codes = codes
	}
}

// WithRateRules sets the per-connection rate budgets.
func WithRateRules(rules map[ratelimit.Category]ratelimit.Rule) Option {
	return func(s *Server) {
		s.rateRules = rules
	}
}

// WithRequestTimeout sets the timeout of server-initiated requests.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithPageSize sets the page size of list endpoints registered through
// HandleList.
func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithKeepalive pings every client on the given schedule and closes
// connections that stop answering.
func WithKeepalive(cfg connection.KeepaliveConfig) Option {
	return func(s *Server) {
		s.keepalive = &cfg
	}
}
