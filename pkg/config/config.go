// Package config loads engine settings from YAML with MCP_* environment
// overrides and turns them into options for the other packages.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/mcp-engine/pkg/connection"
	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/logging"
	"github.com/ajitpratap0/mcp-engine/pkg/observability"
	"github.com/ajitpratap0/mcp-engine/pkg/pagination"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine/pkg/ratelimit"
	"github.com/ajitpratap0/mcp-engine/pkg/transport"
)

// Config is the full engine configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Protocol   ProtocolConfig   `yaml:"protocol"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	RateLimits RateLimitConfig  `yaml:"rate_limits"`
	Errors     ErrorCodeConfig  `yaml:"errors"`
	HTTP       HTTPConfig       `yaml:"http"`
	Pagination PaginationConfig `yaml:"pagination"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig identifies the implementation announced in initialize.
type ServerConfig struct {
	Name         string `yaml:"name" env:"MCP_SERVER_NAME"`
	Version      string `yaml:"version" env:"MCP_SERVER_VERSION"`
	Instructions string `yaml:"instructions" env:"MCP_SERVER_INSTRUCTIONS"`
}

// ProtocolConfig selects the protocol revisions.
type ProtocolConfig struct {
	Version              string `yaml:"version" env:"MCP_PROTOCOL_VERSION"`
	CompatibilityVersion string `yaml:"compatibility_version" env:"MCP_PROTOCOL_COMPATIBILITY_VERSION"`
}

type TimeoutConfig struct {
	Request         time.Duration `yaml:"request" env:"MCP_REQUEST_TIMEOUT"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"MCP_PING_INTERVAL"`
	PingTimeout     time.Duration `yaml:"ping_timeout" env:"MCP_PING_TIMEOUT"`
	MaxPingFailures int           `yaml:"max_ping_failures" env:"MCP_MAX_PING_FAILURES"`
}

// RateLimitConfig holds the per-window budget of each category.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window" env:"MCP_RATE_WINDOW"`
	Tools       int           `yaml:"tools" env:"MCP_RATE_TOOLS"`
	Completions int           `yaml:"completions" env:"MCP_RATE_COMPLETIONS"`
	Logs        int           `yaml:"logs" env:"MCP_RATE_LOGS"`
	Progress    int           `yaml:"progress" env:"MCP_RATE_PROGRESS"`
}

type ErrorCodeConfig struct {
	RateLimited    int `yaml:"rate_limited" env:"MCP_ERROR_RATE_LIMITED"`
	NotInitialized int `yaml:"not_initialized" env:"MCP_ERROR_NOT_INITIALIZED"`
}

// HTTPConfig configures the streamable HTTP endpoint.
type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"MCP_HTTP_ADDR"`
	Path           string        `yaml:"path" env:"MCP_HTTP_PATH"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"MCP_HTTP_ALLOWED_ORIGINS"`
	SessionTimeout time.Duration `yaml:"session_timeout" env:"MCP_HTTP_SESSION_TIMEOUT"`
	HistoryLimit   int           `yaml:"history_limit" env:"MCP_HTTP_HISTORY_LIMIT"`
	// RedisAddr keeps SSE history in Redis when set, in memory otherwise
	RedisAddr   string `yaml:"redis_addr" env:"MCP_REDIS_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"MCP_METRICS_ADDR"`
}

type PaginationConfig struct {
	PageSize int `yaml:"page_size" env:"MCP_PAGE_SIZE"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"MCP_LOG_LEVEL"`
	Format string `yaml:"format" env:"MCP_LOG_FORMAT"`
}

type TracingConfig struct {
	Exporter   string  `yaml:"exporter" env:"MCP_TRACING_EXPORTER"`
	Endpoint   string  `yaml:"endpoint" env:"MCP_TRACING_ENDPOINT"`
	Insecure   bool    `yaml:"insecure" env:"MCP_TRACING_INSECURE"`
	SampleRate float64 `yaml:"sample_rate" env:"MCP_TRACING_SAMPLE_RATE"`
	// SkipMethods are never traced
	SkipMethods []string `yaml:"skip_methods" env:"MCP_TRACING_SKIP_METHODS"`
}

// Default returns the stock configuration.
func Default() *Config {
	rules := ratelimit.DefaultRules()
	codes := mcperrors.DefaultCodes()
	ping := connection.DefaultKeepaliveConfig()
	return &Config{
		Server: ServerConfig{
			Name:    "mcp-engine",
			Version: "0.1.0",
		},
		Protocol: ProtocolConfig{
			Version:              protocol.Version20250618,
			CompatibilityVersion: protocol.Version20250326,
		},
		Timeouts: TimeoutConfig{
			Request:         connection.DefaultRequestTimeout,
			PingInterval:    ping.Interval,
			PingTimeout:     ping.Timeout,
			MaxPingFailures: ping.MaxFailures,
		},
		RateLimits: RateLimitConfig{
			Window:      rules[ratelimit.CategoryTools].Window,
			Tools:       rules[ratelimit.CategoryTools].Limit,
			Completions: rules[ratelimit.CategoryCompletions].Limit,
			Logs:        rules[ratelimit.CategoryLogs].Limit,
			Progress:    rules[ratelimit.CategoryProgress].Limit,
		},
		Errors: ErrorCodeConfig{
			RateLimited:    codes.RateLimited,
			NotInitialized: codes.NotInitialized,
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			Path:           "/mcp",
			AllowedOrigins: append([]string(nil), transport.DefaultAllowedOrigins...),
			SessionTimeout: 30 * time.Minute,
			HistoryLimit:   100,
		},
		Pagination: PaginationConfig{PageSize: pagination.DefaultPageSize},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Tracing:    TracingConfig{
			Exporter:    string(observability.ExporterTypeNoop),
			SampleRate:  1,
			SkipMethods: []string{protocol.MethodPing},
		},
	}
}

// Load reads path over the defaults and applies MCP_* environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive("timeouts.request", c.Timeouts.Request)
	positive("timeouts.ping_interval", c.Timeouts.PingInterval)
	positive("timeouts.ping_timeout", c.Timeouts.PingTimeout)
	positive("rate_limits.window", c.RateLimits.Window)
	positive("http.session_timeout", c.HTTP.SessionTimeout)

	if c.Timeouts.MaxPingFailures <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.max_ping_failures must be positive, got %d", c.Timeouts.MaxPingFailures))
	}
	for name, limit := range map[string]int{
		"rate_limits.tools":       c.RateLimits.Tools,
		"rate_limits.completions": c.RateLimits.Completions,
		"rate_limits.logs":        c.RateLimits.Logs,
		"rate_limits.progress":    c.RateLimits.Progress,
	} {
		if limit < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, limit))
		}
	}
	if c.Pagination.PageSize <= 0 || c.Pagination.PageSize > pagination.MaxPageSize {
		errs = append(errs, fmt.Errorf("pagination.page_size must be in 1..%d, got %d", pagination.MaxPageSize, c.Pagination.PageSize))
	}
	if c.HTTP.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("http.history_limit must be positive, got %d", c.HTTP.HistoryLimit))
	}
	if c.Errors.RateLimited >= 0 {
		errs = append(errs, fmt.Errorf("errors.rate_limited must be negative, got %d", c.Errors.RateLimited))
	}
	if c.Errors.NotInitialized >= 0 {
		errs = append(errs, fmt.Errorf("errors.not_initialized must be negative, got %d", c.Errors.NotInitialized))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	if c.Protocol.Version == "" {
		errs = append(errs, errors.New("protocol.version is required"))
	}
	switch observability.ExporterType(c.Tracing.Exporter) {
	case observability.ExporterTypeNoop, observability.ExporterTypeOTLPGRPC, observability.ExporterTypeOTLPHTTP:
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RateRules returns the limiter budgets.
func (c *Config) RateRules() map[ratelimit.Category]ratelimit.Rule {
	w := c.RateLimits.Window
	return map[ratelimit.Category]ratelimit.Rule{
		ratelimit.CategoryTools:       {Limit: c.RateLimits.Tools, Window: w},
		ratelimit.CategoryCompletions: {Limit: c.RateLimits.Completions, Window: w},
		ratelimit.CategoryLogs:        {Limit: c.RateLimits.Logs, Window: w},
		ratelimit.CategoryProgress:    {Limit: c.RateLimits.Progress, Window: w},
	}
}

func (c *Config) Codes() mcperrors.Codes {
	return mcperrors.Codes{
		NotInitialized: c.Errors.NotInitialized,
		RateLimited:    c.Errors.RateLimited,
	}
}

// SupportedVersions returns the configured revisions newest first, without
// duplicates.
func (c *Config) SupportedVersions() []string {
	versions := []string{c.Protocol.Version}
	if v := c.Protocol.CompatibilityVersion; v != "" && v != c.Protocol.Version {
		versions = append(versions, v)
	}
	return protocol.SortNewestFirst(versions)
}

// Keepalive returns the ping schedule.
func (c *Config) Keepalive() connection.KeepaliveConfig {
	return connection.KeepaliveConfig{
		Interval:    c.Timeouts.PingInterval,
		Timeout:     c.Timeouts.PingTimeout,
		MaxFailures: c.Timeouts.MaxPingFailures,
	}
}

// TracingProviderConfig converts the tracing section for observability.
func (c *Config) TracingProviderConfig() observability.TracingConfig {
	return observability.TracingConfig{
		ServiceName:    c.Server.Name,
		ServiceVersion: c.Server.Version,
		ExporterType:   observability.ExporterType(c.Tracing.Exporter),
		Endpoint:       c.Tracing.Endpoint,
		Insecure:       c.Tracing.Insecure,
		SampleRate:     c.Tracing.SampleRate,
		SkipMethods:    c.Tracing.SkipMethods,
	}
}

// Logger builds a logger writing to w with the configured level and format.
func (c *Config) Logger(w io.Writer) logging.Logger {
	var f logging.Formatter = logging.NewTextFormatter()
	if c.Logging.Format == "json" {
		f = logging.NewJSONFormatter()
	}
	logger := logging.New(w, f)
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

// Implementation returns the server identity.
func (c *Config) Implementation() protocol.Implementation {
	return protocol.Implementation{Name: c.Server.Name, Version: c.Server.Version}
}
