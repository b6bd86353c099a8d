package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/mcp-engine/pkg/logging"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

// KeepaliveConfig controls the ping scheduler.
type KeepaliveConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int

	// OnFailure runs once when MaxFailures consecutive pings failed.
	OnFailure func(error)
}

// DefaultKeepaliveConfig pings every 5s and gives up after three misses.
func DefaultKeepaliveConfig() KeepaliveConfig {
	return KeepaliveConfig{
		Interval:    5 * time.Second,
		Timeout:     5 * time.Second,
		MaxFailures: 3,
	}
}

// Keepalive pings the peer every cfg.Interval until ctx ends or the
// connection closes. A successful ping resets the failure count. After
// cfg.MaxFailures consecutive failures OnFailure runs and Keepalive returns
// the last error.
func Keepalive(ctx context.Context, c *Connection, cfg KeepaliveConfig) error {
	defaults := DefaultKeepaliveConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaults.MaxFailures
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			return nil
		case <-ticker.C:
		}

		err := c.Call(ctx, protocol.MethodPing, nil, nil, WithTimeout(cfg.Timeout))
		if err == nil {
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		c.logger.WithError(err).Warn("ping failed",
			logging.Int("failures", failures),
			logging.Int("max_failures", cfg.MaxFailures))
		if failures >= cfg.MaxFailures {
			err = fmt.Errorf("keepalive: %d consecutive ping failures: %w", failures, err)
			if cfg.OnFailure != nil {
				cfg.OnFailure(err)
			}
			return err
		}
	}
}
