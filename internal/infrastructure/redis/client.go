package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/relaybridge/relay-core/internal/infrastructure/config"
)

// Default timeouts for Redis operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

// Client wraps the go-redis client for Relay Bridge.
//
// Redis backs two concerns: the session store (expiring session hashes)
// and the publish queue (job lists and the delayed-retry set). Both share
// this single connection pool.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	rdb *goredis.Client
	cfg config.Redis
}

// Connect establishes a connection to the Redis server.
//
// It creates the client and verifies connectivity with a ping before
// returning; a Relay Bridge process without Redis cannot validate
// sessions, so startup fails fast here.
//
// Parameters:
//   - cfg: Redis configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the initial ping fails
func Connect(cfg config.Redis) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Client{
		rdb: rdb,
		cfg: cfg,
	}, nil
}

// Redis returns the underlying go-redis client for use by the session
// store and the publish queue.
func (c *Client) Redis() *goredis.Client {
	return c.rdb
}

// Close gracefully shuts down the Redis connection pool.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis: %w", err)
	}
	return nil
}

// HealthCheck verifies the Redis connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := c.rdb.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
