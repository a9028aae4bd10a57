// Package redis provides the Redis connection for Relay Bridge.
//
// A single connection pool backs both the session store (internal/auth)
// and the publish queue (internal/queue). The wrapper follows the same
// lifecycle pattern as the other infrastructure clients:
//
//	client, err := redis.Connect(cfg.Redis)
//	defer client.Close()
package redis
