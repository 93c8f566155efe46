// Package catalogcache stores encoded catalog tool results so repeated
// introspection calls do not reach the database server.
package catalogcache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache is a byte-oriented result cache. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

const keyPrefix = "fdesqlmcp:catalog"

// Key builds the cache key for one catalog call. Parts are escaped so
// distinct argument lists never collide.
func Key(tool, database string, args ...string) string {
	parts := make([]string, 0, len(args)+3)
	parts = append(parts, keyPrefix, url.QueryEscape(tool), url.QueryEscape(database))
	for _, a := range args {
		parts = append(parts, url.QueryEscape(a))
	}
	return strings.Join(parts, ":")
}

// Redis is a Cache backed by a Redis server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to rawURL (redis://[:password@]host:port/db) and pings
// it. ttl <= 0 keeps entries until evicted.
func NewRedis(ctx context.Context, rawURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", opts.Addr, err)
	}
	return &Redis{client: client, ttl: max(ttl, 0)}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, r.ttl).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
