// Package redis provides the Redis client and the services built on it:
// durable subscription storage, send idempotency and admin rate limiting.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection settings. URL, when set, replaces the
// host/port/password/db fields.
type Config struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int

	// KeyPrefix namespaces every key this service writes, so staging and
	// production can share an instance.
	KeyPrefix string
}

func (c Config) options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Password: c.Password,
		DB:       c.DB,
	}, nil
}

// Client is the go-redis client plus the service key namespace.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// New connects and pings. A failed ping closes the client and returns an
// error; callers run without Redis in that case.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	// Registry writes and rate-limit checks sit on request paths; fail fast.
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond

	client := NewFromRedis(redis.NewClient(opts), logger).WithPrefix(cfg.KeyPrefix)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connection established",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.String("key_prefix", cfg.KeyPrefix),
	)

	return client, nil
}

// NewFromRedis wraps an existing go-redis client.
func NewFromRedis(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// WithPrefix returns a copy of c that namespaces keys under prefix.
func (c *Client) WithPrefix(prefix string) *Client {
	cp := *c
	cp.prefix = prefix
	return &cp
}

// key joins parts with ':' under the client prefix.
func (c *Client) key(parts ...string) string {
	k := strings.Join(parts, ":")
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
