// Package redisstore wraps the Redis operations the feature store and the
// query cache use.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
)

type options struct {
	ro  *redis.Options
	reg prometheus.Registerer
}

type Option func(*options)

func WithPoolSize(n int) Option {
	return func(o *options) { o.ro.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *options) { o.ro.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.ro.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.ro.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.ro.WriteTimeout = d }
}

func WithDB(db int) Option {
	return func(o *options) { o.ro.DB = db }
}

// WithRegisterer registers the client's operation metrics with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.reg = r }
}

type Client struct {
	rdb     *redis.Client
	metrics *metricSet
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	o := &options{ro: &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}}
	for _, f := range opts {
		f(o)
	}

	c := &Client{rdb: redis.NewClient(o.ro), metrics: newMetricSet(o.reg)}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	c.metrics.observe("ping", err, start)
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get returns the value for key and whether it existed.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.observe("get", nil, start)
		return nil, false, nil
	}
	c.metrics.observe("get", err, start)
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return b, true, nil
}

// MGet returns a map of found keys to their values
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if len(keys) == 0 {
		c.metrics.observe("mget", nil, start)
		return map[string][]byte{}, nil
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	c.metrics.observe("mget", err, start)
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		if v == nil {
			continue // missing key
		}
		switch t := v.(type) {
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	c.metrics.observe("set", err, start)
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	c.metrics.observe("del", err, start)
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := c.rdb.Incr(ctx, key).Result()
	c.metrics.observe("incr", err, start)
	if err != nil {
		return 0, fmt.Errorf("redis INCR %q: %w", key, err)
	}
	return n, nil
}

// GetInt reads an integer counter; a missing key reads as zero.
func (c *Client) GetInt(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := c.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		c.metrics.observe("get", nil, start)
		return 0, nil
	}
	c.metrics.observe("get", err, start)
	if err != nil {
		return 0, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return n, nil
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	m, err := c.rdb.SMembers(ctx, key).Result()
	c.metrics.observe("smembers", err, start)
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %q: %w", key, err)
	}
	return m, nil
}

func (c *Client) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	start := time.Now()
	if len(keys) == 0 {
		c.metrics.observe("sunion", nil, start)
		return nil, nil
	}
	m, err := c.rdb.SUnion(ctx, keys...).Result()
	c.metrics.observe("sunion", err, start)
	if err != nil {
		return nil, fmt.Errorf("redis SUNION %d keys: %w", len(keys), err)
	}
	return m, nil
}

// Tx runs fn inside MULTI/EXEC so the queued writes apply together.
func (c *Client) Tx(ctx context.Context, fn func(redis.Pipeliner) error) error {
	start := time.Now()
	_, err := c.rdb.TxPipelined(ctx, fn)
	c.metrics.observe("tx", err, start)
	if err != nil {
		return fmt.Errorf("redis MULTI/EXEC: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func (c *Client) MSetWithTTL(
	ctx context.Context,
	kv map[string][]byte,
	ttl time.Duration,
) error {
	start := time.Now()
	if len(kv) == 0 {
		c.metrics.observe("mset", nil, start)
		return nil
	}

	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range kv {
			if err := p.Set(ctx, k, v, ttl).Err(); err != nil {
				return fmt.Errorf("redis MSET pipeline SET %q: %w", k, err)
			}
		}
		return nil
	})

	c.metrics.observe("mset", err, start)
	if err != nil {
		return fmt.Errorf("redis MSET %d keys (pipeline): %w", len(kv), err)
	}
	return nil
}
