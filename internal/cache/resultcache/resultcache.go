// Package resultcache keeps encoded query results in Redis under
// generation-stamped keys. Bumping a layer's generation orphans every entry
// computed before it; orphans expire through their TTL.
package resultcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/geotemporal/internal/cache/keys"
	"github.com/mohammed-shakir/geotemporal/internal/cache/redisstore"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultMemoSize = 1024
)

type Cache struct {
	cli  *redisstore.Client
	ttl  time.Duration
	memo *lru.Cache[string, []byte]
	log  *slog.Logger
	opTO time.Duration
}

type Option func(*Cache)

func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.log = l } }

// WithOpTimeout bounds each read path Redis call. Bump is not bounded.
func WithOpTimeout(d time.Duration) Option { return func(c *Cache) { c.opTO = d } }

// WithMemoSize sets the in-process LRU in front of Redis. Entries are keyed
// by the full generation-stamped key, so a bump never serves a stale memo.
// Zero disables the memo.
func WithMemoSize(n int) Option {
	return func(c *Cache) {
		if n <= 0 {
			c.memo = nil
			return
		}
		m, err := lru.New[string, []byte](n)
		if err == nil {
			c.memo = m
		}
	}
}

func New(cli *redisstore.Client, opts ...Option) *Cache {
	memo, _ := lru.New[string, []byte](DefaultMemoSize)
	c := &Cache{cli: cli, ttl: DefaultTTL, memo: memo, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTO <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTO)
}

// Generation returns the current invalidation generation of layer.
func (c *Cache) Generation(ctx context.Context, layer string) (int64, error) {
	return c.cli.GetInt(ctx, keys.GenKey(layer))
}

func (c *Cache) Key(ctx context.Context, layer, kind, params string) (string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	gen, err := c.Generation(ctx, layer)
	if err != nil {
		return "", fmt.Errorf("read generation: %w", err)
	}
	return keys.QueryKey(layer, gen, kind, params), nil
}

func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c.memo != nil {
		if b, ok := c.memo.Get(key); ok {
			return true, json.Unmarshal(b, dst)
		}
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	b, ok, err := c.cli.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		// a corrupt entry is a miss; the next Put overwrites it
		c.log.Warn("result cache entry undecodable", "key", key, "err", err)
		return false, nil
	}
	if c.memo != nil {
		c.memo.Add(key, b)
	}
	return true, nil
}

func (c *Cache) Put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	if err := c.cli.Set(ctx, key, b, c.ttl); err != nil {
		return err
	}
	if c.memo != nil {
		c.memo.Add(key, b)
	}
	return nil
}

// Bump advances the generation of each named layer and of the unfiltered
// "_all" scope in one transaction.
func (c *Cache) Bump(ctx context.Context, layers ...string) error {
	seen := map[string]struct{}{keys.GenKey(""): {}}
	genKeys := []string{keys.GenKey("")}
	for _, l := range layers {
		k := keys.GenKey(strings.TrimSpace(l))
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		genKeys = append(genKeys, k)
	}
	err := c.cli.Tx(ctx, func(p redis.Pipeliner) error {
		for _, k := range genKeys {
			p.Incr(ctx, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bump generations: %w", err)
	}
	c.log.Debug("result cache generations bumped", "keys", genKeys)
	return nil
}
