// Package redisstore wraps the Redis operations used by the result cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/mapbook-query/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	err := rdb.Ping(ctx).Err()
	observe("ping", err)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the value at key. found is false on a miss.
func (c *Client) Get(ctx context.Context, key string) (val []byte, found bool, err error) {
	val, err = c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		observability.ObserveResultCache("get", "miss")
		return nil, false, nil
	case err != nil:
		observability.ObserveResultCache("get", "error")
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	observability.ObserveResultCache("get", "hit")
	return val, true, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observe("set", err)
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

// SetIndexed writes key and records it in the index set in one
// transaction. The index expires with the newest key it names.
func (c *Client) SetIndexed(ctx context.Context, index, key string, val []byte, ttl time.Duration) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, val, ttl)
		p.SAdd(ctx, index, key)
		if ttl > 0 {
			p.Expire(ctx, index, ttl)
		}
		return nil
	})
	observe("set", err)
	if err != nil {
		return fmt.Errorf("redis SET %q (indexed by %q): %w", key, index, err)
	}
	return nil
}

func (c *Client) SMembers(ctx context.Context, set string) ([]string, error) {
	out, err := c.rdb.SMembers(ctx, set).Result()
	observe("smembers", err)
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %q: %w", set, err)
	}
	return out, nil
}

// DelIndexed removes every key named by the index set and the set itself.
// It returns the number of keys removed.
func (c *Client) DelIndexed(ctx context.Context, index string) (int, error) {
	members, err := c.SMembers(ctx, index)
	if err != nil {
		return 0, err
	}
	if err := c.Del(ctx, append(members, index)...); err != nil {
		return 0, err
	}
	return len(members), nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := c.rdb.Del(ctx, keys...).Err()
	observe("del", err)
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func observe(op string, err error) {
	if err != nil {
		observability.ObserveResultCache(op, "error")
		return
	}
	observability.ObserveResultCache(op, "ok")
}
