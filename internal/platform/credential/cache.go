package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache stores access tokens by key.
type TokenCache interface {
	Get(ctx context.Context, key string) (Token, bool, error)
	Set(ctx context.Context, key string, tok Token) error
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (Token, bool, error) { return Token{}, false, nil }
func (NopCache) Set(context.Context, string, Token) error         { return nil }

// MemoryCache is a process-wide, thread-safe token cache.
type MemoryCache struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{tokens: make(map[string]Token)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Token, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.tokens[key]
	return tok, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, tok Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = tok
	return nil
}

// RedisCache shares tokens between relay instances. Entries expire with
// the token.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the Redis instance described by redisURL
// (redis://[:password@]host:port/db).
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Token, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return Token{}, false, fmt.Errorf("decode cached token: %w", err)
	}
	return tok, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, tok Token) error {
	ttl := time.Until(tok.Expiry)
	if tok.Expiry.IsZero() || ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
