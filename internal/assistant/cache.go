package assistant

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// Cache stores assistant responses for a short TTL.
type Cache interface {
	Get(ctx context.Context, key string) (Response, bool, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Close() error
}

// CacheKey digests the fields that make two prompts identical.
func CacheKey(req Request) string {
	h := sha256.New()
	for _, part := range []string{req.ConversationID, req.Channel, req.Language, req.MessageText} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RedisCache keeps responses as JSON strings with a server-side expiry.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// RedisOptions configures NewRedisCache. URL wins over Host/Port.
type RedisOptions struct {
	URL      string
	Host     string
	Port     int
	Password string
	TLS      bool
	DB       int
	Prefix   string
}

func NewRedisCache(ctx context.Context, o RedisOptions) (*RedisCache, error) {
	var opts *redis.Options
	if o.URL != "" {
		parsed, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		port := o.Port
		if port == 0 {
			port = 6379
		}
		opts = &redis.Options{
			Addr:     o.Host + ":" + strconv.Itoa(port),
			Password: o.Password,
			DB:       o.DB,
		}
		if o.TLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: o.Host}
		}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisCache{client: client, prefix: o.Prefix}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Response, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

type memoryEntry struct {
	resp      Response
	expiresAt time.Time
}

// MemoryCache is the in-process fallback: a size-bounded LRU with per-entry
// expiry.
type MemoryCache struct {
	lru *lru.Cache
	mu  sync.Mutex
	now func() time.Time
}

func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = 1024
	}
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: l, now: time.Now}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) (Response, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	e := v.(memoryEntry)
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false, nil
	}
	return e.resp, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, resp Response, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, memoryEntry{resp: resp, expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
