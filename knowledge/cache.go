package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CacheConfig configures the Redis-backed retrieval cache.
type CacheConfig struct {
	// Redis address.
	Addr string `yaml:"addr" json:"addr"`

	// Password.
	Password string `yaml:"password" json:"password"`

	// Database number.
	DB int `yaml:"db" json:"db"`

	// TTL for cached retrieval results.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// Connection pool size.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultCacheConfig returns sensible cache defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr:     "localhost:6379",
		TTL:      5 * time.Minute,
		PoolSize: 10,
	}
}

// CachedRetriever wraps a Retriever with a Redis read-through cache. Cache
// failures are never surfaced: a broken cache degrades to direct retrieval.
type CachedRetriever struct {
	inner  Retriever
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

// NewCachedRetriever creates a caching decorator around inner.
func NewCachedRetriever(inner Retriever, cfg CacheConfig, logger *zap.Logger) *CachedRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	return &CachedRetriever{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "knowledge_cache")),
	}
}

// Retrieve checks the cache before delegating to the wrapped retriever.
// Results are cached keyed by (query, topK, maxCandidates).
func (c *CachedRetriever) Retrieve(ctx context.Context, query string, topK, maxCandidates int) ([]Snippet, error) {
	key := c.cacheKey(query, topK, maxCandidates)

	if val, err := c.client.Get(ctx, key).Result(); err == nil {
		var snippets []Snippet
		if jsonErr := json.Unmarshal([]byte(val), &snippets); jsonErr == nil {
			c.logger.Debug("retrieval cache hit", zap.String("key", key))
			return snippets, nil
		}
		// Corrupt entry: drop it and fall through to the inner retriever.
		c.client.Del(ctx, key)
	} else if err != redis.Nil && ctx.Err() == nil {
		c.logger.Warn("retrieval cache unavailable", zap.Error(err))
	}

	// Collapse concurrent misses for the same key into one backend fetch.
	// The shared fetch runs detached from the leading caller's cancellation
	// so followers are not failed by a leader that gave up; the inner
	// client's own timeout still bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		snippets, err := c.inner.Retrieve(fetchCtx, query, topK, maxCandidates)
		if err != nil {
			return nil, err
		}

		if data, jsonErr := json.Marshal(snippets); jsonErr == nil {
			if setErr := c.client.Set(fetchCtx, key, data, c.ttl).Err(); setErr != nil {
				c.logger.Warn("retrieval cache store failed", zap.Error(setErr))
			}
		}
		return snippets, nil
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return result.([]Snippet), nil
}

// Close releases the Redis client.
func (c *CachedRetriever) Close() error {
	return c.client.Close()
}

func (c *CachedRetriever) cacheKey(query string, topK, maxCandidates int) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("kb:%s:%d:%d", hex.EncodeToString(sum[:8]), topK, maxCandidates)
}
