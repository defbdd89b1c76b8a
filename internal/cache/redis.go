// Package cache keeps computed embeddings in Redis so repeated texts skip inference.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/embederr"
)

// EmbeddingCache handles Redis-based caching of text embeddings
type EmbeddingCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewEmbeddingCache connects to Redis and verifies the connection.
func NewEmbeddingCache(config *Config, logger *zap.Logger) (*EmbeddingCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse Redis URL: %v", embederr.ErrCache, err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}

	c := &EmbeddingCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("%w: failed to connect to Redis: %v", embederr.ErrCache, err)
	}

	logger.Info("Embedding cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", opts.PoolSize),
		zap.Duration("default_ttl", config.DefaultTTL))

	return c, nil
}

// Get returns the cached embedding for text under model. A miss is (nil, false, nil).
func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	key := c.Key(model, text)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.stats.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		c.stats.errors.Add(1)
		return nil, false, fmt.Errorf("%w: get %s: %v", embederr.ErrCache, key, err)
	}

	entry, err := decodeEntry(data)
	if err != nil || entry.Model != model {
		// Corrupt or colliding entry
		c.logger.Warn("Dropping unusable cache entry", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, key)
		c.stats.misses.Add(1)
		return nil, false, nil
	}

	c.stats.hits.Add(1)
	return entry.Embedding, true, nil
}

// Set stores embedding for text under model with the configured TTL.
func (c *EmbeddingCache) Set(ctx context.Context, model, text string, embedding []float32) error {
	data, err := encodeEntry(model, embedding)
	if err != nil {
		return fmt.Errorf("%w: %v", embederr.ErrCache, err)
	}

	key := c.Key(model, text)
	if err := c.client.Set(ctx, key, data, c.config.DefaultTTL).Err(); err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("%w: set %s: %v", embederr.ErrCache, key, err)
	}
	return nil
}

// SetBatch stores many embeddings with one Redis pipeline.
func (c *EmbeddingCache) SetBatch(ctx context.Context, model string, texts []string, embeddings [][]float32) error {
	if len(texts) != len(embeddings) {
		return fmt.Errorf("%w: texts and embeddings length mismatch", embederr.ErrCache)
	}
	if len(texts) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for i, text := range texts {
		data, err := encodeEntry(model, embeddings[i])
		if err != nil {
			c.logger.Error("Failed to marshal embedding for batch caching", zap.Error(err))
			continue
		}
		pipe.Set(ctx, c.Key(model, text), data, c.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("%w: batch cache operation failed: %v", embederr.ErrCache, err)
	}

	c.logger.Debug("Batch cache operation completed", zap.Int("cached_embeddings", len(texts)))
	return nil
}

// GetStats returns cache performance statistics
func (c *EmbeddingCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Hits:   c.stats.hits.Load(),
		Misses: c.stats.misses.Load(),
		Errors: c.stats.errors.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return stats, fmt.Errorf("%w: failed to get Redis info: %v", embederr.ErrCache, err)
	}
	stats.MemoryUsage = parseUsedMemory(info)

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}
	return stats, nil
}

// Clear removes all cached embeddings under the key prefix
func (c *EmbeddingCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+":emb:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: failed to scan cache keys: %v", embederr.ErrCache, err)
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("%w: failed to delete cache keys: %v", embederr.ErrCache, err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Ping checks the Redis connection.
func (c *EmbeddingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *EmbeddingCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Key returns the Redis key for text under model: prefix:emb:<sha256(model|text)[:16]>.
func (c *EmbeddingCache) Key(model, text string) string {
	return embeddingKey(c.config.KeyPrefix, model, text)
}

func embeddingKey(prefix, model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return fmt.Sprintf("%s:emb:%s", prefix, hex.EncodeToString(sum[:])[:16])
}

func encodeEntry(model string, embedding []float32) ([]byte, error) {
	return json.Marshal(&CachedEmbedding{
		Model:     model,
		Embedding: embedding,
		CachedAt:  time.Now().UTC(),
	})
}

func decodeEntry(data []byte) (*CachedEmbedding, error) {
	var entry CachedEmbedding
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	if len(entry.Embedding) == 0 {
		return nil, fmt.Errorf("cached entry has no embedding")
	}
	return &entry, nil
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
