// Package cache stores finished optimisation results in Redis so identical
// requests against the same decision epoch are answered without re-running.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/gasignal/internal/metrics"
	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

const keyPrefix = "gasignal:result:"

// ErrNotInitialized is returned by write operations on a nil cache
var ErrNotInitialized = errors.New("cache not initialized")

// Entry is a cached optimisation result with metadata
type Entry struct {
	RunID    string          `json:"run_id"`
	Seed     int64           `json:"seed"`
	Result   *genetic.Result `json:"result"`
	CachedAt time.Time       `json:"cached_at"`
}

// ResultCache provides Redis-based caching for optimisation results
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache creates a new Redis-based result cache.
// If client is nil, returns nil (optional Redis support)
func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	if client == nil {
		return nil
	}

	if ttl == 0 {
		ttl = time.Hour
	}

	return &ResultCache{
		client: client,
		ttl:    ttl,
	}
}

// Key derives the cache key for a run. Only the last two rows of the
// snapshot influence fitness, so only they are hashed.
func Key(cfg genetic.Config, seed int64, snapshot genetic.PriceSnapshot) string {
	h := sha256.New()

	writeField(h, "markets")
	for _, m := range cfg.Markets {
		writeField(h, m)
	}
	writeField(h, strconv.Itoa(cfg.Lookback))
	writeField(h, strconv.Itoa(cfg.PopulationSize))
	writeField(h, strconv.Itoa(cfg.TournamentSize))
	writeField(h, formatFloat(cfg.CrossoverRate))
	writeField(h, formatFloat(cfg.MutationRate))
	writeField(h, strconv.Itoa(cfg.Iterations))
	writeField(h, formatFloat(cfg.Budget))
	writeField(h, strconv.FormatInt(seed, 10))

	rows := snapshot.Close
	if len(rows) > 2 {
		rows = rows[len(rows)-2:]
	}
	for _, row := range rows {
		writeField(h, "row")
		for _, v := range row {
			writeField(h, formatFloat(v))
		}
	}

	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Get retrieves a result from cache.
// Returns the entry and true if found, or nil and false if not found or on error
func (c *ResultCache) Get(ctx context.Context, key string) (*Entry, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	// Use a short timeout for cache operations to prevent blocking
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.RecordCacheOperation(metrics.CacheError)
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		} else {
			metrics.RecordCacheOperation(metrics.CacheMiss)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(cached, &entry); err != nil || entry.Result == nil {
		metrics.RecordCacheOperation(metrics.CacheError)
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached result")
		return nil, false
	}

	metrics.RecordCacheOperation(metrics.CacheHit)
	log.Debug().
		Str("key", key).
		Str("run_id", entry.RunID).
		Time("cached_at", entry.CachedAt).
		Msg("Cache hit for optimisation result")

	return &entry, true
}

// Set stores a result in cache with the configured TTL
func (c *ResultCache) Set(ctx context.Context, key string, entry Entry) error {
	if c == nil || c.client == nil {
		return ErrNotInitialized
	}
	if entry.Result == nil {
		return fmt.Errorf("cannot cache an empty result")
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal result entry: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		metrics.RecordCacheOperation(metrics.CacheError)
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache result")
		return err
	}

	metrics.RecordCacheOperation(metrics.CacheStore)
	log.Debug().
		Str("key", key).
		Dur("ttl", c.ttl).
		Msg("Cached optimisation result")

	return nil
}

// Delete removes a result from cache
func (c *ResultCache) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return ErrNotInitialized
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Del(cacheCtx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

// Clear removes all cached results
func (c *ResultCache) Clear(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrNotInitialized
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	iter := c.client.Scan(cacheCtx, 0, keyPrefix+"*", 0).Iterator()
	count := 0

	for iter.Next(cacheCtx) {
		if err := c.client.Del(cacheCtx, iter.Val()).Err(); err != nil {
			log.Warn().
				Err(err).
				Str("key", iter.Val()).
				Msg("Failed to delete cache key")
		} else {
			count++
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan error: %w", err)
	}

	log.Info().
		Int("keys_deleted", count).
		Msg("Cleared result cache")

	return nil
}

// Health checks if the Redis connection is healthy
func (c *ResultCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrNotInitialized
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}
