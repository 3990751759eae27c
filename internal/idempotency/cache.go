// Package idempotency deduplicates retried requests that carry a
// client-supplied idempotency key. The cache lives in redis: result entries
// expire by TTL (lazy, redis-native), a timestamp ZSET supports batch LRU
// eviction, and a SETNX marker closes the check-then-store race so two
// concurrent requests with the same key can never both reach the worker.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"capway/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const (
	resultKeyPrefix   = "idem:result:"   // CachedResult JSON, expires at TTL
	inflightKeyPrefix = "idem:inflight:" // Reservation marker for an executing request
	indexKey          = "idem:index"     // ZSET of keys scored by store timestamp

	// An abandoned reservation must not block the key forever; the marker
	// expires on its own well after any sane worker call completes.
	inflightTTL = 2 * time.Minute

	// Fraction of entries dropped in one eviction pass. Batching amortizes
	// the watermark recomputation instead of evicting one entry at a time.
	evictFraction = 0.10
)

// CachedResult is a previously produced response held for replay.
type CachedResult struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Result         json.RawMessage `json:"result"`
	WorkerID       string          `json:"worker_id"`
	CapabilityKey  string          `json:"capability_key"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ReserveOutcome says what the caller holding an idempotency key should do.
type ReserveOutcome int

const (
	// ReserveProceed - the caller owns the key and must execute, then
	// Store on success or Release on failure.
	ReserveProceed ReserveOutcome = iota
	// ReserveReplay - a finished result exists; serve it without executing.
	ReserveReplay
	// ReserveInFlight - another caller is executing under this key.
	ReserveInFlight
)

// Cache is the redis-backed idempotency store.
type Cache struct {
	redis      *redis.Client
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewCache creates a cache with the given result TTL and entry bound.
func NewCache(client *redis.Client, ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		redis:      client,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Check returns the cached result for key, or nil when absent or expired.
func (c *Cache) Check(ctx context.Context, key string) (*CachedResult, error) {
	data, err := c.redis.Get(ctx, resultKeyPrefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	var result CachedResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	return &result, nil
}

// Reserve claims key for execution. Exactly one concurrent caller gets
// ReserveProceed; later callers see the finished result (ReserveReplay) or
// the in-flight marker (ReserveInFlight).
func (c *Cache) Reserve(ctx context.Context, key string) (ReserveOutcome, *CachedResult, error) {
	cached, err := c.Check(ctx, key)
	if err != nil {
		return ReserveProceed, nil, err
	}
	if cached != nil {
		return ReserveReplay, cached, nil
	}

	acquired, err := c.redis.SetNX(ctx, inflightKeyPrefix+key, c.now().UnixNano(), inflightTTL).Result()
	if err != nil {
		return ReserveProceed, nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if !acquired {
		// The first caller may have finished between the GET and the SETNX.
		cached, err := c.Check(ctx, key)
		if err != nil {
			return ReserveProceed, nil, err
		}
		if cached != nil {
			return ReserveReplay, cached, nil
		}
		return ReserveInFlight, nil, nil
	}
	return ReserveProceed, nil, nil
}

// Store saves the result under key, releases the reservation, and evicts the
// oldest batch first when the cache is full. Overwrites any existing entry.
func (c *Cache) Store(ctx context.Context, key string, result json.RawMessage, workerID, capabilityKey string) error {
	if err := c.evictIfFull(ctx); err != nil {
		// Eviction failure must not lose the fresh result.
		logger.WarnCtx(ctx, "idempotency eviction failed: %v", err)
	}

	now := c.now()
	entry := CachedResult{
		IdempotencyKey: key,
		Result:         result,
		WorkerID:       workerID,
		CapabilityKey:  capabilityKey,
		Timestamp:      now,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cached result: %w", err)
	}

	pipe := c.redis.Pipeline()
	pipe.Set(ctx, resultKeyPrefix+key, data, c.ttl)
	pipe.ZAdd(ctx, indexKey, &redis.Z{Score: float64(now.UnixNano()), Member: key})
	pipe.Del(ctx, inflightKeyPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store idempotency entry: %w", err)
	}
	return nil
}

// Release drops the reservation without storing a result. Called on failed
// or cancelled executions so a retry can run fresh.
func (c *Cache) Release(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, inflightKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Size returns the number of indexed entries, including ones whose result
// has already lapsed by TTL but not yet been evicted.
func (c *Cache) Size(ctx context.Context) (int64, error) {
	return c.redis.ZCard(ctx, indexKey).Result()
}

func (c *Cache) evictIfFull(ctx context.Context) error {
	size, err := c.redis.ZCard(ctx, indexKey).Result()
	if err != nil {
		return err
	}
	if size < int64(c.maxEntries) {
		return nil
	}

	batch := int64(float64(c.maxEntries) * evictFraction)
	if batch < 1 {
		batch = 1
	}

	oldest, err := c.redis.ZRange(ctx, indexKey, 0, batch-1).Result()
	if err != nil {
		return err
	}
	if len(oldest) == 0 {
		return nil
	}

	pipe := c.redis.Pipeline()
	members := make([]interface{}, 0, len(oldest))
	for _, key := range oldest {
		pipe.Del(ctx, resultKeyPrefix+key)
		members = append(members, key)
	}
	pipe.ZRem(ctx, indexKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	logger.DebugCtx(ctx, "evicted %d idempotency entries (cache at %d/%d)", len(oldest), size, c.maxEntries)
	return nil
}
