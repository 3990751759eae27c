package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration, maxEntries int) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client, ttl, maxEntries), mr
}

func TestCheckMissReturnsNil(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour, 100)
	ctx := context.Background()

	cached, err := cache.Check(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestStoreThenCheckRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour, 100)
	ctx := context.Background()

	payload := json.RawMessage(`{"pages": 3}`)
	require.NoError(t, cache.Store(ctx, "job-42", payload, "w1", "convert:document_to_pdf"))

	cached, err := cache.Check(ctx, "job-42")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "job-42", cached.IdempotencyKey)
	assert.Equal(t, "w1", cached.WorkerID)
	assert.Equal(t, "convert:document_to_pdf", cached.CapabilityKey)
	assert.JSONEq(t, `{"pages": 3}`, string(cached.Result))
}

func TestCheckAfterTTLReturnsNil(t *testing.T) {
	cache, mr := newTestCache(t, time.Hour, 100)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "job-42", json.RawMessage(`{}`), "w1", "a:b"))

	mr.FastForward(time.Hour + time.Second)

	cached, err := cache.Check(ctx, "job-42")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestReserveOutcomes(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour, 100)
	ctx := context.Background()

	// First caller proceeds.
	outcome, cached, err := cache.Reserve(ctx, "job-42")
	require.NoError(t, err)
	assert.Equal(t, ReserveProceed, outcome)
	assert.Nil(t, cached)

	// Second concurrent caller is told the first is still executing.
	outcome, cached, err = cache.Reserve(ctx, "job-42")
	require.NoError(t, err)
	assert.Equal(t, ReserveInFlight, outcome)
	assert.Nil(t, cached)

	// After the first caller stores, later callers replay.
	require.NoError(t, cache.Store(ctx, "job-42", json.RawMessage(`{"ok":true}`), "w1", "a:b"))

	outcome, cached, err = cache.Reserve(ctx, "job-42")
	require.NoError(t, err)
	assert.Equal(t, ReserveReplay, outcome)
	require.NotNil(t, cached)
	assert.JSONEq(t, `{"ok":true}`, string(cached.Result))
}

func TestReleaseAllowsRetry(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour, 100)
	ctx := context.Background()

	outcome, _, err := cache.Reserve(ctx, "job-42")
	require.NoError(t, err)
	require.Equal(t, ReserveProceed, outcome)

	// Execution failed; the reservation is dropped and a retry runs fresh.
	require.NoError(t, cache.Release(ctx, "job-42"))

	outcome, cached, err := cache.Reserve(ctx, "job-42")
	require.NoError(t, err)
	assert.Equal(t, ReserveProceed, outcome)
	assert.Nil(t, cached)
}

func TestStoreOverwritesExistingEntry(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour, 100)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "job-42", json.RawMessage(`{"v":1}`), "w1", "a:b"))
	require.NoError(t, cache.Store(ctx, "job-42", json.RawMessage(`{"v":2}`), "w2", "a:b"))

	cached, err := cache.Check(ctx, "job-42")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.JSONEq(t, `{"v":2}`, string(cached.Result))
	assert.Equal(t, "w2", cached.WorkerID)
}

func TestEvictionDropsOldestBatch(t *testing.T) {
	const maxEntries = 20
	cache, _ := newTestCache(t, time.Hour, maxEntries)
	ctx := context.Background()

	base := time.Now()
	i := 0
	cache.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Millisecond)
	}

	for n := 0; n < maxEntries+1; n++ {
		key := fmt.Sprintf("key-%03d", n)
		require.NoError(t, cache.Store(ctx, key, json.RawMessage(`{}`), "w1", "a:b"))
	}

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, int64(maxEntries))

	// The oldest 10% went; the most recent entries survived.
	cached, err := cache.Check(ctx, "key-000")
	require.NoError(t, err)
	assert.Nil(t, cached)

	cached, err = cache.Check(ctx, fmt.Sprintf("key-%03d", maxEntries))
	require.NoError(t, err)
	assert.NotNil(t, cached)
}
