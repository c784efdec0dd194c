// internal/cart/redis_test.go
package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"bookstore/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and a RedisStore pointing at it.
func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, time.Hour), mr
}

func TestRedisStore_PutMergesQuantities(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()
	user, book := uuid.New(), uuid.New()
	first := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := store.Put(ctx, user, domain.CartItem{BookID: book, Quantity: 2, Price: 1000, AddedAt: first})
	require.NoError(t, err)
	stored, err := store.Put(ctx, user, domain.CartItem{BookID: book, Quantity: 3, Price: 1200, AddedAt: first.Add(time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, 5, stored.Quantity)
	assert.Equal(t, int64(1200), stored.Price)
	assert.True(t, first.Equal(stored.AddedAt))
	assert.True(t, mr.Exists(cacheKey(user)))
	assert.Equal(t, time.Hour, mr.TTL(cacheKey(user)))
}

func TestRedisStore_SnapshotOrderAndRemove(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	user := uuid.New()
	a, b := uuid.New(), uuid.New()
	now := time.Now().UTC()

	_, err := store.Put(ctx, user, domain.CartItem{BookID: b, Quantity: 1, AddedAt: now})
	require.NoError(t, err)
	_, err = store.Put(ctx, user, domain.CartItem{BookID: a, Quantity: 1, AddedAt: now.Add(time.Second)})
	require.NoError(t, err)

	items, err := store.Snapshot(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, b, items[0].BookID)
	assert.Equal(t, a, items[1].BookID)

	require.NoError(t, store.Remove(ctx, user, b))
	require.NoError(t, store.Remove(ctx, user, uuid.New()))
	items, err = store.Snapshot(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a, items[0].BookID)
}

func TestRedisStore_MissingCartIsEmpty(t *testing.T) {
	store, _ := setupTestRedis(t)

	items, err := store.Snapshot(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRedisStore_Clear(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := store.Put(ctx, user, domain.CartItem{BookID: uuid.New(), Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx, user))
	assert.False(t, mr.Exists(cacheKey(user)))
}

func TestRedisStore_DiscardKeepsOtherLines(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	user := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	now := time.Now().UTC()

	for i, it := range []domain.CartItem{{BookID: a, Quantity: 2}, {BookID: b, Quantity: 5}, {BookID: c, Quantity: 1}} {
		it.AddedAt = now.Add(time.Duration(i) * time.Second)
		_, err := store.Put(ctx, user, it)
		require.NoError(t, err)
	}

	err := store.Discard(ctx, user, []domain.CartItem{{BookID: a, Quantity: 2}, {BookID: b, Quantity: 3}, {BookID: uuid.New(), Quantity: 1}})
	require.NoError(t, err)

	items, err := store.Snapshot(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, b, items[0].BookID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, c, items[1].BookID)
	assert.Equal(t, 1, items[1].Quantity)

	require.NoError(t, store.Discard(ctx, uuid.New(), []domain.CartItem{{BookID: a, Quantity: 1}}))
	require.NoError(t, store.Discard(ctx, user, nil))
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	store, mr := setupTestRedis(t)
	user := uuid.New()
	mr.HSet(cacheKey(user), uuid.New().String(), "not json")

	_, err := store.Snapshot(context.Background(), user)
	assert.Error(t, err)
}

func TestRedisStore_ExpiredCartIsGone(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := store.Put(ctx, user, domain.CartItem{BookID: uuid.New(), Quantity: 1})
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	items, err := store.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRedisStore_ConcurrentPuts(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	user, book := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := store.Put(ctx, user, domain.CartItem{BookID: book, Quantity: 1}); err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	items, err := store.Snapshot(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].Quantity)
}
