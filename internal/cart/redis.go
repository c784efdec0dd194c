// internal/cart/redis.go
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"bookstore/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxWatchRetries bounds optimistic retries when two requests edit the same cart.
const maxWatchRetries = 5

// RedisStore keeps each cart as a hash `cart:<userID>` keyed by book id.
// The key expires after ttl of inactivity.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Put adds item.Quantity to the cart line for item.BookID, creating the cart
// and the line if needed. The price snapshot is refreshed to item.Price.
func (s *RedisStore) Put(ctx context.Context, userID uuid.UUID, item domain.CartItem) (domain.CartItem, error) {
	key := cacheKey(userID)
	field := item.BookID.String()

	var stored domain.CartItem
	txf := func(tx *redis.Tx) error {
		stored = item
		raw, err := tx.HGet(ctx, key, field).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis hget failed: %w", err)
		default:
			var existing domain.CartItem
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("unmarshal cart item failed: %w", err)
			}
			if existing.Quantity > domain.MaxQuantity-stored.Quantity {
				return domain.Invalid("quantity", "cart line for book %s would exceed %d", item.BookID, domain.MaxQuantity)
			}
			stored.Quantity += existing.Quantity
			stored.AddedAt = existing.AddedAt
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshal cart item failed: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.CartItem{}, err
		}
		return stored, nil
	}
	return domain.CartItem{}, fmt.Errorf("cart %s: too many concurrent edits", userID)
}

// Remove deletes one line. Removing an absent line is not an error.
func (s *RedisStore) Remove(ctx context.Context, userID, bookID uuid.UUID) error {
	if err := s.client.HDel(ctx, cacheKey(userID), bookID.String()).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	return nil
}

// Snapshot returns the cart lines in the order they were first added. A
// missing cart is an empty snapshot.
func (s *RedisStore) Snapshot(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	fields, err := s.client.HGetAll(ctx, cacheKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	items := make([]domain.CartItem, 0, len(fields))
	for field, raw := range fields {
		var item domain.CartItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("unmarshal cart item %s failed: %w", field, err)
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].AddedAt.Equal(items[j].AddedAt) {
			return items[i].AddedAt.Before(items[j].AddedAt)
		}
		return items[i].BookID.String() < items[j].BookID.String()
	})
	return items, nil
}

// Discard subtracts ordered quantities from the matching lines, deleting
// lines that reach zero. Lines for other books are left as they are.
func (s *RedisStore) Discard(ctx context.Context, userID uuid.UUID, ordered []domain.CartItem) error {
	if len(ordered) == 0 {
		return nil
	}
	key := cacheKey(userID)
	owed := make(map[string]int, len(ordered))
	for _, it := range ordered {
		if it.Quantity > 0 {
			owed[it.BookID.String()] += it.Quantity
		}
	}
	fields := make([]string, 0, len(owed))
	for field := range owed {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	txf := func(tx *redis.Tx) error {
		current, err := tx.HMGet(ctx, key, fields...).Result()
		if err != nil {
			return fmt.Errorf("redis hmget failed: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, field := range fields {
				raw, ok := current[i].(string)
				if !ok {
					continue
				}
				var existing domain.CartItem
				if err := json.Unmarshal([]byte(raw), &existing); err != nil {
					return fmt.Errorf("unmarshal cart item %s failed: %w", field, err)
				}
				existing.Quantity -= owed[field]
				if existing.Quantity <= 0 {
					pipe.HDel(ctx, key, field)
					continue
				}
				data, err := json.Marshal(existing)
				if err != nil {
					return fmt.Errorf("marshal cart item failed: %w", err)
				}
				pipe.HSet(ctx, key, field, data)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("cart %s: too many concurrent edits", userID)
}

// Clear drops the whole cart.
func (s *RedisStore) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID uuid.UUID) string {
	return fmt.Sprintf("cart:%s", userID)
}
