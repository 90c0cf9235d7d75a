package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	listingCacheKey      = "users:need-help:v1"
	listingGenerationKey = "users:need-help:gen"
)

// ListingCache holds a short-lived copy of the public needs-help listing.
//
// Every invalidation bumps a generation counter. A refill is only stored when
// the generation read before the store query is still current, so a write
// that lands during the refill is never hidden behind a stale entry.
type ListingCache interface {
	Get(ctx context.Context) ([]HelpRequest, bool, error)
	Generation(ctx context.Context) (int64, error)
	Set(ctx context.Context, generation int64, list []HelpRequest) (bool, error)
	Invalidate(ctx context.Context) error
}

// RedisListingCache stores the listing as a JSON document in Redis.
type RedisListingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisListingCache builds a cache whose entries expire after ttl.
func NewRedisListingCache(client *redis.Client, ttl time.Duration) *RedisListingCache {
	return &RedisListingCache{client: client, ttl: ttl}
}

// Get returns the cached listing; ok is false on a miss.
func (c *RedisListingCache) Get(ctx context.Context) ([]HelpRequest, bool, error) {
	raw, err := c.client.Get(ctx, listingCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read listing cache: %w", err)
	}
	var list []HelpRequest
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false, fmt.Errorf("decode listing cache: %w", err)
	}
	return list, true, nil
}

// Generation returns the current invalidation generation.
func (c *RedisListingCache) Generation(ctx context.Context) (int64, error) {
	gen, err := readGeneration(ctx, c.client)
	if err != nil {
		return 0, fmt.Errorf("read listing generation: %w", err)
	}
	return gen, nil
}

// Set stores list if generation is still current. It reports whether the
// entry was written.
func (c *RedisListingCache) Set(ctx context.Context, generation int64, list []HelpRequest) (bool, error) {
	payload, err := json.Marshal(list)
	if err != nil {
		return false, fmt.Errorf("encode listing cache: %w", err)
	}

	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx)
		if err != nil {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, listingCacheKey, payload, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, listingGenerationKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("write listing cache: %w", err)
	}
	return stored, nil
}

// Invalidate bumps the generation and drops the cached listing.
func (c *RedisListingCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, listingGenerationKey)
		pipe.Del(ctx, listingCacheKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate listing cache: %w", err)
	}
	return nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, r stringGetter) (int64, error) {
	gen, err := r.Get(ctx, listingGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}
