package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

const defaultListingTTL = 5 * time.Minute

// ListingCache implements domain.ListingCache with one hash per listing.
//
// Key schema:
//
//	listing:{collection||item} - hash with field "data" containing JSON
type ListingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewListingCache creates a ListingCache. A non-positive ttl uses five
// minutes.
func NewListingCache(c *Client, ttl time.Duration) *ListingCache {
	if ttl <= 0 {
		ttl = defaultListingTTL
	}
	return &ListingCache{rdb: c.Underlying(), ttl: ttl}
}

func listingKey(key domain.ListingKey) string { return "listing:" + key.String() }

// Set stores l under its listing key.
func (lc *ListingCache) Set(ctx context.Context, l domain.Listing) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %s: %w", l.Key(), err)
	}

	key := listingKey(l.Key())
	pipe := lc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, lc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set listing %s: %w", l.Key(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (lc *ListingCache) Get(ctx context.Context, key domain.ListingKey) (domain.Listing, error) {
	data, err := lc.rdb.HGet(ctx, listingKey(key), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing %s: %w", key, err)
	}

	var l domain.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing %s: %w", key, err)
	}
	return l, nil
}

// Invalidate drops the cached listing.
func (lc *ListingCache) Invalidate(ctx context.Context, key domain.ListingKey) error {
	if err := lc.rdb.Del(ctx, listingKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %s: %w", key, err)
	}
	return nil
}

var _ domain.ListingCache = (*ListingCache)(nil)
