package domain

import (
	"context"
	"time"
)

// ListingCache provides fast listing lookups in front of the ledger.
type ListingCache interface {
	Set(ctx context.Context, l Listing) error
	Get(ctx context.Context, key ListingKey) (Listing, error)
	Invalidate(ctx context.Context, key ListingKey) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// ListingChannel is the pub/sub channel carrying ListingEvent payloads.
const ListingChannel = "ch:listing"

// ListingEventType distinguishes a fresh listing from an overwrite.
type ListingEventType string

const (
	ListingCreated  ListingEventType = "listing_created"
	ListingReplaced ListingEventType = "listing_replaced"
)

// ListingEvent is published after an approval commits.
type ListingEvent struct {
	Type    ListingEventType `json:"type"`
	Key     ListingKey       `json:"key"`
	Listing Listing          `json:"listing"`
}
