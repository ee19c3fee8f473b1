package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// CursorStore implements domain.CursorStore with one string key per
// consumer: cursor:{consumer}.
type CursorStore struct {
	rdb *redis.Client
}

// NewCursorStore creates a CursorStore backed by the given Client.
func NewCursorStore(c *Client) *CursorStore {
	return &CursorStore{rdb: c.Underlying()}
}

func cursorKey(consumer string) string { return "cursor:" + consumer }

// Load returns the saved cursor, or "" when none was saved.
func (s *CursorStore) Load(ctx context.Context, consumer string) (string, error) {
	v, err := s.rdb.Get(ctx, cursorKey(consumer)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: load cursor %s: %w", consumer, err)
	}
	return v, nil
}

// Save stores cursor without expiry.
func (s *CursorStore) Save(ctx context.Context, consumer, cursor string) error {
	if err := s.rdb.Set(ctx, cursorKey(consumer), cursor, 0).Err(); err != nil {
		return fmt.Errorf("redis: save cursor %s: %w", consumer, err)
	}
	return nil
}

var _ domain.CursorStore = (*CursorStore)(nil)
