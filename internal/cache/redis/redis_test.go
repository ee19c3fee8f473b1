package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestListingCache(t *testing.T) {
	c, mr := newTestClient(t)
	cache := NewListingCache(c, time.Minute)
	ctx := context.Background()

	tag := "abc"
	l := domain.Listing{
		ListerID:           "alice",
		CreatedAt:          time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		ApprovalToken:      18446744073709551615,
		SourceCollectionID: "nft",
		ItemID:             "abc#1",
		PriceConditions:    domain.PriceConditions{"near": domain.MustParseAmount("340282366920938463463374607431768211455")},
		CategoryTag:        &tag,
	}

	_, err := cache.Get(ctx, l.Key())
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, cache.Set(ctx, l))
	got, err := cache.Get(ctx, l.Key())
	require.NoError(t, err)
	assert.Equal(t, l, got)
	assert.Equal(t, time.Minute, mr.TTL("listing:nft||abc#1"))

	require.NoError(t, cache.Invalidate(ctx, l.Key()))
	_, err = cache.Get(ctx, l.Key())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "refund-worker", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "refund-worker", time.Minute)
	require.True(t, errors.Is(err, domain.ErrLockHeld))

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "refund-worker", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "5.6.7.8", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "keys are limited independently")

	now = now.Add(2 * time.Second)
	ok, err = rl.Allow(ctx, "1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "window slid past earlier requests")
}

func TestRefundQueue(t *testing.T) {
	c, _ := newTestClient(t)
	q := NewRefundQueue(c, "")
	ctx := context.Background()

	refunds, cursor, err := q.Dequeue(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, refunds)
	assert.Equal(t, "", cursor)

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, q.Enqueue(ctx, domain.Refund{
			ID:        id,
			AccountID: "alice",
			Amount:    domain.NewAmount(750),
			Key:       "nft||genesis",
		}))
	}

	refunds, cursor, err = q.Dequeue(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, "r1", refunds[0].ID)
	assert.Equal(t, "750", refunds[0].Amount.String())
	assert.Equal(t, domain.ListingKey("nft||genesis"), refunds[0].Key)

	refunds, cursor, err = q.Dequeue(ctx, cursor, 2)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, "r3", refunds[0].ID)

	refunds, _, err = q.Dequeue(ctx, cursor, 2)
	require.NoError(t, err)
	assert.Empty(t, refunds)
}

func TestRefundQueue_NotTrimmedWithEventStreams(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	// The event bus is capped hard; refunds on the same server are not.
	events := NewSignalBusWithMaxLen(c, 2)
	q := NewRefundQueue(c, "")
	for i := range 5 {
		require.NoError(t, events.StreamAppend(ctx, "stream:events", []byte(`{}`)))
		require.NoError(t, q.Enqueue(ctx, domain.Refund{
			ID:        string(rune('a' + i)),
			AccountID: "alice",
			Amount:    domain.NewAmount(1),
		}))
	}

	all, err := mr.Stream(DefaultRefundStream)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	refunds, _, err := q.Dequeue(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, refunds, 5)
	assert.Equal(t, "a", refunds[0].ID)
	assert.Equal(t, "e", refunds[4].ID)
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.ListingChannel)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.ListingChannel, []byte(`{"type":"listing_created"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"type":"listing_created"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	for range ch {
	}
}

func TestCursorStore(t *testing.T) {
	c, _ := newTestClient(t)
	s := NewCursorStore(c)
	ctx := context.Background()

	got, err := s.Load(ctx, "refunds")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Save(ctx, "refunds", "1700000000000-0"))
	got, err = s.Load(ctx, "refunds")
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", got)
}
