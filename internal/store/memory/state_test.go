package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

func newTestState() *State {
	return NewState(domain.NewAmount(100), "near", " ", "usdc")
}

func TestState_UpdateCommits(t *testing.T) {
	s := newTestState()
	ctx := context.Background()

	err := s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		l := domain.Listing{ListerID: "bob", SourceCollectionID: "c", ItemID: "1"}
		if _, _, err := tx.Listings().Put(ctx, l.Key(), l); err != nil {
			return err
		}
		return tx.Indices().Add(ctx, domain.IndexByLister, "bob", l.Key())
	})
	require.NoError(t, err)

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		got, err := tx.Listings().Get(ctx, "c||1")
		require.NoError(t, err)
		assert.Equal(t, "bob", got.ListerID)

		n, err := tx.Indices().Count(ctx, domain.IndexByLister, "bob")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	}))
}

func TestState_UpdateRollsBackOnError(t *testing.T) {
	s := newTestState()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		l := domain.Listing{ListerID: "bob", SourceCollectionID: "c", ItemID: "1"}
		_, _, _ = tx.Listings().Put(ctx, l.Key(), l)
		_ = tx.Indices().Add(ctx, domain.IndexByLister, "bob", l.Key())
		_ = tx.Quota().Purchase(ctx, "bob", domain.NewAmount(500))
		_ = tx.Currencies().Add(ctx, "doge")
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Empty(t, s.listings)
	assert.Empty(t, s.directory, "lazily created directory must be undone")
	assert.Empty(t, s.subStores)
	assert.Empty(t, s.owners)
	assert.Empty(t, s.deposits)
	assert.NotContains(t, s.currencies, "doge")
}

func TestState_UpdateRollsBackOnPanic(t *testing.T) {
	s := newTestState()
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
			_ = tx.Quota().Purchase(ctx, "bob", domain.NewAmount(500))
			panic("unexpected")
		})
	})
	assert.Empty(t, s.deposits)

	// The lock was released.
	require.NoError(t, s.Update(ctx, func(context.Context, domain.Tx) error { return nil }))
}

func TestState_RollbackRestoresOverwrittenListing(t *testing.T) {
	s := newTestState()
	ctx := context.Background()
	orig := domain.Listing{ListerID: "bob", SourceCollectionID: "c", ItemID: "1", ApprovalToken: 1}

	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, _, err := tx.Listings().Put(ctx, orig.Key(), orig)
		return err
	}))

	_ = s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		next := orig
		next.ApprovalToken = 2
		prev, replaced, err := tx.Listings().Put(ctx, next.Key(), next)
		require.NoError(t, err)
		assert.True(t, replaced)
		assert.Equal(t, uint64(1), prev.ApprovalToken)
		return errors.New("abort")
	})

	assert.Equal(t, uint64(1), s.listings["c||1"].ApprovalToken)
}

func TestState_ViewIsReadOnly(t *testing.T) {
	s := newTestState()
	ctx := context.Background()

	err := s.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Quota().Purchase(ctx, "bob", domain.NewAmount(1))
	})
	require.Error(t, err)
	assert.Empty(t, s.deposits)
}

func TestState_CanceledContext(t *testing.T) {
	s := newTestState()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Update(ctx, func(context.Context, domain.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestIndexStore_LazySubStores(t *testing.T) {
	s := newTestState()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		idx := tx.Indices()

		_, exists, err := idx.SubStore(ctx, domain.IndexByCategory, "hats")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, idx.Add(ctx, domain.IndexByCategory, "hats", "c||hat#1"))
		require.NoError(t, idx.Add(ctx, domain.IndexByCategory, "hats", "c||hat#2"))
		require.NoError(t, idx.Add(ctx, domain.IndexByCategory, "hats", "c||hat#1"))

		id, exists, err := idx.SubStore(ctx, domain.IndexByCategory, "hats")
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, domain.DeriveSubStoreID(domain.IndexByCategory, "hats"), id)

		n, err := idx.Count(ctx, domain.IndexByCategory, "hats")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		members, err := idx.Members(ctx, domain.IndexByCategory, "hats", domain.ListOpts{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []domain.ListingKey{"c||hat#2"}, members)
		return nil
	}))
}

func TestIndexStore_Remove(t *testing.T) {
	s := newTestState()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		idx := tx.Indices()
		require.NoError(t, idx.Add(ctx, domain.IndexByLister, "alice", "c||1"))
		require.NoError(t, idx.Add(ctx, domain.IndexByLister, "alice", "c||2"))
		require.NoError(t, idx.Remove(ctx, domain.IndexByLister, "alice", "c||1"))
		require.NoError(t, idx.Remove(ctx, domain.IndexByLister, "alice", "c||9"))
		require.NoError(t, idx.Remove(ctx, domain.IndexByLister, "nobody", "c||1"))
		return nil
	}))

	id := domain.DeriveSubStoreID(domain.IndexByLister, "alice")
	assert.Equal(t, map[domain.ListingKey]struct{}{"c||2": {}}, s.subStores[id])
	assert.NotContains(t, s.directory[domain.IndexByLister], "nobody")
}

func TestIndexStore_RemoveRollsBack(t *testing.T) {
	s := newTestState()
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Indices().Add(ctx, domain.IndexByLister, "alice", "c||1")
	}))
	err := s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Indices().Remove(ctx, domain.IndexByLister, "alice", "c||1"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	id := domain.DeriveSubStoreID(domain.IndexByLister, "alice")
	assert.Contains(t, s.subStores[id], domain.ListingKey("c||1"))
}

func TestIndexStore_RemoveInView(t *testing.T) {
	s := newTestState()
	err := s.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Indices().Remove(ctx, domain.IndexByLister, "alice", "c||1")
	})
	require.Error(t, err)
}

func TestIndexStore_UnknownIndex(t *testing.T) {
	s := newTestState()
	err := s.Update(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Indices().Add(ctx, "by_color", "red", "c||1")
	})
	require.Error(t, err)
}

func TestIndexStore_SubStoreCollision(t *testing.T) {
	s := newTestState()
	ctx := context.Background()
	fixed := domain.DeriveSubStoreID(domain.IndexByLister, "x")
	s.deriveID = func(domain.IndexName, string) domain.SubStoreID { return fixed }

	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Indices().Add(ctx, domain.IndexByLister, "alice", "c||1")
	}))

	err := s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Indices().Add(ctx, domain.IndexByLister, "bob", "c||2")
	})
	require.ErrorIs(t, err, domain.ErrSubStoreCollision)

	assert.Len(t, s.subStores, 1)
	assert.NotContains(t, s.directory[domain.IndexByLister], "bob")
	assert.Len(t, s.subStores[fixed], 1)
}

func TestQuotaLedger_Units(t *testing.T) {
	s := newTestState()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		q := tx.Quota()
		require.NoError(t, q.Purchase(ctx, "bob", domain.NewAmount(250)))

		units, err := q.Units(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), units)

		units, err = q.Units(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, units)

		require.ErrorIs(t, q.Purchase(ctx, " ", domain.NewAmount(1)), domain.ErrMalformedRequest)
		return nil
	}))
}

func TestCurrencyRegistry(t *testing.T) {
	s := newTestState()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		reg := tx.Currencies()
		require.NoError(t, reg.Add(ctx, "eth"))
		require.NoError(t, reg.Add(ctx, "near"))
		require.ErrorIs(t, reg.Add(ctx, ""), domain.ErrMalformedRequest)

		ids, err := reg.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"eth", "near", "usdc"}, ids)

		ok, err := reg.IsSupported(ctx, "doge")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestRefundQueue_Cursor(t *testing.T) {
	q := NewRefundQueue()
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, q.Enqueue(ctx, domain.Refund{ID: id}))
	}

	batch, cursor, err := q.Dequeue(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "r1", batch[0].ID)
	assert.Equal(t, "2", cursor)

	batch, cursor, err = q.Dequeue(ctx, cursor, 2)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "r3", batch[0].ID)

	batch, cursor, err = q.Dequeue(ctx, cursor, 2)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.Equal(t, "3", cursor)

	_, _, err = q.Dequeue(ctx, "nope", 2)
	require.Error(t, err)
}
