package listing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/listingengine/internal/domain"
	"github.com/alanyoungcy/listingengine/internal/listing"
	"github.com/alanyoungcy/listingengine/internal/store/memory"
)

const (
	collection = "nft.example"
	lister     = "alice.example"
)

var (
	unitCost = domain.MustParseAmount("1000")
	fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	engine *listing.Engine
	state  *memory.State
	queue  *memory.RefundQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := memory.NewState(unitCost, "near", "usdc.example")
	queue := memory.NewRefundQueue()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := listing.NewEngine(state, queue, func() time.Time { return fixedNow }, logger)
	return &fixture{engine: engine, state: state, queue: queue}
}

// deposit credits n quota units to account.
func (f *fixture) deposit(t *testing.T, account string, n uint64) {
	t.Helper()
	err := f.state.Update(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Quota().Purchase(ctx, account, unitCost.Mul(n))
	})
	require.NoError(t, err)
}

func (f *fixture) count(t *testing.T, name domain.IndexName, key string) int {
	t.Helper()
	var n int
	err := f.state.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		n, err = tx.Indices().Count(ctx, name, key)
		return err
	})
	require.NoError(t, err)
	return n
}

func (f *fixture) members(t *testing.T, name domain.IndexName, key string) []domain.ListingKey {
	t.Helper()
	var out []domain.ListingKey
	err := f.state.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.Indices().Members(ctx, name, key, domain.ListOpts{})
		return err
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) units(t *testing.T, account string) uint64 {
	t.Helper()
	var n uint64
	err := f.state.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		n, err = tx.Quota().Units(ctx, account)
		return err
	})
	require.NoError(t, err)
	return n
}

type snapshot struct {
	listings []domain.Listing
	indices  map[string][]domain.ListingKey
	deposits map[string]string
}

// snap captures the listing table, the given index keys and deposits.
func (f *fixture) snap(t *testing.T, indexKeys map[domain.IndexName][]string, accounts ...string) snapshot {
	t.Helper()
	s := snapshot{indices: map[string][]domain.ListingKey{}, deposits: map[string]string{}}
	err := f.state.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		if s.listings, err = tx.Listings().List(ctx, domain.ListOpts{}); err != nil {
			return err
		}
		for name, keys := range indexKeys {
			for _, k := range keys {
				members, err := tx.Indices().Members(ctx, name, k, domain.ListOpts{})
				if err != nil {
					return err
				}
				_, exists, err := tx.Indices().SubStore(ctx, name, k)
				if err != nil {
					return err
				}
				if exists {
					s.indices[string(name)+"/"+k] = members
				}
			}
		}
		for _, a := range accounts {
			d, err := tx.Quota().Deposit(ctx, a)
			if err != nil {
				return err
			}
			s.deposits[a] = d.String()
		}
		return nil
	})
	require.NoError(t, err)
	return s
}

func TestOnItemApproved_CreatesListingAndIndices(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 1)

	res, err := f.engine.OnItemApproved(context.Background(), collection, "token-1", lister, 7,
		`{"sale_conditions":[{"price":"2500","currency_id":"near"},{"currency_id":"usdc.example"}]}`)
	require.NoError(t, err)

	assert.Equal(t, domain.ListingKey("nft.example||token-1"), res.Key)
	assert.False(t, res.Replaced())
	assert.Nil(t, res.Refund)

	l := res.Listing
	assert.Equal(t, lister, l.ListerID)
	assert.Equal(t, uint64(7), l.ApprovalToken)
	assert.Equal(t, fixedNow, l.CreatedAt)
	assert.False(t, l.IsCategoryListing)
	assert.Nil(t, l.CategoryTag)
	assert.Nil(t, l.Bids)
	assert.Equal(t, "2500", l.PriceConditions["near"].String())
	assert.True(t, l.PriceConditions["usdc.example"].IsZero(), "missing price means open to bids")

	assert.Equal(t, []domain.ListingKey{res.Key}, f.members(t, domain.IndexByLister, lister))
	assert.Equal(t, []domain.ListingKey{res.Key}, f.members(t, domain.IndexByCollection, collection))
	_, exists, _ := subStore(t, f, domain.IndexByCategory, "token")
	assert.False(t, exists, "untagged listings stay out of the category index")
}

func subStore(t *testing.T, f *fixture, name domain.IndexName, key string) (domain.SubStoreID, bool, error) {
	t.Helper()
	var (
		id     domain.SubStoreID
		exists bool
	)
	err := f.state.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		id, exists, err = tx.Indices().SubStore(ctx, name, key)
		return err
	})
	return id, exists, err
}

func TestOnItemApproved_CategoryTagSubstring(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 2)

	res, err := f.engine.OnItemApproved(context.Background(), collection, "abc#123", lister, 1,
		`{"sale_conditions":[{"price":"1","currency_id":"near"}],"category_tag":"abc"}`)
	require.NoError(t, err)
	require.NotNil(t, res.Listing.CategoryTag)
	assert.Equal(t, "abc", *res.Listing.CategoryTag)
	assert.Equal(t, []domain.ListingKey{"nft.example||abc#123"}, f.members(t, domain.IndexByCategory, "abc"))

	_, err = f.engine.OnItemApproved(context.Background(), collection, "abc#124", lister, 2,
		`{"sale_conditions":[{"price":"1","currency_id":"near"}],"category_tag":"xyz"}`)
	require.ErrorIs(t, err, domain.ErrInvalidCategoryTag)
	assert.Equal(t, 1, f.count(t, domain.IndexByLister, lister))
	assert.Equal(t, 0, f.count(t, domain.IndexByCategory, "xyz"))
}

func TestOnItemApproved_MalformedMessage(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"not json":       `sale please`,
		"array":          `[1,2]`,
		"wrong type":     `{"sale_conditions":"near"}`,
		"numeric price":  `{"sale_conditions":[{"price":5,"currency_id":"near"}]}`,
		"negative price": `{"sale_conditions":[{"price":"-5","currency_id":"near"}]}`,
		"price too wide": `{"sale_conditions":[{"price":"340282366920938463463374607431768211456","currency_id":"near"}]}`,
		"no currency":    `{"sale_conditions":[{"price":"5"}]}`,
		"trailing":       `{"sale_conditions":[]} {}`,
		"trailing brace": `{"sale_conditions":[]}}`,
		"trailing brack": `{"sale_conditions":[]}]`,
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.deposit(t, lister, 1)

			_, err := f.engine.OnItemApproved(context.Background(), collection, "token-1", lister, 1, msg)
			require.ErrorIs(t, err, domain.ErrMalformedRequest)
			assert.Equal(t, 0, f.count(t, domain.IndexByLister, lister))
		})
	}
}

func TestOnItemApproved_MaxPrice(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 1)

	res, err := f.engine.OnItemApproved(context.Background(), collection, "token-1", lister, 1,
		`{"sale_conditions":[{"price":"340282366920938463463374607431768211455","currency_id":"near"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "340282366920938463463374607431768211455", res.Listing.PriceConditions["near"].String())
}

func TestApprove_RejectsDelimiterInIDs(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 1)

	_, err := f.engine.OnItemApproved(context.Background(), collection, "a||b", lister, 1, `{"sale_conditions":[]}`)
	require.ErrorIs(t, err, domain.ErrMalformedRequest)

	_, err = f.engine.OnItemApproved(context.Background(), "x||y", "token", lister, 1, `{"sale_conditions":[]}`)
	require.ErrorIs(t, err, domain.ErrMalformedRequest)
}

func TestApprove_KeysCannotCollideAcrossCollections(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", 1)
	f.deposit(t, "mallory", 1)
	ctx := context.Background()

	// Both pairs would join to "a|||b".
	_, err := f.engine.OnItemApproved(ctx, "a", "|b", "alice", 1, `{"sale_conditions":[]}`)
	require.ErrorIs(t, err, domain.ErrMalformedRequest)
	_, err = f.engine.OnItemApproved(ctx, "a|", "b", "mallory", 1, `{"sale_conditions":[]}`)
	require.ErrorIs(t, err, domain.ErrMalformedRequest)
	_, err = f.engine.OnCategoryApproved(ctx, "a", "b|", "mallory", domain.SaleArgs{}, domain.Amount{})
	require.ErrorIs(t, err, domain.ErrMalformedRequest)

	res, err := f.engine.OnItemApproved(ctx, "a", "b", "alice", 1, `{"sale_conditions":[]}`)
	require.NoError(t, err)
	coll, item, ok := res.Key.Split()
	require.True(t, ok)
	assert.Equal(t, "a", coll)
	assert.Equal(t, "b", item)
	assert.Equal(t, 0, f.count(t, domain.IndexByLister, "mallory"))
}

func TestApprove_UnsupportedCurrencyLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 3)
	keys := map[domain.IndexName][]string{
		domain.IndexByLister:     {lister},
		domain.IndexByCollection: {collection},
		domain.IndexByCategory:   {"abc"},
	}
	before := f.snap(t, keys, lister)

	_, err := f.engine.OnItemApproved(context.Background(), collection, "abc#1", lister, 1,
		`{"sale_conditions":[{"price":"1","currency_id":"near"},{"price":"1","currency_id":"doge"}],"category_tag":"abc"}`)
	require.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
	assert.Contains(t, err.Error(), "doge")

	assert.Equal(t, before, f.snap(t, keys, lister))
	_, exists, err := subStore(t, f, domain.IndexByCollection, collection)
	require.NoError(t, err)
	assert.False(t, exists, "no sub-store may be left behind by a failed approval")
}

func TestApprove_QuotaInvariant(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 2)

	for _, item := range []string{"a", "b"} {
		_, err := f.engine.OnItemApproved(context.Background(), collection, item, lister, 1, `{"sale_conditions":[]}`)
		require.NoError(t, err)
		assert.Less(t, uint64(f.count(t, domain.IndexByLister, lister)), f.units(t, lister)+1)
	}

	keys := map[domain.IndexName][]string{
		domain.IndexByLister:     {lister},
		domain.IndexByCollection: {collection},
	}
	before := f.snap(t, keys, lister)

	_, err := f.engine.OnItemApproved(context.Background(), collection, "c", lister, 1, `{"sale_conditions":[]}`)
	require.ErrorIs(t, err, domain.ErrInsufficientQuota)
	assert.Equal(t, before, f.snap(t, keys, lister))
	assert.Equal(t, 2, f.count(t, domain.IndexByLister, lister))
}

func TestApprove_RequiresOneUnit(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.OnItemApproved(context.Background(), collection, "a", lister, 1, `{"sale_conditions":[]}`)
	require.ErrorIs(t, err, domain.ErrInsufficientQuota)

	// A deposit short of a full unit still buys nothing.
	err = f.state.Update(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Quota().Purchase(ctx, lister, domain.MustParseAmount("999"))
	})
	require.NoError(t, err)
	_, err = f.engine.OnItemApproved(context.Background(), collection, "a", lister, 1, `{"sale_conditions":[]}`)
	require.ErrorIs(t, err, domain.ErrInsufficientQuota)
}

func TestApprove_UpsertOverwrite(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 2)

	first, err := f.engine.OnItemApproved(context.Background(), collection, "token-1", lister, 1,
		`{"sale_conditions":[{"price":"10","currency_id":"near"},{"price":"5","currency_id":"usdc.example"}]}`)
	require.NoError(t, err)

	second, err := f.engine.OnItemApproved(context.Background(), collection, "token-1", lister, 2,
		`{"sale_conditions":[{"price":"20","currency_id":"near"}]}`)
	require.NoError(t, err)

	require.True(t, second.Replaced())
	assert.Equal(t, first.Listing.PriceConditions, second.Previous.PriceConditions)
	assert.Equal(t, []string{"near"}, second.Listing.PriceConditions.Currencies())
	assert.Equal(t, "20", second.Listing.PriceConditions["near"].String())
	assert.Equal(t, uint64(2), second.Listing.ApprovalToken)

	assert.Equal(t, 1, f.count(t, domain.IndexByLister, lister))
	assert.Equal(t, 1, f.count(t, domain.IndexByCollection, collection))
}

func TestApprove_OverwriteMovesLister(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", 1)
	f.deposit(t, "bob", 1)
	ctx := context.Background()

	_, err := f.engine.OnItemApproved(ctx, collection, "abc#1", "alice", 1,
		`{"sale_conditions":[],"category_tag":"abc"}`)
	require.NoError(t, err)

	res, err := f.engine.OnItemApproved(ctx, collection, "abc#1", "bob", 2, `{"sale_conditions":[]}`)
	require.NoError(t, err)
	require.True(t, res.Replaced())
	assert.Equal(t, "alice", res.Previous.ListerID)

	assert.Empty(t, f.members(t, domain.IndexByLister, "alice"))
	assert.Equal(t, []domain.ListingKey{res.Key}, f.members(t, domain.IndexByLister, "bob"))
	assert.Empty(t, f.members(t, domain.IndexByCategory, "abc"))
	assert.Equal(t, []domain.ListingKey{res.Key}, f.members(t, domain.IndexByCollection, collection))

	// The unit alice spent on abc#1 is free again.
	_, err = f.engine.OnItemApproved(ctx, collection, "abc#2", "alice", 3, `{"sale_conditions":[]}`)
	require.NoError(t, err)
}

func TestApprove_OverwriteMovesCategory(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 2)
	ctx := context.Background()

	_, err := f.engine.OnItemApproved(ctx, collection, "hat-cap#1", lister, 1,
		`{"sale_conditions":[],"category_tag":"hat"}`)
	require.NoError(t, err)

	res, err := f.engine.OnItemApproved(ctx, collection, "hat-cap#1", lister, 2,
		`{"sale_conditions":[],"category_tag":"cap"}`)
	require.NoError(t, err)

	assert.Empty(t, f.members(t, domain.IndexByCategory, "hat"))
	assert.Equal(t, []domain.ListingKey{res.Key}, f.members(t, domain.IndexByCategory, "cap"))
	assert.Equal(t, []domain.ListingKey{res.Key}, f.members(t, domain.IndexByLister, lister))
}

func TestApprove_EmptyCategoryTagIsIndexed(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 1)

	res, err := f.engine.OnItemApproved(context.Background(), collection, "token-1", lister, 1,
		`{"sale_conditions":[],"category_tag":""}`)
	require.NoError(t, err)
	require.NotNil(t, res.Listing.CategoryTag)
	assert.Equal(t, []domain.ListingKey{res.Key}, f.members(t, domain.IndexByCategory, ""))
}

func TestApprove_DuplicateCurrencyKeepsLastPrice(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 1)

	res, err := f.engine.OnItemApproved(context.Background(), collection, "token-1", lister, 1,
		`{"sale_conditions":[{"price":"10","currency_id":"near"},{"price":"30","currency_id":"near"}]}`)
	require.NoError(t, err)
	assert.Len(t, res.Listing.PriceConditions, 1)
	assert.Equal(t, "30", res.Listing.PriceConditions["near"].String())
}

func TestApprove_IndexSymmetry(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", 5)
	f.deposit(t, "bob", 5)

	ctx := context.Background()
	_, err := f.engine.OnItemApproved(ctx, "c1", "hat#1", "alice", 1, `{"sale_conditions":[],"category_tag":"hat"}`)
	require.NoError(t, err)
	_, err = f.engine.OnItemApproved(ctx, "c1", "hat#2", "bob", 1, `{"sale_conditions":[],"category_tag":"hat"}`)
	require.NoError(t, err)
	_, err = f.engine.OnItemApproved(ctx, "c2", "shoe", "alice", 1, `{"sale_conditions":[]}`)
	require.NoError(t, err)
	_, err = f.engine.OnCategoryApproved(ctx, "c2", "boots", "bob", domain.SaleArgs{}, domain.Amount{})
	require.NoError(t, err)

	var all []domain.Listing
	require.NoError(t, f.state.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		all, err = tx.Listings().List(ctx, domain.ListOpts{})
		return err
	}))
	require.Len(t, all, 4)

	for _, l := range all {
		assert.Contains(t, f.members(t, domain.IndexByLister, l.ListerID), l.Key())
		assert.Contains(t, f.members(t, domain.IndexByCollection, l.SourceCollectionID), l.Key())
		if cat, ok := l.CategoryIndexKey(); ok {
			assert.Contains(t, f.members(t, domain.IndexByCategory, cat), l.Key())
		}
	}
	assert.Len(t, f.members(t, domain.IndexByLister, "alice"), 2)
	assert.Len(t, f.members(t, domain.IndexByLister, "bob"), 2)
	assert.Len(t, f.members(t, domain.IndexByCategory, "hat"), 2)
	assert.Equal(t, []domain.ListingKey{"c2||boots"}, f.members(t, domain.IndexByCategory, "boots"))
}

func TestOnCategoryApproved_BuysUnitAndRefundsExcess(t *testing.T) {
	f := newFixture(t)
	paid := domain.MustParseAmount("1750")

	res, err := f.engine.OnCategoryApproved(context.Background(), collection, "genesis", lister,
		domain.SaleArgs{SaleConditions: []domain.SaleCondition{{CurrencyID: "near"}}}, paid)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), f.units(t, lister))
	require.NotNil(t, res.Refund)
	assert.Equal(t, "750", res.Refund.Amount.String())
	assert.Equal(t, lister, res.Refund.AccountID)

	queued, _, err := f.queue.Dequeue(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, res.Refund.ID, queued[0].ID)

	l := res.Listing
	assert.True(t, l.IsCategoryListing)
	assert.Equal(t, uint64(0), l.ApprovalToken)
	assert.Equal(t, "genesis", l.ItemID)
	assert.Equal(t, []domain.ListingKey{"nft.example||genesis"}, f.members(t, domain.IndexByCategory, "genesis"))
	assert.Equal(t, []domain.ListingKey{"nft.example||genesis"}, f.members(t, domain.IndexByLister, lister))
}

func TestOnCategoryApproved_ExactPaymentQueuesNothing(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.OnCategoryApproved(context.Background(), collection, "genesis", lister, domain.SaleArgs{}, unitCost)
	require.NoError(t, err)
	assert.Nil(t, res.Refund)
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, uint64(1), f.units(t, lister))
}

func TestOnCategoryApproved_UnderpaymentWithoutBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.OnCategoryApproved(context.Background(), collection, "genesis", lister,
		domain.SaleArgs{}, domain.MustParseAmount("10"))
	require.ErrorIs(t, err, domain.ErrInsufficientQuota)
	assert.Equal(t, uint64(0), f.units(t, lister))
	assert.Equal(t, 0, f.queue.Len(), "a rolled back approval queues no refund")
}

func TestOnCategoryApproved_UnderpaymentWithBalance(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, lister, 1)

	res, err := f.engine.OnCategoryApproved(context.Background(), collection, "genesis", lister,
		domain.SaleArgs{}, domain.MustParseAmount("10"))
	require.NoError(t, err)
	require.NotNil(t, res.Refund)
	assert.Equal(t, "10", res.Refund.Amount.String(), "nothing charged, whole payment returned")
	assert.Equal(t, uint64(1), f.units(t, lister))
}

func TestOnCategoryApproved_FailureRollsBackPurchase(t *testing.T) {
	f := newFixture(t)
	before := f.snap(t, map[domain.IndexName][]string{domain.IndexByCategory: {"genesis"}}, lister)

	_, err := f.engine.OnCategoryApproved(context.Background(), collection, "genesis", lister,
		domain.SaleArgs{SaleConditions: []domain.SaleCondition{{CurrencyID: "doge"}}}, domain.MustParseAmount("5000"))
	require.ErrorIs(t, err, domain.ErrUnsupportedCurrency)

	assert.Equal(t, before, f.snap(t, map[domain.IndexName][]string{domain.IndexByCategory: {"genesis"}}, lister))
	assert.Equal(t, 0, f.queue.Len())
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, domain.Refund) error {
	return errors.New("stream unavailable")
}

func (failingQueue) Dequeue(context.Context, string, int) ([]domain.Refund, string, error) {
	return nil, "", nil
}

func TestOnCategoryApproved_RefundQueueFailureKeepsListing(t *testing.T) {
	state := memory.NewState(unitCost, "near")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := listing.NewEngine(state, failingQueue{}, nil, logger)

	res, err := engine.OnCategoryApproved(context.Background(), collection, "genesis", lister,
		domain.SaleArgs{}, domain.MustParseAmount("3000"))
	require.NoError(t, err)
	require.NotNil(t, res.Refund)

	err = state.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Listings().Get(ctx, res.Key)
		return err
	})
	require.NoError(t, err)
}

func TestParseSaleArgs(t *testing.T) {
	args, err := listing.ParseSaleArgs(`{"sale_conditions":[{"price":"1","currency_id":"near"}],"category_tag":"","extra":true}`)
	require.NoError(t, err)
	require.NotNil(t, args.CategoryTag)
	assert.Equal(t, "", *args.CategoryTag)
	require.Len(t, args.SaleConditions, 1)
	assert.Equal(t, "near", args.SaleConditions[0].CurrencyID)

	args, err = listing.ParseSaleArgs(`{"sale_conditions":[{"price":null,"currency_id":"near"}]}`)
	require.NoError(t, err)
	assert.Nil(t, args.SaleConditions[0].Price)
}
