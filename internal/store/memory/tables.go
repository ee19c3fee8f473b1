package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// ---------------------------------------------------------------------------
// Listing store
// ---------------------------------------------------------------------------

type listingStore struct{ t *tx }

func (s listingStore) Put(_ context.Context, key domain.ListingKey, l domain.Listing) (domain.Listing, bool, error) {
	if err := s.t.checkWritable(); err != nil {
		return domain.Listing{}, false, err
	}
	listings := s.t.state.listings
	prev, existed := listings[key]
	listings[key] = cloneListing(l)
	s.t.record(func() {
		if existed {
			listings[key] = prev
		} else {
			delete(listings, key)
		}
	})
	if existed {
		return cloneListing(prev), true, nil
	}
	return domain.Listing{}, false, nil
}

func (s listingStore) Get(_ context.Context, key domain.ListingKey) (domain.Listing, error) {
	l, ok := s.t.state.listings[key]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return cloneListing(l), nil
}

func (s listingStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	keys := make([]domain.ListingKey, 0, len(s.t.state.listings))
	for k := range s.t.state.listings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	keys = paginate(keys, opts)

	out := make([]domain.Listing, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneListing(s.t.state.listings[k]))
	}
	return out, nil
}

func cloneListing(l domain.Listing) domain.Listing {
	out := l
	if l.PriceConditions != nil {
		out.PriceConditions = make(domain.PriceConditions, len(l.PriceConditions))
		for k, v := range l.PriceConditions {
			out.PriceConditions[k] = v
		}
	}
	if l.CategoryTag != nil {
		tag := *l.CategoryTag
		out.CategoryTag = &tag
	}
	if l.Bids != nil {
		out.Bids = make(map[string][]domain.Bid, len(l.Bids))
		for k, v := range l.Bids {
			out.Bids[k] = append([]domain.Bid(nil), v...)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Index maintainer
// ---------------------------------------------------------------------------

type indexStore struct{ t *tx }

// Add inserts key into the set of (name, indexKey), registering a new
// sub-store in the directory first when the index key is new.
func (s indexStore) Add(_ context.Context, name domain.IndexName, indexKey string, key domain.ListingKey) error {
	if err := s.t.checkWritable(); err != nil {
		return err
	}
	if !name.Valid() {
		return fmt.Errorf("memory: unknown index %q", name)
	}

	st := s.t.state
	id, err := s.subStore(name, indexKey)
	if err != nil {
		return err
	}

	set := st.subStores[id]
	if _, present := set[key]; present {
		return nil
	}
	set[key] = struct{}{}
	s.t.record(func() { delete(set, key) })
	return nil
}

// Remove drops key from the set of (name, indexKey). The sub-store itself
// stays registered.
func (s indexStore) Remove(_ context.Context, name domain.IndexName, indexKey string, key domain.ListingKey) error {
	if err := s.t.checkWritable(); err != nil {
		return err
	}
	id, ok := s.t.state.directory[name][indexKey]
	if !ok {
		return nil
	}
	set := s.t.state.subStores[id]
	if _, present := set[key]; !present {
		return nil
	}
	delete(set, key)
	s.t.record(func() { set[key] = struct{}{} })
	return nil
}

// subStore returns the sub-store id for the index key, creating and
// registering it when absent.
func (s indexStore) subStore(name domain.IndexName, indexKey string) (domain.SubStoreID, error) {
	st := s.t.state
	dir, ok := st.directory[name]
	if !ok {
		dir = make(map[string]domain.SubStoreID)
		st.directory[name] = dir
		s.t.record(func() { delete(st.directory, name) })
	}
	if id, ok := dir[indexKey]; ok {
		return id, nil
	}

	id := st.deriveID(name, indexKey)
	if owner, taken := st.owners[id]; taken {
		return domain.SubStoreID{}, fmt.Errorf("memory: %w: %s already owned by %s/%q",
			domain.ErrSubStoreCollision, id.Hex(), owner.name, owner.key)
	}
	dir[indexKey] = id
	st.owners[id] = indexRef{name: name, key: indexKey}
	st.subStores[id] = make(map[domain.ListingKey]struct{})
	s.t.record(func() {
		delete(dir, indexKey)
		delete(st.owners, id)
		delete(st.subStores, id)
	})
	return id, nil
}

func (s indexStore) Count(_ context.Context, name domain.IndexName, indexKey string) (int, error) {
	id, ok := s.t.state.directory[name][indexKey]
	if !ok {
		return 0, nil
	}
	return len(s.t.state.subStores[id]), nil
}

func (s indexStore) Members(_ context.Context, name domain.IndexName, indexKey string, opts domain.ListOpts) ([]domain.ListingKey, error) {
	id, ok := s.t.state.directory[name][indexKey]
	if !ok {
		return []domain.ListingKey{}, nil
	}
	return paginate(sortedKeys(s.t.state.subStores[id]), opts), nil
}

func (s indexStore) SubStore(_ context.Context, name domain.IndexName, indexKey string) (domain.SubStoreID, bool, error) {
	id, ok := s.t.state.directory[name][indexKey]
	return id, ok, nil
}

// ---------------------------------------------------------------------------
// Quota ledger
// ---------------------------------------------------------------------------

type quotaLedger struct{ t *tx }

func (q quotaLedger) UnitCost(context.Context) (domain.Amount, error) {
	return q.t.state.unitCost, nil
}

func (q quotaLedger) Deposit(_ context.Context, accountID string) (domain.Amount, error) {
	return q.t.state.deposits[accountID], nil
}

func (q quotaLedger) Units(_ context.Context, accountID string) (uint64, error) {
	return q.t.state.deposits[accountID].Units(q.t.state.unitCost), nil
}

func (q quotaLedger) Purchase(_ context.Context, accountID string, amount domain.Amount) error {
	if err := q.t.checkWritable(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("memory: purchase quota: %w: empty account", domain.ErrMalformedRequest)
	}
	deposits := q.t.state.deposits
	prev, existed := deposits[accountID]
	deposits[accountID] = prev.Add(amount)
	q.t.record(func() {
		if existed {
			deposits[accountID] = prev
		} else {
			delete(deposits, accountID)
		}
	})
	return nil
}

// ---------------------------------------------------------------------------
// Currency registry
// ---------------------------------------------------------------------------

type currencyRegistry struct{ t *tx }

func (c currencyRegistry) IsSupported(_ context.Context, currencyID string) (bool, error) {
	_, ok := c.t.state.currencies[currencyID]
	return ok, nil
}

func (c currencyRegistry) List(context.Context) ([]string, error) {
	out := make([]string, 0, len(c.t.state.currencies))
	for id := range c.t.state.currencies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (c currencyRegistry) Add(_ context.Context, currencyID string) error {
	if err := c.t.checkWritable(); err != nil {
		return err
	}
	currencyID = strings.TrimSpace(currencyID)
	if currencyID == "" {
		return fmt.Errorf("memory: add currency: %w: empty id", domain.ErrMalformedRequest)
	}
	currencies := c.t.state.currencies
	if _, ok := currencies[currencyID]; ok {
		return nil
	}
	currencies[currencyID] = struct{}{}
	c.t.record(func() { delete(currencies, currencyID) })
	return nil
}
