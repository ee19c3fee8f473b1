// Package memory implements the listing ledger in process memory. It backs
// tests and single-node deployments that do not need PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

type indexRef struct {
	name domain.IndexName
	key  string
}

// State holds every table of the listing ledger: the primary listing table,
// the index directory (index key → sub-store id), the sub-stores themselves,
// quota deposits and the currency registry.
type State struct {
	mu sync.Mutex

	listings   map[domain.ListingKey]domain.Listing
	directory  map[domain.IndexName]map[string]domain.SubStoreID
	subStores  map[domain.SubStoreID]map[domain.ListingKey]struct{}
	owners     map[domain.SubStoreID]indexRef
	deposits   map[string]domain.Amount
	currencies map[string]struct{}
	unitCost   domain.Amount

	// deriveID is swapped in tests to force collisions.
	deriveID func(domain.IndexName, string) domain.SubStoreID
}

// NewState creates an empty ledger charging unitCost per quota unit and
// accepting the given currencies.
func NewState(unitCost domain.Amount, currencies ...string) *State {
	s := &State{
		listings:   make(map[domain.ListingKey]domain.Listing),
		directory:  make(map[domain.IndexName]map[string]domain.SubStoreID),
		subStores:  make(map[domain.SubStoreID]map[domain.ListingKey]struct{}),
		owners:     make(map[domain.SubStoreID]indexRef),
		deposits:   make(map[string]domain.Amount),
		currencies: make(map[string]struct{}),
		unitCost:   unitCost,
		deriveID:   domain.DeriveSubStoreID,
	}
	for _, c := range currencies {
		if c = strings.TrimSpace(c); c != "" {
			s.currencies[c] = struct{}{}
		}
	}
	return s
}

// Update runs fn under the state lock. Mutations are journaled and undone in
// reverse order if fn fails or panics.
func (s *State) Update(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{state: s, writable: true}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: update: %w", err)
	}
	return fn(ctx, tx)
}

// View runs fn under the state lock with a read-only Tx.
func (s *State) View(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: view: %w", err)
	}
	return fn(ctx, &tx{state: s})
}

var _ domain.Ledger = (*State)(nil)

// tx is one unit of work. It is only valid while the state lock is held.
type tx struct {
	state    *State
	writable bool
	undo     []func()
}

func (t *tx) Listings() domain.ListingStore       { return listingStore{t} }
func (t *tx) Indices() domain.IndexStore          { return indexStore{t} }
func (t *tx) Quota() domain.QuotaLedger           { return quotaLedger{t} }
func (t *tx) Currencies() domain.CurrencyRegistry { return currencyRegistry{t} }

func (t *tx) checkWritable() error {
	if !t.writable {
		return fmt.Errorf("memory: write in read-only view")
	}
	return nil
}

func (t *tx) record(undo func()) {
	t.undo = append(t.undo, undo)
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// paginate applies opts to an already sorted slice.
func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func sortedKeys(set map[domain.ListingKey]struct{}) []domain.ListingKey {
	keys := make([]domain.ListingKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
