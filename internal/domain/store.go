package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// ListingStore is the primary table: listing key to listing.
type ListingStore interface {
	// Put upserts l under key. The previous listing, if any, is returned
	// with replaced set to true.
	Put(ctx context.Context, key ListingKey, l Listing) (prev Listing, replaced bool, err error)
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key ListingKey) (Listing, error)
	// List returns every listing ordered by key.
	List(ctx context.Context, opts ListOpts) ([]Listing, error)
}

// IndexStore maintains the secondary indices. Each (index, index key) pair
// owns a set of listing keys living in a sub-store created on first Add.
type IndexStore interface {
	Add(ctx context.Context, name IndexName, indexKey string, key ListingKey) error
	// Remove drops key from the set. Removing a key that is not a member,
	// or from a sub-store that was never created, is a no-op.
	Remove(ctx context.Context, name IndexName, indexKey string, key ListingKey) error
	// Count is the size of the set, zero when the sub-store does not exist.
	Count(ctx context.Context, name IndexName, indexKey string) (int, error)
	// Members returns the set ordered by listing key.
	Members(ctx context.Context, name IndexName, indexKey string, opts ListOpts) ([]ListingKey, error)
	// SubStore returns the sub-store id registered for the index key.
	SubStore(ctx context.Context, name IndexName, indexKey string) (SubStoreID, bool, error)
}

// QuotaLedger tracks what each account has pre-paid for listing capacity.
type QuotaLedger interface {
	// UnitCost is the amount one quota unit costs.
	UnitCost(ctx context.Context) (Amount, error)
	// Deposit is the total amount the account has paid in.
	Deposit(ctx context.Context, accountID string) (Amount, error)
	// Units is Deposit divided by UnitCost, rounded down.
	Units(ctx context.Context, accountID string) (uint64, error)
	// Purchase credits amount to the account's deposit.
	Purchase(ctx context.Context, accountID string, amount Amount) error
}

// CurrencyRegistry is the set of currencies the marketplace accepts.
type CurrencyRegistry interface {
	IsSupported(ctx context.Context, currencyID string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, currencyID string) error
}

// Tx is one all-or-nothing unit of work over the listing state. Nothing done
// through a Tx is visible to other units until the enclosing Update returns
// nil.
type Tx interface {
	Listings() ListingStore
	Indices() IndexStore
	Quota() QuotaLedger
	Currencies() CurrencyRegistry
}

// Ledger runs units of work. Units never interleave: one completes, or is
// rolled back entirely, before the next begins.
type Ledger interface {
	// Update runs fn in a read-write unit. If fn returns an error (or
	// panics) every mutation it made is discarded.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Clock returns the current time. Engines take one so tests can pin
// created_at.
type Clock func() time.Time
