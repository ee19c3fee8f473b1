// Package listing turns trusted approval events into listings. An approval is
// checked against the currency registry and the lister's quota, then the
// listing and all of its index entries are written in one unit of work.
package listing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// Result describes a committed approval.
type Result struct {
	Key      domain.ListingKey
	Listing  domain.Listing
	Previous *domain.Listing
	// Refund is set when a category approval carried more payment than the
	// quota unit it bought. It has been queued, not delivered.
	Refund *domain.Refund
}

// Replaced reports whether the approval overwrote an existing listing.
func (r Result) Replaced() bool { return r.Previous != nil }

// Engine is the approval intake handler.
type Engine struct {
	ledger  domain.Ledger
	refunds domain.RefundQueue
	clock   domain.Clock
	logger  *slog.Logger
}

// NewEngine creates an Engine. refunds receives excess category payments
// after the approval commits.
func NewEngine(ledger domain.Ledger, refunds domain.RefundQueue, clock domain.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		ledger:  ledger,
		refunds: refunds,
		clock:   clock,
		logger:  logger.With(slog.String("component", "listing_engine")),
	}
}

// OnItemApproved handles a single-item approval. msg is the raw JSON message
// sent by the authority.
func (e *Engine) OnItemApproved(
	ctx context.Context,
	sourceCollectionID, itemID, listerID string,
	approvalToken uint64,
	msg string,
) (Result, error) {
	args, err := ParseSaleArgs(msg)
	if err != nil {
		e.logRejected(ctx, sourceCollectionID, itemID, listerID, err)
		return Result{}, fmt.Errorf("listing: item approval: %w", err)
	}
	return e.Approve(ctx, domain.Approval{
		SourceCollectionID: sourceCollectionID,
		ListerID:           listerID,
		ApprovalToken:      approvalToken,
		Target:             domain.SingleItem{ID: itemID, CategoryTag: args.CategoryTag},
		SaleConditions:     args.SaleConditions,
	})
}

// OnCategoryApproved handles a category approval. The message arrives
// already decoded; attached is the payment sent with it, used to buy one
// quota unit for the lister.
func (e *Engine) OnCategoryApproved(
	ctx context.Context,
	sourceCollectionID, categoryName, listerID string,
	args domain.SaleArgs,
	attached domain.Amount,
) (Result, error) {
	return e.Approve(ctx, domain.Approval{
		SourceCollectionID: sourceCollectionID,
		ListerID:           listerID,
		Target:             domain.Category{Name: categoryName},
		SaleConditions:     args.SaleConditions,
		Attached:           attached,
	})
}

// Approve validates a and upserts its listing together with every index
// entry. On error nothing is written.
func (e *Engine) Approve(ctx context.Context, a domain.Approval) (Result, error) {
	if err := a.Validate(); err != nil {
		e.logRejected(ctx, a.SourceCollectionID, itemIDOf(a), a.ListerID, err)
		return Result{}, fmt.Errorf("listing: approve: %w", err)
	}

	l := e.newListing(a)
	key := l.Key()

	var (
		res    Result
		excess domain.Amount
	)
	err := e.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		res = Result{}
		excess = domain.Amount{}

		if _, ok := a.Target.(domain.Category); ok {
			ex, err := buyQuotaUnit(ctx, tx.Quota(), a.ListerID, a.Attached)
			if err != nil {
				return err
			}
			excess = ex
		}

		if err := checkCurrencies(ctx, tx.Currencies(), l.PriceConditions); err != nil {
			return err
		}
		if err := checkQuota(ctx, tx, a.ListerID); err != nil {
			return err
		}

		prev, replaced, err := tx.Listings().Put(ctx, key, l)
		if err != nil {
			return fmt.Errorf("put listing %s: %w", key, err)
		}
		if replaced {
			if err := removeStaleIndices(ctx, tx.Indices(), prev, l); err != nil {
				return err
			}
		}
		if err := addToIndices(ctx, tx.Indices(), l); err != nil {
			return err
		}

		res.Key = key
		res.Listing = l
		if replaced {
			res.Previous = &prev
		}
		return nil
	})
	if err != nil {
		e.logRejected(ctx, a.SourceCollectionID, itemIDOf(a), a.ListerID, err)
		return Result{}, fmt.Errorf("listing: approve %s: %w", key, err)
	}

	e.logger.InfoContext(ctx, "listing: approval committed",
		slog.String("listing_key", key.String()),
		slog.String("lister_id", a.ListerID),
		slog.Bool("category", l.IsCategoryListing),
		slog.Bool("replaced", res.Replaced()),
	)

	if !excess.IsZero() {
		res.Refund = e.queueRefund(ctx, a.ListerID, key, excess)
	}
	return res, nil
}

func (e *Engine) newListing(a domain.Approval) domain.Listing {
	l := domain.Listing{
		ListerID:           a.ListerID,
		CreatedAt:          e.clock().UTC(),
		ApprovalToken:      a.ApprovalToken,
		SourceCollectionID: a.SourceCollectionID,
		ItemID:             a.Target.ItemID(),
		PriceConditions:    priceConditions(a.SaleConditions),
	}
	switch t := a.Target.(type) {
	case domain.SingleItem:
		if t.CategoryTag != nil {
			tag := *t.CategoryTag
			l.CategoryTag = &tag
		}
	case domain.Category:
		// A category listing is not tied to one approval.
		l.ApprovalToken = 0
		l.IsCategoryListing = true
	}
	return l
}

// buyQuotaUnit charges one quota unit from the attached payment and returns
// what is left over. When the payment cannot cover a unit nothing is charged
// and the whole payment is returned as excess.
func buyQuotaUnit(ctx context.Context, quota domain.QuotaLedger, accountID string, attached domain.Amount) (domain.Amount, error) {
	cost, err := quota.UnitCost(ctx)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("quota unit cost: %w", err)
	}
	if attached.Cmp(cost) < 0 {
		return attached, nil
	}
	if err := quota.Purchase(ctx, accountID, cost); err != nil {
		return domain.Amount{}, fmt.Errorf("purchase quota for %s: %w", accountID, err)
	}
	return attached.SaturatingSub(cost), nil
}

func checkCurrencies(ctx context.Context, registry domain.CurrencyRegistry, conds domain.PriceConditions) error {
	for _, id := range conds.Currencies() {
		ok, err := registry.IsSupported(ctx, id)
		if err != nil {
			return fmt.Errorf("currency registry: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: currency %s not supported by this market", domain.ErrUnsupportedCurrency, id)
		}
	}
	return nil
}

// checkQuota requires at least one paid unit, and strictly more paid units
// than the lister's listings before this insertion.
func checkQuota(ctx context.Context, tx domain.Tx, listerID string) error {
	paid, err := tx.Quota().Units(ctx, listerID)
	if err != nil {
		return fmt.Errorf("quota units for %s: %w", listerID, err)
	}
	if paid < 1 {
		return fmt.Errorf("%w: one quota unit is required to list on this market", domain.ErrInsufficientQuota)
	}
	used, err := tx.Indices().Count(ctx, domain.IndexByLister, listerID)
	if err != nil {
		return fmt.Errorf("count listings of %s: %w", listerID, err)
	}
	if paid <= uint64(used) {
		return fmt.Errorf("%w: lister has %d listings and %d paid units", domain.ErrInsufficientQuota, used, paid)
	}
	return nil
}

func addToIndices(ctx context.Context, idx domain.IndexStore, l domain.Listing) error {
	key := l.Key()
	if err := idx.Add(ctx, domain.IndexByLister, l.ListerID, key); err != nil {
		return fmt.Errorf("index %s: %w", domain.IndexByLister, err)
	}
	if err := idx.Add(ctx, domain.IndexByCollection, l.SourceCollectionID, key); err != nil {
		return fmt.Errorf("index %s: %w", domain.IndexByCollection, err)
	}
	if category, ok := l.CategoryIndexKey(); ok {
		if err := idx.Add(ctx, domain.IndexByCategory, category, key); err != nil {
			return fmt.Errorf("index %s: %w", domain.IndexByCategory, err)
		}
	}
	return nil
}

// removeStaleIndices drops the memberships prev held under index keys that
// next no longer uses. Both share a listing key, so the collection entry
// never changes.
func removeStaleIndices(ctx context.Context, idx domain.IndexStore, prev, next domain.Listing) error {
	key := next.Key()
	if prev.ListerID != next.ListerID {
		if err := idx.Remove(ctx, domain.IndexByLister, prev.ListerID, key); err != nil {
			return fmt.Errorf("index %s: %w", domain.IndexByLister, err)
		}
	}
	oldCat, hadCat := prev.CategoryIndexKey()
	newCat, hasCat := next.CategoryIndexKey()
	if hadCat && (!hasCat || oldCat != newCat) {
		if err := idx.Remove(ctx, domain.IndexByCategory, oldCat, key); err != nil {
			return fmt.Errorf("index %s: %w", domain.IndexByCategory, err)
		}
	}
	return nil
}

// queueRefund hands the excess to the refund queue. Delivery is best effort:
// a failure here is logged and the listing stands.
func (e *Engine) queueRefund(ctx context.Context, accountID string, key domain.ListingKey, amount domain.Amount) *domain.Refund {
	r := domain.Refund{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Reason:    "category approval excess payment",
		Key:       key,
		CreatedAt: e.clock().UTC(),
	}
	if e.refunds == nil {
		e.logger.WarnContext(ctx, "listing: no refund queue configured, refund dropped",
			slog.String("account_id", accountID),
			slog.String("amount", amount.String()),
		)
		return &r
	}
	if err := e.refunds.Enqueue(ctx, r); err != nil {
		e.logger.ErrorContext(ctx, "listing: enqueue refund failed",
			slog.String("refund_id", r.ID),
			slog.String("account_id", accountID),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
		return &r
	}
	e.logger.InfoContext(ctx, "listing: refund queued",
		slog.String("refund_id", r.ID),
		slog.String("account_id", accountID),
		slog.String("amount", amount.String()),
	)
	return &r
}

func (e *Engine) logRejected(ctx context.Context, collectionID, itemID, listerID string, err error) {
	e.logger.InfoContext(ctx, "listing: approval rejected",
		slog.String("source_collection_id", collectionID),
		slog.String("item_id", itemID),
		slog.String("lister_id", listerID),
		slog.String("error", err.Error()),
	)
}

func itemIDOf(a domain.Approval) string {
	if a.Target == nil {
		return ""
	}
	return a.Target.ItemID()
}
