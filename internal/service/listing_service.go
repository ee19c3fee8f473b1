package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// ListingService answers listing queries from the ledger, with an optional
// read-through cache for single lookups.
type ListingService struct {
	ledger domain.Ledger
	cache  domain.ListingCache
	logger *slog.Logger
}

// NewListingService creates a ListingService. cache may be nil.
func NewListingService(ledger domain.Ledger, cache domain.ListingCache, logger *slog.Logger) *ListingService {
	return &ListingService{
		ledger: ledger,
		cache:  cache,
		logger: logger.With(slog.String("component", "listing_service")),
	}
}

// Get returns one listing, checking the cache first.
func (s *ListingService) Get(ctx context.Context, sourceCollectionID, itemID string) (domain.Listing, error) {
	key := domain.NewListingKey(sourceCollectionID, itemID)

	if s.cache != nil {
		l, err := s.cache.Get(ctx, key)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "listing_service: cache get failed",
				slog.String("listing_key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	var l domain.Listing
	err := s.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		l, err = tx.Listings().Get(ctx, key)
		return err
	})
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get %s: %w", key, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, l); err != nil {
			s.logger.WarnContext(ctx, "listing_service: cache set failed",
				slog.String("listing_key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return l, nil
}

// ListByLister returns the listings in the by-lister index for listerID.
func (s *ListingService) ListByLister(ctx context.Context, listerID string, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.listIndex(ctx, domain.IndexByLister, listerID, opts)
}

// ListByCollection returns the listings of one source collection.
func (s *ListingService) ListByCollection(ctx context.Context, sourceCollectionID string, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.listIndex(ctx, domain.IndexByCollection, sourceCollectionID, opts)
}

// ListByCategory returns category listings named category and single-item
// listings tagged with it.
func (s *ListingService) ListByCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.listIndex(ctx, domain.IndexByCategory, category, opts)
}

func (s *ListingService) listIndex(ctx context.Context, name domain.IndexName, indexKey string, opts domain.ListOpts) ([]domain.Listing, error) {
	out := []domain.Listing{}
	err := s.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		keys, err := tx.Indices().Members(ctx, name, indexKey, opts)
		if err != nil {
			return err
		}
		for _, k := range keys {
			l, err := tx.Listings().Get(ctx, k)
			if err != nil {
				return fmt.Errorf("index %s/%q points at %s: %w", name, indexKey, k, err)
			}
			out = append(out, l)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing_service: list %s %q: %w", name, indexKey, err)
	}
	return out, nil
}
