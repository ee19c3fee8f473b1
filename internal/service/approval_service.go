// Package service wires the listing engine and the ledger to the cache and
// the event bus, and exposes the use cases the HTTP layer calls.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/listingengine/internal/domain"
	"github.com/alanyoungcy/listingengine/internal/listing"
)

// ItemApproval is a single-item approval as delivered by an authority.
type ItemApproval struct {
	SourceCollectionID string
	ItemID             string
	ListerID           string
	ApprovalToken      uint64
	Msg                string
}

// CategoryApproval is a category approval with its attached payment.
type CategoryApproval struct {
	SourceCollectionID string
	CategoryName       string
	ListerID           string
	Args               domain.SaleArgs
	Attached           domain.Amount
}

// ApprovalService runs approvals through the engine and fans the result out
// to the cache and the listing channel. cache and bus are optional.
type ApprovalService struct {
	engine *listing.Engine
	cache  domain.ListingCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewApprovalService creates an ApprovalService.
func NewApprovalService(
	engine *listing.Engine,
	cache domain.ListingCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *ApprovalService {
	return &ApprovalService{
		engine: engine,
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "approval_service")),
	}
}

// ApproveItem handles a single-item approval.
func (s *ApprovalService) ApproveItem(ctx context.Context, req ItemApproval) (listing.Result, error) {
	res, err := s.engine.OnItemApproved(ctx, req.SourceCollectionID, req.ItemID, req.ListerID, req.ApprovalToken, req.Msg)
	if err != nil {
		return listing.Result{}, fmt.Errorf("approval_service: %w", err)
	}
	s.afterCommit(ctx, res)
	return res, nil
}

// ApproveCategory handles a category approval.
func (s *ApprovalService) ApproveCategory(ctx context.Context, req CategoryApproval) (listing.Result, error) {
	res, err := s.engine.OnCategoryApproved(ctx, req.SourceCollectionID, req.CategoryName, req.ListerID, req.Args, req.Attached)
	if err != nil {
		return listing.Result{}, fmt.Errorf("approval_service: %w", err)
	}
	s.afterCommit(ctx, res)
	return res, nil
}

// afterCommit runs once the ledger has committed. Nothing here can fail the
// approval.
func (s *ApprovalService) afterCommit(ctx context.Context, res listing.Result) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, res.Key); err != nil {
			s.logger.WarnContext(ctx, "approval_service: cache invalidate failed",
				slog.String("listing_key", res.Key.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus == nil {
		return
	}
	ev := domain.ListingEvent{Type: domain.ListingCreated, Key: res.Key, Listing: res.Listing}
	if res.Replaced() {
		ev.Type = domain.ListingReplaced
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "approval_service: marshal listing event failed",
			slog.String("listing_key", res.Key.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.ListingChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "approval_service: publish listing event failed",
			slog.String("listing_key", res.Key.String()),
			slog.String("error", err.Error()),
		)
	}
}
