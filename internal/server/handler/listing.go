package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// ListingService is the read side of the listing ledger.
type ListingService interface {
	Get(ctx context.Context, sourceCollectionID, itemID string) (domain.Listing, error)
	ListByLister(ctx context.Context, listerID string, opts domain.ListOpts) ([]domain.Listing, error)
	ListByCollection(ctx context.Context, sourceCollectionID string, opts domain.ListOpts) ([]domain.Listing, error)
	ListByCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.Listing, error)
}

// ListingHandler serves listing queries.
type ListingHandler struct {
	svc    ListingService
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(svc ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{svc: svc, logger: logHandler(logger, "listing")}
}

type listingsResponse struct {
	Listings []domain.Listing `json:"listings"`
	Count    int              `json:"count"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// GetListing returns one listing.
// GET /api/collections/{collection}/listings/{item}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.Get(r.Context(), pathParam(r, "collection"), pathParam(r, "item"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ListByCollection lists the listings of one source collection.
// GET /api/collections/{collection}/listings
func (h *ListingHandler) ListByCollection(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "collection", h.svc.ListByCollection)
}

// ListByLister lists the listings created by one lister.
// GET /api/listers/{lister}/listings
func (h *ListingHandler) ListByLister(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "lister", h.svc.ListByLister)
}

// ListByCategory lists the listings in one category.
// GET /api/categories/{category}/listings
func (h *ListingHandler) ListByCategory(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "category", h.svc.ListByCategory)
}

func (h *ListingHandler) list(
	w http.ResponseWriter,
	r *http.Request,
	param string,
	query func(context.Context, string, domain.ListOpts) ([]domain.Listing, error),
) {
	opts := parseListOpts(r)
	listings, err := query(r.Context(), pathParam(r, param), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listingsResponse{
		Listings: listings,
		Count:    len(listings),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}
