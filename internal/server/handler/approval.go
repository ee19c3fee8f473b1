package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/listingengine/internal/domain"
	"github.com/alanyoungcy/listingengine/internal/listing"
	"github.com/alanyoungcy/listingengine/internal/service"
)

// ApprovalService is the subset of service.ApprovalService the handler uses.
type ApprovalService interface {
	ApproveItem(ctx context.Context, req service.ItemApproval) (listing.Result, error)
	ApproveCategory(ctx context.Context, req service.CategoryApproval) (listing.Result, error)
}

// ApprovalHandler receives approval notifications from source collections.
type ApprovalHandler struct {
	svc    ApprovalService
	logger *slog.Logger
}

// NewApprovalHandler creates an ApprovalHandler.
func NewApprovalHandler(svc ApprovalService, logger *slog.Logger) *ApprovalHandler {
	return &ApprovalHandler{svc: svc, logger: logHandler(logger, "approval")}
}

type itemApprovalRequest struct {
	ItemID        string `json:"item_id"`
	ListerID      string `json:"lister_id"`
	ApprovalToken uint64 `json:"approval_token,string"`
	// Msg is the authority's message: either a JSON string holding the
	// object or the object itself.
	Msg json.RawMessage `json:"msg"`
}

type categoryApprovalRequest struct {
	Category       string                 `json:"category"`
	ListerID       string                 `json:"lister_id"`
	SaleConditions []domain.SaleCondition `json:"sale_conditions"`
	Attached       *domain.Amount         `json:"attached"`
}

type approvalResponse struct {
	ListingKey domain.ListingKey `json:"listing_key"`
	Listing    domain.Listing    `json:"listing"`
	Replaced   bool              `json:"replaced"`
	Refund     *domain.Refund    `json:"refund,omitempty"`
}

// ApproveItem handles a single-item approval.
// POST /api/collections/{collection}/approvals/items
func (h *ApprovalHandler) ApproveItem(w http.ResponseWriter, r *http.Request) {
	var req itemApprovalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	msg, err := messageText(req.Msg)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	res, err := h.svc.ApproveItem(r.Context(), service.ItemApproval{
		SourceCollectionID: pathParam(r, "collection"),
		ItemID:             req.ItemID,
		ListerID:           req.ListerID,
		ApprovalToken:      req.ApprovalToken,
		Msg:                msg,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeApproval(w, res)
}

// ApproveCategory handles a category approval with its attached payment.
// The attached amount is taken at the caller's word: only the collection
// authority, holding the API key, reaches this route, and it forwards the
// payment it already received. Quota is credited and excess refunded
// against that figure without a receipt check.
// POST /api/collections/{collection}/approvals/categories
func (h *ApprovalHandler) ApproveCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryApprovalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var attached domain.Amount
	if req.Attached != nil {
		attached = *req.Attached
	}
	res, err := h.svc.ApproveCategory(r.Context(), service.CategoryApproval{
		SourceCollectionID: pathParam(r, "collection"),
		CategoryName:       req.Category,
		ListerID:           req.ListerID,
		Args:               domain.SaleArgs{SaleConditions: req.SaleConditions},
		Attached:           attached,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeApproval(w, res)
}

func writeApproval(w http.ResponseWriter, res listing.Result) {
	status := http.StatusCreated
	if res.Replaced() {
		status = http.StatusOK
	}
	writeJSON(w, status, approvalResponse{
		ListingKey: res.Key,
		Listing:    res.Listing,
		Replaced:   res.Replaced(),
		Refund:     res.Refund,
	})
}

// messageText turns the msg field into the raw message text the engine
// parses.
func messageText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("%w: msg is required", domain.ErrMalformedRequest)
	}
	if trimmed[0] != '"' {
		return string(trimmed), nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", fmt.Errorf("%w: msg: %v", domain.ErrMalformedRequest, err)
	}
	return s, nil
}
