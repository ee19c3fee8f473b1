package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/listingengine/internal/domain"
	"github.com/alanyoungcy/listingengine/internal/service"
)

// QuotaService reads and tops up quota deposits.
type QuotaService interface {
	Status(ctx context.Context, accountID string) (service.QuotaStatus, error)
	Deposit(ctx context.Context, accountID string, amount domain.Amount) (service.QuotaStatus, error)
}

// QuotaHandler serves the quota endpoints.
type QuotaHandler struct {
	svc    QuotaService
	logger *slog.Logger
}

// NewQuotaHandler creates a QuotaHandler.
func NewQuotaHandler(svc QuotaService, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{svc: svc, logger: logHandler(logger, "quota")}
}

type depositRequest struct {
	Amount *domain.Amount `json:"amount"`
}

// GetStatus returns an account's quota summary.
// GET /api/quota/{account}
func (h *QuotaHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), pathParam(r, "account"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Deposit credits an account's quota deposit.
// POST /api/quota/{account}/deposit
func (h *QuotaHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if req.Amount == nil {
		writeDomainError(w, r, h.logger, fmt.Errorf("%w: amount is required", domain.ErrMalformedRequest))
		return
	}

	account := pathParam(r, "account")
	st, err := h.svc.Deposit(r.Context(), account, *req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: quota deposit",
		slog.String("account_id", account),
		slog.String("amount", req.Amount.String()),
	)
	writeJSON(w, http.StatusOK, st)
}
