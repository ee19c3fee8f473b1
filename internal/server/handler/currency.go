package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// CurrencyService manages the accepted-currency registry.
type CurrencyService interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, ids ...string) error
}

// CurrencyHandler serves the currency registry.
type CurrencyHandler struct {
	svc    CurrencyService
	logger *slog.Logger
}

// NewCurrencyHandler creates a CurrencyHandler.
func NewCurrencyHandler(svc CurrencyService, logger *slog.Logger) *CurrencyHandler {
	return &CurrencyHandler{svc: svc, logger: logHandler(logger, "currency")}
}

type currenciesRequest struct {
	CurrencyIDs []string `json:"currency_ids"`
}

// ListCurrencies returns the accepted currency ids.
// GET /api/currencies
func (h *CurrencyHandler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.List(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"currencies": ids})
}

// AddCurrencies registers currency ids. The batch is all-or-nothing.
// POST /api/currencies
func (h *CurrencyHandler) AddCurrencies(w http.ResponseWriter, r *http.Request) {
	var req currenciesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := h.svc.Add(r.Context(), req.CurrencyIDs...); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.ListCurrencies(w, r)
}
