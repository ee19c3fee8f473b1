package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// CurrencyService manages the accepted-currency registry.
type CurrencyService struct {
	ledger domain.Ledger
	logger *slog.Logger
}

// NewCurrencyService creates a CurrencyService.
func NewCurrencyService(ledger domain.Ledger, logger *slog.Logger) *CurrencyService {
	return &CurrencyService{
		ledger: ledger,
		logger: logger.With(slog.String("component", "currency_service")),
	}
}

// List returns every accepted currency id in order.
func (s *CurrencyService) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		ids, err = tx.Currencies().List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("currency_service: list: %w", err)
	}
	return ids, nil
}

// Add registers currency ids. All are added or none.
func (s *CurrencyService) Add(ctx context.Context, ids ...string) error {
	err := s.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, id := range ids {
			if err := tx.Currencies().Add(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("currency_service: add: %w", err)
	}
	s.logger.InfoContext(ctx, "currency_service: currencies registered", slog.Any("currency_ids", ids))
	return nil
}
