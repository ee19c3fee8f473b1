package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// QuotaStatus summarises an account's listing capacity.
type QuotaStatus struct {
	AccountID string        `json:"account_id"`
	Deposit   domain.Amount `json:"deposit"`
	UnitCost  domain.Amount `json:"unit_cost"`
	PaidUnits uint64        `json:"paid_units"`
	Listings  int           `json:"listings"`
	// Available is how many more listings the account can create.
	Available uint64 `json:"available"`
}

// QuotaService reads and tops up quota deposits.
type QuotaService struct {
	ledger domain.Ledger
	logger *slog.Logger
}

// NewQuotaService creates a QuotaService.
func NewQuotaService(ledger domain.Ledger, logger *slog.Logger) *QuotaService {
	return &QuotaService{
		ledger: ledger,
		logger: logger.With(slog.String("component", "quota_service")),
	}
}

// Status returns the quota summary for accountID.
func (s *QuotaService) Status(ctx context.Context, accountID string) (QuotaStatus, error) {
	var st QuotaStatus
	err := s.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		st, err = quotaStatus(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("quota_service: status %s: %w", accountID, err)
	}
	return st, nil
}

// Deposit credits amount to accountID and returns the new status.
func (s *QuotaService) Deposit(ctx context.Context, accountID string, amount domain.Amount) (QuotaStatus, error) {
	if strings.TrimSpace(accountID) == "" {
		return QuotaStatus{}, fmt.Errorf("quota_service: %w: account id is empty", domain.ErrMalformedRequest)
	}
	if amount.IsZero() {
		return QuotaStatus{}, fmt.Errorf("quota_service: %w: deposit must be positive", domain.ErrMalformedRequest)
	}

	var st QuotaStatus
	err := s.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Quota().Purchase(ctx, accountID, amount); err != nil {
			return err
		}
		var err error
		st, err = quotaStatus(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("quota_service: deposit %s: %w", accountID, err)
	}

	s.logger.InfoContext(ctx, "quota_service: deposit credited",
		slog.String("account_id", accountID),
		slog.String("amount", amount.String()),
		slog.Uint64("paid_units", st.PaidUnits),
	)
	return st, nil
}

func quotaStatus(ctx context.Context, tx domain.Tx, accountID string) (QuotaStatus, error) {
	q := tx.Quota()
	deposit, err := q.Deposit(ctx, accountID)
	if err != nil {
		return QuotaStatus{}, err
	}
	cost, err := q.UnitCost(ctx)
	if err != nil {
		return QuotaStatus{}, err
	}
	used, err := tx.Indices().Count(ctx, domain.IndexByLister, accountID)
	if err != nil {
		return QuotaStatus{}, err
	}

	st := QuotaStatus{
		AccountID: accountID,
		Deposit:   deposit,
		UnitCost:  cost,
		PaidUnits: deposit.Units(cost),
		Listings:  used,
	}
	if st.PaidUnits > uint64(used) {
		st.Available = st.PaidUnits - uint64(used)
	}
	return st, nil
}
