package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// QuotaStore implements domain.QuotaLedger within one transaction.
type QuotaStore struct {
	tx       pgx.Tx
	unitCost domain.Amount
}

// UnitCost returns the configured price of one quota unit.
func (s *QuotaStore) UnitCost(context.Context) (domain.Amount, error) {
	return s.unitCost, nil
}

// Deposit returns the account's total deposit, zero for unknown accounts.
func (s *QuotaStore) Deposit(ctx context.Context, accountID string) (domain.Amount, error) {
	var raw string
	err := s.tx.QueryRow(ctx,
		`SELECT amount::text FROM quota_deposits WHERE account_id = $1`,
		accountID,
	).Scan(&raw)
	if isNoRows(err) {
		return domain.Amount{}, nil
	}
	if err != nil {
		return domain.Amount{}, fmt.Errorf("postgres: deposit of %s: %w", accountID, err)
	}
	amount, err := domain.ParseStoredAmount(raw)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("postgres: deposit of %s: %w", accountID, err)
	}
	return amount, nil
}

// Units returns the number of whole quota units the deposit buys.
func (s *QuotaStore) Units(ctx context.Context, accountID string) (uint64, error) {
	d, err := s.Deposit(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return d.Units(s.unitCost), nil
}

// Purchase credits amount to the account.
func (s *QuotaStore) Purchase(ctx context.Context, accountID string, amount domain.Amount) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("postgres: purchase quota: %w: empty account", domain.ErrMalformedRequest)
	}
	const query = `
		INSERT INTO quota_deposits (account_id, amount, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			amount     = quota_deposits.amount + EXCLUDED.amount,
			updated_at = NOW()`
	if _, err := s.tx.Exec(ctx, query, accountID, amount.String()); err != nil {
		return fmt.Errorf("postgres: purchase quota for %s: %w", accountID, err)
	}
	return nil
}

// CurrencyStore implements domain.CurrencyRegistry within one transaction.
type CurrencyStore struct {
	tx pgx.Tx
}

// IsSupported reports whether the currency is registered.
func (s *CurrencyStore) IsSupported(ctx context.Context, currencyID string) (bool, error) {
	var ok bool
	err := s.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accepted_currencies WHERE currency_id = $1)`,
		currencyID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: currency %s: %w", currencyID, err)
	}
	return ok, nil
}

// List returns every registered currency in order.
func (s *CurrencyStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.tx.Query(ctx, `SELECT currency_id FROM accepted_currencies ORDER BY currency_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list currencies: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: collect currencies: %w", err)
	}
	return ids, nil
}

// Add registers a currency. Adding a known currency is a no-op.
func (s *CurrencyStore) Add(ctx context.Context, currencyID string) error {
	currencyID = strings.TrimSpace(currencyID)
	if currencyID == "" {
		return fmt.Errorf("postgres: add currency: %w: empty id", domain.ErrMalformedRequest)
	}
	_, err := s.tx.Exec(ctx,
		`INSERT INTO accepted_currencies (currency_id) VALUES ($1) ON CONFLICT (currency_id) DO NOTHING`,
		currencyID,
	)
	if err != nil {
		return fmt.Errorf("postgres: add currency %s: %w", currencyID, err)
	}
	return nil
}
