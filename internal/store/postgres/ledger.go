package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// ledgerLockID is the transaction-scoped advisory lock every read-write unit
// takes, so approvals run one at a time across all replicas.
const ledgerLockID int64 = 0x6c697374696e67 // "listing"

// Ledger implements domain.Ledger on PostgreSQL. Each unit of work is one
// database transaction.
type Ledger struct {
	pool     *pgxpool.Pool
	unitCost domain.Amount
}

// NewLedger creates a Ledger. unitCost is the price of one quota unit; it is
// configuration rather than data and is not stored.
func NewLedger(pool *pgxpool.Pool, unitCost domain.Amount) *Ledger {
	return &Ledger{pool: pool, unitCost: unitCost}
}

// Update runs fn inside a transaction holding the ledger advisory lock. The
// transaction is rolled back if fn returns an error or panics.
func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin update: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockID); err != nil {
		return fmt.Errorf("postgres: acquire ledger lock: %w", err)
	}
	if err := fn(ctx, &pgTx{tx: tx, unitCost: l.unitCost}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update: %w", err)
	}
	return nil
}

// View runs fn inside a read-only repeatable-read transaction.
func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("postgres: begin view: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	return fn(ctx, &pgTx{tx: tx, unitCost: l.unitCost})
}

var _ domain.Ledger = (*Ledger)(nil)

type pgTx struct {
	tx       pgx.Tx
	unitCost domain.Amount
}

func (t *pgTx) Listings() domain.ListingStore       { return &ListingStore{tx: t.tx} }
func (t *pgTx) Indices() domain.IndexStore          { return &IndexStore{tx: t.tx} }
func (t *pgTx) Quota() domain.QuotaLedger           { return &QuotaStore{tx: t.tx, unitCost: t.unitCost} }
func (t *pgTx) Currencies() domain.CurrencyRegistry { return &CurrencyStore{tx: t.tx} }

// limitArg maps a zero limit to SQL NULL, which LIMIT treats as "all".
func limitArg(opts domain.ListOpts) any {
	if opts.Limit <= 0 {
		return nil
	}
	return opts.Limit
}

func offsetArg(opts domain.ListOpts) int {
	if opts.Offset < 0 {
		return 0
	}
	return opts.Offset
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
