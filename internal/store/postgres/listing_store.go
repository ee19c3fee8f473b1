package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// ListingStore implements domain.ListingStore within one transaction.
type ListingStore struct {
	tx pgx.Tx
}

const listingColumns = `
	lister_id, created_at, approval_token::text, source_collection_id, item_id,
	price_conditions, is_category_listing, category_tag, bids`

// Put upserts the listing under key and returns the row it replaced.
func (s *ListingStore) Put(ctx context.Context, key domain.ListingKey, l domain.Listing) (domain.Listing, bool, error) {
	prev, err := s.get(ctx, key, true)
	replaced := err == nil
	if err != nil && !isNoRows(err) {
		return domain.Listing{}, false, fmt.Errorf("postgres: load listing %s: %w", key, err)
	}

	prices, err := json.Marshal(l.PriceConditions)
	if err != nil {
		return domain.Listing{}, false, fmt.Errorf("postgres: encode price conditions: %w", err)
	}
	var bids *string
	if len(l.Bids) > 0 {
		raw, err := json.Marshal(l.Bids)
		if err != nil {
			return domain.Listing{}, false, fmt.Errorf("postgres: encode bids: %w", err)
		}
		encoded := string(raw)
		bids = &encoded
	}

	const query = `
		INSERT INTO listings (
			listing_key, lister_id, created_at, approval_token,
			source_collection_id, item_id, price_conditions,
			is_category_listing, category_tag, bids, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric,
			$5, $6, $7::jsonb,
			$8, $9, $10::jsonb, NOW()
		)
		ON CONFLICT (listing_key) DO UPDATE SET
			lister_id            = EXCLUDED.lister_id,
			created_at           = EXCLUDED.created_at,
			approval_token       = EXCLUDED.approval_token,
			source_collection_id = EXCLUDED.source_collection_id,
			item_id              = EXCLUDED.item_id,
			price_conditions     = EXCLUDED.price_conditions,
			is_category_listing  = EXCLUDED.is_category_listing,
			category_tag         = EXCLUDED.category_tag,
			bids                 = EXCLUDED.bids,
			updated_at           = NOW()`

	_, err = s.tx.Exec(ctx, query,
		key.String(), l.ListerID, l.CreatedAt, strconv.FormatUint(l.ApprovalToken, 10),
		l.SourceCollectionID, l.ItemID, string(prices),
		l.IsCategoryListing, l.CategoryTag, bids,
	)
	if err != nil {
		return domain.Listing{}, false, fmt.Errorf("postgres: upsert listing %s: %w", key, err)
	}
	return prev, replaced, nil
}

// Get returns the listing stored under key.
func (s *ListingStore) Get(ctx context.Context, key domain.ListingKey) (domain.Listing, error) {
	l, err := s.get(ctx, key, false)
	if isNoRows(err) {
		return domain.Listing{}, fmt.Errorf("postgres: listing %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", key, err)
	}
	return l, nil
}

func (s *ListingStore) get(ctx context.Context, key domain.ListingKey, forUpdate bool) (domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE listing_key = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanListing(s.tx.QueryRow(ctx, query, key.String()))
}

// List returns listings ordered by key.
func (s *ListingStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings ORDER BY listing_key LIMIT $1 OFFSET $2`

	rows, err := s.tx.Query(ctx, query, limitArg(opts), offsetArg(opts))
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	out := []domain.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return out, nil
}

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l      domain.Listing
		token  string
		prices []byte
		bids   []byte
	)
	err := row.Scan(
		&l.ListerID, &l.CreatedAt, &token, &l.SourceCollectionID, &l.ItemID,
		&prices, &l.IsCategoryListing, &l.CategoryTag, &bids,
	)
	if err != nil {
		return domain.Listing{}, err
	}

	if l.ApprovalToken, err = strconv.ParseUint(token, 10, 64); err != nil {
		return domain.Listing{}, fmt.Errorf("approval token %q: %w", token, err)
	}
	l.PriceConditions = domain.PriceConditions{}
	if len(prices) > 0 {
		if err := json.Unmarshal(prices, &l.PriceConditions); err != nil {
			return domain.Listing{}, fmt.Errorf("price conditions: %w", err)
		}
	}
	if len(bids) > 0 {
		if err := json.Unmarshal(bids, &l.Bids); err != nil {
			return domain.Listing{}, fmt.Errorf("bids: %w", err)
		}
	}
	l.CreatedAt = l.CreatedAt.UTC()
	return l, nil
}
