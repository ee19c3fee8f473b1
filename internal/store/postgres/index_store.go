package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// IndexStore implements domain.IndexStore within one transaction. The
// directory lives in listing_index_stores and set members in
// listing_index_members.
type IndexStore struct {
	tx pgx.Tx
}

// Add inserts key into the (name, indexKey) set, registering the sub-store on
// first use.
func (s *IndexStore) Add(ctx context.Context, name domain.IndexName, indexKey string, key domain.ListingKey) error {
	if !name.Valid() {
		return fmt.Errorf("postgres: unknown index %q", name)
	}

	id, exists, err := s.SubStore(ctx, name, indexKey)
	if err != nil {
		return err
	}
	if !exists {
		if id, err = s.register(ctx, name, indexKey); err != nil {
			return err
		}
	}

	const insert = `
		INSERT INTO listing_index_members (store_id, listing_key)
		VALUES ($1, $2)
		ON CONFLICT (store_id, listing_key) DO NOTHING`
	if _, err := s.tx.Exec(ctx, insert, id.Bytes(), key.String()); err != nil {
		return fmt.Errorf("postgres: add %s to %s/%q: %w", key, name, indexKey, err)
	}
	return nil
}

// Remove drops key from the (name, indexKey) set. The directory entry is
// kept.
func (s *IndexStore) Remove(ctx context.Context, name domain.IndexName, indexKey string, key domain.ListingKey) error {
	const query = `
		DELETE FROM listing_index_members m
		USING listing_index_stores s
		WHERE m.store_id = s.store_id
		  AND s.index_name = $1 AND s.index_key = $2
		  AND m.listing_key = $3`
	if _, err := s.tx.Exec(ctx, query, string(name), indexKey, key.String()); err != nil {
		return fmt.Errorf("postgres: remove %s from %s/%q: %w", key, name, indexKey, err)
	}
	return nil
}

func (s *IndexStore) register(ctx context.Context, name domain.IndexName, indexKey string) (domain.SubStoreID, error) {
	id := domain.DeriveSubStoreID(name, indexKey)

	var ownerName, ownerKey string
	err := s.tx.QueryRow(ctx,
		`SELECT index_name, index_key FROM listing_index_stores WHERE store_id = $1`,
		id.Bytes(),
	).Scan(&ownerName, &ownerKey)
	switch {
	case err == nil:
		return domain.SubStoreID{}, fmt.Errorf("postgres: %w: %s already owned by %s/%q",
			domain.ErrSubStoreCollision, id.Hex(), ownerName, ownerKey)
	case !isNoRows(err):
		return domain.SubStoreID{}, fmt.Errorf("postgres: check sub-store %s: %w", id.Hex(), err)
	}

	const insert = `
		INSERT INTO listing_index_stores (index_name, index_key, store_id)
		VALUES ($1, $2, $3)`
	if _, err := s.tx.Exec(ctx, insert, string(name), indexKey, id.Bytes()); err != nil {
		return domain.SubStoreID{}, fmt.Errorf("postgres: register sub-store %s/%q: %w", name, indexKey, err)
	}
	return id, nil
}

// Count returns the size of the set, zero when it was never created.
func (s *IndexStore) Count(ctx context.Context, name domain.IndexName, indexKey string) (int, error) {
	const query = `
		SELECT COUNT(m.listing_key)
		FROM listing_index_stores s
		JOIN listing_index_members m ON m.store_id = s.store_id
		WHERE s.index_name = $1 AND s.index_key = $2`

	var n int
	if err := s.tx.QueryRow(ctx, query, string(name), indexKey).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s/%q: %w", name, indexKey, err)
	}
	return n, nil
}

// Members returns the set ordered by listing key.
func (s *IndexStore) Members(ctx context.Context, name domain.IndexName, indexKey string, opts domain.ListOpts) ([]domain.ListingKey, error) {
	const query = `
		SELECT m.listing_key
		FROM listing_index_stores s
		JOIN listing_index_members m ON m.store_id = s.store_id
		WHERE s.index_name = $1 AND s.index_key = $2
		ORDER BY m.listing_key
		LIMIT $3 OFFSET $4`

	rows, err := s.tx.Query(ctx, query, string(name), indexKey, limitArg(opts), offsetArg(opts))
	if err != nil {
		return nil, fmt.Errorf("postgres: members of %s/%q: %w", name, indexKey, err)
	}
	defer rows.Close()

	out := []domain.ListingKey{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres: scan member: %w", err)
		}
		out = append(out, domain.ListingKey(k))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: members rows: %w", err)
	}
	return out, nil
}

// SubStore looks up the directory entry for the index key.
func (s *IndexStore) SubStore(ctx context.Context, name domain.IndexName, indexKey string) (domain.SubStoreID, bool, error) {
	var raw []byte
	err := s.tx.QueryRow(ctx,
		`SELECT store_id FROM listing_index_stores WHERE index_name = $1 AND index_key = $2`,
		string(name), indexKey,
	).Scan(&raw)
	if isNoRows(err) {
		return domain.SubStoreID{}, false, nil
	}
	if err != nil {
		return domain.SubStoreID{}, false, fmt.Errorf("postgres: sub-store %s/%q: %w", name, indexKey, err)
	}
	return common.BytesToHash(raw), true, nil
}
