package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// archivePageSize is how many listings are read per query.
	archivePageSize = 500

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 64 * 1024 * 1024
)

// ArchivedListing is one JSONL line of a listing snapshot: the listing and
// the index sets it belongs to.
type ArchivedListing struct {
	Key     domain.ListingKey `json:"key"`
	Listing domain.Listing    `json:"listing"`
	Indices []IndexEntry      `json:"indices"`
}

// IndexEntry records membership of a listing in one index set.
type IndexEntry struct {
	Index    domain.IndexName `json:"index"`
	Key      string           `json:"key"`
	SubStore string           `json:"sub_store"`
}

// ListingArchiver implements domain.Archiver. It reads the ledger through a
// single read-only view, serialises every listing to JSONL and uploads the
// file to archive/listings/<timestamp>.jsonl.
//
// Archiving never deletes from the ledger.
type ListingArchiver struct {
	ledger domain.Ledger
	writer domain.BlobWriter
}

// NewArchiver creates a ListingArchiver.
func NewArchiver(ledger domain.Ledger, writer domain.BlobWriter) *ListingArchiver {
	return &ListingArchiver{ledger: ledger, writer: writer}
}

// ArchiveListings snapshots the ledger as of at. An empty ledger uploads
// nothing and reports a zero count.
func (a *ListingArchiver) ArchiveListings(ctx context.Context, at time.Time) (domain.ArchiveResult, error) {
	at = at.UTC()
	res := domain.ArchiveResult{At: at}

	var records []ArchivedListing
	err := a.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		records, err = collectListings(ctx, tx)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("s3blob: archive listings query: %w", err)
	}
	if len(records) == 0 {
		return res, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive listings marshal: %w", err)
	}

	path := archivePath("listings", at)
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return res, fmt.Errorf("s3blob: archive listings upload: %w", err)
	}

	res.Path = path
	res.Count = int64(len(records))
	return res, nil
}

func collectListings(ctx context.Context, tx domain.Tx) ([]ArchivedListing, error) {
	var out []ArchivedListing
	for offset := 0; ; offset += archivePageSize {
		page, err := tx.Listings().List(ctx, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, l := range page {
			entries, err := indexEntries(ctx, tx.Indices(), l)
			if err != nil {
				return nil, err
			}
			out = append(out, ArchivedListing{Key: l.Key(), Listing: l, Indices: entries})
		}
		if len(page) < archivePageSize {
			return out, nil
		}
	}
}

func indexEntries(ctx context.Context, idx domain.IndexStore, l domain.Listing) ([]IndexEntry, error) {
	keys := map[domain.IndexName]string{
		domain.IndexByLister:     l.ListerID,
		domain.IndexByCollection: l.SourceCollectionID,
	}
	if category, ok := l.CategoryIndexKey(); ok {
		keys[domain.IndexByCategory] = category
	}

	entries := make([]IndexEntry, 0, len(keys))
	for _, name := range domain.Indices {
		key, ok := keys[name]
		if !ok {
			continue
		}
		id, exists, err := idx.SubStore(ctx, name, key)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		entries = append(entries, IndexEntry{Index: name, Key: key, SubStore: id.Hex()})
	}
	return entries, nil
}

// archivePath builds the object key of a snapshot:
//
//	archive/listings/20250102T150405Z.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.UTC().Format("20060102T150405Z"))
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var (
	_ domain.Archiver   = (*ListingArchiver)(nil)
	_ domain.BlobWriter = (*Writer)(nil)
	_ domain.BlobReader = (*Reader)(nil)
)
