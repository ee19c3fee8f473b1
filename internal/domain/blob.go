package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// ArchiveResult reports one snapshot upload.
type ArchiveResult struct {
	Path  string    `json:"path"`
	Count int64     `json:"count"`
	At    time.Time `json:"at"`
}

// Archiver copies the listing table and its index membership to cold
// storage.
type Archiver interface {
	ArchiveListings(ctx context.Context, at time.Time) (ArchiveResult, error)
}
