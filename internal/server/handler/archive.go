package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// snapshotPrefix is where listing snapshots are written.
const snapshotPrefix = "archive/listings/"

// ArchiveRunner writes one listing snapshot.
type ArchiveRunner interface {
	Run(ctx context.Context) (domain.ArchiveResult, error)
}

// ArchiveHandler triggers, lists and downloads listing snapshots.
type ArchiveHandler struct {
	runner ArchiveRunner
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. runner and blobs are nil when
// no blob store is configured; the endpoints then answer 503.
func NewArchiveHandler(runner ArchiveRunner, blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{runner: runner, blobs: blobs, logger: logHandler(logger, "archive")}
}

// ArchiveListings writes a snapshot now.
// POST /api/archive/listings
func (h *ArchiveHandler) ArchiveListings(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not configured")
		return
	}
	res, err := h.runner.Run(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListSnapshots lists the stored snapshots.
// GET /api/archive/listings
func (h *ArchiveHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not configured")
		return
	}
	infos, err := h.blobs.List(r.Context(), snapshotPrefix)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": infos})
}

// GetSnapshot streams one snapshot file.
// GET /api/archive/listings/{name}
func (h *ArchiveHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not configured")
		return
	}
	name := pathParam(r, "name")
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		writeDomainError(w, r, h.logger, fmt.Errorf("%w: invalid snapshot name %q", domain.ErrMalformedRequest, name))
		return
	}

	body, err := h.blobs.Get(r.Context(), snapshotPrefix+name)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: snapshot download interrupted",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}
