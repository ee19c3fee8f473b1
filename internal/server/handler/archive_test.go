package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

type mockBlobs struct {
	mock.Mock
}

func (m *mockBlobs) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(path)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockBlobs) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	args := m.Called(prefix)
	infos, _ := args.Get(0).([]domain.BlobInfo)
	return infos, args.Error(1)
}

type runnerFunc func(ctx context.Context) (domain.ArchiveResult, error)

func (f runnerFunc) Run(ctx context.Context) (domain.ArchiveResult, error) { return f(ctx) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func serve(h http.HandlerFunc, pattern, method, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestArchiveHandler_Run(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	h := NewArchiveHandler(runnerFunc(func(context.Context) (domain.ArchiveResult, error) {
		return domain.ArchiveResult{Path: "archive/listings/20250102T030405Z.jsonl", Count: 3, At: at}, nil
	}), nil, testLogger())

	rec := serve(h.ArchiveListings, "POST /api/archive/listings", http.MethodPost, "/api/archive/listings")
	require.Equal(t, http.StatusOK, rec.Code)
	var res domain.ArchiveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(3), res.Count)

	failing := NewArchiveHandler(runnerFunc(func(context.Context) (domain.ArchiveResult, error) {
		return domain.ArchiveResult{}, fmt.Errorf("upload: connection reset")
	}), nil, testLogger())
	rec = serve(failing.ArchiveListings, "POST /api/archive/listings", http.MethodPost, "/api/archive/listings")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset", "internal detail is not leaked")
}

func TestArchiveHandler_Snapshots(t *testing.T) {
	blobs := &mockBlobs{}
	blobs.On("List", "archive/listings/").Return([]domain.BlobInfo{{Path: "archive/listings/a.jsonl", Size: 12}}, nil)
	blobs.On("Get", "archive/listings/a.jsonl").Return(io.NopCloser(strings.NewReader("{\"key\":\"c||1\"}\n")), nil)
	blobs.On("Get", "archive/listings/missing.jsonl").Return(nil, fmt.Errorf("s3blob: get: %w", domain.ErrNotFound))
	h := NewArchiveHandler(nil, blobs, testLogger())

	rec := serve(h.ListSnapshots, "GET /api/archive/listings", http.MethodGet, "/api/archive/listings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"path":"archive/listings/a.jsonl"`)

	rec = serve(h.GetSnapshot, "GET /api/archive/listings/{name}", http.MethodGet, "/api/archive/listings/a.jsonl")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\"key\":\"c||1\"}\n", rec.Body.String())

	rec = serve(h.GetSnapshot, "GET /api/archive/listings/{name}", http.MethodGet, "/api/archive/listings/missing.jsonl")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h.GetSnapshot, "GET /api/archive/listings/{name}", http.MethodGet, "/api/archive/listings/..")
	assert.NotEqual(t, http.StatusOK, rec.Code)
	blobs.AssertExpectations(t)
}

func TestArchiveHandler_Unconfigured(t *testing.T) {
	h := NewArchiveHandler(nil, nil, testLogger())
	rec := serve(h.ListSnapshots, "GET /api/archive/listings", http.MethodGet, "/api/archive/listings")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrMalformedRequest), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrUnsupportedCurrency), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", domain.ErrInvalidCategoryTag), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", domain.ErrInsufficientQuota), http.StatusPaymentRequired},
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", domain.ErrSubStoreCollision), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, errorStatus(tc.err), tc.err.Error())
	}
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=9999&offset=-3", nil)
	assert.Equal(t, domain.ListOpts{Limit: 500, Offset: 0}, parseListOpts(r))

	r = httptest.NewRequest(http.MethodGet, "/?limit=5&offset=10", nil)
	assert.Equal(t, domain.ListOpts{Limit: 5, Offset: 10}, parseListOpts(r))
}

func TestMessageText(t *testing.T) {
	got, err := messageText(json.RawMessage(`"{\"sale_conditions\":[]}"`))
	require.NoError(t, err)
	assert.Equal(t, `{"sale_conditions":[]}`, got)

	got, err = messageText(json.RawMessage(` {"sale_conditions":[]} `))
	require.NoError(t, err)
	assert.Equal(t, `{"sale_conditions":[]}`, got)

	_, err = messageText(json.RawMessage(`null`))
	require.ErrorIs(t, err, domain.ErrMalformedRequest)
}
