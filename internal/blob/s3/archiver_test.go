package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/listingengine/internal/domain"
	"github.com/alanyoungcy/listingengine/internal/store/memory"
)

type mockWriter struct {
	mock.Mock
	body []byte
}

func (m *mockWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	m.body, _ = io.ReadAll(data)
	return m.Called(path, contentType).Error(0)
}

func (m *mockWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	m.body, _ = io.ReadAll(data)
	return m.Called(path, partSize).Error(0)
}

func seedLedger(t *testing.T) *memory.State {
	t.Helper()
	state := memory.NewState(domain.NewAmount(1), "near")
	tag := "hat"
	listings := []domain.Listing{
		{ListerID: "alice", SourceCollectionID: "c1", ItemID: "hat#1", CategoryTag: &tag,
			PriceConditions: domain.PriceConditions{"near": domain.NewAmount(5)}},
		{ListerID: "bob", SourceCollectionID: "c2", ItemID: "boots", IsCategoryListing: true,
			PriceConditions: domain.PriceConditions{}},
	}
	err := state.Update(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		for _, l := range listings {
			if _, _, err := tx.Listings().Put(ctx, l.Key(), l); err != nil {
				return err
			}
			if err := tx.Indices().Add(ctx, domain.IndexByLister, l.ListerID, l.Key()); err != nil {
				return err
			}
			if err := tx.Indices().Add(ctx, domain.IndexByCollection, l.SourceCollectionID, l.Key()); err != nil {
				return err
			}
			cat, _ := l.CategoryIndexKey()
			if err := tx.Indices().Add(ctx, domain.IndexByCategory, cat, l.Key()); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return state
}

func TestListingArchiver_UploadsJSONL(t *testing.T) {
	state := seedLedger(t)
	w := &mockWriter{}
	w.On("Put", "archive/listings/20250102T030405Z.jsonl", jsonlContentType).Return(nil)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	res, err := NewArchiver(state, w).ArchiveListings(context.Background(), at)
	require.NoError(t, err)
	w.AssertExpectations(t)

	assert.Equal(t, int64(2), res.Count)
	assert.Equal(t, "archive/listings/20250102T030405Z.jsonl", res.Path)

	var lines []ArchivedListing
	sc := bufio.NewScanner(bytes.NewReader(w.body))
	for sc.Scan() {
		var rec ArchivedListing
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)

	first := lines[0]
	assert.Equal(t, domain.ListingKey("c1||hat#1"), first.Key)
	assert.Equal(t, "5", first.Listing.PriceConditions["near"].String())
	require.Len(t, first.Indices, 3)
	assert.Equal(t, IndexEntry{
		Index:    domain.IndexByCategory,
		Key:      "hat",
		SubStore: domain.DeriveSubStoreID(domain.IndexByCategory, "hat").Hex(),
	}, first.Indices[2])

	assert.Equal(t, "boots", lines[1].Indices[2].Key)
}

func TestListingArchiver_EmptyLedger(t *testing.T) {
	w := &mockWriter{}
	res, err := NewArchiver(memory.NewState(domain.NewAmount(1)), w).ArchiveListings(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.Path)
	w.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestListingArchiver_UploadError(t *testing.T) {
	w := &mockWriter{}
	w.On("Put", mock.Anything, mock.Anything).Return(errors.New("bucket gone"))

	_, err := NewArchiver(seedLedger(t), w).ArchiveListings(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://127.0.0.1:9000", normaliseEndpoint("127.0.0.1:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("https://e2.example.com", false))
}
