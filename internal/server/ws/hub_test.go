package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestHub_StreamsListingEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])

	payload, err := json.Marshal(domain.ListingEvent{
		Type:    domain.ListingCreated,
		Key:     "nft||1",
		Listing: domain.Listing{SourceCollectionID: "nft", ItemID: "1", ListerID: "alice"},
	})
	require.NoError(t, err)
	bus.ch <- payload

	var ev domain.ListingEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.ListingCreated, ev.Type)
	assert.Equal(t, domain.ListingKey("nft||1"), ev.Key)
}

func TestClient_Filters(t *testing.T) {
	c := &client{collections: map[string]bool{}, listers: map[string]bool{}}
	nft := eventMsg{collection: "nft", lister: "alice"}
	art := eventMsg{collection: "art", lister: "bob"}

	assert.True(t, c.wants(nft))
	assert.True(t, c.wants(art))

	c.applyFilter(filterMsg{Action: "subscribe", Collections: []string{"nft"}})
	assert.True(t, c.wants(nft))
	assert.False(t, c.wants(art))

	c.applyFilter(filterMsg{Action: "subscribe", Listers: []string{"bob"}})
	assert.False(t, c.wants(nft), "both filters must match")

	c.applyFilter(filterMsg{Action: "reset"})
	assert.True(t, c.wants(art))
}

func TestDecodeEvent_ToleratesGarbage(t *testing.T) {
	msg := decodeEvent([]byte("not json"))
	assert.Empty(t, msg.collection)
	assert.Equal(t, []byte("not json"), msg.data)
}
