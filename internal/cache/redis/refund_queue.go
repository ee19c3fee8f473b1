package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// DefaultRefundStream is the stream refunds are appended to.
const DefaultRefundStream = "stream:refunds"

// RefundQueue implements domain.RefundQueue on a Redis stream. Cursors are
// stream entry ids, so several workers can read the same stream
// independently.
type RefundQueue struct {
	bus    *SignalBus
	stream string
}

// NewRefundQueue creates a RefundQueue appending to stream. The queue owns
// an untrimmed bus: entries leave the stream only when an operator removes
// them, never to MAXLEN, so a lagging worker cannot lose refunds.
func NewRefundQueue(c *Client, stream string) *RefundQueue {
	if stream == "" {
		stream = DefaultRefundStream
	}
	return &RefundQueue{bus: NewSignalBusWithMaxLen(c, 0), stream: stream}
}

// Enqueue appends r to the stream.
func (q *RefundQueue) Enqueue(ctx context.Context, r domain.Refund) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: marshal refund %s: %w", r.ID, err)
	}
	return q.bus.StreamAppend(ctx, q.stream, data)
}

// Dequeue reads up to count refunds after cursor. Entries that do not decode
// are skipped but still advance the cursor.
func (q *RefundQueue) Dequeue(ctx context.Context, cursor string, count int) ([]domain.Refund, string, error) {
	msgs, err := q.bus.StreamRead(ctx, q.stream, cursor, count)
	if err != nil {
		return nil, cursor, err
	}

	out := make([]domain.Refund, 0, len(msgs))
	for _, m := range msgs {
		cursor = m.ID
		var r domain.Refund
		if err := json.Unmarshal(m.Payload, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, cursor, nil
}

var _ domain.RefundQueue = (*RefundQueue)(nil)
