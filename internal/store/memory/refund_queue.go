package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// RefundQueue is an append-only in-process refund log. Cursors are decimal
// offsets into the log.
type RefundQueue struct {
	mu      sync.Mutex
	entries []domain.Refund
}

// NewRefundQueue creates an empty queue.
func NewRefundQueue() *RefundQueue {
	return &RefundQueue{}
}

// Enqueue appends r.
func (q *RefundQueue) Enqueue(_ context.Context, r domain.Refund) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, r)
	return nil
}

// Dequeue returns up to count refunds after cursor.
func (q *RefundQueue) Dequeue(_ context.Context, cursor string, count int) ([]domain.Refund, string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, cursor, fmt.Errorf("memory: bad refund cursor %q", cursor)
		}
		start = n
	}
	if start >= len(q.entries) {
		return nil, strconv.Itoa(len(q.entries)), nil
	}
	end := len(q.entries)
	if count > 0 && start+count < end {
		end = start + count
	}
	out := make([]domain.Refund, end-start)
	copy(out, q.entries[start:end])
	return out, strconv.Itoa(end), nil
}

// Len reports how many refunds have been queued in total.
func (q *RefundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

var _ domain.RefundQueue = (*RefundQueue)(nil)
