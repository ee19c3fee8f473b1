package domain

import (
	"context"
	"time"
)

// Refund returns payment attached to a category approval in excess of the
// quota unit it bought. Refunds are delivered after the approval commits and
// their failure never undoes a listing.
type Refund struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Amount    Amount     `json:"amount"`
	Reason    string     `json:"reason"`
	Key       ListingKey `json:"listing_key"`
	CreatedAt time.Time  `json:"created_at"`
}

// RefundQueue holds refunds awaiting delivery.
type RefundQueue interface {
	Enqueue(ctx context.Context, r Refund) error
	// Dequeue returns up to count refunds queued after cursor, plus the
	// cursor to pass next time. An empty cursor starts from the beginning.
	Dequeue(ctx context.Context, cursor string, count int) ([]Refund, string, error)
}

// Transferrer moves value to an account. It is the external payment
// primitive behind refunds.
type Transferrer interface {
	Transfer(ctx context.Context, accountID string, amount Amount, reference string) error
}

// CursorStore persists how far a consumer has read a queue, so a restarted
// worker does not replay delivered refunds.
type CursorStore interface {
	Load(ctx context.Context, consumer string) (string, error)
	Save(ctx context.Context, consumer, cursor string) error
}
