// Package refund delivers queued refunds after the approvals that produced
// them have committed. Delivery is best effort: a refund that cannot be paid
// is reported and skipped, and the listing it came from is never touched.
package refund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/listingengine/internal/domain"
	"github.com/alanyoungcy/listingengine/internal/notify"
	"github.com/alanyoungcy/listingengine/internal/platform/payments"
)

// Config tunes the worker.
type Config struct {
	Consumer     string
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	LockTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Consumer == "" {
		c.Consumer = "refund-worker"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.LockTTL <= 0 {
		c.LockTTL = time.Minute
	}
	return c
}

// Stats counts the outcome of one batch.
type Stats struct {
	Sent   int
	Failed int
}

// Worker polls a RefundQueue and pays each refund through a Transferrer.
type Worker struct {
	queue    domain.RefundQueue
	transfer domain.Transferrer
	cursors  domain.CursorStore
	locks    domain.LockManager
	notifier *notify.Notifier
	cfg      Config
	logger   *slog.Logger

	cursor string
	loaded bool
}

// NewWorker creates a Worker. cursors, locks and notifier may be nil: the
// cursor is then kept in memory, batches run unguarded and nobody is told
// about failures beyond the log.
func NewWorker(
	queue domain.RefundQueue,
	transfer domain.Transferrer,
	cursors domain.CursorStore,
	locks domain.LockManager,
	notifier *notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		queue:    queue,
		transfer: transfer,
		cursors:  cursors,
		locks:    locks,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("component", "refund_worker")),
	}
}

// Run processes batches until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "refund worker started",
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Int("batch_size", w.cfg.BatchSize),
	)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			w.logger.ErrorContext(ctx, "refund batch failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessBatch delivers up to BatchSize refunds. When another replica holds
// the worker lock it does nothing.
func (w *Worker) ProcessBatch(ctx context.Context) (Stats, error) {
	if w.locks != nil {
		unlock, err := w.locks.Acquire(ctx, w.cfg.Consumer, w.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return Stats{}, nil
		}
		if err != nil {
			return Stats{}, fmt.Errorf("refund: acquire lock: %w", err)
		}
		defer unlock()
	}

	if err := w.loadCursor(ctx); err != nil {
		return Stats{}, err
	}

	batch, next, err := w.queue.Dequeue(ctx, w.cursor, w.cfg.BatchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("refund: dequeue: %w", err)
	}

	var stats Stats
	for _, r := range batch {
		if err := w.deliver(ctx, r); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			w.reportFailure(ctx, r, err)
			continue
		}
		stats.Sent++
		w.logger.InfoContext(ctx, "refund sent",
			slog.String("refund_id", r.ID),
			slog.String("account_id", r.AccountID),
			slog.String("amount", r.Amount.String()),
		)
		_ = w.notifier.Notifyf(ctx, notify.EventRefundSent, "Refund sent",
			"%s refunded %s for %s", r.AccountID, r.Amount, r.Key)
	}

	if next != w.cursor {
		w.cursor = next
		if w.cursors != nil {
			if err := w.cursors.Save(ctx, w.cfg.Consumer, next); err != nil {
				return stats, fmt.Errorf("refund: save cursor: %w", err)
			}
		}
	}
	return stats, nil
}

func (w *Worker) loadCursor(ctx context.Context) error {
	if w.loaded || w.cursors == nil {
		return nil
	}
	c, err := w.cursors.Load(ctx, w.cfg.Consumer)
	if err != nil {
		return fmt.Errorf("refund: load cursor: %w", err)
	}
	w.cursor = c
	w.loaded = true
	return nil
}

// deliver attempts the transfer up to MaxAttempts times. Rejected transfers
// are not retried.
func (w *Worker) deliver(ctx context.Context, r domain.Refund) error {
	if r.Amount.IsZero() {
		return nil
	}
	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		err = w.transfer.Transfer(ctx, r.AccountID, r.Amount, r.ID)
		if err == nil || errors.Is(err, payments.ErrRejected) {
			return err
		}
		if attempt == w.cfg.MaxAttempts {
			break
		}
		w.logger.WarnContext(ctx, "refund transfer failed, retrying",
			slog.String("refund_id", r.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(w.cfg.RetryBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func (w *Worker) reportFailure(ctx context.Context, r domain.Refund, err error) {
	w.logger.ErrorContext(ctx, "refund not delivered",
		slog.String("refund_id", r.ID),
		slog.String("account_id", r.AccountID),
		slog.String("amount", r.Amount.String()),
		slog.String("listing_key", r.Key.String()),
		slog.String("error", err.Error()),
	)
	_ = w.notifier.Notifyf(ctx, notify.EventRefundFailed, "Refund failed",
		"%s was owed %s for %s: %v", r.AccountID, r.Amount, r.Key, err)
}
