// Package pipeline runs the scheduled background jobs of the listing
// service.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/listingengine/internal/domain"
	"github.com/alanyoungcy/listingengine/internal/notify"
)

// Archiver snapshots the listing ledger to cold storage.
type Archiver struct {
	blobArchiver domain.Archiver
	notifier     *notify.Notifier
	now          func() time.Time
	logger       *slog.Logger
}

// NewArchiver creates a new Archiver. notifier may be nil.
func NewArchiver(blobArchiver domain.Archiver, notifier *notify.Notifier, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		notifier:     notifier,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// Run writes one snapshot of every listing and its index membership.
func (a *Archiver) Run(ctx context.Context) (domain.ArchiveResult, error) {
	at := a.now().UTC()
	a.logger.InfoContext(ctx, "starting listing snapshot", slog.Time("at", at))

	res, err := a.blobArchiver.ArchiveListings(ctx, at)
	if err != nil {
		_ = a.notifier.Notifyf(ctx, notify.EventArchiveFailed, "Listing snapshot failed", "%v", err)
		return res, fmt.Errorf("snapshot listings at %v: %w", at, err)
	}

	a.logger.InfoContext(ctx, "listing snapshot complete",
		slog.String("path", res.Path),
		slog.Int64("count", res.Count),
	)
	if res.Count > 0 {
		_ = a.notifier.Notifyf(ctx, notify.EventArchiveWritten, "Listing snapshot written",
			"%d listings to %s", res.Count, res.Path)
	}
	return res, nil
}

// RunCron runs the archiver on a 5-field cron schedule ("minute hour
// day-of-month month day-of-week") until the context is cancelled.
//
// Example: "0 3 * * *" snapshots every day at 03:00 UTC.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, ok := cron.next(a.now().UTC())
		if !ok {
			return fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
		}

		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "listing snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   []int
}

// matches returns true if the given value matches this cron field.
func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses "*", a single value or a comma list, and checks each
// value against [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		if v < lo || v > hi {
			return cronField{}, fmt.Errorf("cron field value %d outside [%d, %d]", v, lo, hi)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

// parsedCron holds five parsed cron fields.
type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// matchesTime returns true if the given time matches all five cron fields.
func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a 5-field cron expression into a parsedCron struct.
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing minute field: %w", err)
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing hour field: %w", err)
	}
	dayOfMonth, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-month field: %w", err)
	}
	month, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing month field: %w", err)
	}
	dayOfWeek, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-week field: %w", err)
	}

	return parsedCron{
		minute:     minute,
		hour:       hour,
		dayOfMonth: dayOfMonth,
		month:      month,
		dayOfWeek:  dayOfWeek,
	}, nil
}

// next returns the first minute after 'after' that matches, searching up to
// one year ahead.
func (c parsedCron) next(after time.Time) (time.Time, bool) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate, true
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, false
}
