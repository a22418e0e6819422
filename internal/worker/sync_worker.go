// Package worker mirrors ledger writes into the backup spreadsheet. It
// consumes mutation events from the queue and, as a safety net, sweeps
// the database for rows whose events were lost.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"kakeibo/internal/amqp"
	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

// Ledger is the slice of the store the worker needs.
type Ledger interface {
	GetEntry(ctx context.Context, id int64) (core.Entry, error)
	ListUnsynced(ctx context.Context, limit int) ([]core.Entry, error)
	MarkSynced(ctx context.Context, id int64, ts time.Time) error
}

// Exporter appends one entry to the backup spreadsheet.
type Exporter interface {
	Append(ctx context.Context, entry core.Entry) error
}

type SyncWorker struct {
	store     Ledger
	exporter  Exporter
	batchSize int
}

func NewSyncWorker(store Ledger, exporter Exporter, batchSize int) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &SyncWorker{store: store, exporter: exporter, batchSize: batchSize}
}

// HandleEvent processes one ledger mutation event. Saved and deleted
// entries both end up as appended rows; the exporter records the
// deletion status. A returned error requeues the message.
func (w *SyncWorker) HandleEvent(ctx context.Context, ev amqp.Event) error {
	slog.InfoContext(ctx, "Processing ledger event",
		"kind", ev.Kind,
		"entry_id", ev.EntryID)

	entry, err := w.store.GetEntry(ctx, ev.EntryID)
	if errors.Is(err, storage.ErrNotFound) {
		// The row vanished between the event and now. Nothing to mirror.
		slog.WarnContext(ctx, "Entry no longer exists, dropping event", "entry_id", ev.EntryID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load entry %d: %w", ev.EntryID, err)
	}

	return w.mirror(ctx, entry)
}

// ProcessPending sweeps for rows never confirmed as mirrored. Failures
// on individual rows are logged and skipped so one bad row cannot stall
// the batch.
func (w *SyncWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.store.ListUnsynced(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list unsynced entries: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing unsynced entries", "count", len(pending))

	for _, entry := range pending {
		if err := w.mirror(ctx, entry); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror entry",
				"entry_id", entry.ID,
				"error", err)
		}
	}
	return nil
}

// Run consumes events from the queue and sweeps pending rows on a
// ticker until ctx is done or either side fails.
func (w *SyncWorker) Run(ctx context.Context, events *amqp.Client, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if err := w.ProcessPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup sweep failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return events.Consume(ctx, w.HandleEvent)
	})
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := w.ProcessPending(ctx); err != nil {
					slog.ErrorContext(ctx, "Periodic sweep failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *SyncWorker) mirror(ctx context.Context, entry core.Entry) error {
	if w.exporter == nil {
		slog.WarnContext(ctx, "No exporter configured, skipping mirror", "entry_id", entry.ID)
		return nil
	}

	if err := w.exporter.Append(ctx, entry); err != nil {
		return fmt.Errorf("append entry %d: %w", entry.ID, err)
	}

	if err := w.store.MarkSynced(ctx, entry.ID, time.Now().UTC()); err != nil {
		// The mirror worked; the bookkeeping failure only risks one
		// duplicate row on the next sweep.
		slog.ErrorContext(ctx, "Failed to mark entry as synced",
			"entry_id", entry.ID,
			"error", err)
	}
	return nil
}
