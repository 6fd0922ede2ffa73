// Package worker mirrors persisted tables into the spreadsheet export.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finai/internal/amqp"
	"finai/internal/core"
	"finai/internal/ports"
	"finai/internal/storage"
)

// Repository is the storage surface the worker reads and updates.
type Repository interface {
	GetTable(ctx context.Context, tableID string) (storage.StoredTable, error)
	GetPendingSync(ctx context.Context, limit int) ([]storage.StoredTable, error)
	MarkSynced(ctx context.Context, tableID string, revision int64) error
	MarkSyncError(ctx context.Context, tableID string) error
	GetPendingDeletions(ctx context.Context, limit int) ([]storage.PendingDeletion, error)
	MarkDeletionSynced(ctx context.Context, tableID string) error
}

// SyncWorker exports table snapshots announced on the queue and sweeps the
// ones whose message was lost.
type SyncWorker struct {
	repo      Repository
	exporter  ports.TableExporter
	batchSize int
	logger    *slog.Logger
}

func NewSyncWorker(repo Repository, exporter ports.TableExporter, batchSize int, logger *slog.Logger) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncWorker{repo: repo, exporter: exporter, batchSize: batchSize, logger: logger}
}

// HandleTableSync processes one queue message. Export failures drop the
// message with amqp.ErrPermanent: the table stays pending and the next sweep
// retries it.
func (w *SyncWorker) HandleTableSync(ctx context.Context, msg *amqp.TableSyncMessage) error {
	w.logger.InfoContext(ctx, "Processing table sync message",
		"table_id", msg.TableID,
		"operation", string(msg.Operation),
		"revision", msg.Revision)

	switch msg.Operation {
	case amqp.OpUpsert:
		st, err := w.repo.GetTable(ctx, msg.TableID)
		if errors.Is(err, core.ErrNotFound) {
			w.logger.InfoContext(ctx, "Table gone before export, skipping", "table_id", msg.TableID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("get table %s: %w", msg.TableID, err)
		}
		if st.SyncStatus == storage.SyncSynced {
			return nil
		}
		if err := w.export(ctx, st); err != nil {
			return fmt.Errorf("%w: %w", amqp.ErrPermanent, err)
		}
		return nil
	case amqp.OpDelete:
		if err := w.remove(ctx, msg.TableID); err != nil {
			return fmt.Errorf("%w: %w", amqp.ErrPermanent, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown operation %q", amqp.ErrPermanent, msg.Operation)
	}
}

func (w *SyncWorker) export(ctx context.Context, st storage.StoredTable) error {
	ref, err := w.exporter.ExportTable(ctx, st.OwnerID, st.Table)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to export table",
			"table_id", st.Table.ID,
			"revision", st.Table.Revision,
			"error", err)
		return fmt.Errorf("export table %s: %w", st.Table.ID, err)
	}
	if err := w.repo.MarkSynced(ctx, st.Table.ID, st.Table.Revision); err != nil {
		// the export itself succeeded; a later sweep exports again
		w.logger.WarnContext(ctx, "Failed to mark table as synced",
			"table_id", st.Table.ID, "error", err)
	}
	w.logger.InfoContext(ctx, "Exported table",
		"table_id", st.Table.ID,
		"revision", st.Table.Revision,
		"sheet_ref", ref)
	return nil
}

func (w *SyncWorker) remove(ctx context.Context, tableID string) error {
	if err := w.exporter.RemoveTable(ctx, tableID); err != nil {
		w.logger.ErrorContext(ctx, "Failed to remove exported table",
			"table_id", tableID, "error", err)
		return fmt.Errorf("remove table %s: %w", tableID, err)
	}
	if err := w.repo.MarkDeletionSynced(ctx, tableID); err != nil {
		w.logger.WarnContext(ctx, "Failed to mark deletion as synced",
			"table_id", tableID, "error", err)
	}
	w.logger.InfoContext(ctx, "Removed exported table", "table_id", tableID)
	return nil
}

// SweepResult counts what one ProcessPending pass did.
type SweepResult struct {
	Exported int
	Removed  int
	Failed   int
}

// ProcessPending exports up to one batch of pending tables and deletions.
// A table that fails here is marked with the error status.
func (w *SyncWorker) ProcessPending(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	pending, err := w.repo.GetPendingSync(ctx, w.batchSize)
	if err != nil {
		return res, fmt.Errorf("get pending tables: %w", err)
	}
	for _, st := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := w.export(ctx, st); err != nil {
			res.Failed++
			if err := w.repo.MarkSyncError(ctx, st.Table.ID); err != nil {
				w.logger.ErrorContext(ctx, "Failed to mark sync error", "table_id", st.Table.ID, "error", err)
			}
			continue
		}
		res.Exported++
	}

	deletions, err := w.repo.GetPendingDeletions(ctx, w.batchSize)
	if err != nil {
		return res, fmt.Errorf("get pending deletions: %w", err)
	}
	for _, d := range deletions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := w.remove(ctx, d.TableID); err != nil {
			res.Failed++
			continue
		}
		res.Removed++
	}

	if res != (SweepResult{}) {
		w.logger.InfoContext(ctx, "Sync sweep finished",
			"exported", res.Exported,
			"removed", res.Removed,
			"failed", res.Failed)
	}
	return res, nil
}
