// Package rollback implements C8, the Rollback Engine: it reads the hot
// change log for a block and physically inverts every recorded mutation,
// then removes the block's hot_block row (spec.md §4.8).
package rollback

import (
	"context"

	"github.com/indexkit/evmindex/errs"
	"github.com/indexkit/evmindex/store"
)

// Apply inverts every ChangeRecord for blockHeight, in reverse (index
// DESC) order, within tx, then deletes the block's hot_block row. Errors
// here are always fatal — a partial rollback would corrupt the data view
// (spec.md §4.8, §7).
func Apply(ctx context.Context, s store.Store, tx store.Tx, blockHeight uint64) error {
	records, err := s.ChangeLog(ctx, blockHeight)
	if err != nil {
		return errs.Store("rollback-read-change-log", err)
	}

	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if err := invert(ctx, tx, rec); err != nil {
			return errs.Invariant("rollback failed to invert change record", map[string]interface{}{
				"blockHeight": blockHeight,
				"table":       rec.Table,
				"id":          rec.ID,
				"kind":        string(rec.Kind),
				"cause":       err.Error(),
			})
		}
	}

	// The block is leaving the hot window for good: its change log entries
	// are fully consumed and must not linger, or a later reorg or a
	// reprocessing of this same height would see stale dead-fork records
	// alongside the new ones (spec.md §3: "the side log contains no
	// records for finalized heights" applies equally to rolled-back ones).
	if err := s.PurgeHot(ctx, tx, blockHeight); err != nil {
		return errs.Store("rollback-purge-hot", err)
	}
	return nil
}

func invert(ctx context.Context, tx store.Tx, rec store.ChangeRecord) error {
	switch rec.Kind {
	case store.ChangeInsert:
		// The row did not exist before the block; undo by deleting it.
		return tx.Delete(ctx, rec.Table, []string{rec.ID})
	case store.ChangeUpdate:
		// Restore the pre-image the Change Tracker captured before the update.
		if rec.PriorFields == nil {
			return errs.Invariant("update change record missing pre-image", map[string]interface{}{"table": rec.Table, "id": rec.ID})
		}
		return tx.Upsert(ctx, rec.Table, []store.Row{{ID: rec.ID, Columns: rec.PriorFields}})
	case store.ChangeDelete:
		// The row existed before the block; restore it from the pre-image.
		if rec.PriorFields == nil {
			return errs.Invariant("delete change record missing pre-image", map[string]interface{}{"table": rec.Table, "id": rec.ID})
		}
		return tx.Insert(ctx, rec.Table, []store.Row{{ID: rec.ID, Columns: rec.PriorFields}})
	default:
		return errs.Invariant("unknown change record kind", map[string]interface{}{"kind": string(rec.Kind)})
	}
}
