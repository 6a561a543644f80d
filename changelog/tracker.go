// Package changelog implements C7, the Change Tracker: it wraps the
// store's row-ops interface during HOT batches and records every mutation
// into the hot_change_log side table so C8 can invert it on reorg
// (spec.md §4.7).
package changelog

import (
	"context"

	"github.com/indexkit/evmindex/store"
)

// Tracker wraps a store.Tx, interposing ChangeRecord capture on every
// mutation. One Tracker is constructed per block; Index is scoped to it
// and increases monotonically (spec.md §4.7).
type Tracker struct {
	tx     store.Tx
	height uint64
	index  int
	store  store.Store
}

// New wraps tx for the given block height. store is the owning Store,
// used to persist the accumulated records via AppendChangeLog.
func New(tx store.Tx, owner store.Store, height uint64) *Tracker {
	return &Tracker{tx: tx, height: height, store: owner}
}

var _ store.RowOps = (*Tracker)(nil)

// Insert records {kind:'insert'} for each row then performs the
// underlying insert (spec.md §4.7's trackInsert). Insert satisfies
// store.RowOps so a Tracker can be handed to handler code in place of the
// raw store.
func (t *Tracker) Insert(ctx context.Context, table string, rows []store.Row) error {
	records := make([]store.ChangeRecord, len(rows))
	for i, r := range rows {
		records[i] = store.ChangeRecord{Kind: store.ChangeInsert, Table: table, ID: r.ID}
	}
	if err := t.record(ctx, records); err != nil {
		return err
	}
	return t.tx.Insert(ctx, table, rows)
}

// Upsert selects existing rows by id first: matches get an 'update'
// record carrying the pre-image, absent ids get an 'insert' record
// (spec.md §4.7).
func (t *Tracker) Upsert(ctx context.Context, table string, rows []store.Row) error {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	existing, err := t.tx.SelectByIDs(ctx, table, ids)
	if err != nil {
		return err
	}
	priorByID := make(map[string]map[string]interface{}, len(existing))
	for _, r := range existing {
		priorByID[r.ID] = r.Columns
	}

	records := make([]store.ChangeRecord, len(rows))
	for i, r := range rows {
		if prior, ok := priorByID[r.ID]; ok {
			records[i] = store.ChangeRecord{Kind: store.ChangeUpdate, Table: table, ID: r.ID, PriorFields: prior}
		} else {
			records[i] = store.ChangeRecord{Kind: store.ChangeInsert, Table: table, ID: r.ID}
		}
	}
	if err := t.record(ctx, records); err != nil {
		return err
	}
	return t.tx.Upsert(ctx, table, rows)
}

// Delete selects the rows about to be removed and records their full
// pre-image as a 'delete' ChangeRecord (spec.md §4.7).
func (t *Tracker) Delete(ctx context.Context, table string, ids []string) error {
	existing, err := t.tx.SelectByIDs(ctx, table, ids)
	if err != nil {
		return err
	}
	records := make([]store.ChangeRecord, len(existing))
	for i, r := range existing {
		records[i] = store.ChangeRecord{Kind: store.ChangeDelete, Table: table, ID: r.ID, PriorFields: r.Columns}
	}
	if err := t.record(ctx, records); err != nil {
		return err
	}
	return t.tx.Delete(ctx, table, ids)
}

func (t *Tracker) SelectByIDs(ctx context.Context, table string, ids []string) ([]store.Row, error) {
	return t.tx.SelectByIDs(ctx, table, ids)
}

// record appends the batch of ChangeRecords to the side log in one bulk
// insert, scoped to this Tracker's monotonic index (spec.md §4.7).
func (t *Tracker) record(ctx context.Context, records []store.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := t.index
	t.index += len(records)
	return t.store.AppendChangeLog(ctx, t.tx, t.height, start, records)
}
