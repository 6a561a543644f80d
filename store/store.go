// Package store defines the narrow row-ops interface the core consumes
// (spec.md §1: "the core interacts with the store through a narrow
// row-ops interface") together with a pgx-backed implementation of the
// status/hot_block/hot_change_log schema (spec.md §6). Entity-ORM
// semantics (column reflection, connection pooling) are external
// collaborators; this package only describes the operations the Runner,
// Change Tracker and Rollback Engine need.
package store

import (
	"context"

	"github.com/indexkit/evmindex/gateway"
)

// Row is a generic handler-visible row: an id plus column values. The
// concrete shape of "columns" is opaque to the core — handlers and the
// Change Tracker agree on it, the store only persists it.
type Row struct {
	ID      string
	Columns map[string]interface{}
}

// RowOps is the narrow interface the handler and Change Tracker perform
// mutations through (spec.md §4.7). A concrete Store (e.g. PgxStore)
// implements this directly; ChangeTracker wraps it to interpose recording.
type RowOps interface {
	Insert(ctx context.Context, table string, rows []Row) error
	Upsert(ctx context.Context, table string, rows []Row) error
	Delete(ctx context.Context, table string, ids []string) error
	// SelectByIDs returns the current rows for the given ids that exist,
	// used by the Change Tracker to capture pre-images before a mutation.
	SelectByIDs(ctx context.Context, table string, ids []string) ([]Row, error)
}

// Tx is a single store transaction: the unit of atomicity between the
// handler and the commit of progress (spec.md §4.6, §5).
type Tx interface {
	RowOps
	// Commit persists both the handler's mutations and the progress
	// record atomically (spec.md §5 ordering guarantee 3).
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the top-level handle the Runner uses to open a batch
// transaction and to read/write its own progress bookkeeping tables.
type Store interface {
	// Begin opens a new transaction scoped to processing one batch.
	Begin(ctx context.Context) (Tx, error)

	// LastCommitted returns the last committed (height, hash) from
	// {schema}.status, or ok=false if the store has never committed
	// (spec.md §4.6 INIT state).
	LastCommitted(ctx context.Context) (height uint64, hash gateway.Hash, ok bool, err error)

	// CommitProgress atomically advances {schema}.status to (height,
	// hash) within tx — called once per processed batch.
	CommitProgress(ctx context.Context, tx Tx, height uint64, hash gateway.Hash) error

	// MarkHot records a committed-but-unfinalized block in
	// {schema}.hot_block (spec.md §6).
	MarkHot(ctx context.Context, tx Tx, height uint64, hash gateway.Hash) error

	// HotBlocksDescending returns hot_block rows at or below height,
	// ordered by height descending, for REORG ancestor search (spec.md
	// §4.6 REORG state).
	HotBlocksDescending(ctx context.Context, maxHeight uint64) ([]HotBlock, error)

	// PurgeHot deletes hot_block and hot_change_log rows for a height that
	// has left the hot window, either because it finalized (spec.md §3
	// lifecycle: "purged in bulk" on finalization) or because the
	// Rollback Engine rolled it back (spec.md §4.8).
	PurgeHot(ctx context.Context, tx Tx, height uint64) error

	// ChangeLog returns the ChangeRecords for a height, as recorded by
	// the Change Tracker, in insertion (index ascending) order.
	ChangeLog(ctx context.Context, height uint64) ([]ChangeRecord, error)

	// AppendChangeLog bulk-inserts ChangeRecords for one block within tx
	// (spec.md §4.7: "a single bulk insert per operation").
	AppendChangeLog(ctx context.Context, tx Tx, height uint64, startIndex int, records []ChangeRecord) error
}

// HotBlock is one row of {schema}.hot_block.
type HotBlock struct {
	Height uint64
	Hash   gateway.Hash
}
