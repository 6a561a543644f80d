// Package storetest provides an in-memory Store used by the core's own
// tests (changelog, rollback, runner) and available to downstream
// handler tests, standing in for the external pgx-backed store.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/indexkit/evmindex/gateway"
	"github.com/indexkit/evmindex/store"
)

// MemStore is a single-threaded, map-backed Store implementation.
type MemStore struct {
	mu sync.Mutex

	status      *store.HotBlock
	hotBlocks   map[uint64]gateway.Hash
	changeLog   map[uint64][]store.ChangeRecord
	tables      map[string]map[string]map[string]interface{}
}

func New() *MemStore {
	return &MemStore{
		hotBlocks: map[uint64]gateway.Hash{},
		changeLog: map[uint64][]store.ChangeRecord{},
		tables:    map[string]map[string]map[string]interface{}{},
	}
}

type memTx struct {
	s *MemStore
}

func (s *MemStore) Begin(ctx context.Context) (store.Tx, error) {
	s.mu.Lock()
	return &memTx{s: s}, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) tableOf(table string) map[string]map[string]interface{} {
	m, ok := t.s.tables[table]
	if !ok {
		m = map[string]map[string]interface{}{}
		t.s.tables[table] = m
	}
	return m
}

func (t *memTx) Insert(ctx context.Context, table string, rows []store.Row) error {
	m := t.tableOf(table)
	for _, r := range rows {
		cp := map[string]interface{}{}
		for k, v := range r.Columns {
			cp[k] = v
		}
		m[r.ID] = cp
	}
	return nil
}

func (t *memTx) Upsert(ctx context.Context, table string, rows []store.Row) error {
	return t.Insert(ctx, table, rows)
}

func (t *memTx) Delete(ctx context.Context, table string, ids []string) error {
	m := t.tableOf(table)
	for _, id := range ids {
		delete(m, id)
	}
	return nil
}

func (t *memTx) SelectByIDs(ctx context.Context, table string, ids []string) ([]store.Row, error) {
	m := t.tableOf(table)
	var out []store.Row
	for _, id := range ids {
		if cols, ok := m[id]; ok {
			cp := map[string]interface{}{}
			for k, v := range cols {
				cp[k] = v
			}
			out = append(out, store.Row{ID: id, Columns: cp})
		}
	}
	return out, nil
}

func (s *MemStore) LastCommitted(ctx context.Context) (uint64, gateway.Hash, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return 0, gateway.Hash{}, false, nil
	}
	return s.status.Height, s.status.Hash, true, nil
}

func (s *MemStore) CommitProgress(ctx context.Context, tx store.Tx, height uint64, hash gateway.Hash) error {
	s.status = &store.HotBlock{Height: height, Hash: hash}
	return nil
}

func (s *MemStore) MarkHot(ctx context.Context, tx store.Tx, height uint64, hash gateway.Hash) error {
	s.hotBlocks[height] = hash
	return nil
}

func (s *MemStore) HotBlocksDescending(ctx context.Context, maxHeight uint64) ([]store.HotBlock, error) {
	var out []store.HotBlock
	for h, hash := range s.hotBlocks {
		if h <= maxHeight {
			out = append(out, store.HotBlock{Height: h, Hash: hash})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height > out[j].Height })
	return out, nil
}

func (s *MemStore) PurgeHot(ctx context.Context, tx store.Tx, height uint64) error {
	delete(s.hotBlocks, height)
	delete(s.changeLog, height)
	return nil
}

func (s *MemStore) ChangeLog(ctx context.Context, height uint64) ([]store.ChangeRecord, error) {
	return append([]store.ChangeRecord{}, s.changeLog[height]...), nil
}

func (s *MemStore) AppendChangeLog(ctx context.Context, tx store.Tx, height uint64, startIndex int, records []store.ChangeRecord) error {
	s.changeLog[height] = append(s.changeLog[height], records...)
	return nil
}

// Snapshot returns a deep copy of one table's rows, keyed by id — used by
// tests asserting byte-identical pre/post-rollback state (spec.md §8
// property 6).
func (s *MemStore) Snapshot(table string) map[string]map[string]interface{} {
	out := map[string]map[string]interface{}{}
	for id, cols := range s.tables[table] {
		cp := map[string]interface{}{}
		for k, v := range cols {
			cp[k] = v
		}
		out[id] = cp
	}
	return out
}

func (s *MemStore) DebugString() string {
	return fmt.Sprintf("%+v", s.tables)
}
