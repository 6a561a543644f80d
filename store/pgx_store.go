package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/indexkit/evmindex/errs"
	"github.com/indexkit/evmindex/gateway"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PgxStore is the concrete Store implementation over a Postgres-compatible
// schema (spec.md §6.1). All identifiers that originate from user/handler
// input (table and column names) are routed through pgx.Identifier.
// Sanitize — never through string concatenation — per the "Identifier
// quoting in rollback" design note (spec.md §9).
type PgxStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPgxStore wires a connection pool against the given schema, grounded
// on the teacher's HermezDb constructor shape (store/writer embeds a
// reader, here a single type implements both sides of the narrow
// interface since Postgres has no cursor-style read-only handle).
func NewPgxStore(pool *pgxpool.Pool, schema string) *PgxStore {
	return &PgxStore{pool: pool, schema: schema}
}

func (s *PgxStore) qualify(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

func quoteIdent(name string) (string, error) {
	id := pgx.Identifier{name}
	q := id.Sanitize()
	if q == "" {
		return "", errs.Invariant("un-escapable identifier", map[string]interface{}{"identifier": name})
	}
	return q, nil
}

// PgxTx wraps a pgx.Tx to satisfy the Tx interface.
type PgxTx struct {
	tx     pgx.Tx
	schema string
}

func (s *PgxStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errs.Store("begin", err)
	}
	return &PgxTx{tx: tx, schema: s.schema}, nil
}

func (t *PgxTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return errs.Store("commit", err)
	}
	return nil
}

func (t *PgxTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func (t *PgxTx) qualify(table string) string {
	return pgx.Identifier{t.schema, table}.Sanitize()
}

func (t *PgxTx) Insert(ctx context.Context, table string, rows []Row) error {
	for _, r := range rows {
		cols, vals, err := orderedColumns(r.Columns)
		if err != nil {
			return err
		}
		cols = append([]string{"id"}, cols...)
		vals = append([]interface{}{r.ID}, vals...)
		placeholders := make([]string, len(vals))
		for i := range vals {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			t.qualify(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
		if _, err := t.tx.Exec(ctx, sql, vals...); err != nil {
			return errs.Store("insert "+table, err)
		}
	}
	return nil
}

func (t *PgxTx) Upsert(ctx context.Context, table string, rows []Row) error {
	for _, r := range rows {
		cols, vals, err := orderedColumns(r.Columns)
		if err != nil {
			return err
		}
		allCols := append([]string{"id"}, cols...)
		allVals := append([]interface{}{r.ID}, vals...)
		placeholders := make([]string, len(allVals))
		for i := range allVals {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		setClauses := make([]string, len(cols))
		for i, c := range cols {
			setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
			t.qualify(table), strings.Join(allCols, ", "), strings.Join(placeholders, ", "), strings.Join(setClauses, ", "))
		if _, err := t.tx.Exec(ctx, sql, allVals...); err != nil {
			return errs.Store("upsert "+table, err)
		}
	}
	return nil
}

func (t *PgxTx) Delete(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", t.qualify(table))
	if _, err := t.tx.Exec(ctx, sql, ids); err != nil {
		return errs.Store("delete "+table, err)
	}
	return nil
}

func (t *PgxTx) SelectByIDs(ctx context.Context, table string, ids []string) ([]Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE id = ANY($1)", t.qualify(table))
	rows, err := t.tx.Query(ctx, sql, ids)
	if err != nil {
		return nil, errs.Store("select "+table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, errs.Store("select "+table, err)
		}
		row := Row{Columns: map[string]interface{}{}}
		for i, fd := range fields {
			name := string(fd.Name)
			if name == "id" {
				row.ID = fmt.Sprintf("%v", vals[i])
				continue
			}
			row.Columns[name] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// orderedColumns produces deterministic column/value ordering so repeated
// inserts of the same logical row generate the same SQL shape, and
// validates every column name through the driver's identifier escape.
func orderedColumns(cols map[string]interface{}) ([]string, []interface{}, error) {
	names := make([]string, 0, len(cols))
	for k := range cols {
		names = append(names, k)
	}
	sort.Strings(names)
	quoted := make([]string, len(names))
	vals := make([]interface{}, len(names))
	for i, n := range names {
		q, err := quoteIdent(n)
		if err != nil {
			return nil, nil, err
		}
		quoted[i] = q
		vals[i] = cols[n]
	}
	return quoted, vals, nil
}

func (s *PgxStore) LastCommitted(ctx context.Context) (uint64, gateway.Hash, bool, error) {
	var height uint64
	var hashBytes []byte
	sql := fmt.Sprintf("SELECT height, hash FROM %s ORDER BY height DESC LIMIT 1", s.qualify("status"))
	err := s.pool.QueryRow(ctx, sql).Scan(&height, &hashBytes)
	if err == pgx.ErrNoRows {
		return 0, gateway.Hash{}, false, nil
	}
	if err != nil {
		return 0, gateway.Hash{}, false, errs.Store("last-committed", err)
	}
	var h gateway.Hash
	copy(h[:], hashBytes)
	return height, h, true, nil
}

func (s *PgxStore) CommitProgress(ctx context.Context, tx Tx, height uint64, hash gateway.Hash) error {
	pt, ok := tx.(*PgxTx)
	if !ok {
		return errs.Invariant("CommitProgress called outside a pgx transaction", nil)
	}
	// status holds a single row; replace it wholesale within the batch
	// transaction so progress and handler mutations commit atomically.
	if _, err := pt.tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.qualify("status"))); err != nil {
		return errs.Store("commit-progress", err)
	}
	if _, err := pt.tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (height, hash) VALUES ($1, $2)", s.qualify("status")), height, hash[:]); err != nil {
		return errs.Store("commit-progress", err)
	}
	return nil
}

func (s *PgxStore) MarkHot(ctx context.Context, tx Tx, height uint64, hash gateway.Hash) error {
	pt, ok := tx.(*PgxTx)
	if !ok {
		return errs.Invariant("MarkHot called outside a pgx transaction", nil)
	}
	sql := fmt.Sprintf("INSERT INTO %s (height, hash) VALUES ($1, $2) ON CONFLICT (height) DO UPDATE SET hash = EXCLUDED.hash", s.qualify("hot_block"))
	if _, err := pt.tx.Exec(ctx, sql, height, hash[:]); err != nil {
		return errs.Store("mark-hot", err)
	}
	return nil
}

func (s *PgxStore) HotBlocksDescending(ctx context.Context, maxHeight uint64) ([]HotBlock, error) {
	sql := fmt.Sprintf("SELECT height, hash FROM %s WHERE height <= $1 ORDER BY height DESC", s.qualify("hot_block"))
	rows, err := s.pool.Query(ctx, sql, maxHeight)
	if err != nil {
		return nil, errs.Store("hot-blocks-descending", err)
	}
	defer rows.Close()
	var out []HotBlock
	for rows.Next() {
		var h HotBlock
		var hashBytes []byte
		if err := rows.Scan(&h.Height, &hashBytes); err != nil {
			return nil, errs.Store("hot-blocks-descending", err)
		}
		copy(h.Hash[:], hashBytes)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PgxStore) PurgeHot(ctx context.Context, tx Tx, height uint64) error {
	pt, ok := tx.(*PgxTx)
	if !ok {
		return errs.Invariant("PurgeHot called outside a pgx transaction", nil)
	}
	if _, err := pt.tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE block_height = $1", s.qualify("hot_change_log")), height); err != nil {
		return errs.Store("purge-hot-change-log", err)
	}
	if _, err := pt.tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE height = $1", s.qualify("hot_block")), height); err != nil {
		return errs.Store("purge-hot-block", err)
	}
	return nil
}

func (s *PgxStore) ChangeLog(ctx context.Context, height uint64) ([]ChangeRecord, error) {
	sql := fmt.Sprintf("SELECT index, change FROM %s WHERE block_height = $1 ORDER BY index ASC", s.qualify("hot_change_log"))
	rows, err := s.pool.Query(ctx, sql, height)
	if err != nil {
		return nil, errs.Store("change-log", err)
	}
	defer rows.Close()
	var out []ChangeRecord
	for rows.Next() {
		var idx int
		var raw []byte
		if err := rows.Scan(&idx, &raw); err != nil {
			return nil, errs.Store("change-log", err)
		}
		var rec ChangeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, errs.Invariant("corrupt change record", map[string]interface{}{"blockHeight": height, "index": idx})
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PgxStore) AppendChangeLog(ctx context.Context, tx Tx, height uint64, startIndex int, records []ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}
	pt, ok := tx.(*PgxTx)
	if !ok {
		return errs.Invariant("AppendChangeLog called outside a pgx transaction", nil)
	}

	rowsInput := make([][]interface{}, len(records))
	for i, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return errs.Store("marshal-change-record", err)
		}
		rowsInput[i] = []interface{}{height, startIndex + i, raw}
	}

	table := pgx.Identifier{s.schema, "hot_change_log"}
	_, err := pt.tx.CopyFrom(ctx, table, []string{"block_height", "index", "change"}, pgx.CopyFromRows(rowsInput))
	if err != nil {
		return errs.Store("append-change-log", err)
	}
	return nil
}
