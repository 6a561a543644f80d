package rollback_test

import (
	"context"
	"testing"

	"github.com/indexkit/evmindex/changelog"
	"github.com/indexkit/evmindex/rollback"
	"github.com/indexkit/evmindex/store"
	"github.com/indexkit/evmindex/store/storetest"
	"github.com/stretchr/testify/require"
)

// TestRollbackInvertsApplies verifies property 6 from spec.md §8: applying
// a sequence of inserts/updates/deletes through the Change Tracker, then
// rolling the block back, restores the exact pre-batch state.
func TestRollbackInvertsApplies(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()

	// Seed pre-existing rows that the block will update/delete.
	seedTx, err := mem.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, seedTx.Insert(ctx, "accounts", []store.Row{
		{ID: "a1", Columns: map[string]interface{}{"balance": "100"}},
		{ID: "a2", Columns: map[string]interface{}{"balance": "50"}},
	}))
	require.NoError(t, seedTx.Commit(ctx))

	before := mem.Snapshot("accounts")

	tx, err := mem.Begin(ctx)
	require.NoError(t, err)
	tr := changelog.New(tx, mem, 10)

	require.NoError(t, tr.Insert(ctx, "accounts", []store.Row{{ID: "a3", Columns: map[string]interface{}{"balance": "1"}}}))
	require.NoError(t, tr.Upsert(ctx, "accounts", []store.Row{{ID: "a1", Columns: map[string]interface{}{"balance": "200"}}}))
	require.NoError(t, tr.Delete(ctx, "accounts", []string{"a2"}))
	require.NoError(t, tx.Commit(ctx))

	after := mem.Snapshot("accounts")
	require.NotEqual(t, before, after)

	rbTx, err := mem.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, rollback.Apply(ctx, mem, rbTx, 10))
	require.NoError(t, rbTx.Commit(ctx))

	restored := mem.Snapshot("accounts")
	require.Equal(t, before, restored)
}
