package fields

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestResolveAlwaysOnFieldsSurvive(t *testing.T) {
	sel := &Selection{
		Block:       Mask{"hash": false, "number": false},
		Transaction: Mask{"index": false},
		Log:         Mask{"index": false, "transactionIndex": false},
	}
	r := Resolve(sel)
	require.True(t, r.Block["hash"])
	require.True(t, r.Block["number"])
	require.True(t, r.Transaction["index"])
	require.True(t, r.Log["index"])
	require.True(t, r.Log["transactionIndex"])
}

func TestResolveLogTransactionOption(t *testing.T) {
	withoutOpt := Resolve(&Selection{Log: Mask{"address": true}})
	require.False(t, withoutOpt.LogCarriesTx)

	withOpt := Resolve(&Selection{Log: Mask{"transaction": true}})
	require.True(t, withOpt.LogCarriesTx)
}

func TestResolveDefaultProjection(t *testing.T) {
	r := Resolve(nil)
	require.True(t, r.Block["parentHash"])
	require.True(t, r.Transaction["from"])
	require.True(t, r.Log["data"])
}

// TestResolveIdempotent verifies property 4 from spec.md §8:
// fieldSelector(fieldSelector(f)) == fieldSelector(f).
func TestResolveIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := []string{"hash", "number", "parentHash", "timestamp", "from", "to", "input", "address", "topics", "data", "transaction"}
		sel := &Selection{Block: Mask{}, Transaction: Mask{}, Log: Mask{}}
		for _, k := range keys {
			if rapid.Bool().Draw(t, "b") {
				sel.Block[k] = rapid.Bool().Draw(t, "v")
			}
			if rapid.Bool().Draw(t, "b2") {
				sel.Transaction[k] = rapid.Bool().Draw(t, "v2")
			}
			if rapid.Bool().Draw(t, "b3") {
				sel.Log[k] = rapid.Bool().Draw(t, "v3")
			}
		}

		once := Resolve(sel)
		twice := Resolve(once.Clone())

		require.Equal(t, once.Block, twice.Block)
		require.Equal(t, once.Transaction, twice.Transaction)
		require.Equal(t, once.Log, twice.Log)
		require.Equal(t, once.LogCarriesTx, twice.LogCarriesTx)
	})
}
