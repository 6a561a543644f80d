package gateway

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapBlockOrdersItemsAndJoinsTx(t *testing.T) {
	w := &WireBlock{
		Number:     "0x64",
		Hash:       "0xaa",
		ParentHash: "0xbb",
		Timestamp:  "0x10",
		Transactions: []WireTransaction{
			{Index: 2, Hash: "0x01", From: "0x01", Nonce: "0x0"},
			{Index: 0, Hash: "0x02", From: "0x02", Nonce: "0x0"},
		},
		Logs: []WireLog{
			{Index: 1, Address: "0x03", TransactionIndex: 2, TransactionHash: "0x01"},
			{Index: 0, Address: "0x03", TransactionIndex: 0, TransactionHash: "0x02"},
			{Index: 5, Address: "0x03", TransactionIndex: 9, TransactionHash: "0x99"},
		},
	}

	fb, err := MapBlock(w)
	require.NoError(t, err)
	require.Equal(t, uint64(100), fb.Header.Height)
	require.True(t, sort.SliceIsSorted(fb.Items, blockItemOrder(fb.Items)))

	// tx index 0 comes before its log (index 0), which comes before tx index 2.
	require.Equal(t, ItemTransaction, fb.Items[0].Kind)
	require.Equal(t, uint32(0), fb.Items[0].Tx.Index)
	require.Equal(t, ItemLog, fb.Items[1].Kind)
	require.NotNil(t, fb.Items[1].Log.Tx)
	require.Equal(t, uint32(0), fb.Items[1].Log.Tx.Index)

	// log referencing transactionIndex=9, which isn't in the batch, has no .Tx.
	last := fb.Items[len(fb.Items)-1]
	require.Equal(t, ItemLog, last.Kind)
	require.Nil(t, last.Log.Tx)
}

func TestMapBlockMalformedHexIsMappingError(t *testing.T) {
	w := &WireBlock{Number: "not-hex", Hash: "0xaa", ParentHash: "0xbb", Timestamp: "0x1"}
	_, err := MapBlock(w)
	require.Error(t, err)
}

func TestFormatIDStable(t *testing.T) {
	h := Hash{0xde, 0xad, 0xbe, 0xef}
	id1 := FormatID(100, h)
	id2 := FormatID(100, h)
	require.Equal(t, id1, id2)
	require.Equal(t, FormatID(100, h, 3), FormatID(100, h, 3))
	require.NotEqual(t, FormatID(100, h), FormatID(100, h, 3))
}
