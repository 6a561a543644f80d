package request

import (
	"testing"

	"github.com/indexkit/evmindex/gateway"
	"github.com/stretchr/testify/require"
)

func u64(v uint64) *uint64 { return &v }

func TestMergeSingleRequestIsIdentity(t *testing.T) {
	addr := gateway.Address{0xA}
	reqs := []BatchRequest{{
		Range:   gateway.Range{From: 10, To: u64(20)},
		Request: DataRequest{Logs: []LogCriterion{{Address: []gateway.Address{addr}}}},
	}}
	out := Merge(reqs, gateway.Range{From: 0, To: nil})
	require.Len(t, out, 1)
	require.Equal(t, reqs[0].Range, out[0].Range)
	require.Equal(t, reqs[0].Request, out[0].Request)
}

func TestMergeUnionsFilters(t *testing.T) {
	addrA := gateway.Address{0xA}
	addrB := gateway.Address{0xB}
	reqs := []BatchRequest{
		{Range: gateway.Range{From: 10, To: u64(20)}, Request: DataRequest{Logs: []LogCriterion{{Address: []gateway.Address{addrA}}}}},
		{Range: gateway.Range{From: 10, To: u64(20)}, Request: DataRequest{Logs: []LogCriterion{{Address: []gateway.Address{addrB}}}, IncludeAllBlocks: true}},
	}
	out := Merge(reqs, gateway.Range{From: 0, To: nil})
	require.Len(t, out, 1)
	require.Len(t, out[0].Request.Logs, 2)
	require.True(t, out[0].Request.IncludeAllBlocks)
}

func TestMergeClampTruncatesAndRejects(t *testing.T) {
	reqs := []BatchRequest{
		{Range: gateway.Range{From: 5, To: u64(15)}, Request: DataRequest{IncludeAllBlocks: true}},
		{Range: gateway.Range{From: 200, To: u64(210)}, Request: DataRequest{IncludeAllBlocks: true}},
	}
	out := Merge(reqs, gateway.Range{From: 10, To: u64(100)})
	require.Len(t, out, 1)
	require.Equal(t, uint64(10), out[0].Range.From)
	require.Equal(t, uint64(15), *out[0].Range.To)
}
