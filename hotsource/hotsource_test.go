package hotsource_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/indexkit/evmindex/fields"
	"github.com/indexkit/evmindex/gateway"
	"github.com/indexkit/evmindex/hotsource"
	"github.com/indexkit/evmindex/request"
)

// fakeClient serves a small fixed chain, optionally substituting a
// different header at one height to simulate a reorg on a later poll.
type fakeClient struct {
	headers map[uint64]*gethtypes.Header
	logs    map[uint64][]gethtypes.Log
	height  uint64
}

func newChain(heights ...uint64) *fakeClient {
	fc := &fakeClient{headers: map[uint64]*gethtypes.Header{}, logs: map[uint64][]gethtypes.Log{}}
	var parent gethcommon.Hash
	for _, h := range heights {
		hdr := &gethtypes.Header{Number: new(big.Int).SetUint64(h), ParentHash: parent, Time: h}
		fc.headers[h] = hdr
		parent = hdr.Hash()
		fc.height = h
	}
	return fc
}

func (f *fakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return f.headers[number.Uint64()], nil
}
func (f *fakeClient) BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error) {
	return gethtypes.NewBlockWithHeader(f.headers[number.Uint64()]), nil
}
func (f *fakeClient) TransactionReceipt(ctx context.Context, hash gethcommon.Hash) (*gethtypes.Receipt, error) {
	return &gethtypes.Receipt{}, nil
}
func (f *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return f.logs[q.FromBlock.Uint64()], nil
}
func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) { return f.height, nil }

func TestPollDeliversConsecutiveBlocks(t *testing.T) {
	client := newChain(10, 11, 12)
	src := hotsource.New(client, log.Root(), 16)

	resolved := fields.Resolve(nil)
	resp, fork, err := src.Poll(context.Background(), 10, 12, request.BatchRequest{}, resolved)
	require.NoError(t, err)
	require.Nil(t, fork)
	require.Len(t, resp.Blocks, 3)
	require.Equal(t, uint64(10), resp.Blocks[0].Header.Height)
	require.Equal(t, uint64(12), resp.Blocks[2].Header.Height)
}

// TestPollDeliversLogsWithoutTransactionFilter verifies C5 fetches logs for
// a plain addLog({address}) declaration even when no transaction criterion
// is present and log.transaction is off, so fetchLogs must not be gated on
// needTxs (spec.md §4.1/§4.5: C5 must deliver logs for any log request).
func TestPollDeliversLogsWithoutTransactionFilter(t *testing.T) {
	client := newChain(10, 11)
	addr := gethcommon.HexToAddress("0x1")
	client.logs[11] = []gethtypes.Log{{Address: addr, Index: 0, BlockNumber: 11}}
	src := hotsource.New(client, log.Root(), 16)

	resolved := fields.Resolve(nil)
	br := request.BatchRequest{Request: request.DataRequest{Logs: []request.LogCriterion{{Address: []gateway.Address{gateway.Address(addr)}}}}}
	resp, fork, err := src.Poll(context.Background(), 10, 11, br, resolved)
	require.NoError(t, err)
	require.Nil(t, fork)
	require.Len(t, resp.Blocks, 2)

	require.Empty(t, resp.Blocks[0].Items)
	require.Len(t, resp.Blocks[1].Items, 1)
	require.Equal(t, gateway.ItemLog, resp.Blocks[1].Items[0].Kind)
	require.Equal(t, gateway.Address(addr), resp.Blocks[1].Items[0].Log.Address)
}

func TestPollDetectsFork(t *testing.T) {
	client := newChain(10, 11)
	src := hotsource.New(client, log.Root(), 16)
	resolved := fields.Resolve(nil)

	resp, fork, err := src.Poll(context.Background(), 10, 11, request.BatchRequest{}, resolved)
	require.NoError(t, err)
	require.Nil(t, fork)
	require.Len(t, resp.Blocks, 2)

	// Simulate a new canonical block at height 11 with a different hash,
	// still chaining from block 10 (spec.md §8 scenario S6).
	replacement := &gethtypes.Header{Number: big.NewInt(11), ParentHash: client.headers[10].Hash(), Time: 999}
	client.headers[11] = replacement

	resp2, fork2, err := src.Poll(context.Background(), 11, 11, request.BatchRequest{}, resolved)
	require.NoError(t, err)
	require.NotNil(t, fork2)
	require.Equal(t, uint64(11), fork2.Height)
	require.Equal(t, gateway.Hash(replacement.Hash()), fork2.Actual)
	require.Empty(t, resp2.Blocks)
}
