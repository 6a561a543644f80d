package runner_test

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/indexkit/evmindex/archive"
	"github.com/indexkit/evmindex/fields"
	"github.com/indexkit/evmindex/gateway"
	"github.com/indexkit/evmindex/hotsource"
	"github.com/indexkit/evmindex/runner"
	"github.com/indexkit/evmindex/store"
	"github.com/indexkit/evmindex/store/storetest"
)

// TestEmptyRangeExitsCleanly verifies scenario S1 from spec.md §8: an
// empty closed range (from 100, to 99) exits without invoking the
// handler.
func TestEmptyRangeExitsCleanly(t *testing.T) {
	mem := storetest.New()
	called := false

	to := uint64(99)
	r := runner.New(runner.Config{
		Store:      mem,
		BlockRange: gateway.Range{From: 100, To: &to},
		Fields:     fields.Resolve(nil),
		Log:        log.Root(),
		Handler: func(ctx context.Context, blocks []gateway.FullBlockData, isHead bool, rows store.RowOps, l log.Logger) error {
			called = true
			return nil
		},
	})

	require.NoError(t, r.Run(context.Background()))
	require.False(t, called)
}

// TestArchiveIngestion drives the Runner purely through the ARCHIVE phase
// against a stub archive server, checking monotonic delivery and that
// progress is committed (spec.md §8 properties 1-2).
func TestArchiveIngestion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/height" {
			_, _ = w.Write([]byte(`{"height": 1000}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"data": [[{"block": {"number":"0x1","hash":"0xaa","parentHash":"0x00","timestamp":"0x1"}}],
			          [{"block": {"number":"0x2","hash":"0xbb","parentHash":"0xaa","timestamp":"0x2"}}]],
			"nextBlock": 3,
			"archiveHeight": 2
		}`))
	}))
	defer srv.Close()

	mem := storetest.New()
	src := archive.New(srv.URL, srv.Client(), log.Root())

	var seen []uint64
	to := uint64(2)
	r := runner.New(runner.Config{
		Store:      mem,
		Archive:    src,
		BlockRange: gateway.Range{From: 1, To: &to},
		Fields:     fields.Resolve(nil),
		Log:        log.Root(),
		Handler: func(ctx context.Context, blocks []gateway.FullBlockData, isHead bool, rows store.RowOps, l log.Logger) error {
			for _, b := range blocks {
				seen = append(seen, b.Header.Height)
			}
			return nil
		},
	})

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, []uint64{1, 2}, seen)

	height, _, ok, err := mem.LastCommitted(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), height)
}

// reorgFakeClient serves chain A (heights 10-12) until its third
// BlockNumber call, at which point it switches to chain B: a two-block-deep
// reorg replacing 11 and 12 and extending to 13, both chaining from the
// shared genesis at height 10. The first two calls are the Runner's and
// Poll's chain-height reads for the first batch, so chain A is ingested
// before the switch.
type reorgFakeClient struct {
	headers map[uint64]*gethtypes.Header
	height  uint64
	calls   int
}

func newReorgFakeClient() *reorgFakeClient {
	fc := &reorgFakeClient{headers: map[uint64]*gethtypes.Header{}, height: 12}
	h10 := &gethtypes.Header{Number: big.NewInt(10), Time: 10}
	h11 := &gethtypes.Header{Number: big.NewInt(11), ParentHash: h10.Hash(), Time: 11}
	h12 := &gethtypes.Header{Number: big.NewInt(12), ParentHash: h11.Hash(), Time: 12}
	fc.headers[10] = h10
	fc.headers[11] = h11
	fc.headers[12] = h12
	return fc
}

func (f *reorgFakeClient) switchToChainB() {
	h10 := f.headers[10]
	h11b := &gethtypes.Header{Number: big.NewInt(11), ParentHash: h10.Hash(), Time: 110}
	h12b := &gethtypes.Header{Number: big.NewInt(12), ParentHash: h11b.Hash(), Time: 120}
	h13b := &gethtypes.Header{Number: big.NewInt(13), ParentHash: h12b.Hash(), Time: 130}
	f.headers[11] = h11b
	f.headers[12] = h12b
	f.headers[13] = h13b
	f.height = 13
}

func (f *reorgFakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return f.headers[number.Uint64()], nil
}
func (f *reorgFakeClient) BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error) {
	return gethtypes.NewBlockWithHeader(f.headers[number.Uint64()]), nil
}
func (f *reorgFakeClient) TransactionReceipt(ctx context.Context, hash gethcommon.Hash) (*gethtypes.Receipt, error) {
	return &gethtypes.Receipt{}, nil
}
func (f *reorgFakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return nil, nil
}
func (f *reorgFakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.calls++
	if f.calls == 3 {
		f.switchToChainB()
	}
	return f.height, nil
}

// TestReorgRollsBackToVerifiedAncestor drives the Runner through a
// two-block-deep reorg end to end (spec.md §8 scenario S6, property 7):
// blocks 11 and 12 are rewritten on a new chain, and the Runner must walk
// back past both diverged hot_block rows — not just one — before it finds
// a height whose stored hash still matches the canonical chain.
func TestReorgRollsBackToVerifiedAncestor(t *testing.T) {
	mem := storetest.New()
	client := newReorgFakeClient()
	hot := hotsource.New(client, log.Root(), 16)

	to := uint64(13)
	r := runner.New(runner.Config{
		Store:       mem,
		Hot:         hot,
		BlockRange:  gateway.Range{From: 10, To: &to},
		Fields:      fields.Resolve(nil),
		Log:         log.Root(),
		SafetyDepth: 5,
		Handler: func(ctx context.Context, blocks []gateway.FullBlockData, isHead bool, rows store.RowOps, l log.Logger) error {
			for _, b := range blocks {
				id := fmt.Sprintf("h%d", b.Header.Height)
				if err := rows.Upsert(ctx, "blocks", []store.Row{{ID: id, Columns: map[string]interface{}{"hash": b.Header.Hash.Hex()}}}); err != nil {
					return err
				}
			}
			return nil
		},
	})

	require.NoError(t, r.Run(context.Background()))

	snapshot := mem.Snapshot("blocks")
	require.Len(t, snapshot, 4)
	require.Equal(t, gateway.Hash(client.headers[10].Hash()).Hex(), snapshot["h10"]["hash"])
	require.Equal(t, gateway.Hash(client.headers[11].Hash()).Hex(), snapshot["h11"]["hash"])
	require.Equal(t, gateway.Hash(client.headers[12].Hash()).Hex(), snapshot["h12"]["hash"])
	require.Equal(t, gateway.Hash(client.headers[13].Hash()).Hex(), snapshot["h13"]["hash"])

	height, hash, ok, err := mem.LastCommitted(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(13), height)
	require.Equal(t, gateway.Hash(client.headers[13].Hash()), hash)
}
