// Package hotsource implements C5, the RPC Hot Source: a head-follower
// that pulls blocks, transactions and receipts/logs from a node RPC and
// produces the same canonical FullBlockData shape as the Archive Source,
// detecting forks by parent-hash mismatch (spec.md §4.5).
//
// EthClient is shaped after the teacher's zk/syncer.IEtherman interface,
// which in turn is satisfied directly by go-ethereum's *ethclient.Client —
// the concrete RPC client this package is grounded on.
package hotsource

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ledgerwatch/log/v3"

	"github.com/indexkit/evmindex/errs"
	"github.com/indexkit/evmindex/fields"
	"github.com/indexkit/evmindex/gateway"
	"github.com/indexkit/evmindex/request"
)

// EthClient is the subset of *ethclient.Client the hot source needs.
type EthClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error)
	TransactionReceipt(ctx context.Context, txHash gethcommon.Hash) (*gethtypes.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ForkEvent is returned by Poll when the chain diverges from what was
// previously observed at Height: either a re-fetch of an already-seen
// height now returns a different hash (spec.md §8 scenario S6), or a new
// height's parent hash no longer chains from the previously-seen hash at
// height-1 (spec.md §4.5). Expected/Actual name whichever pair of hashes
// disagreed.
type ForkEvent struct {
	Height   uint64
	Expected gateway.Hash
	Actual   gateway.Hash
}

// Source follows the chain tip via RPC.
type Source struct {
	client EthClient
	logger log.Logger

	// recent remembers the last-seen hash at each height, used to detect
	// forks on the next poll (spec.md §4.5). Bounded so memory does not
	// grow unboundedly across a long-running process.
	recent *lru.Cache[uint64, gateway.Hash]
}

// New constructs an RPC Hot Source. recentCapacity bounds the fork-
// detection window (how many trailing heights are remembered).
func New(client EthClient, logger log.Logger, recentCapacity int) *Source {
	cache, _ := lru.New[uint64, gateway.Hash](recentCapacity)
	return &Source{client: client, logger: logger, recent: cache}
}

// ChainHeight fetches eth_blockNumber.
func (s *Source) ChainHeight(ctx context.Context) (uint64, error) {
	h, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, errs.Transport("eth_blockNumber", err)
	}
	return h, nil
}

// Poll fetches blocks in [from, to], converts them to the canonical shape
// and checks that each new block's parent hash chains from the previously
// observed hash at height-1. On the first mismatch, it returns the blocks
// mapped so far together with the ForkEvent and stops early — the Runner
// drives reorg handling from there (spec.md §4.6 REORG state).
func (s *Source) Poll(ctx context.Context, from, to uint64, br request.BatchRequest, resolved fields.Resolved) (*gateway.BatchResponse, *ForkEvent, error) {
	chainHeight, err := s.ChainHeight(ctx)
	if err != nil {
		return nil, nil, err
	}

	var blocks []gateway.FullBlockData
	for height := from; height <= to; height++ {
		fb, err := s.fetchBlock(ctx, height, br.Request, resolved)
		if err != nil {
			return nil, nil, err
		}

		if prevHash, ok := s.recent.Get(height); ok && prevHash != fb.Header.Hash {
			return &gateway.BatchResponse{RangeFrom: from, RangeTo: height - 1, Blocks: blocks, ChainHeight: chainHeight},
				&ForkEvent{Height: height, Expected: prevHash, Actual: fb.Header.Hash}, nil
		}

		if expectedParent, ok := s.recent.Get(height - 1); ok && fb.Header.ParentHash != expectedParent {
			// The divergence is in what was already stored at height-1, not
			// in the incoming block at height (which has not been committed
			// yet), so the Runner must start its reorg walk from height-1.
			return &gateway.BatchResponse{RangeFrom: from, RangeTo: height - 1, Blocks: blocks, ChainHeight: chainHeight},
				&ForkEvent{Height: height - 1, Expected: expectedParent, Actual: fb.Header.ParentHash}, nil
		}

		s.recent.Add(height, fb.Header.Hash)
		blocks = append(blocks, *fb)
	}

	return &gateway.BatchResponse{RangeFrom: from, RangeTo: to, Blocks: blocks, ChainHeight: chainHeight}, nil, nil
}

// CanonicalHash fetches the current canonical hash at height directly from
// the node, bypassing the recent-hash cache. The Rollback walk uses this to
// locate the surviving ancestor: the highest height whose stored hash still
// matches the live chain (spec.md §4.6 REORG state).
func (s *Source) CanonicalHash(ctx context.Context, height uint64) (gateway.Hash, error) {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return gateway.Hash{}, errs.Transport("eth_getBlockByNumber:canonicalHash", err)
	}
	return gateway.Hash(header.Hash()), nil
}

// Forget drops remembered hashes at or above height, called by the Runner
// after a reorg rewinds past them (so a stale hash cannot mask the next
// real fork at that height).
func (s *Source) Forget(height uint64) {
	for _, h := range s.recent.Keys() {
		if h >= height {
			s.recent.Remove(h)
		}
	}
}

func (s *Source) fetchBlock(ctx context.Context, height uint64, req request.DataRequest, resolved fields.Resolved) (*gateway.FullBlockData, error) {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return nil, errs.Transport("eth_getBlockByNumber", err)
	}

	block := mapHeader(header)

	needTxs := resolved.LogCarriesTx || len(req.Transactions) > 0 || req.IncludeAllBlocks
	needLogs := len(req.Logs) > 0 || req.IncludeAllBlocks

	var items []gateway.BlockItem
	txByIndex := map[uint32]*gateway.Transaction{}
	if needTxs {
		full, err := s.client.BlockByNumber(ctx, new(big.Int).SetUint64(height))
		if err != nil {
			return nil, errs.Transport("eth_getBlockByNumber:full", err)
		}

		for i, t := range full.Transactions() {
			tx := mapTransaction(t, uint32(i))
			txByIndex[tx.Index] = tx
			items = append(items, gateway.BlockItem{Kind: gateway.ItemTransaction, Tx: tx})
		}
	}

	if needLogs {
		logs, err := s.fetchLogs(ctx, header, req)
		if err != nil {
			return nil, err
		}
		for _, l := range logs {
			lg := mapLog(l)
			if tx, ok := txByIndex[lg.TransactionIndex]; ok {
				lg.Tx = tx
			}
			items = append(items, gateway.BlockItem{Kind: gateway.ItemLog, Log: lg})
		}
	}

	fb, err := gateway.NewOrderedBlock(block, items)
	if err != nil {
		return nil, errs.Mapping(height, block.Hash.Hex(), err)
	}
	return fb, nil
}

func (s *Source) fetchLogs(ctx context.Context, header *gethtypes.Header, req request.DataRequest) ([]gethtypes.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: header.Number,
		ToBlock:   header.Number,
	}
	for _, l := range req.Logs {
		for _, a := range l.Address {
			q.Addresses = append(q.Addresses, gethcommon.Address(a))
		}
		for _, tset := range l.Topics {
			row := make([]gethcommon.Hash, len(tset))
			for i, t := range tset {
				row[i] = gethcommon.Hash(t)
			}
			q.Topics = append(q.Topics, row)
		}
	}

	logs, err := s.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, errs.Transport("eth_getLogs", err)
	}
	return logs, nil
}
