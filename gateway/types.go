// Package gateway holds the canonical handler-visible data model
// (Block, Transaction, Log, BlockItem, FullBlockData, BatchResponse) and
// the C3 Gateway Mapper that translates archive/RPC wire objects into it.
package gateway

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Hash and Address follow go-ethereum's fixed-size wire representation;
// see SPEC_FULL.md §3.1 for the rationale.
type Hash [32]byte
type Address [20]byte

func (h Hash) Hex() string    { return fmt.Sprintf("0x%x", h[:]) }
func (a Address) Hex() string { return fmt.Sprintf("0x%x", a[:]) }

// Block is the canonical header shape described in spec.md §3. Optional
// header fields are nil when absent from the upstream response or when
// the user's field projection excluded them.
type Block struct {
	Height     uint64
	Hash       Hash
	ParentHash Hash
	Timestamp  uint64

	Nonce          *uint64
	Difficulty     *uint256.Int
	TotalDifficulty *uint256.Int
	Size           *uint64
	GasUsed        *uint64
	GasLimit       *uint64
	BaseFeePerGas  *uint256.Int
}

// Identity returns the block's (height, hash) identity per spec.md §3.
func (b *Block) Identity() (uint64, Hash) { return b.Height, b.Hash }

// Transaction is the canonical transaction shape (spec.md §3).
type Transaction struct {
	Index uint32
	Hash  Hash
	From  Address
	To    *Address
	Input []byte

	Value    *uint256.Int
	Gas      *uint256.Int
	GasPrice *uint256.Int
	Nonce    uint64

	V, R, S              *uint256.Int
	ChainID              *uint256.Int
	YParity              *uint64
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
}

// Log is the canonical log shape (spec.md §3). Tx is populated by the
// mapper only when TransactionIndex resolves against a transaction
// present in the same batch (a relation, not ownership, per spec.md §3).
type Log struct {
	Index            uint32
	Address          Address
	Topics           []Hash
	Data             []byte
	TransactionIndex uint32
	TransactionHash  Hash

	Tx *Transaction
}

// ItemKind tags a BlockItem union member.
type ItemKind int

const (
	ItemTransaction ItemKind = iota
	ItemLog
)

// BlockItem is the tagged union described in spec.md §3: a transaction or
// a log, carrying an optional transaction back-reference when it is one.
type BlockItem struct {
	Kind ItemKind
	Tx   *Transaction
	Log  *Log
}

// FullBlockData pairs a header with its ordered items (spec.md §3).
type FullBlockData struct {
	Header *Block
	Items  []BlockItem
}

// Range is an inclusive block-height range. To is nil for an open upper
// bound (spec.md §3's BatchRequest.range).
type Range struct {
	From uint64
	To   *uint64
}

// BatchResponse is the result of one archive or RPC fetch (spec.md §3).
// Invariant: Blocks[last].Header.Height == RangeTo always — the mapper
// backfills a stub header when the upstream omitted the trailing block.
type BatchResponse struct {
	RangeFrom   uint64
	RangeTo     uint64
	Blocks      []FullBlockData
	ChainHeight uint64
}

// FormatID builds the stable handler-facing identifier described in the
// glossary: zero-padded height joined with a hash prefix, optionally with
// a zero-padded item index.
func FormatID(height uint64, hash Hash, index ...uint32) string {
	id := fmt.Sprintf("%010d-%s", height, shortHex(hash))
	if len(index) > 0 {
		id = fmt.Sprintf("%s-%06d", id, index[0])
	}
	return id
}

func shortHex(h Hash) string {
	return fmt.Sprintf("%x", h[:8])
}

// blockItemOrder implements the ordering invariant from spec.md §3 and
// §4.3: primary key transactionIndex ascending (absent treated as -inf),
// secondary transactions before their logs, tertiary log index ascending.
func blockItemOrder(items []BlockItem) func(i, j int) bool {
	txIndexOf := func(it BlockItem) int64 {
		switch it.Kind {
		case ItemTransaction:
			return int64(it.Tx.Index)
		default:
			return int64(it.Log.TransactionIndex)
		}
	}
	kindRank := func(it BlockItem) int {
		if it.Kind == ItemTransaction {
			return 0
		}
		return 1
	}
	return func(i, j int) bool {
		a, b := items[i], items[j]
		ai, bi := txIndexOf(a), txIndexOf(b)
		if ai != bi {
			return ai < bi
		}
		ak, bk := kindRank(a), kindRank(b)
		if ak != bk {
			return ak < bk
		}
		if a.Kind == ItemLog && b.Kind == ItemLog {
			return a.Log.Index < b.Log.Index
		}
		return false
	}
}
