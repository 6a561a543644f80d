package gateway

import (
	"sort"

	"github.com/indexkit/evmindex/errs"
)

// WireBlock is the shape returned by the archive/RPC wire decoders before
// C3 translation: hex-string numeric fields, as they arrive on the wire.
// Unknown/unrequested fields are simply absent (nil pointers / zero
// values), mirroring the teacher's field-selection-driven partial decode.
type WireBlock struct {
	Number          string
	Hash            string
	ParentHash      string
	Timestamp       string
	Nonce           *string
	Difficulty      *string
	TotalDifficulty *string
	Size            *string
	GasUsed         *string
	GasLimit        *string
	BaseFeePerGas   *string

	Transactions []WireTransaction
	Logs         []WireLog
}

type WireTransaction struct {
	Index                uint32
	Hash                 string
	From                 string
	To                   *string
	Input                string
	Value                *string
	Gas                  *string
	GasPrice             *string
	Nonce                string
	V, R, S              *string
	ChainID              *string
	YParity              *string
	MaxFeePerGas         *string
	MaxPriorityFeePerGas *string
}

type WireLog struct {
	Index            uint32
	Address          string
	Topics           []string
	Data             string
	TransactionIndex uint32
	TransactionHash  string
}

// MapBlock translates one wire block into a FullBlockData, implementing
// C3's four-step algorithm (spec.md §4.3). Errors are wrapped with
// {blockHeight, blockHash} context and are fatal to the containing batch.
func MapBlock(w *WireBlock) (*FullBlockData, error) {
	header, err := mapHeader(w)
	if err != nil {
		return nil, errs.Mapping(0, w.Hash, err)
	}

	txs := make([]*Transaction, len(w.Transactions))
	txByIndex := make(map[uint32]*Transaction, len(w.Transactions))
	for i, wt := range w.Transactions {
		tx, err := mapTransaction(&wt)
		if err != nil {
			return nil, errs.Mapping(header.Height, header.Hash.Hex(), err)
		}
		txs[i] = tx
		txByIndex[tx.Index] = tx
	}

	items := make([]BlockItem, 0, len(txs)+len(w.Logs))
	for _, tx := range txs {
		items = append(items, BlockItem{Kind: ItemTransaction, Tx: tx})
	}
	for _, wl := range w.Logs {
		lg, err := mapLog(&wl)
		if err != nil {
			return nil, errs.Mapping(header.Height, header.Hash.Hex(), err)
		}
		if tx, ok := txByIndex[lg.TransactionIndex]; ok {
			lg.Tx = tx
		}
		items = append(items, BlockItem{Kind: ItemLog, Log: lg})
	}

	sort.SliceStable(items, blockItemOrder(items))

	return &FullBlockData{Header: header, Items: items}, nil
}

func mapHeader(w *WireBlock) (*Block, error) {
	height, err := parseU64Hex(w.Number)
	if err != nil {
		return nil, err
	}
	hash, err := parseHash(w.Hash)
	if err != nil {
		return nil, err
	}
	parent, err := parseHash(w.ParentHash)
	if err != nil {
		return nil, err
	}
	ts, err := parseU64Hex(w.Timestamp)
	if err != nil {
		return nil, err
	}

	b := &Block{Height: height, Hash: hash, ParentHash: parent, Timestamp: ts}

	if w.Nonce != nil {
		v, err := parseU64Hex(*w.Nonce)
		if err != nil {
			return nil, err
		}
		b.Nonce = &v
	}
	if w.Difficulty != nil {
		v, err := parseU256Hex(*w.Difficulty)
		if err != nil {
			return nil, err
		}
		b.Difficulty = v
	}
	if w.TotalDifficulty != nil {
		v, err := parseU256Hex(*w.TotalDifficulty)
		if err != nil {
			return nil, err
		}
		b.TotalDifficulty = v
	}
	if w.Size != nil {
		v, err := parseU64Hex(*w.Size)
		if err != nil {
			return nil, err
		}
		b.Size = &v
	}
	if w.GasUsed != nil {
		v, err := parseU64Hex(*w.GasUsed)
		if err != nil {
			return nil, err
		}
		b.GasUsed = &v
	}
	if w.GasLimit != nil {
		v, err := parseU64Hex(*w.GasLimit)
		if err != nil {
			return nil, err
		}
		b.GasLimit = &v
	}
	if w.BaseFeePerGas != nil {
		v, err := parseU256Hex(*w.BaseFeePerGas)
		if err != nil {
			return nil, err
		}
		b.BaseFeePerGas = v
	}
	return b, nil
}

func mapTransaction(w *WireTransaction) (*Transaction, error) {
	hash, err := parseHash(w.Hash)
	if err != nil {
		return nil, err
	}
	from, err := parseAddress(w.From)
	if err != nil {
		return nil, err
	}
	nonce, err := parseU64Hex(w.Nonce)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{Index: w.Index, Hash: hash, From: from, Input: fromHex(w.Input), Nonce: nonce}

	if w.To != nil {
		addr, err := parseAddress(*w.To)
		if err != nil {
			return nil, err
		}
		tx.To = &addr
	}
	if w.Value != nil {
		tx.Value, err = parseU256Hex(*w.Value)
		if err != nil {
			return nil, err
		}
	}
	if w.Gas != nil {
		tx.Gas, err = parseU256Hex(*w.Gas)
		if err != nil {
			return nil, err
		}
	}
	if w.GasPrice != nil {
		tx.GasPrice, err = parseU256Hex(*w.GasPrice)
		if err != nil {
			return nil, err
		}
	}
	if w.V != nil {
		if tx.V, err = parseU256Hex(*w.V); err != nil {
			return nil, err
		}
	}
	if w.R != nil {
		if tx.R, err = parseU256Hex(*w.R); err != nil {
			return nil, err
		}
	}
	if w.S != nil {
		if tx.S, err = parseU256Hex(*w.S); err != nil {
			return nil, err
		}
	}
	if w.ChainID != nil {
		if tx.ChainID, err = parseU256Hex(*w.ChainID); err != nil {
			return nil, err
		}
	}
	if w.YParity != nil {
		v, err := parseU64Hex(*w.YParity)
		if err != nil {
			return nil, err
		}
		tx.YParity = &v
	}
	if w.MaxFeePerGas != nil {
		if tx.MaxFeePerGas, err = parseU256Hex(*w.MaxFeePerGas); err != nil {
			return nil, err
		}
	}
	if w.MaxPriorityFeePerGas != nil {
		if tx.MaxPriorityFeePerGas, err = parseU256Hex(*w.MaxPriorityFeePerGas); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func mapLog(w *WireLog) (*Log, error) {
	addr, err := parseAddress(w.Address)
	if err != nil {
		return nil, err
	}
	txHash, err := parseHash(w.TransactionHash)
	if err != nil {
		return nil, err
	}
	topics := make([]Hash, 0, len(w.Topics))
	for _, t := range w.Topics {
		h, err := parseHash(t)
		if err != nil {
			return nil, err
		}
		topics = append(topics, h)
	}
	return &Log{
		Index:            w.Index,
		Address:          addr,
		Topics:           topics,
		Data:             fromHex(w.Data),
		TransactionIndex: w.TransactionIndex,
		TransactionHash:  txHash,
	}, nil
}

// StubHeader builds the trailing-block placeholder used by C4 when the
// archive returned no data at range.to (spec.md §4.4 step 4 / scenario S2).
func StubHeader(header *Block) *FullBlockData {
	return &FullBlockData{Header: header, Items: nil}
}
