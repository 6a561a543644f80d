package hotsource

import (
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/indexkit/evmindex/gateway"
)

// mapHeader/mapTransaction/mapLog translate already-decoded go-ethereum
// RPC types directly into the canonical model, skipping the hex
// round-trip the Archive Source's wire decoder needs (the RPC client
// library already did that parsing) — see SPEC_FULL.md §3.1.

func mapHeader(h *gethtypes.Header) *gateway.Block {
	b := &gateway.Block{
		Height:     h.Number.Uint64(),
		Hash:       gateway.Hash(h.Hash()),
		ParentHash: gateway.Hash(h.ParentHash),
		Timestamp:  h.Time,
	}
	nonce := h.Nonce.Uint64()
	b.Nonce = &nonce
	if h.Difficulty != nil {
		b.Difficulty, _ = uint256.FromBig(h.Difficulty)
	}
	gasUsed := h.GasUsed
	b.GasUsed = &gasUsed
	gasLimit := h.GasLimit
	b.GasLimit = &gasLimit
	if h.BaseFee != nil {
		b.BaseFeePerGas, _ = uint256.FromBig(h.BaseFee)
	}
	return b
}

func mapTransaction(t *gethtypes.Transaction, index uint32) *gateway.Transaction {
	tx := &gateway.Transaction{
		Index: index,
		Hash:  gateway.Hash(t.Hash()),
		Input: t.Data(),
		Nonce: t.Nonce(),
		Gas:   new(uint256.Int).SetUint64(t.Gas()),
	}
	if from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(t.ChainId()), t); err == nil {
		tx.From = gateway.Address(from)
	}
	if v, _ := uint256.FromBig(t.Value()); v != nil {
		tx.Value = v
	}
	if t.GasPrice() != nil {
		tx.GasPrice, _ = uint256.FromBig(t.GasPrice())
	}
	if t.To() != nil {
		addr := gateway.Address(*t.To())
		tx.To = &addr
	}
	if t.ChainId() != nil {
		tx.ChainID, _ = uint256.FromBig(t.ChainId())
	}
	if t.GasFeeCap() != nil {
		tx.MaxFeePerGas, _ = uint256.FromBig(t.GasFeeCap())
	}
	if t.GasTipCap() != nil {
		tx.MaxPriorityFeePerGas, _ = uint256.FromBig(t.GasTipCap())
	}
	v, r, s := t.RawSignatureValues()
	if v != nil {
		tx.V, _ = uint256.FromBig(v)
	}
	if r != nil {
		tx.R, _ = uint256.FromBig(r)
	}
	if s != nil {
		tx.S, _ = uint256.FromBig(s)
	}
	return tx
}

func mapLog(l gethtypes.Log) *gateway.Log {
	topics := make([]gateway.Hash, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = gateway.Hash(t)
	}
	return &gateway.Log{
		Index:            uint32(l.Index),
		Address:          gateway.Address(l.Address),
		Topics:           topics,
		Data:             l.Data,
		TransactionIndex: uint32(l.TxIndex),
		TransactionHash:  gateway.Hash(l.TxHash),
	}
}
