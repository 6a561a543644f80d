// Package request holds the user-declared filter types (DataRequest,
// BatchRequest, LogCriterion, TxCriterion) and C2, the Request Merger,
// which unions overlapping sub-requests within a block range (spec.md
// §4.2).
package request

import "github.com/indexkit/evmindex/gateway"

// LogCriterion matches spec.md §3. Empty lists mean "match any".
type LogCriterion struct {
	Address []gateway.Address
	Topics  [][]gateway.Hash
}

// TxCriterion matches spec.md §3. Empty lists mean "match any".
type TxCriterion struct {
	To      []gateway.Address
	From    []gateway.Address
	Sighash [][4]byte
}

// DataRequest is the per-height-range filter set a caller declares
// (spec.md §3). Fields is applied globally post-merge (spec.md §4.2,
// §9's documented Open Question — see DESIGN.md).
type DataRequest struct {
	IncludeAllBlocks bool
	Logs             []LogCriterion
	Transactions     []TxCriterion
}

// BatchRequest pairs a height range with a DataRequest (spec.md §3).
type BatchRequest struct {
	Range   gateway.Range
	Request DataRequest
}

// IsEmpty reports whether a DataRequest carries no criteria and no
// includeAllBlocks flag — the merge-of-nothing case from spec.md §4.2.
func (d DataRequest) IsEmpty() bool {
	return !d.IncludeAllBlocks && len(d.Logs) == 0 && len(d.Transactions) == 0
}
