package gateway

import "sort"

// NewOrderedBlock sorts items per blockItemOrder and pairs them with
// header, for sources (like the RPC hot source) that build BlockItems
// directly from already-typed wire objects rather than hex strings.
func NewOrderedBlock(header *Block, items []BlockItem) (*FullBlockData, error) {
	sort.SliceStable(items, blockItemOrder(items))
	return &FullBlockData{Header: header, Items: items}, nil
}
