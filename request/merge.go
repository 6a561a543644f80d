package request

import "github.com/indexkit/evmindex/gateway"

// Merge unions BatchRequests that share an identical range (spec.md
// §4.2): concatenate logs/transactions, OR includeAllBlocks, then clamp
// against the global block range. Requests are grouped by exact range
// only; distinct ranges that overlap are returned as separate entries and
// are not split or combined. Merge is
// commutative up to list order (spec.md §8 property 5) because it never
// drops or reorders filter entries, only concatenates them.
func Merge(reqs []BatchRequest, clamp gateway.Range) []BatchRequest {
	if len(reqs) == 0 {
		return nil
	}

	type rangeKey struct {
		from    uint64
		hasTo   bool
		to      uint64
	}
	keyOf := func(r gateway.Range) rangeKey {
		if r.To == nil {
			return rangeKey{from: r.From}
		}
		return rangeKey{from: r.From, hasTo: true, to: *r.To}
	}

	byRange := map[rangeKey][]DataRequest{}
	ranges := map[rangeKey]gateway.Range{}
	var order []rangeKey
	for _, r := range reqs {
		k := keyOf(r.Range)
		if _, seen := byRange[k]; !seen {
			order = append(order, k)
			ranges[k] = r.Range
		}
		byRange[k] = append(byRange[k], r.Request)
	}

	out := make([]BatchRequest, 0, len(order))
	for _, k := range order {
		merged := mergeAll(byRange[k])
		clamped, ok := clampRange(ranges[k], clamp)
		if !ok {
			continue
		}
		out = append(out, BatchRequest{Range: clamped, Request: merged})
	}
	return out
}

// mergeAll concatenates logs/transactions lists and ORs includeAllBlocks
// across every DataRequest sharing a range. Merging a single request
// yields that same request (spec.md §8 property 5).
func mergeAll(reqs []DataRequest) DataRequest {
	var out DataRequest
	for _, r := range reqs {
		out.IncludeAllBlocks = out.IncludeAllBlocks || r.IncludeAllBlocks
		out.Logs = append(out.Logs, r.Logs...)
		out.Transactions = append(out.Transactions, r.Transactions...)
	}
	return out
}

// clampRange rejects sub-requests wholly outside the global clamp and
// truncates those that partially overlap it (spec.md §4.2).
func clampRange(r, clamp gateway.Range) (gateway.Range, bool) {
	from := r.From
	if from < clamp.From {
		from = clamp.From
	}
	to := r.To
	if clamp.To != nil {
		if to == nil || *to > *clamp.To {
			to = clamp.To
		}
	}
	if to != nil && from > *to {
		return gateway.Range{}, false
	}
	return gateway.Range{From: from, To: to}, true
}
