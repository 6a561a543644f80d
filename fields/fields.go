// Package fields implements C1, the Field Selector: it merges user field
// projections with the always-on defaults and normalizes the result into
// the upstream field masks the Archive/RPC sources attach to their
// queries (spec.md §4.1).
package fields

// Mask is a flat attribute-name -> enabled map for one entity kind.
type Mask map[string]bool

// Selection is the user-declared field projection, one mask per entity.
// A nil map means "use the default projection" for that entity.
type Selection struct {
	Block       Mask
	Transaction Mask
	Log         Mask
}

// defaultProjection is the fixed table from the glossary: block
// {number, hash, parentHash, timestamp}; transaction {hash, from, to,
// input}; log {address, topics, data, transactionHash}.
var defaultProjection = Selection{
	Block:       Mask{"number": true, "hash": true, "parentHash": true, "timestamp": true},
	Transaction: Mask{"hash": true, "from": true, "to": true, "input": true},
	Log:         Mask{"address": true, "topics": true, "data": true, "transactionHash": true},
}

// alwaysOn fields are forced to true regardless of user choice (spec.md §4.1).
var alwaysOn = Selection{
	Block:       Mask{"hash": true, "number": true},
	Transaction: Mask{"index": true},
	Log:         Mask{"index": true, "transactionIndex": true},
}

// Resolved is the normalized, upstream-ready projection. It additionally
// tracks whether the log mask should carry a full transaction
// sub-projection (set when the user enables log.transaction, spec.md §4.1).
type Resolved struct {
	Block        Mask
	Transaction  Mask
	Log          Mask
	LogCarriesTx bool
}

// Resolve merges user, default and always-on fields and normalizes the
// result. Calling Resolve on an already-resolved selection (round-tripped
// through its Mask form) must be a no-op — the idempotence property from
// spec.md §8.
func Resolve(user *Selection) Resolved {
	var u Selection
	if user != nil {
		u = *user
	}

	logCarriesTx := u.Log != nil && u.Log["transaction"]

	return Resolved{
		Block:        mergeMask(defaultProjection.Block, u.Block, alwaysOn.Block),
		Transaction:  mergeMask(defaultProjection.Transaction, u.Transaction, alwaysOn.Transaction),
		Log:          mergeMask(defaultProjection.Log, u.Log, alwaysOn.Log),
		LogCarriesTx: logCarriesTx,
	}
}

// mergeMask implements (a) user-enabled fields set true, (b) user-disabled
// fields removed, (c) always-on fields forced on — applied in that order
// so always-on fields can never be turned off by the user.
func mergeMask(defaults, user, always Mask) Mask {
	out := Mask{}
	for k, v := range defaults {
		if v {
			out[k] = true
		}
	}
	for k, v := range user {
		if v {
			out[k] = true
		} else {
			delete(out, k)
		}
	}
	for k, v := range always {
		if v {
			out[k] = true
		}
	}
	return out
}

// Clone returns a Selection that reproduces r when fed back through
// Resolve (used by the idempotence property test). mergeMask treats a
// missing key as "use the default", so any default-projection key r does
// not carry must be carried explicitly as false or Resolve would silently
// reintroduce it.
func (r Resolved) Clone() *Selection {
	explicit := func(resolved, defaults Mask) Mask {
		c := make(Mask, len(resolved)+len(defaults))
		for k, v := range resolved {
			c[k] = v
		}
		for k := range defaults {
			if !resolved[k] {
				c[k] = false
			}
		}
		return c
	}
	s := &Selection{
		Block:       explicit(r.Block, defaultProjection.Block),
		Transaction: explicit(r.Transaction, defaultProjection.Transaction),
		Log:         explicit(r.Log, defaultProjection.Log),
	}
	if r.LogCarriesTx {
		s.Log["transaction"] = true
	}
	return s
}
