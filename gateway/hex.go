package gateway

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// parseU64Hex and parseU256Hex parse wire hex strings ("0x..") once, at the
// mapper boundary, into the u64/u256 representation described in
// SPEC_FULL.md §3.1. Malformed hex is a mapping error (spec.md §7).
func parseU64Hex(s string) (uint64, error) {
	s = trimHex(s)
	if s == "" {
		return 0, nil
	}
	var v uint64
	if _, err := fmt.Sscanf(s, "%x", &v); err != nil {
		return 0, fmt.Errorf("malformed u64 hex %q: %w", s, err)
	}
	return v, nil
}

func parseU256Hex(s string) (*uint256.Int, error) {
	s = trimHex(s)
	v, err := uint256.FromHex("0x" + s)
	if err != nil {
		return nil, fmt.Errorf("malformed u256 hex %q: %w", s, err)
	}
	return v, nil
}

func parseHash(s string) (Hash, error) {
	var h Hash
	b, err := decodeFixed(s, 32)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func parseAddress(s string) (Address, error) {
	var a Address
	b, err := decodeFixed(s, 20)
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

func decodeFixed(s string, n int) ([]byte, error) {
	s = trimHex(s)
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed hex %q: %w", s, err)
	}
	if len(b) > n {
		return nil, fmt.Errorf("hex value %q exceeds %d bytes", s, n)
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out, nil
}

func fromHex(s string) []byte {
	s = trimHex(s)
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}

func trimHex(s string) string {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return s
}
