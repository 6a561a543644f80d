// Package errs classifies the error kinds that cross component boundaries
// in the indexing pipeline (spec.md §7): mapping errors, transport errors,
// handler errors, store errors and invariant violations. Each constructor
// attaches the contextual breadcrumb the owning component is required to
// record before the error is returned to its caller.
package errs

import "github.com/pkg/errors"

// Kind classifies an error for the Runner's fatality decision.
type Kind int

const (
	KindMapping Kind = iota
	KindTransport
	KindHandler
	KindStore
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindMapping:
		return "mapping"
	case KindTransport:
		return "transport"
	case KindHandler:
		return "handler"
	case KindStore:
		return "store"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error carries a Kind plus whatever breadcrumb fields the boundary that
// raised it chose to attach. Fatal reports whether the Runner must abort
// the process rather than retry.
type Error struct {
	Kind   Kind
	Fields map[string]interface{}
	cause  error
}

func (e *Error) Error() string {
	return errors.Wrapf(e.cause, "%s error %v", e.Kind, e.Fields).Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Fatal reports whether the Runner must abort rather than retry. Only
// handler errors are retry-eligible. Transport errors are retried by the
// transport layer and should not reach here unless the retry budget is
// exhausted, in which case they are fatal too.
func (e *Error) Fatal() bool {
	return e.Kind != KindHandler
}

// Mapping wraps a C3 translation failure with block identity context.
func Mapping(height uint64, hash string, cause error) error {
	return &Error{
		Kind:   KindMapping,
		Fields: map[string]interface{}{"blockHeight": height, "blockHash": hash},
		cause:  cause,
	}
}

// Transport wraps an HTTP/RPC failure with the operation name that failed.
func Transport(op string, cause error) error {
	return &Error{
		Kind:   KindTransport,
		Fields: map[string]interface{}{"op": op},
		cause:  cause,
	}
}

// Handler wraps a user-handler failure with batch range context.
func Handler(from, to uint64, cause error) error {
	return &Error{
		Kind:   KindHandler,
		Fields: map[string]interface{}{"from": from, "to": to},
		cause:  cause,
	}
}

// Store wraps a persistence-layer failure.
func Store(op string, cause error) error {
	return &Error{
		Kind:   KindStore,
		Fields: map[string]interface{}{"op": op},
		cause:  cause,
	}
}

// Invariant reports corruption: a detected gap, a height regress, or a
// missing pre-image during rollback. Always fatal.
func Invariant(msg string, fields map[string]interface{}) error {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return &Error{
		Kind:   KindInvariant,
		Fields: fields,
		cause:  errors.New(msg),
	}
}
