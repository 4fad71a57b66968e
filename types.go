package statefile

import (
	"context"
	"reflect"
)

// Fields holds raw keyword values for record construction, keyed by field
// name. Nested manifests (group fields) may be supplied as nested maps.
type Fields map[string]any

// CoerceFunc converts a supplied value into the declared field type. A nil
// result means the value could not be resolved; a non-nil error is fatal.
type CoerceFunc func(ctx context.Context, v any, t reflect.Type) (any, error)

// Status reports how a construction ended.
type Status int

const (
	// StatusBuilt means a complete, valid record was produced.
	StatusBuilt Status = iota
	// StatusStale means a field with a remediation handler did not resolve and
	// handlers were not run.
	StatusStale
	// StatusRepaired means remediation handlers ran for unresolved fields. The
	// record itself is absent; compensation has already happened.
	StatusRepaired
)

func (s Status) String() string {
	switch s {
	case StatusBuilt:
		return "built"
	case StatusStale:
		return "stale"
	case StatusRepaired:
		return "repaired"
	default:
		return "unknown"
	}
}

// Outcome describes how a construction ended, independent of the record type.
type Outcome struct {
	Status Status
	// Unresolved lists the fields whose references did not resolve, in
	// manifest order. Empty when Status is StatusBuilt.
	Unresolved []string
}

// Result carries the outcome of Construct. Record is nil unless Status is
// StatusBuilt.
type Result[R any] struct {
	Record *R
	Outcome
}

// Maybe distinguishes an absent value from a present one, including a present
// nil.
type Maybe[T any] struct {
	value T
	ok    bool
}

// Some returns a present Maybe.
func Some[T any](v T) Maybe[T] { return Maybe[T]{value: v, ok: true} }

// None returns an absent Maybe.
func None[T any]() Maybe[T] { return Maybe[T]{} }

// Get returns the value and whether it is present.
func (m Maybe[T]) Get() (T, bool) { return m.value, m.ok }

// Present reports whether a value was supplied.
func (m Maybe[T]) Present() bool { return m.ok }

// isNil reports whether v is nil or a typed nil (pointer, map, slice,
// interface, func or chan).
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// IsNil is the exported form of the nil test used throughout the package:
// serializers use it to decide whether a nested result resolved.
func IsNil(v any) bool { return isNil(v) }
