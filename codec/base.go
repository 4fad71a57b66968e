// Package codec provides the base serializers every statefile Registrar
// starts from, plus helpers for writing serializers of external references.
//
// Serializers here never fail for a value that merely does not fit: they
// return nil so the Registrar reports the value as unresolved and containers
// drop it. Errors are reserved for structural defects such as an element type
// that no serializer supports.
package codec

import (
	"fmt"
	"reflect"

	"github.com/reoring/statefile"
)

// Base returns the default serializers in priority order. Domain serializers
// for external references should be registered before Records when their
// types are records themselves, and may otherwise be appended after.
func Base() []statefile.Serializer {
	return []statefile.Serializer{
		Identity(),
		Epoch(),
		List(),
		Tuple(),
		Map(),
		Pairs(),
		Records(),
	}
}

// NewRegistrar returns a Registrar with Base registered.
func NewRegistrar(opts ...statefile.Option) *statefile.Registrar {
	return statefile.NewRegistrar(opts...).MustRegister(Base()...)
}

// store sets dst to v, failing when the serializer that produced v returned
// the wrong type.
func store(dst reflect.Value, v any, path string) error {
	vv := reflect.ValueOf(v)
	if !vv.Type().AssignableTo(dst.Type()) {
		return statefile.Issues{statefile.IssueAt(path, statefile.CodeInvalidType,
			fmt.Sprintf("got %s, want %s", vv.Type(), dst.Type()))}
	}
	dst.Set(vv)
	return nil
}

// items returns the elements of a wire array. In-memory callers may pass typed
// slices, so any slice or array is accepted.
func items(raw any) ([]any, bool) {
	if a, ok := raw.([]any); ok {
		return a, true
	}
	rv := reflect.ValueOf(raw)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func object(raw any) (map[string]any, bool) {
	switch o := raw.(type) {
	case map[string]any:
		return o, true
	case statefile.Fields:
		return o, true
	}
	return nil, false
}
