package codec

import (
	"context"
	"math"
	"reflect"

	"github.com/reoring/statefile"
)

var scalarTypes = map[reflect.Type]struct{}{
	reflect.TypeFor[string]():  {},
	reflect.TypeFor[bool]():    {},
	reflect.TypeFor[int]():     {},
	reflect.TypeFor[int8]():    {},
	reflect.TypeFor[int16]():   {},
	reflect.TypeFor[int32]():   {},
	reflect.TypeFor[int64]():   {},
	reflect.TypeFor[uint]():    {},
	reflect.TypeFor[uint8]():   {},
	reflect.TypeFor[uint16]():  {},
	reflect.TypeFor[uint32]():  {},
	reflect.TypeFor[uint64]():  {},
	reflect.TypeFor[float32](): {},
	reflect.TypeFor[float64](): {},
}

var anyType = reflect.TypeFor[any]()

// Identity returns the serializer for predeclared scalars and for any, which
// passes JSON values through unchanged.
//
// Serialize only accepts a value whose dynamic type is exactly the declared
// type, so an int is never written where a float64 is declared. Deserialize
// accepts wire numbers of any kind as long as they fit the target without
// losing information.
func Identity() statefile.Serializer { return identity{} }

type identity struct{}

func (identity) Supports(t reflect.Type) bool {
	if t == anyType {
		return true
	}
	_, ok := scalarTypes[t]
	return ok
}

func (identity) Claims() []reflect.Type { return []reflect.Type{reflect.TypeFor[string](), anyType} }

func (identity) Serialize(_ context.Context, v any, t reflect.Type) (any, error) {
	if t == anyType || v == nil {
		return v, nil
	}
	if reflect.TypeOf(v) != t {
		return nil, nil
	}
	return v, nil
}

func (identity) Deserialize(_ context.Context, raw any, t reflect.Type) (any, error) {
	if t == anyType || raw == nil {
		return raw, nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type() == t {
		return raw, nil
	}
	out := reflect.New(t).Elem()
	switch {
	case isInt(t.Kind()):
		n, ok := asInt64(rv)
		if !ok || out.OverflowInt(n) {
			return nil, nil
		}
		out.SetInt(n)
	case isUint(t.Kind()):
		n, ok := asUint64(rv)
		if !ok || out.OverflowUint(n) {
			return nil, nil
		}
		out.SetUint(n)
	case t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64:
		f, ok := asFloat64(rv)
		if !ok || out.OverflowFloat(f) {
			return nil, nil
		}
		out.SetFloat(f)
	default:
		return nil, nil
	}
	return out.Interface(), nil
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func asInt64(rv reflect.Value) (int64, bool) {
	switch {
	case isInt(rv.Kind()):
		return rv.Int(), true
	case isUint(rv.Kind()):
		u := rv.Uint()
		return int64(u), u <= math.MaxInt64
	case rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

func asUint64(rv reflect.Value) (uint64, bool) {
	switch {
	case isUint(rv.Kind()):
		return rv.Uint(), true
	case isInt(rv.Kind()):
		n := rv.Int()
		return uint64(n), n >= 0
	case rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
			return 0, false
		}
		return uint64(f), true
	}
	return 0, false
}

func asFloat64(rv reflect.Value) (float64, bool) {
	switch {
	case rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64:
		return rv.Float(), true
	case isInt(rv.Kind()):
		return float64(rv.Int()), true
	case isUint(rv.Kind()):
		return float64(rv.Uint()), true
	}
	return 0, false
}
