package codec

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/reoring/statefile"
	"github.com/reoring/statefile/internal/fanout"
)

// Map returns the serializer for maps keyed by a string kind, written as JSON
// objects. Values that do not resolve are dropped with their key.
func Map() statefile.Serializer { return &strMap{} }

type strMap struct{ statefile.Delegate }

func (*strMap) Supports(t reflect.Type) bool {
	return t.Kind() == reflect.Map && t.Key().Kind() == reflect.String
}

func (*strMap) Claims() []reflect.Type { return []reflect.Type{reflect.TypeFor[map[string]any]()} }

func (m *strMap) Serialize(ctx context.Context, v any, t reflect.Type) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Type() != t {
		return nil, nil
	}
	keys := rv.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int { return cmp.Compare(a.String(), b.String()) })
	vals, err := fanout.Gather(ctx, len(keys), func(ctx context.Context, i int) (any, error) {
		v, err := m.SerializeType(ctx, rv.MapIndex(keys[i]).Interface(), t.Elem())
		return v, statefile.Rebase(statefile.PointerKey(keys[i].String()), err)
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for i, k := range keys {
		if vals[i] != nil {
			out[k.String()] = vals[i]
		}
	}
	return out, nil
}

func (m *strMap) Deserialize(ctx context.Context, raw any, t reflect.Type) (any, error) {
	obj, ok := object(raw)
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	vals, err := fanout.Gather(ctx, len(keys), func(ctx context.Context, i int) (any, error) {
		v, err := m.DeserializeType(ctx, obj[keys[i]], t.Elem())
		return v, statefile.Rebase(statefile.PointerKey(keys[i]), err)
	})
	if err != nil {
		return nil, err
	}
	out := reflect.MakeMapWithSize(t, len(keys))
	for i, k := range keys {
		if statefile.IsNil(vals[i]) {
			continue
		}
		ev := reflect.New(t.Elem()).Elem()
		if err := store(ev, vals[i], statefile.PointerKey(k)); err != nil {
			return nil, err
		}
		out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
	}
	return out.Interface(), nil
}

// PairNamer overrides the wire names of the two parallel arrays Pairs writes.
// It is implemented by the map's key type and must not depend on the receiver
// value.
type PairNamer interface {
	PairNames() (key, value string)
}

const (
	defaultKeyName   = "key"
	defaultValueName = "value"
)

// Pairs returns the serializer for maps whose key is not a string kind. A JSON
// object cannot be keyed by such values, so the map is written as
// {"key": [k1, k2], "value": [v1, v2]} with entries sorted by key. Reading
// requires both arrays with equal length; a pair is dropped when either side
// does not resolve.
func Pairs() statefile.Serializer { return &pairs{} }

type pairs struct{ statefile.Delegate }

func (*pairs) Supports(t reflect.Type) bool {
	return t.Kind() == reflect.Map && t.Key().Kind() != reflect.String
}

func (*pairs) Claims() []reflect.Type { return []reflect.Type{reflect.TypeFor[map[int]any]()} }

// PairNames returns the wire names Pairs uses for maps keyed by kt.
func PairNames(kt reflect.Type) (key, value string) {
	if n, ok := reflect.Zero(kt).Interface().(PairNamer); ok {
		return n.PairNames()
	}
	if kt.Kind() != reflect.Pointer {
		if n, ok := reflect.New(kt).Interface().(PairNamer); ok {
			return n.PairNames()
		}
	}
	return defaultKeyName, defaultValueName
}

func (p *pairs) Serialize(ctx context.Context, v any, t reflect.Type) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Type() != t {
		return nil, nil
	}
	keyName, valueName := PairNames(t.Key())
	keys := rv.MapKeys()
	n := len(keys)
	// jobs [0, n) are keys, [n, 2n) the matching values
	out, err := fanout.Gather(ctx, 2*n, func(ctx context.Context, i int) (any, error) {
		if i < n {
			v, err := p.SerializeType(ctx, keys[i].Interface(), t.Key())
			return v, statefile.Rebase(PointerPair(keyName, i), err)
		}
		v, err := p.SerializeType(ctx, rv.MapIndex(keys[i-n]).Interface(), t.Elem())
		return v, statefile.Rebase(PointerPair(valueName, i-n), err)
	})
	if err != nil {
		return nil, err
	}
	type entry struct{ k, v any }
	entries := make([]entry, 0, n)
	for i := 0; i < n; i++ {
		if out[i] == nil || out[n+i] == nil {
			continue
		}
		entries = append(entries, entry{out[i], out[n+i]})
	}
	slices.SortStableFunc(entries, func(a, b entry) int { return compareWire(a.k, b.k) })
	ks := make([]any, len(entries))
	vs := make([]any, len(entries))
	for i, e := range entries {
		ks[i], vs[i] = e.k, e.v
	}
	return map[string]any{keyName: ks, valueName: vs}, nil
}

func (p *pairs) Deserialize(ctx context.Context, raw any, t reflect.Type) (any, error) {
	obj, ok := object(raw)
	if !ok {
		return nil, nil
	}
	keyName, valueName := PairNames(t.Key())
	ks, ok1 := items(obj[keyName])
	vs, ok2 := items(obj[valueName])
	if !ok1 || !ok2 || len(ks) != len(vs) {
		return nil, nil
	}
	n := len(ks)
	vals, err := fanout.Gather(ctx, 2*n, func(ctx context.Context, i int) (any, error) {
		if i < n {
			v, err := p.DeserializeType(ctx, ks[i], t.Key())
			return v, statefile.Rebase(PointerPair(keyName, i), err)
		}
		v, err := p.DeserializeType(ctx, vs[i-n], t.Elem())
		return v, statefile.Rebase(PointerPair(valueName, i-n), err)
	})
	if err != nil {
		return nil, err
	}
	out := reflect.MakeMapWithSize(t, n)
	for i := 0; i < n; i++ {
		if statefile.IsNil(vals[i]) || statefile.IsNil(vals[n+i]) {
			continue
		}
		kv := reflect.New(t.Key()).Elem()
		if err := store(kv, vals[i], PointerPair(keyName, i)); err != nil {
			return nil, err
		}
		ev := reflect.New(t.Elem()).Elem()
		if err := store(ev, vals[n+i], PointerPair(valueName, i)); err != nil {
			return nil, err
		}
		out.SetMapIndex(kv, ev)
	}
	return out.Interface(), nil
}

// PointerPair renders the JSON Pointer of entry i in the named pair array.
func PointerPair(name string, i int) string {
	return statefile.PointerKey(name) + statefile.PointerIndex(i)
}

// compareWire orders serialized keys: numbers by value, strings lexically,
// numbers before strings, anything else by its printed form.
func compareWire(a, b any) int {
	fa, aNum := number(a)
	fb, bNum := number(b)
	switch {
	case aNum && bNum:
		return cmp.Compare(fa, fb)
	case aNum:
		return -1
	case bNum:
		return 1
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		return cmp.Compare(sa, sb)
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return 0, false
	}
	return asFloat64(rv)
}
