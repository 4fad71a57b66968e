package codec

import (
	"context"
	"reflect"

	"github.com/reoring/statefile"
	"github.com/reoring/statefile/internal/fanout"
)

// List returns the serializer for slices. Elements are converted concurrently
// through the Registrar and elements that do not resolve are dropped, so a
// list shrinks instead of failing.
func List() statefile.Serializer { return &list{} }

type list struct{ statefile.Delegate }

func (*list) Supports(t reflect.Type) bool { return t.Kind() == reflect.Slice }

func (*list) Claims() []reflect.Type { return []reflect.Type{reflect.TypeFor[[]any]()} }

func (l *list) Serialize(ctx context.Context, v any, t reflect.Type) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Type() != t {
		return nil, nil
	}
	out, err := serializeElems(ctx, &l.Delegate, rv, t.Elem())
	if err != nil {
		return nil, err
	}
	return compact(out), nil
}

func (l *list) Deserialize(ctx context.Context, raw any, t reflect.Type) (any, error) {
	elems, ok := items(raw)
	if !ok {
		return nil, nil
	}
	vals, err := deserializeElems(ctx, &l.Delegate, elems, t.Elem())
	if err != nil {
		return nil, err
	}
	out := reflect.MakeSlice(t, 0, len(vals))
	for i, v := range vals {
		if statefile.IsNil(v) {
			continue
		}
		out = reflect.Append(out, reflect.Zero(t.Elem()))
		if err := store(out.Index(out.Len()-1), v, statefile.PointerIndex(i)); err != nil {
			return nil, err
		}
	}
	return out.Interface(), nil
}

// Tuple returns the serializer for fixed-length arrays. Positions are kept:
// an element that does not resolve is written as null and read back as the
// zero value. A wire array of the wrong length does not resolve.
func Tuple() statefile.Serializer { return &tuple{} }

type tuple struct{ statefile.Delegate }

func (*tuple) Supports(t reflect.Type) bool { return t.Kind() == reflect.Array }

func (*tuple) Claims() []reflect.Type { return []reflect.Type{reflect.TypeFor[[2]any]()} }

func (tp *tuple) Serialize(ctx context.Context, v any, t reflect.Type) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Type() != t {
		return nil, nil
	}
	return serializeElems(ctx, &tp.Delegate, rv, t.Elem())
}

func (tp *tuple) Deserialize(ctx context.Context, raw any, t reflect.Type) (any, error) {
	elems, ok := items(raw)
	if !ok || len(elems) != t.Len() {
		return nil, nil
	}
	vals, err := deserializeElems(ctx, &tp.Delegate, elems, t.Elem())
	if err != nil {
		return nil, err
	}
	out := reflect.New(t).Elem()
	for i, v := range vals {
		if statefile.IsNil(v) {
			continue
		}
		if err := store(out.Index(i), v, statefile.PointerIndex(i)); err != nil {
			return nil, err
		}
	}
	return out.Interface(), nil
}

func serializeElems(ctx context.Context, d *statefile.Delegate, rv reflect.Value, et reflect.Type) ([]any, error) {
	return fanout.Gather(ctx, rv.Len(), func(ctx context.Context, i int) (any, error) {
		v, err := d.SerializeType(ctx, rv.Index(i).Interface(), et)
		return v, statefile.Rebase(statefile.PointerIndex(i), err)
	})
}

func deserializeElems(ctx context.Context, d *statefile.Delegate, elems []any, et reflect.Type) ([]any, error) {
	return fanout.Gather(ctx, len(elems), func(ctx context.Context, i int) (any, error) {
		v, err := d.DeserializeType(ctx, elems[i], et)
		return v, statefile.Rebase(statefile.PointerIndex(i), err)
	})
}

func compact(vals []any) []any {
	out := make([]any, 0, len(vals))
	for _, v := range vals {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}
