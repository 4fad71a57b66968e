package codec

import (
	"context"
	"reflect"

	"github.com/reoring/statefile"
	"github.com/reoring/statefile/internal/fanout"
)

// Records returns the serializer for record types: *R or R where *R
// implements statefile.Record.
//
// Fields are written by walking the manifest, omitting fields whose value
// serializes to nil and nesting group members under their group key. Reading
// builds the record with Construct and runs remediation handlers, since
// stored data is exactly where stale references turn up.
func Records() statefile.Serializer { return &records{} }

type records struct{ statefile.Delegate }

func schemaFor(t reflect.Type) (statefile.AnySchema, bool) {
	if t.Kind() == reflect.Struct {
		t = reflect.PointerTo(t)
	}
	return statefile.SchemaOf(t)
}

func (*records) Supports(t reflect.Type) bool {
	_, ok := schemaFor(t)
	return ok
}

func (r *records) Serialize(ctx context.Context, v any, t reflect.Type) (any, error) {
	s, _ := schemaFor(t)
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Type() != t {
		return nil, nil
	}
	if t.Kind() == reflect.Struct {
		p := reflect.New(t)
		p.Elem().Set(rv)
		rv = p
	} else if rv.IsNil() {
		return nil, nil
	}
	rec := rv.Interface()
	fields := s.Fields()
	vals, err := fanout.Gather(ctx, len(fields), func(ctx context.Context, i int) (any, error) {
		f := fields[i]
		v, err := r.SerializeType(ctx, f.Value(rec), f.Type)
		return v, statefile.Rebase(f.Pointer(), err)
	})
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	for i, f := range fields {
		if vals[i] == nil {
			continue
		}
		dst := out
		for _, seg := range f.Path[:len(f.Path)-1] {
			sub, ok := dst[seg].(map[string]any)
			if !ok {
				sub = map[string]any{}
				dst[seg] = sub
			}
			dst = sub
		}
		dst[f.Path[len(f.Path)-1]] = vals[i]
	}
	return out, nil
}

func (r *records) Deserialize(ctx context.Context, raw any, t reflect.Type) (any, error) {
	s, _ := schemaFor(t)
	obj, ok := object(raw)
	if !ok {
		return nil, nil
	}
	ctx, report := statefile.TakeOutcome(ctx)
	v, outcome, err := s.ConstructAny(ctx, r.DeserializeType, true, statefile.Fields(obj))
	if err != nil {
		return nil, err
	}
	report(outcome)
	if outcome.Status == statefile.StatusRepaired {
		if reg := r.Registrar(); reg != nil {
			for _, name := range outcome.Unresolved {
				reg.Metrics().Remediated(s.Name(), name)
			}
		}
	}
	if v == nil {
		return nil, nil
	}
	if t.Kind() == reflect.Struct {
		return reflect.ValueOf(v).Elem().Interface(), nil
	}
	return v, nil
}
