package statefile

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/reoring/statefile/internal/fanout"
)

// Create builds a record directly from Go values. Values are type-checked
// strictly and remediation handlers never run: when a field with a handler is
// left unresolved the result is nil.
func (s *Schema[R]) Create(ctx context.Context, fields Fields) (*R, error) {
	res, err := s.Construct(ctx, TypeCheck, false, fields)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// ConstructAny implements AnySchema.
func (s *Schema[R]) ConstructAny(ctx context.Context, coerce CoerceFunc, runWithouts bool, fields Fields) (any, Outcome, error) {
	res, err := s.Construct(ctx, coerce, runWithouts, fields)
	if err != nil || res.Record == nil {
		return nil, res.Outcome, err
	}
	return res.Record, res.Outcome, nil
}

// pending is a value waiting for coercion or a factory call.
type pending struct {
	field   Field
	raw     any
	factory FactoryFunc
}

// Construct turns raw field values into a record.
//
// Supplied values are converted with coerce concurrently; absent fields take
// their literal default or factory value. Unknown fields, and required fields
// that are absent or resolve to nil, are structural errors. When a field with
// a remediation handler is unresolved the record is never returned: with
// runWithouts the handlers run one at a time in manifest order and the status
// is StatusRepaired, otherwise the status is StatusStale and nothing runs.
// Otherwise default producers fill the remaining fields, one at a time in
// manifest order. Within one Registrar.Deserialize, handlers and producers of
// different records never run concurrently.
func (s *Schema[R]) Construct(ctx context.Context, coerce CoerceFunc, runWithouts bool, fields Fields) (Result[R], error) {
	m := s.m
	log := zerolog.Ctx(ctx)

	flat, err := m.flatten(fields)
	if err != nil {
		return Result[R]{}, err
	}

	resolved := make(map[string]any, len(m.fields))
	var jobs []pending
	for _, f := range m.fields {
		if raw, ok := flat[f.Name]; ok {
			jobs = append(jobs, pending{field: f, raw: raw})
			continue
		}
		if v, ok := f.Default.Get(); ok {
			resolved[f.Name] = v
			continue
		}
		if fn, ok := m.factories[f.Name]; ok {
			jobs = append(jobs, pending{field: f, factory: fn})
		}
	}

	required := m.required()
	var iss Issues
	for _, name := range required {
		if _, ok := flat[name]; ok {
			continue
		}
		f, _ := m.field(name)
		iss = AppendIssues(iss, IssueAt(f.Pointer(), CodeRequired, m.name+"."+name))
	}
	if len(iss) > 0 {
		return Result[R]{}, iss
	}

	values, err := fanout.Gather(ctx, len(jobs), func(ctx context.Context, i int) (any, error) {
		j := jobs[i]
		if j.factory != nil {
			v, err := j.factory(ctx)
			return v, Rebase(j.field.Pointer(), err)
		}
		v, err := coerce(ctx, j.raw, j.field.Type)
		return v, Rebase(j.field.Pointer(), err)
	})
	if err != nil {
		return Result[R]{}, err
	}
	for i, j := range jobs {
		resolved[j.field.Name] = values[i]
	}
	for k, v := range resolved {
		if isNil(v) {
			delete(resolved, k)
		}
	}

	for _, name := range required {
		if _, ok := resolved[name]; ok {
			continue
		}
		f, _ := m.field(name)
		iss = AppendIssues(iss, IssueAt(f.Pointer(), CodeUnresolved, m.name+"."+name))
	}
	if len(iss) > 0 {
		return Result[R]{}, iss
	}

	rec := reflect.New(m.structT)
	for _, f := range m.fields {
		v, ok := resolved[f.Name]
		if !ok {
			continue
		}
		if err := assign(rec, f, v); err != nil {
			return Result[R]{}, err
		}
	}

	// handlers and producers of all records in one load run one at a time
	ctx, unlock := holdHandlers(ctx)
	defer unlock()

	var stale []string
	for _, f := range m.fields {
		if _, ok := m.withouts[f.Name]; !ok {
			continue
		}
		if _, ok := resolved[f.Name]; ok {
			continue
		}
		stale = append(stale, f.Name)
	}
	if len(stale) > 0 {
		if !runWithouts {
			log.Debug().Str("record", m.name).Strs("fields", stale).Msg("stale reference, record rejected")
			return Result[R]{Outcome: Outcome{Status: StatusStale, Unresolved: stale}}, nil
		}
		for _, name := range stale {
			log.Warn().Str("record", m.name).Str("field", name).Msg("stale reference, running remediation")
			if err := m.withouts[name](ctx, rec, flat[name]); err != nil {
				return Result[R]{}, err
			}
		}
		return Result[R]{Outcome: Outcome{Status: StatusRepaired, Unresolved: stale}}, nil
	}

	for _, f := range m.fields {
		fn, ok := m.producers[f.Name]
		if !ok {
			continue
		}
		if _, ok := resolved[f.Name]; ok {
			continue
		}
		fv := rec.Elem().FieldByIndex(f.index)
		if !fv.IsZero() {
			// set by an earlier producer
			continue
		}
		v, err := fn(ctx, rec)
		if err != nil {
			return Result[R]{}, err
		}
		if !isNil(v) {
			if err := assign(rec, f, v); err != nil {
				return Result[R]{}, err
			}
			continue
		}
		if fv.IsZero() {
			return Result[R]{}, Issues{IssueAt(f.Pointer(), CodeProducerUnset, m.name+"."+f.Name)}
		}
	}

	return Result[R]{Record: rec.Interface().(*R), Outcome: Outcome{Status: StatusBuilt}}, nil
}

// flatten rewrites group values into "group.member" keys and rejects names
// the manifest does not declare.
func (m *manifest) flatten(fields Fields) (map[string]any, error) {
	flat := make(map[string]any, len(fields))
	var iss Issues
	var walk func(prefix string, src map[string]any)
	walk = func(prefix string, src map[string]any) {
		for _, k := range sortedKeys(src) {
			v := src[k]
			name := k
			if prefix != "" {
				name = prefix + "." + k
			}
			if _, ok := m.groups[name]; ok {
				sub, ok := asObject(v)
				if !ok {
					if v != nil {
						iss = AppendIssues(iss, IssueAt(pointerFor(name), CodeInvalidType, "expected object for group "+name))
					}
					continue
				}
				walk(name, sub)
				continue
			}
			if _, ok := m.byName[name]; !ok {
				iss = AppendIssues(iss, IssueAt(pointerFor(name), CodeUnknownKey, m.name+" got extraneous key "+name))
				continue
			}
			flat[name] = v
		}
	}
	walk("", fields)
	if len(iss) > 0 {
		return nil, iss
	}
	return flat, nil
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case Fields:
		return o, true
	}
	return nil, false
}

func pointerFor(name string) string {
	out := ""
	start := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out += PointerKey(name[start:i])
			start = i + 1
		}
	}
	return out + PointerKey(name[start:])
}

// assign stores v into field f of rec (a *R).
func assign(rec reflect.Value, f Field, v any) error {
	fv := rec.Elem().FieldByIndex(f.index)
	vv := reflect.ValueOf(v)
	if !vv.Type().AssignableTo(fv.Type()) {
		return Issues{IssueAt(f.Pointer(), CodeInvalidType, fmt.Sprintf("%s is not assignable to %s", vv.Type(), fv.Type()))}
	}
	fv.Set(vv)
	return nil
}

// TypeCheck is the coercion used by Create: v must already be assignable to
// t. A value assignable to the element type of a pointer t is wrapped. A nil v
// is accepted for nillable types and reported as unresolved.
func TypeCheck(_ context.Context, v any, t reflect.Type) (any, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
			return nil, nil
		}
		return nil, Issues{IssueAt("/", CodeInvalidType, "nil is not a valid "+typeName(t))}
	}
	vt := reflect.TypeOf(v)
	if vt.AssignableTo(t) {
		return v, nil
	}
	if t.Kind() == reflect.Pointer && vt.AssignableTo(t.Elem()) {
		p := reflect.New(t.Elem())
		p.Elem().Set(reflect.ValueOf(v))
		return p.Interface(), nil
	}
	return nil, Issues{IssueAt("/", CodeInvalidType, fmt.Sprintf("expected %s, got %s", typeName(t), vt))}
}
