package statefile

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Record is implemented (on the pointer receiver) by every type that can be
// persisted through the schema engine. Schema must not dereference the
// receiver: it is called on nil pointers to look up the manifest.
//
//	var wipSchema = statefile.Define[Wip]().Default("progress", 0).MustBuild()
//	func (*Wip) Schema() statefile.AnySchema { return wipSchema }
type Record interface {
	Schema() AnySchema
}

var recordType = reflect.TypeFor[Record]()

// SchemaOf returns the schema declared by record type t (a pointer type).
func SchemaOf(t reflect.Type) (AnySchema, bool) {
	if t == nil || t.Kind() != reflect.Pointer || !t.Implements(recordType) {
		return nil, false
	}
	rec, ok := reflect.Zero(t).Interface().(Record)
	if !ok {
		return nil, false
	}
	s := rec.Schema()
	if s == nil {
		return nil, false
	}
	return s, true
}

// AnySchema is the type-erased view of a Schema used by serializers.
type AnySchema interface {
	// Name is the record name used in logs and error hints.
	Name() string
	// RecordType is the pointer type *R the schema builds.
	RecordType() reflect.Type
	// Fields returns the manifest in declaration order.
	Fields() []Field
	// Required returns the fields a caller must supply, in manifest order.
	Required() []string
	// HasDefault reports whether the record can be built from an empty
	// document.
	HasDefault() bool
	// ConstructAny runs Construct and returns the record as any (nil unless
	// the status is StatusBuilt).
	ConstructAny(ctx context.Context, coerce CoerceFunc, runWithouts bool, fields Fields) (any, Outcome, error)

	manifestOf() *manifest
}

// FactoryFunc produces a default value for an absent field.
type FactoryFunc func(ctx context.Context) (any, error)

// WithoutFunc is a remediation handler run when a stored reference for a field
// failed to resolve. raw is the stored value before decoding (nil when the
// field was absent). The handler compensates; it does not supply a value.
// Handlers and producers of every record in one Registrar.Deserialize run one
// at a time, so they may share state without locking.
type WithoutFunc[R any] func(ctx context.Context, r *R, raw any) error

// DefaultFunc is a default producer run when a field was not supplied and has
// no literal default. It may set the field on r directly or return the value
// to assign; earlier producers' fields are already set on r.
type DefaultFunc[R any] func(ctx context.Context, r *R) (any, error)

// erased handler forms operate on a reflect.Value holding *R.
type (
	withoutFn  func(ctx context.Context, rec reflect.Value, raw any) error
	producerFn func(ctx context.Context, rec reflect.Value) (any, error)
)

// Field describes one manifest entry.
type Field struct {
	// Name is the flattened field name; members of a group are "group.member".
	Name string
	// Path holds the wire key segments ("group", "member").
	Path []string
	// Type is the declared Go type.
	Type reflect.Type
	// Default is the literal default, if any.
	Default Maybe[any]

	index []int
	depth int
}

// Pointer renders the field's wire path as a JSON Pointer.
func (f Field) Pointer() string {
	var b strings.Builder
	for _, p := range f.Path {
		b.WriteString(PointerKey(p))
	}
	return b.String()
}

// Value reads the field from rec, a *R for the field's record type.
func (f Field) Value(rec any) any {
	rv := reflect.ValueOf(rec)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil
	}
	return rv.Elem().FieldByIndex(f.index).Interface()
}

type manifest struct {
	name      string
	structT   reflect.Type
	fields    []Field
	byName    map[string]int
	groups    map[string]struct{}
	factories map[string]FactoryFunc
	withouts  map[string]withoutFn
	producers map[string]producerFn
}

func (m *manifest) field(name string) (Field, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

func (m *manifest) hasDefault(name string) bool {
	f, _ := m.field(name)
	if f.Default.Present() {
		return true
	}
	_, ok := m.factories[name]
	return ok
}

// required lists fields with no default, no remediation handler and no
// default producer, in manifest order.
func (m *manifest) required() []string {
	var out []string
	for _, f := range m.fields {
		if m.hasDefault(f.Name) {
			continue
		}
		if _, ok := m.withouts[f.Name]; ok {
			continue
		}
		if _, ok := m.producers[f.Name]; ok {
			continue
		}
		out = append(out, f.Name)
	}
	return out
}

// Builder declares the manifest of record type R.
type Builder[R any] struct {
	m    *manifest
	errs Issues
}

// Define starts a schema for struct type R. Exported fields are enumerated in
// declaration order; embedded structs are flattened with outer fields
// overriding same-named inner ones, and struct fields tagged
// `statefile:"name,group"` become nested manifests.
func Define[R any]() *Builder[R] {
	st := reflect.TypeFor[R]()
	b := &Builder[R]{m: &manifest{
		structT:   st,
		byName:    map[string]int{},
		groups:    map[string]struct{}{},
		factories: map[string]FactoryFunc{},
		withouts:  map[string]withoutFn{},
		producers: map[string]producerFn{},
	}}
	if st.Kind() != reflect.Struct {
		b.errs = AppendIssues(b.errs, IssueAt("/", CodeInvalidType, "Define[R] requires a struct type, got "+typeName(st)))
		return b
	}
	b.m.name = st.Name()
	var cands []Field
	collectFields(st, nil, nil, 0, b.m.groups, &cands)
	b.m.fields = dedupeFields(cands)
	for i, f := range b.m.fields {
		b.m.byName[f.Name] = i
	}
	return b
}

// Named overrides the record name used in logs and error hints.
func (b *Builder[R]) Named(name string) *Builder[R] {
	b.m.name = name
	return b
}

// Default sets a literal default for field.
func (b *Builder[R]) Default(field string, v any) *Builder[R] {
	f, ok := b.lookup(field)
	if !ok {
		return b
	}
	if v != nil && !reflect.TypeOf(v).AssignableTo(f.Type) {
		b.errs = AppendIssues(b.errs, IssueAt(f.Pointer(), CodeInvalidType, fmt.Sprintf("default %T is not assignable to %s", v, typeName(f.Type))))
		return b
	}
	f.Default = Some[any](v)
	b.m.fields[b.m.byName[field]] = f
	return b
}

// Factory sets a deferred default: fn is called when field is absent.
func (b *Builder[R]) Factory(field string, fn FactoryFunc) *Builder[R] {
	if _, ok := b.lookup(field); ok {
		b.m.factories[field] = fn
	}
	return b
}

// Without registers fn as the remediation handler for fields.
func (b *Builder[R]) Without(fn WithoutFunc[R], fields ...string) *Builder[R] {
	for _, name := range fields {
		if _, ok := b.lookup(name); !ok {
			continue
		}
		b.m.withouts[name] = func(ctx context.Context, rec reflect.Value, raw any) error {
			return fn(ctx, rec.Interface().(*R), raw)
		}
	}
	return b
}

// DefaultFunc registers fn as the default producer for fields.
func (b *Builder[R]) DefaultFunc(fn DefaultFunc[R], fields ...string) *Builder[R] {
	for _, name := range fields {
		if _, ok := b.lookup(name); !ok {
			continue
		}
		b.m.producers[name] = func(ctx context.Context, rec reflect.Value) (any, error) {
			return fn(ctx, rec.Interface().(*R))
		}
	}
	return b
}

// Embed inherits defaults and handlers from the schema of a struct embedded in
// R. Call it before R's own declarations so they override the parent's.
func (b *Builder[R]) Embed(parent AnySchema) *Builder[R] {
	pm := parent.manifestOf()
	idx, ok := findEmbedded(b.m.structT, pm.structT)
	if !ok {
		b.errs = AppendIssues(b.errs, IssueAt("/", CodeUnknownField, fmt.Sprintf("%s does not embed %s", typeName(b.m.structT), typeName(pm.structT))))
		return b
	}
	if (len(pm.withouts) > 0 || len(pm.producers) > 0) && !exportedPath(b.m.structT, idx) {
		b.errs = AppendIssues(b.errs, IssueAt("/", CodeInvalidType, typeName(pm.structT)+" must be embedded as an exported type to inherit its handlers"))
		return b
	}
	sub := func(rec reflect.Value) reflect.Value { return rec.Elem().FieldByIndex(idx).Addr() }
	for _, pf := range pm.fields {
		i, ok := b.m.byName[pf.Name]
		if !ok || !sameIndexPrefix(b.m.fields[i].index, idx) {
			// shadowed by an outer field of R
			continue
		}
		if pf.Default.Present() {
			f := b.m.fields[i]
			f.Default = pf.Default
			b.m.fields[i] = f
		}
		if fn, ok := pm.factories[pf.Name]; ok {
			b.m.factories[pf.Name] = fn
		}
		if fn, ok := pm.withouts[pf.Name]; ok {
			b.m.withouts[pf.Name] = func(ctx context.Context, rec reflect.Value, raw any) error {
				return fn(ctx, sub(rec), raw)
			}
		}
		if fn, ok := pm.producers[pf.Name]; ok {
			b.m.producers[pf.Name] = func(ctx context.Context, rec reflect.Value) (any, error) {
				return fn(ctx, sub(rec))
			}
		}
	}
	return b
}

// Build validates the declarations and returns the schema.
func (b *Builder[R]) Build() (*Schema[R], error) {
	iss := b.errs
	for _, f := range b.m.fields {
		if _, ok := b.m.producers[f.Name]; ok && b.m.hasDefault(f.Name) {
			iss = AppendIssues(iss, IssueAt(f.Pointer(), CodeDefaultConflict, b.m.name+"."+f.Name+" has both a default and a default producer"))
		}
	}
	if len(iss) > 0 {
		return nil, iss
	}
	return &Schema[R]{m: b.m}, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder[R]) MustBuild() *Schema[R] {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

func (b *Builder[R]) lookup(field string) (Field, bool) {
	f, ok := b.m.field(field)
	if !ok {
		b.errs = AppendIssues(b.errs, IssueAt(PointerKey(field), CodeUnknownField, b.m.name+" has no field "+field))
	}
	return f, ok
}

// Schema is the built, immutable manifest of record type R.
type Schema[R any] struct {
	m *manifest
}

var _ AnySchema = (*Schema[struct{}])(nil)

// Name implements AnySchema.
func (s *Schema[R]) Name() string { return s.m.name }

// RecordType implements AnySchema.
func (s *Schema[R]) RecordType() reflect.Type { return reflect.PointerTo(s.m.structT) }

// Fields implements AnySchema.
func (s *Schema[R]) Fields() []Field {
	out := make([]Field, len(s.m.fields))
	copy(out, s.m.fields)
	return out
}

// Field returns the descriptor for the flattened field name.
func (s *Schema[R]) Field(name string) (Field, bool) { return s.m.field(name) }

// Required returns the fields a caller must supply, in manifest order.
func (s *Schema[R]) Required() []string { return s.m.required() }

// HasDefault reports whether every field can be filled without input, so the
// record can be built from an empty document.
func (s *Schema[R]) HasDefault() bool {
	for _, f := range s.m.fields {
		if s.m.hasDefault(f.Name) {
			continue
		}
		if _, ok := s.m.producers[f.Name]; ok {
			continue
		}
		return false
	}
	return true
}

func (s *Schema[R]) manifestOf() *manifest { return s.m }

// collectFields walks st and appends field candidates in declaration order.
func collectFields(st reflect.Type, index []int, prefix []string, depth int, groups map[string]struct{}, out *[]Field) {
	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		if !sf.IsExported() && !(sf.Anonymous && sf.Type.Kind() == reflect.Struct) {
			continue
		}
		key := ResolveStructKey(sf)
		if key == "-" || key == "" {
			continue
		}
		idx := append(append([]int(nil), index...), i)
		untagged := sf.Tag.Get("statefile") == "" && sf.Tag.Get("json") == ""
		if sf.Anonymous && untagged && sf.Type.Kind() == reflect.Struct {
			collectFields(sf.Type, idx, prefix, depth+1, groups, out)
			continue
		}
		if !sf.IsExported() {
			continue
		}
		path := append(append([]string(nil), prefix...), key)
		if hasTagOption(sf, "group") && sf.Type.Kind() == reflect.Struct {
			groups[strings.Join(path, ".")] = struct{}{}
			collectFields(sf.Type, idx, path, depth, groups, out)
			continue
		}
		*out = append(*out, Field{
			Name:  strings.Join(path, "."),
			Path:  path,
			Type:  sf.Type,
			index: idx,
			depth: depth,
		})
	}
}

// dedupeFields keeps, for each name, the shallowest candidate at the position
// where the name first appeared.
func dedupeFields(cands []Field) []Field {
	pos := map[string]int{}
	var out []Field
	for _, c := range cands {
		if i, ok := pos[c.Name]; ok {
			if c.depth < out[i].depth {
				out[i] = c
			}
			continue
		}
		pos[c.Name] = len(out)
		out = append(out, c)
	}
	return out
}

func findEmbedded(st, target reflect.Type) ([]int, bool) {
	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		if !sf.Anonymous || sf.Type.Kind() != reflect.Struct {
			continue
		}
		if sf.Type == target {
			return []int{i}, true
		}
		if sub, ok := findEmbedded(sf.Type, target); ok {
			return append([]int{i}, sub...), true
		}
	}
	return nil, false
}

func exportedPath(st reflect.Type, idx []int) bool {
	for _, i := range idx {
		sf := st.Field(i)
		if !sf.IsExported() {
			return false
		}
		st = sf.Type
	}
	return true
}

func sameIndexPrefix(index, prefix []int) bool {
	if len(index) < len(prefix) {
		return false
	}
	for i := range prefix {
		if index[i] != prefix[i] {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
