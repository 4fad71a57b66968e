// Package jsonschema exports statefile record manifests as JSON Schema, so
// state files can be checked or edited with ordinary JSON tooling.
package jsonschema

import (
	"context"
	"reflect"
	"slices"
	"time"

	"github.com/reoring/statefile"
	"github.com/reoring/statefile/codec"
)

// Draft is the JSON Schema dialect For declares.
const Draft = "https://json-schema.org/draft/2020-12/schema"

// Schema is a minimal JSON Schema representation used for export.
type Schema struct {
	SchemaURI   string `json:"$schema,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// Core
	Type    string `json:"type,omitempty"`
	Format  string `json:"format,omitempty"`
	Default any    `json:"default,omitempty"`

	// Object
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	AdditionalProperties any                `json:"additionalProperties,omitempty"`

	// Array
	Items    *Schema `json:"items,omitempty"`
	MinItems *int    `json:"minItems,omitempty"`
	MaxItems *int    `json:"maxItems,omitempty"`
}

// For describes the document written for records of schema s. Literal
// defaults are rendered through reg; a default reg cannot serialize is left
// out. Types without a structural description, such as external references,
// become the empty schema.
func For(ctx context.Context, reg *statefile.Registrar, s statefile.AnySchema) *Schema {
	e := exporter{ctx: ctx, reg: reg, seen: map[reflect.Type]bool{}}
	out := e.record(s)
	out.SchemaURI = Draft
	return out
}

type exporter struct {
	ctx  context.Context
	reg  *statefile.Registrar
	seen map[reflect.Type]bool
}

var timeType = reflect.TypeFor[time.Time]()

func (e *exporter) record(s statefile.AnySchema) *Schema {
	rt := s.RecordType()
	if e.seen[rt] {
		return &Schema{Title: s.Name()}
	}
	e.seen[rt] = true
	defer delete(e.seen, rt)

	required := map[string]bool{}
	for _, name := range s.Required() {
		required[name] = true
	}
	root := object()
	root.Title = s.Name()
	for _, f := range s.Fields() {
		parent := root
		for _, seg := range f.Path[:len(f.Path)-1] {
			child, ok := parent.Properties[seg]
			if !ok {
				child = object()
				parent.Properties[seg] = child
			}
			if required[f.Name] {
				addRequired(parent, seg)
			}
			parent = child
		}
		leaf := f.Path[len(f.Path)-1]
		ps := e.typeSchema(f.Type)
		if d, ok := f.Default.Get(); ok {
			if w, err := e.reg.Serialize(e.ctx, d, f.Type); err == nil && w != nil {
				ps.Default = w
			}
		}
		parent.Properties[leaf] = ps
		if required[f.Name] {
			addRequired(parent, leaf)
		}
	}
	return root
}

func object() *Schema {
	return &Schema{Type: "object", Properties: map[string]*Schema{}, AdditionalProperties: false}
}

func addRequired(s *Schema, name string) {
	if slices.Contains(s.Required, name) {
		return
	}
	s.Required = append(s.Required, name)
}

func (e *exporter) typeSchema(t reflect.Type) *Schema {
	if rs, ok := statefile.SchemaOf(t); ok {
		return e.record(rs)
	}
	if t.Kind() == reflect.Struct {
		if rs, ok := statefile.SchemaOf(reflect.PointerTo(t)); ok {
			return e.record(rs)
		}
	}
	if t == timeType {
		return &Schema{Type: "integer", Format: "unix-time"}
	}
	if t.Kind() == reflect.Pointer {
		if e.structural(t.Elem()) {
			return e.typeSchema(t.Elem())
		}
		return &Schema{}
	}

	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: "string"}
	case reflect.Bool:
		return &Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}
	case reflect.Slice:
		return &Schema{Type: "array", Items: e.typeSchema(t.Elem())}
	case reflect.Array:
		n := t.Len()
		return &Schema{Type: "array", Items: e.typeSchema(t.Elem()), MinItems: &n, MaxItems: &n}
	case reflect.Map:
		if t.Key().Kind() == reflect.String {
			return &Schema{Type: "object", AdditionalProperties: e.typeSchema(t.Elem())}
		}
		k, v := codec.PairNames(t.Key())
		return &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				k: {Type: "array", Items: e.typeSchema(t.Key())},
				v: {Type: "array", Items: e.typeSchema(t.Elem())},
			},
			Required:             []string{k, v},
			AdditionalProperties: false,
		}
	}
	return &Schema{}
}

// structural reports whether t is described by its shape rather than by a
// domain serializer.
func (e *exporter) structural(t reflect.Type) bool {
	if t == timeType {
		return true
	}
	if _, ok := statefile.SchemaOf(reflect.PointerTo(t)); ok {
		return true
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	}
	return true
}
