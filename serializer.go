package statefile

import (
	"context"
	"reflect"
)

// Serializer converts between a runtime value and its JSON-compatible wire
// form for the types it supports.
//
// Serialize and Deserialize may block (for example on network I/O to resolve
// an external reference) and may be called concurrently from several
// goroutines. A nil result with a nil error means the serializer matched the
// type but this particular value is invalid or unresolvable; a non-nil error is
// structural and aborts the whole operation.
type Serializer interface {
	Supports(t reflect.Type) bool
	Serialize(ctx context.Context, v any, t reflect.Type) (any, error)
	Deserialize(ctx context.Context, raw any, t reflect.Type) (any, error)
}

// Binder is implemented by serializers that need a back-reference to the
// Registrar they are registered in, to delegate nested types.
type Binder interface {
	Bind(r *Registrar)
}

// Claimer is implemented by serializers that can name representative types
// they claim. The Registrar uses them to reject a serializer that an earlier,
// more general one would shadow.
type Claimer interface {
	Claims() []reflect.Type
}

// Delegate is embedded by serializers that convert container or record types
// by handing element types back to their Registrar.
type Delegate struct {
	registrar *Registrar
}

// Bind implements Binder.
func (d *Delegate) Bind(r *Registrar) { d.registrar = r }

// Registrar returns the owning Registrar, or nil before registration.
func (d *Delegate) Registrar() *Registrar { return d.registrar }

// SerializeType serializes v as t through the owning Registrar.
func (d *Delegate) SerializeType(ctx context.Context, v any, t reflect.Type) (any, error) {
	if d.registrar == nil {
		return nil, ErrUnregistered
	}
	return d.registrar.Serialize(ctx, v, t)
}

// DeserializeType deserializes raw as t through the owning Registrar.
func (d *Delegate) DeserializeType(ctx context.Context, raw any, t reflect.Type) (any, error) {
	if d.registrar == nil {
		return nil, ErrUnregistered
	}
	return d.registrar.Deserialize(ctx, raw, t)
}

// TypeFor returns the reflect.Type for T, including interface types.
func TypeFor[T any]() reflect.Type { return reflect.TypeFor[T]() }
