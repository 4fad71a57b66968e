package codec

import (
	"context"
	"reflect"
	"strings"

	"github.com/reoring/statefile"
)

// Resolver looks up an external entity by its stored id. It returns ok=false
// when the entity no longer exists; an error aborts the whole operation.
type Resolver[T any] func(ctx context.Context, id string) (v T, ok bool, err error)

// Ref builds a serializer for references to external entities of type T,
// typically a pointer to an API object. Values are stored as the string
// returned by id; an empty id is treated as unresolvable.
//
//	codec.Ref(fetchChannel, func(c *Channel) string { return codec.JoinIDs(c.GuildID, c.ID) })
func Ref[T any](resolve Resolver[T], id func(T) string) statefile.Serializer {
	return &ref[T]{t: reflect.TypeFor[T](), resolve: resolve, id: id}
}

type ref[T any] struct {
	t       reflect.Type
	resolve Resolver[T]
	id      func(T) string
}

func (r *ref[T]) Supports(t reflect.Type) bool { return t == r.t }

func (r *ref[T]) Claims() []reflect.Type { return []reflect.Type{r.t} }

func (r *ref[T]) Serialize(_ context.Context, v any, _ reflect.Type) (any, error) {
	tv, ok := v.(T)
	if !ok || statefile.IsNil(v) {
		return nil, nil
	}
	if s := r.id(tv); s != "" {
		return s, nil
	}
	return nil, nil
}

func (r *ref[T]) Deserialize(ctx context.Context, raw any, _ reflect.Type) (any, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil, nil
	}
	v, ok, err := r.resolve(ctx, s)
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

// IDSeparator joins the parts of a compound id.
const IDSeparator = "|"

// JoinIDs encodes a compound id such as "<guild>|<channel>".
func JoinIDs(parts ...string) string { return strings.Join(parts, IDSeparator) }

// SplitIDs decodes a compound id made of exactly n parts.
func SplitIDs(s string, n int) ([]string, bool) {
	parts := strings.Split(s, IDSeparator)
	if len(parts) != n {
		return nil, false
	}
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}
