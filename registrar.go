package statefile

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/reoring/statefile/internal/fanout"
	"github.com/reoring/statefile/metrics"
)

// Registrar routes (de)serialization requests to the first registered
// Serializer that supports the requested type. Registration order is priority
// order: specific serializers must precede general ones.
type Registrar struct {
	mu          sync.RWMutex
	serializers []Serializer
	cache       sync.Map // reflect.Type -> route

	log     zerolog.Logger
	metrics *metrics.Collector
	limit   int
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithLogger sets the logger used when the context carries none.
func WithLogger(l zerolog.Logger) Option { return func(r *Registrar) { r.log = l } }

// WithMetrics records unresolved values on c.
func WithMetrics(c *metrics.Collector) Option { return func(r *Registrar) { r.metrics = c } }

// WithConcurrency bounds how many fields, elements or entries of one record or
// collection are converted at once. n <= 0 means no bound, the default.
func WithConcurrency(n int) Option { return func(r *Registrar) { r.limit = n } }

// NewRegistrar creates an empty Registrar.
func NewRegistrar(opts ...Option) *Registrar {
	r := &Registrar{log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// route is a cached lookup result. optional is set when the type was matched
// by stripping one pointer level.
type route struct {
	s        Serializer
	optional bool
}

// Register appends serializers in priority order and binds them to r. It
// fails, registering nothing from the failing serializer on, when a type a new
// serializer claims is already supported by an earlier one.
func (r *Registrar) Register(ss ...Serializer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range ss {
		if s == nil {
			continue
		}
		if p, ok := s.(Claimer); ok {
			for _, pt := range p.Claims() {
				for _, prev := range r.serializers {
					if prev.Supports(pt) {
						return Issues{IssueAt("/", CodeShadowed, fmt.Sprintf("%T already supports %s, register %T before it", prev, typeName(pt), s))}
					}
				}
			}
		}
		if b, ok := s.(Binder); ok {
			b.Bind(r)
		}
		r.serializers = append(r.serializers, s)
		r.log.Debug().Str("serializer", fmt.Sprintf("%T", s)).Int("priority", len(r.serializers)-1).Msg("serializer registered")
	}
	r.cache.Clear()
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registrar) MustRegister(ss ...Serializer) *Registrar {
	if err := r.Register(ss...); err != nil {
		panic(err)
	}
	return r
}

// Serializers returns a copy of the registered serializers in priority order.
func (r *Registrar) Serializers() []Serializer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Serializer, len(r.serializers))
	copy(out, r.serializers)
	return out
}

// Metrics returns the collector set with WithMetrics, possibly nil.
func (r *Registrar) Metrics() *metrics.Collector { return r.metrics }

// Supports reports whether any registered serializer handles t, looking
// through one level of pointer for optional values.
func (r *Registrar) Supports(t reflect.Type) bool {
	_, ok := r.lookup(t)
	return ok
}

// Serialize converts v, declared as t, into its wire form.
func (r *Registrar) Serialize(ctx context.Context, v any, t reflect.Type) (any, error) {
	rt, ok := r.lookup(t)
	if !ok {
		return nil, Issues{IssueAt("/", CodeNoSerializer, "no way to serialize "+typeName(t))}
	}
	ctx = r.fanout(ctx)
	if !rt.optional {
		return rt.s.Serialize(ctx, v, t)
	}
	if isNil(v) {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Type() == t {
		v = rv.Elem().Interface()
	}
	return rt.s.Serialize(ctx, v, t.Elem())
}

// Deserialize converts raw into a value of type t. A nil result means the
// value matched a serializer but could not be resolved.
func (r *Registrar) Deserialize(ctx context.Context, raw any, t reflect.Type) (any, error) {
	rt, ok := r.lookup(t)
	if !ok {
		return nil, Issues{IssueAt("/", CodeNoSerializer, "no way to deserialize "+typeName(t))}
	}
	ctx = r.fanout(withHandlerLock(ctx))
	target := t
	if rt.optional {
		target = t.Elem()
	}
	v, err := rt.s.Deserialize(ctx, raw, target)
	if err != nil {
		return nil, err
	}
	if isNil(v) {
		if raw != nil {
			r.logger(ctx).Debug().Str("type", typeName(target)).Msg("value did not resolve")
			r.metrics.UnresolvedRef(typeName(target))
		}
		return nil, nil
	}
	if !rt.optional {
		return v, nil
	}
	vv := reflect.ValueOf(v)
	if !vv.Type().AssignableTo(target) {
		return nil, Issues{IssueAt("/", CodeInvalidType, fmt.Sprintf("%T returned %s for %s", rt.s, vv.Type(), typeName(target)))}
	}
	p := reflect.New(target)
	p.Elem().Set(vv)
	return p.Interface(), nil
}

func (r *Registrar) lookup(t reflect.Type) (route, bool) {
	if t == nil {
		return route{}, false
	}
	if c, ok := r.cache.Load(t); ok {
		rt := c.(route)
		return rt, rt.s != nil
	}
	r.mu.RLock()
	rt := route{}
	if s := r.first(t); s != nil {
		rt = route{s: s}
	} else if t.Kind() == reflect.Pointer {
		if s := r.first(t.Elem()); s != nil {
			rt = route{s: s, optional: true}
		}
	}
	// stored under the read lock so a concurrent Register cannot clear the
	// cache between computing and storing this route
	r.cache.Store(t, rt)
	r.mu.RUnlock()
	return rt, rt.s != nil
}

func (r *Registrar) fanout(ctx context.Context) context.Context {
	if r.limit <= 0 {
		return ctx
	}
	return fanout.WithLimit(ctx, r.limit)
}

func (r *Registrar) first(t reflect.Type) Serializer {
	for _, s := range r.serializers {
		if s.Supports(t) {
			return s
		}
	}
	return nil
}

func (r *Registrar) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &r.log
}
