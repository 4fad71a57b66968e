package statefile

import (
	"context"
	"sync"
)

// handlerLock serializes remediation handlers and default producers across
// one top-level Deserialize, whose records are otherwise built concurrently.
type handlerLock struct{ mu sync.Mutex }

type (
	handlerLockKey struct{}
	handlerHeldKey struct{}
)

// withHandlerLock returns ctx carrying a lock for a new deserialization. A
// deserialization started from inside a handler gets its own lock, so its
// records are serialized among themselves while the outer handler waits.
func withHandlerLock(ctx context.Context) context.Context {
	l, _ := ctx.Value(handlerLockKey{}).(*handlerLock)
	if l != nil && ctx.Value(handlerHeldKey{}) != l {
		return ctx
	}
	return context.WithValue(ctx, handlerLockKey{}, &handlerLock{})
}

// holdHandlers acquires the lock carried by ctx. It is a no-op when ctx has
// no lock or the caller already holds it.
func holdHandlers(ctx context.Context) (context.Context, func()) {
	l, _ := ctx.Value(handlerLockKey{}).(*handlerLock)
	if l == nil || ctx.Value(handlerHeldKey{}) == l {
		return ctx, func() {}
	}
	l.mu.Lock()
	return context.WithValue(ctx, handlerHeldKey{}, l), l.mu.Unlock
}
