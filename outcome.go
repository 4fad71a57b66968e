package statefile

import (
	"context"
	"sync"
)

type outcomeKey struct{}

type outcomeSink struct {
	mu  sync.Mutex
	o   Outcome
	set bool
}

// CaptureOutcome returns ctx under which the outermost record built through a
// Registrar reports how its construction ended. The returned function yields
// that outcome once the build has returned; ok is false when no record
// reported, for example because the document was not an object.
func CaptureOutcome(ctx context.Context) (context.Context, func() (Outcome, bool)) {
	s := &outcomeSink{}
	return context.WithValue(ctx, outcomeKey{}, s), func() (Outcome, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.o, s.set
	}
}

// TakeOutcome detaches the capture installed by CaptureOutcome. Record
// serializers call it before constructing: the returned ctx no longer carries
// the capture, so nested records stay silent, and report passes the outcome
// on. Only the first report is kept.
func TakeOutcome(ctx context.Context) (context.Context, func(Outcome)) {
	s, _ := ctx.Value(outcomeKey{}).(*outcomeSink)
	if s == nil {
		return ctx, func(Outcome) {}
	}
	return context.WithValue(ctx, outcomeKey{}, (*outcomeSink)(nil)), func(o Outcome) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.set {
			s.o, s.set = o, true
		}
	}
}
