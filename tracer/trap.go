package tracer

import (
	"context"
	"sync"

	"github.com/google/uuid"

	ipctx "github.com/ipapp-go/ipapp/ctx"
)

// SpanTrap is a scoped observer that captures the next span created within
// its scope whose class matches its target (spec.md §3, §4.2). Traps never
// alter emission — they are a read-only side channel for instrumentation
// code that wants to retroactively tag or rename a span it did not itself
// create.
type SpanTrap struct {
	token       string
	targetClass string

	mu       sync.Mutex
	captured *Span
}

// NewTrap creates a trap for targetClass. An empty targetClass matches any
// span's class.
func NewTrap(targetClass string) *SpanTrap {
	return &SpanTrap{token: uuid.NewString(), targetClass: targetClass}
}

// WithTrap pushes trap onto the ambient LIFO trap stack (spec.md §4.2:
// "traps form a LIFO stack so that nested instrumentation code can
// retroactively tag or rename a span it did not itself create").
func WithTrap(c context.Context, trap *SpanTrap) context.Context {
	return ipctx.WithSpanTrap(c, trap)
}

// Captured returns the span this trap captured, if any yet.
func (t *SpanTrap) Captured() (*Span, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.captured, t.captured != nil
}

func (t *SpanTrap) tryCapture(s *Span) bool {
	if t.targetClass != "" && t.targetClass != s.Class() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.captured != nil {
		return false
	}
	t.captured = s
	return true
}

// offerToTraps lets every trap currently on the ambient stack attempt to
// capture s. Each trap captures independently (at most one span each); one
// trap claiming s does not stop sibling traps in the stack from also
// claiming it.
func offerToTraps(c context.Context, s *Span) {
	for _, v := range ipctx.SpanTraps(c) {
		if trap, ok := v.(*SpanTrap); ok {
			trap.tryCapture(s)
		}
	}
}
