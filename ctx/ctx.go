// Package ctx carries the process-wide ambient state of an ipapp
// application: the current Application, the current Span, the current
// inbound Request, and the current stack of SpanTraps.
//
// Go has no task-local storage, so each slot is realized as a
// context.Context value rather than a goroutine-local variable. "set"
// returns a new Context (the token is the parent Context itself — reset is
// simply reverting to it); "get" reads the nearest enclosing value. The
// HTTP trace middleware and the task scheduler bind only the Span slot
// (through tracer); nothing in this module binds the Request or App slot.
package ctx

import "context"

type ctxKey int

const (
	keyApp ctxKey = iota
	keyRequest
	keySpanTraps
)

const keySpan ctxKey = 100

// App is the minimal view of an Application this package needs. The
// concrete type lives in package app; it satisfies this interface by
// construction.
type App interface {
	Name() string
}

// WithApp binds the active application to the context.
func WithApp(c context.Context, a App) context.Context {
	return context.WithValue(c, keyApp, a)
}

// AppFrom returns the active application, if any.
func AppFrom(c context.Context) (App, bool) {
	v, ok := c.Value(keyApp).(App)
	return v, ok
}

// WithSpan binds the active span to the context. The value is typed as
// interface{} to avoid an import cycle with package tracer; tracer provides
// typed wrappers (tracer.ContextWithSpan / tracer.SpanFromContext).
func WithSpan(c context.Context, s interface{}) context.Context {
	return context.WithValue(c, keySpan, s)
}

// SpanFrom returns the raw active span value, if any.
func SpanFrom(c context.Context) (interface{}, bool) {
	v := c.Value(keySpan)
	return v, v != nil
}

// Request is the minimal view of an inbound request this package needs.
type Request struct {
	Method     string
	RemoteAddr string
	Headers    map[string][]string
}

// WithRequest binds the active inbound request to the context.
func WithRequest(c context.Context, r Request) context.Context {
	return context.WithValue(c, keyRequest, r)
}

// RequestFrom returns the active inbound request, if any.
func RequestFrom(c context.Context) (Request, bool) {
	v, ok := c.Value(keyRequest).(Request)
	return v, ok
}

// spanTrapStack is a LIFO stack of trap tokens, represented as a slice
// stored by value in the context so nested pushes/pops never alias a
// sibling call's view of the stack.
type spanTrapStack []interface{}

// WithSpanTrap pushes a trap onto the ambient LIFO stack.
func WithSpanTrap(c context.Context, trap interface{}) context.Context {
	stack, _ := c.Value(keySpanTraps).(spanTrapStack)
	next := make(spanTrapStack, len(stack)+1)
	copy(next, stack)
	next[len(stack)] = trap
	return context.WithValue(c, keySpanTraps, next)
}

// SpanTraps returns the ambient trap stack, outermost first.
func SpanTraps(c context.Context) []interface{} {
	stack, _ := c.Value(keySpanTraps).(spanTrapStack)
	out := make([]interface{}, len(stack))
	copy(out, stack)
	return out
}

// TopSpanTrap returns the innermost (most recently pushed) trap, if any.
func TopSpanTrap(c context.Context) (interface{}, bool) {
	stack, _ := c.Value(keySpanTraps).(spanTrapStack)
	if len(stack) == 0 {
		return nil, false
	}
	return stack[len(stack)-1], true
}
