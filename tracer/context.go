package tracer

import (
	"context"

	ipctx "github.com/ipapp-go/ipapp/ctx"
)

// appLogger is the minimal view of app.Application this package needs to
// mint root spans from the ambient app, without importing package app
// (which itself imports tracer).
type appLogger interface {
	Logger() *Logger
}

// ContextWithSpan returns a copy of c with s bound as the active span.
func ContextWithSpan(c context.Context, s *Span) context.Context {
	return ipctx.WithSpan(c, s)
}

// SpanFromContext returns the active span, if any.
func SpanFromContext(c context.Context) (*Span, bool) {
	v, ok := ipctx.SpanFrom(c)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Span)
	return s, ok
}

// Start implements the "scoped acquisition" described in spec.md §4.2: it
// creates a span (a child of the ambient span if one exists, otherwise a
// fresh root minted from the ambient application's logger) and pushes it
// onto the ambient context. The caller finishes the span (and pops the
// context slot, since contexts are immutable and the caller simply stops
// using the returned one) by calling Finish on the returned span:
//
//	child, c := tracer.Start(c, "db.query")
//	defer child.Finish(nil)
func Start(c context.Context, name string, opts ...SpanOption) (*Span, context.Context) {
	s, c := start(c, name, opts...)
	offerToTraps(c, s)
	return s, c
}

func start(c context.Context, name string, opts ...SpanOption) (*Span, context.Context) {
	if parent, ok := SpanFromContext(c); ok {
		child := parent.NewChild(name, opts...)
		return child, ContextWithSpan(c, child)
	}
	if a, ok := ipctx.AppFrom(c); ok {
		if al, ok := a.(appLogger); ok {
			root := al.Logger().New(name, opts...)
			return root, ContextWithSpan(c, root)
		}
	}
	// No ambient application either: fall back to a detached logger so
	// instrumentation code never has to nil-check the returned span.
	root := NewLogger().New(name, opts...)
	return root, ContextWithSpan(c, root)
}
