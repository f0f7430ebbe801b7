package tracer

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// Adapter is a sink that consumes finished spans and produces external
// observability data (spec.md GLOSSARY). Adapters are started/stopped in
// parallel with the owning Logger (spec.md §4.3).
type Adapter interface {
	// Name is the adapter's well-known identity (see tracer/ext), used to
	// key per-adapter span overrides.
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Handle(s *Span)
}

// Logger is the adapter bus described in spec.md §4.3: it owns an ordered
// list of adapters, starts/stops them in parallel with the application,
// and dispatches each finished span to every adapter sequentially. It is
// also where root spans and trace ids are minted, since id generation and
// dispatch share the same "one bus per application" scope.
type Logger struct {
	// TraceID128 mints 128-bit trace ids for new root spans instead of
	// the 64-bit default (spec.md §3 allows either width; B3 encodes
	// them as 32 vs 16 hex chars). Set before the first span is created.
	TraceID128 bool

	mu        sync.RWMutex
	adapters  []Adapter
	preHandle []func(*Span)
	log       *logrus.Entry
}

// NewLogger builds a Logger over the given adapters, dispatched in the
// order given.
func NewLogger(adapters ...Adapter) *Logger {
	return &Logger{
		adapters: adapters,
		log:      logrus.WithField("component", "tracer.logger"),
	}
}

// AddAdapter registers an additional adapter. Not safe to call concurrently
// with Start/Stop.
func (l *Logger) AddAdapter(a Adapter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.adapters = append(l.adapters, a)
}

// AddPreHandle registers a callback invoked, in registration order, on
// every finished span before it reaches any adapter. Used for cross-
// cutting rewrites such as URL secret masking (spec.md §6).
func (l *Logger) AddPreHandle(fn func(*Span)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.preHandle = append(l.preHandle, fn)
}

// Start starts every adapter concurrently. If any adapter fails to start,
// Start returns the error of the first failing adapter in registration
// order; the caller (app.Application.Start) is responsible for tearing
// down whatever did start.
func (l *Logger) Start(ctx context.Context) error {
	l.mu.RLock()
	adapters := append([]Adapter(nil), l.adapters...)
	l.mu.RUnlock()

	errs := make([]error, len(adapters))
	var wg sync.WaitGroup
	wg.Add(len(adapters))
	for i, a := range adapters {
		i, a := i, a
		go func() {
			defer wg.Done()
			errs[i] = a.Start(ctx)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("tracer: adapter %q failed to start: %w", adapters[i].Name(), err)
		}
	}
	return nil
}

// Stop stops every adapter concurrently. Adapter stop errors are logged
// and swallowed — they must never abort shutdown (spec.md §4.3, §4.4).
func (l *Logger) Stop(ctx context.Context) error {
	l.mu.RLock()
	adapters := append([]Adapter(nil), l.adapters...)
	l.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(adapters))
	for _, a := range adapters {
		a := a
		go func() {
			defer wg.Done()
			if err := a.Stop(ctx); err != nil {
				l.log.WithError(err).WithField("adapter", a.Name()).Warn("adapter stop failed")
			}
		}()
	}
	wg.Wait()
	return nil
}

// dispatch runs the pre-handle callbacks then hands the span to every
// adapter in order. Adapter panics and errors are logged and swallowed so
// one misbehaving adapter never aborts dispatch to the others or to the
// originating request (spec.md §4.3, §7).
func (l *Logger) dispatch(s *Span) {
	l.mu.RLock()
	var pre []func(*Span)
	pre = append(pre, l.preHandle...)
	adapters := append([]Adapter(nil), l.adapters...)
	l.mu.RUnlock()

	for _, fn := range pre {
		safeCall(func() { fn(s) }, l.log, "pre-handle")
	}
	for _, a := range adapters {
		a := a
		safeCall(func() { a.Handle(s) }, l.log, a.Name())
	}
}

func safeCall(fn func(), log *logrus.Entry, who string) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("adapter", who).Errorf("adapter panic recovered: %v", r)
		}
	}()
	fn()
}

// New creates a root span owned by this logger (spec.md §4.2 "new").
func (l *Logger) New(name string, opts ...SpanOption) *Span {
	return newRootSpan(l, name, opts...)
}

// FromHeaders parses B3 headers into a span, creating a fresh root if no
// trace id is present (spec.md §4.2 "from_headers").
func (l *Logger) FromHeaders(name string, h http.Header, opts ...SpanOption) *Span {
	return fromHeaders(l, name, h, opts...)
}

// NoopAdapter is an Adapter that does nothing. NewLogger does not install
// it: a Logger with no adapters simply dispatches to none.
type NoopAdapter struct{}

func (NoopAdapter) Name() string               { return "noop" }
func (NoopAdapter) Start(context.Context) error { return nil }
func (NoopAdapter) Stop(context.Context) error  { return nil }
func (NoopAdapter) Handle(*Span)                {}

var _ Adapter = NoopAdapter{}
