package tracer

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ipapp-go/ipapp/tracer/ext"
)

// Annotation is one recorded (value, timestamp) pair. Annotations of the
// same kind accumulate in arrival order (spec.md §3: "annotation map
// (str→ordered list of (value, timestamp))").
type Annotation struct {
	Value     string
	Timestamp time.Time
}

// traceState is shared by every span of one trace. It exists so that the
// finish/handle walk (see Span.tryEmit) can take a single lock across the
// whole tree instead of acquiring per-span locks in an order that would be
// prone to deadlock.
type traceState struct {
	mu     sync.Mutex
	logger *Logger
	root   *Span
}

// Span is one causally-linked record of an operation. See spec.md §3 and
// §4.2 for the full contract; this type and its methods implement that
// contract directly.
type Span struct {
	ts *traceState

	traceID  TraceID
	spanID   uint64
	parentID *uint64
	parent   *Span
	children []*Span

	kind  string
	class string
	name  string

	start  time.Time
	finish time.Time

	tags        map[string]string
	annotations map[string][]Annotation

	adapterNames       map[string]string
	adapterTags        map[string]map[string]string
	adapterAnnotations map[string]map[string][]Annotation

	debug     bool // X-B3-Flags: 1; wins over Sampled=0 on ingress
	skip      bool
	skipForce bool // skip() was called explicitly, vs. inherited from parent
	finished  bool
	handled   bool
	err       error

	seq uint64 // process-wide creation order; not read by dispatch
}

// SpanOption customizes a span at creation time.
type SpanOption func(*Span)

// WithKind sets the span's kind (spec.md §3: CLIENT, SERVER, or none).
func WithKind(kind string) SpanOption {
	return func(s *Span) { s.kind = kind }
}

// WithClass tags the span with a class string a SpanTrap can match against.
func WithClass(cls string) SpanOption {
	return func(s *Span) { s.class = cls }
}

var globalSeq struct {
	mu sync.Mutex
	n  uint64
}

func nextSeq() uint64 {
	globalSeq.mu.Lock()
	globalSeq.n++
	n := globalSeq.n
	globalSeq.mu.Unlock()
	return n
}

// newRootSpan creates a fresh root span owned by logger.
func newRootSpan(logger *Logger, name string, opts ...SpanOption) *Span {
	traceID := newTraceID64()
	if logger != nil && logger.TraceID128 {
		traceID = newTraceID128()
	}
	s := &Span{
		traceID:            traceID,
		spanID:             newSpanID(),
		name:               name,
		start:              time.Now(),
		tags:               map[string]string{},
		annotations:        map[string][]Annotation{},
		adapterNames:       map[string]string{},
		adapterTags:        map[string]map[string]string{},
		adapterAnnotations: map[string]map[string][]Annotation{},
		seq:                nextSeq(),
	}
	s.ts = &traceState{logger: logger, root: s}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewChild creates a child span in the same trace, inheriting the skip
// flag (spec.md §4.2: "new_child ... inherits skip flag").
func (s *Span) NewChild(name string, opts ...SpanOption) *Span {
	parentID := s.spanID
	child := &Span{
		ts:                 s.ts,
		traceID:            s.traceID,
		spanID:             newSpanID(),
		parentID:           &parentID,
		parent:             s,
		name:               name,
		start:              time.Now(),
		tags:               map[string]string{},
		annotations:        map[string][]Annotation{},
		adapterNames:       map[string]string{},
		adapterTags:        map[string]map[string]string{},
		adapterAnnotations: map[string]map[string][]Annotation{},
		seq:                nextSeq(),
	}
	s.ts.mu.Lock()
	child.skip = s.skip
	child.debug = s.debug
	s.children = append(s.children, child)
	s.ts.mu.Unlock()
	for _, o := range opts {
		o(child)
	}
	return child
}

// TraceID returns the span's trace id.
func (s *Span) TraceID() TraceID { return s.traceID }

// SpanID returns the span's own id.
func (s *Span) SpanID() uint64 { return s.spanID }

// ParentID returns the parent span id, if any.
func (s *Span) ParentID() (uint64, bool) {
	if s.parentID == nil {
		return 0, false
	}
	return *s.parentID, true
}

// Name returns the span's global (non-adapter-specific) name.
func (s *Span) Name() string { return s.name }

// Tag records a tag visible to every adapter unless overridden.
func (s *Span) Tag(key, value string) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if s.finished {
		return
	}
	s.tags[key] = value
}

// Tags returns a copy of the global tag map.
func (s *Span) Tags() map[string]string {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	out := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

// Annotate appends a (value, timestamp) pair under kind, visible to every
// adapter unless overridden. A zero ts defaults to time.Now().
func (s *Span) Annotate(kind, value string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if s.finished {
		return
	}
	s.annotations[kind] = append(s.annotations[kind], Annotation{Value: value, Timestamp: ts})
}

// Annotations returns a copy of the global annotation map.
func (s *Span) Annotations() map[string][]Annotation {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	out := make(map[string][]Annotation, len(s.annotations))
	for k, v := range s.annotations {
		cp := make([]Annotation, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// SetTagForAdapter overrides a tag's value for one adapter only.
func (s *Span) SetTagForAdapter(adapter, key, value string) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if s.finished {
		return
	}
	m, ok := s.adapterTags[adapter]
	if !ok {
		m = map[string]string{}
		s.adapterTags[adapter] = m
	}
	m[key] = value
}

// AnnotateForAdapter appends a (value, timestamp) pair visible to one
// adapter only.
func (s *Span) AnnotateForAdapter(adapter, kind, value string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if s.finished {
		return
	}
	m, ok := s.adapterAnnotations[adapter]
	if !ok {
		m = map[string][]Annotation{}
		s.adapterAnnotations[adapter] = m
	}
	m[kind] = append(m[kind], Annotation{Value: value, Timestamp: ts})
}

// SetNameForAdapter overrides the span's display name for one adapter only.
func (s *Span) SetNameForAdapter(adapter, name string) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if s.finished {
		return
	}
	s.adapterNames[adapter] = name
}

// NameFor returns the span's name as seen by adapter (falls back to the
// global name).
func (s *Span) NameFor(adapter string) string {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if n, ok := s.adapterNames[adapter]; ok {
		return n
	}
	return s.name
}

// TagsFor returns the merged (global + per-adapter) tag view for adapter.
func (s *Span) TagsFor(adapter string) map[string]string {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	out := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	for k, v := range s.adapterTags[adapter] {
		out[k] = v
	}
	return out
}

// AnnotationsFor returns the merged (global + per-adapter) annotation view
// for adapter; per-kind, the per-adapter entries are appended after the
// global ones, preserving each list's own arrival order.
func (s *Span) AnnotationsFor(adapter string) map[string][]Annotation {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	out := map[string][]Annotation{}
	for k, v := range s.annotations {
		out[k] = append(out[k], v...)
	}
	for k, v := range s.adapterAnnotations[adapter] {
		out[k] = append(out[k], v...)
	}
	return out
}

// Error records the canonical error tags and traceback annotation, and
// remembers the error for adapters that want the raw value (spec.md §4.2).
func (s *Span) Error(err error) {
	if err == nil {
		return
	}
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if s.finished {
		return
	}
	s.err = err
	s.tags[ext.TagError] = "true"
	s.tags[ext.TagErrorClass] = fmt.Sprintf("%T", err)
	s.tags[ext.TagErrorMessage] = err.Error()
	s.annotations[ext.AnnotationTraceback] = append(
		s.annotations[ext.AnnotationTraceback],
		Annotation{Value: string(debug.Stack()), Timestamp: time.Now()},
	)
}

// Err returns the error recorded on this span, if any.
func (s *Span) Err() error {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	return s.err
}

// Skip marks this span and every descendant as never-to-be-emitted
// (spec.md §4.2, §8 "skip propagation").
func (s *Span) Skip() {
	s.ts.mu.Lock()
	s.skip = true
	s.skipForce = true
	kids := append([]*Span(nil), s.children...)
	s.ts.mu.Unlock()
	for _, c := range kids {
		c.Skip()
	}
}

// Skipped reports whether this span will never be emitted.
func (s *Span) Skipped() bool {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	return s.skip
}

// Kind returns the span's kind.
func (s *Span) Kind() string { return s.kind }

// Class returns the span's class, for SpanTrap matching.
func (s *Span) Class() string { return s.class }

// StartTime returns the span's start timestamp.
func (s *Span) StartTime() time.Time { return s.start }

// FinishTime returns the span's finish timestamp (zero if unfinished).
func (s *Span) FinishTime() time.Time {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	return s.finish
}

// IsFinished reports whether Finish has been called.
func (s *Span) IsFinished() bool {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	return s.finished
}

// Finish completes the span. If err is non-nil it is recorded exactly as
// Error(err) would. Finish then attempts to walk the trace tree and hand
// any newly-eligible spans to the adapter bus (see tryEmit).
func (s *Span) Finish(err error) {
	if s == nil {
		return
	}
	s.ts.mu.Lock()
	if s.finished {
		s.ts.mu.Unlock()
		return
	}
	if err != nil {
		s.err = err
		s.tags[ext.TagError] = "true"
		s.tags[ext.TagErrorClass] = fmt.Sprintf("%T", err)
		s.tags[ext.TagErrorMessage] = err.Error()
		s.annotations[ext.AnnotationTraceback] = append(
			s.annotations[ext.AnnotationTraceback],
			Annotation{Value: string(debug.Stack()), Timestamp: time.Now()},
		)
	}
	s.finish = time.Now()
	s.finished = true
	root := s.ts.root
	s.ts.mu.Unlock()

	root.tryEmit()
}

// tryEmit walks the trace tree from the root, collecting every span that is
// finished, not yet handled, and whose parent is either absent or already
// handled. It claims (marks handled) those spans under one lock so
// concurrent Finish calls from sibling goroutines never double-dispatch,
// then hands the claimed, un-skipped spans to the logger outside the lock.
//
// This realizes spec.md §4.2's finish/handle invariant without requiring
// children to finish in any particular order relative to their ancestors.
func (s *Span) tryEmit() {
	s.ts.mu.Lock()
	var ready []*Span
	var walk func(n *Span)
	walk = func(n *Span) {
		if n.parent != nil && !n.parent.handled {
			return
		}
		if !n.finished || n.handled {
			if n.handled {
				for _, c := range n.children {
					walk(c)
				}
			}
			return
		}
		n.handled = true
		if !n.skip {
			ready = append(ready, n)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(s.ts.root)
	logger := s.ts.logger
	s.ts.mu.Unlock()

	for _, n := range ready {
		logger.dispatch(n)
	}
}

// String renders a short debug line and is safe to call on a nil or
// zero-value span.
func (s *Span) String() string {
	if s == nil {
		return "<nil span>"
	}
	return fmt.Sprintf("%s[trace=%s span=%s]", s.name, s.traceID, spanIDString(s.spanID))
}

// ToDict renders the span's global view as a plain map, for debug
// rendering and structured log payloads.
func (s *Span) ToDict() map[string]interface{} {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	out := map[string]interface{}{
		"trace_id": s.traceID.String(),
		"span_id":  spanIDString(s.spanID),
		"name":     s.name,
		"kind":     s.kind,
		"start":    s.start,
	}
	if s.parentID != nil {
		out["parent_id"] = spanIDString(*s.parentID)
	}
	if s.finished {
		out["finish"] = s.finish
		out["duration"] = s.finish.Sub(s.start).String()
	}
	if len(s.tags) > 0 {
		tags := make(map[string]string, len(s.tags))
		for k, v := range s.tags {
			tags[k] = v
		}
		out["tags"] = tags
	}
	if s.err != nil {
		out["error"] = s.err.Error()
	}
	return out
}
