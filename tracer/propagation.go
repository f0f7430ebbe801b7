package tracer

import (
	"net/http"
	"time"

	"github.com/ipapp-go/ipapp/tracer/ext"
)

// fromHeaders implements spec.md §4.2 "from_headers": parse B3 headers,
// falling back to a fresh root span if no trace id is present. Sampled=0
// marks the span (and, by construction, every span created beneath it) as
// skipped.
func fromHeaders(logger *Logger, name string, h http.Header, opts ...SpanOption) *Span {
	traceHex := h.Get(ext.HeaderB3TraceID)
	if traceHex == "" {
		return newRootSpan(logger, name, opts...)
	}
	traceID, err := traceIDFromHex(traceHex)
	if err != nil {
		return newRootSpan(logger, name, opts...)
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

	// The incoming X-B3-SpanId identifies the caller's span, not this one:
	// this call mints its own fresh spanID (set above) and becomes that
	// caller's child, so its parentID is the caller's span id (spec.md §8
	// "Header round-trip": from_headers(S.to_headers()) must yield
	// S'.parent_id = S.id). X-B3-ParentSpanId names the caller's own
	// parent (a grandparent relative to the new span) and has no bearing
	// on the new span's direct parent.
	if spanHex := h.Get(ext.HeaderB3SpanID); spanHex != "" {
		if id, err := spanIDFromHex(spanHex); err == nil {
			s.parentID = &id
		}
	}
	// Flags: 1 is B3's debug flag: it forces the trace sampled regardless
	// of what X-B3-Sampled says, so it is checked first.
	if h.Get(ext.HeaderB3Flags) == "1" {
		s.debug = true
	} else if h.Get(ext.HeaderB3Sampled) == "0" {
		s.skip = true
	}

	for _, o := range opts {
		o(s)
	}
	return s
}

// ToHeaders implements spec.md §4.2 "to_headers": emit B3 headers for
// outbound propagation.
func (s *Span) ToHeaders() http.Header {
	h := http.Header{}
	h.Set(ext.HeaderB3TraceID, s.traceID.String())
	h.Set(ext.HeaderB3SpanID, spanIDString(s.spanID))
	if s.parentID != nil {
		h.Set(ext.HeaderB3ParentSpanID, spanIDString(*s.parentID))
	}
	if s.debug {
		h.Set(ext.HeaderB3Flags, "1")
	}
	if s.Skipped() {
		h.Set(ext.HeaderB3Sampled, "0")
	} else {
		h.Set(ext.HeaderB3Sampled, "1")
	}
	return h
}
