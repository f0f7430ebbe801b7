// Package ext holds the well-known string constants the span substrate and
// its adapters agree on: span kinds, canonical tag names, and adapter
// identities. Mirrors the constants package the teacher ships alongside its
// tracer (ddtrace/ext) so call sites read `ext.AdapterZipkin` / `ext.SpanKindServer`
// instead of repeating string literals.
package ext

// SpanKind values, per spec.md §3 ("kind ∈ {CLIENT, SERVER, none}").
const (
	SpanKindClient = "CLIENT"
	SpanKindServer = "SERVER"
	SpanKindNone   = ""
)

// Canonical tag names recorded by Span.Error and friends.
const (
	TagError        = "error"
	TagErrorClass   = "error.class"
	TagErrorMessage = "error.message"
)

// Canonical annotation kinds.
const (
	AnnotationTraceback = "traceback"
)

// Well-known adapter identities a span's per-adapter overrides are keyed by.
const (
	AdapterZipkin     = "zipkin"
	AdapterPrometheus = "prometheus"
	AdapterSentry     = "sentry"
	AdapterRequests   = "requests"
)

// B3 propagation header names, per spec.md §4.2 / §6.
const (
	HeaderB3TraceID      = "X-B3-TraceId"
	HeaderB3SpanID       = "X-B3-SpanId"
	HeaderB3ParentSpanID = "X-B3-ParentSpanId"
	HeaderB3Sampled      = "X-B3-Sampled"
	HeaderB3Flags        = "X-B3-Flags"
)
