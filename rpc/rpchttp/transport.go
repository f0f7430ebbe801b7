// Package rpchttp is the HTTP transport shared by rpc/jsonrpc and
// rpc/restrpc (spec.md §4.6): request routing via gorilla/mux, B3 trace
// propagation on ingress/egress, and a discovery sub-router (mounted with
// go-chi/chi/v5, matching the teacher's habit of reaching for chi wherever
// a lightweight, independently-mountable router is useful) serving
// generated OpenAPI/OpenRPC documents.
package rpchttp

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ipapp-go/ipapp/rpc"
	"github.com/ipapp-go/ipapp/tracer"
	"github.com/ipapp-go/ipapp/tracer/ext"
)

// Transport is the HTTP surface shared by the JSON-RPC and positional-RPC
// mounts: one gorilla/mux router, one trace-span-per-request middleware,
// and one chi sub-router carrying the discovery document endpoints.
type Transport struct {
	Router    *mux.Router
	Registry  *rpc.Registry
	Logger    *tracer.Logger
	Discovery *Discovery

	log *logrus.Entry
}

// NewTransport builds a Transport over registry, minting root spans (or
// continuing a caller's B3 trace) from logger.
func NewTransport(registry *rpc.Registry, logger *tracer.Logger) *Transport {
	t := &Transport{
		Router:   mux.NewRouter(),
		Registry: registry,
		Logger:   logger,
		log:      logrus.WithField("component", "rpchttp.transport"),
	}
	t.Discovery = newDiscovery(registry)
	t.Router.PathPrefix("/openapi.json").Handler(t.Discovery.chiRouter())
	t.Router.PathPrefix("/openapi.yaml").Handler(t.Discovery.chiRouter())
	t.Router.PathPrefix("/swagger").Handler(t.Discovery.chiRouter())
	t.Router.PathPrefix("/redoc").Handler(t.Discovery.chiRouter())
	return t
}

// MountJSONRPC registers an http.Handler (built by rpc/jsonrpc.NewHandler)
// at base, wrapped in the trace middleware.
func (t *Transport) MountJSONRPC(base string, h http.Handler) {
	t.Router.Handle(base, t.TraceMiddleware(h)).Methods(http.MethodPost)
}

// MountRESTRPC registers an http.Handler (built by rpc/restrpc.NewHandler)
// under base + "/{method}", wrapped in the trace middleware, accepting
// both POST and the CORS preflight OPTIONS (spec.md §4.6).
func (t *Transport) MountRESTRPC(base string, h http.Handler) {
	t.Discovery.RESTBase = base
	t.Router.PathPrefix(base).Handler(t.TraceMiddleware(h)).Methods(http.MethodPost, http.MethodOptions)
}

// MountHealth registers h (an *health.Handler) at "/health" for both GET
// and HEAD (spec.md §6 "Health endpoint"). Not wrapped in TraceMiddleware:
// the health handler mints its own span so it can decide for itself
// whether to skip it.
func (t *Transport) MountHealth(h http.Handler) {
	t.Router.Handle("/health", h).Methods(http.MethodGet, http.MethodHead)
}

// chiRouter mounts the discovery handlers under a standalone chi router so
// it can be reused (or served standalone) independent of the outer
// gorilla/mux tree.
func (d *Discovery) chiRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/openapi.json", d.ServeOpenAPIJSON)
	r.Get("/openapi.yaml", d.ServeOpenAPIYAML)
	r.Get("/swagger", d.ServeSwaggerUI)
	r.Get("/redoc", d.ServeRedoc)
	return r
}

// TraceMiddleware extracts B3 headers from the incoming request (or mints
// a fresh root if none are present), binds the span to the request
// context for the duration of the handler, and finishes it with the
// response status once the handler returns (spec.md §4.2, §4.6).
func (t *Transport) TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := t.Logger.FromHeaders(r.Method+" "+r.URL.Path, r.Header, tracer.WithKind(ext.SpanKindServer))
		c := tracer.ContextWithSpan(r.Context(), span)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(c))

		span.SetTagForAdapter(ext.AdapterRequests, "http.status_code", strconv.Itoa(rec.status))
		span.SetTagForAdapter(ext.AdapterRequests, "http.duration_ms", strconv.FormatInt(time.Since(start).Milliseconds(), 10))
		var err error
		if rec.status >= 500 {
			err = errHTTPStatus(rec.status)
		}
		span.Finish(err)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type errHTTPStatus int

func (e errHTTPStatus) Error() string { return "http status " + strconv.Itoa(int(e)) }

// ctxTrace exposes the active span to handlers that want to add
// request-specific tags before it finishes.
func ctxTrace(c context.Context) (*tracer.Span, bool) {
	return tracer.SpanFromContext(c)
}
