// Package restrpc implements the positional REST-style RPC protocol of
// spec.md §4.6: one method per POST {base}/{method}[/], bare JSON results
// on success, a bare {error:...} envelope on failure, and CORS preflight
// handling.
package restrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ipapp-go/ipapp/rpc"
)

var httpPastTime = time.Unix(0, 0)

type ctxKey int

const responseWriterKey ctxKey = iota

// CORS configures the preflight response restrpc.Handler emits for
// OPTIONS requests (spec.md §4.6, §6 "Positional RPC over HTTP").
type CORS struct {
	Enabled        bool
	AllowedOrigin  string
	AllowedMethods string
	AllowedHeaders string
}

func defaultCORS(c CORS) CORS {
	if c.AllowedMethods == "" {
		c.AllowedMethods = "OPTIONS, POST"
	}
	if c.AllowedHeaders == "" {
		c.AllowedHeaders = "*"
	}
	if c.AllowedOrigin == "" {
		c.AllowedOrigin = "*"
	}
	return c
}

// Handler serves the positional RPC protocol under Base (e.g. "/rpc"):
// requests land at Base+"/"+method[+"/"] and the method name is taken
// verbatim from the path.
type Handler struct {
	Base     string
	registry *rpc.Registry
	cors     CORS
}

// NewHandler builds a positional-RPC handler dispatching against registry,
// mounted under base.
func NewHandler(base string, registry *rpc.Registry, cors CORS) *Handler {
	return &Handler{Base: strings.TrimSuffix(base, "/"), registry: registry, cors: defaultCORS(cors)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.serveCORSPreflight(w)
		return
	}

	method := strings.TrimPrefix(r.URL.Path, h.Base)
	method = strings.Trim(method, "/")
	if method == "" {
		writeBareError(w, rpc.NewInvalidRequest("missing method name"))
		return
	}

	kwargs, err := decodeBody(r)
	if err != nil {
		writeBareError(w, rpc.NewInvalidArguments(err.Error()))
		return
	}

	ctx := context.WithValue(r.Context(), responseWriterKey, w)
	result, rpcErr := h.registry.ExecKwargs(ctx, method, kwargs)
	if rpcErr != nil {
		writeBareError(w, rpcErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (h *Handler) serveCORSPreflight(w http.ResponseWriter) {
	if !h.cors.Enabled {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Access-Control-Allow-Methods", h.cors.AllowedMethods)
	w.Header().Set("Access-Control-Allow-Origin", h.cors.AllowedOrigin)
	w.Header().Set("Access-Control-Allow-Headers", h.cors.AllowedHeaders)
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, errInvalidBody
	}
	var kwargs map[string]interface{}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&kwargs); err != nil {
		return nil, errInvalidBody
	}
	if kwargs == nil {
		return nil, errInvalidBody
	}
	return kwargs, nil
}

var errInvalidBody = invalidBodyError{}

type invalidBodyError struct{}

func (invalidBodyError) Error() string { return "request body must be a single JSON object" }

func writeBareError(w http.ResponseWriter, err *rpc.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    err.JSONRPCCode(),
			"message": err.Message,
			"data":    err.Data,
		},
	})
}

// AppendHeader adds a response header from inside a method body, per
// spec.md §4.6's "server-side context helper to append response headers
// and set/delete cookies".
func AppendHeader(ctx context.Context, key, value string) {
	if w, ok := ctx.Value(responseWriterKey).(http.ResponseWriter); ok {
		w.Header().Add(key, value)
	}
}

// SetCookie sets a response cookie from inside a method body.
func SetCookie(ctx context.Context, cookie *http.Cookie) {
	if w, ok := ctx.Value(responseWriterKey).(http.ResponseWriter); ok {
		http.SetCookie(w, cookie)
	}
}

// DeleteCookie expires a response cookie named name from inside a method
// body.
func DeleteCookie(ctx context.Context, name string) {
	if w, ok := ctx.Value(responseWriterKey).(http.ResponseWriter); ok {
		http.SetCookie(w, &http.Cookie{Name: name, MaxAge: -1, Expires: httpPastTime})
	}
}
