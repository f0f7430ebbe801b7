// Package jsonrpc implements the JSON-RPC 2.0 framing of spec.md §4.6 over
// a shared rpc.Registry: single and batch requests, notifications,
// concurrent batch execution with order preserved, and the rpc.discover
// method.
package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ipapp-go/ipapp/rpc"
)

// request is one JSON-RPC 2.0 envelope (spec.md §4.6).
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// response is one JSON-RPC 2.0 result/error envelope.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *errorEnvelope  `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type errorEnvelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

var nullID = json.RawMessage("null")

// Handler serves JSON-RPC 2.0 requests against a registry (spec.md §4.6
// "JSON-RPC over HTTP").
type Handler struct {
	Discover rpc.DiscoverFunc
	registry *rpc.Registry
}

// NewHandler builds a JSON-RPC handler dispatching against registry. If
// discover is non-nil it backs the top-level rpc.discover method.
func NewHandler(registry *rpc.Registry, discover rpc.DiscoverFunc) *Handler {
	return &Handler{registry: registry, Discover: discover}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeEnvelope(w, errResponse(nullID, rpc.NewParseError("Parse error")))
		return
	}

	trimmed := trimLeadingSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		h.handleBatch(r.Context(), w, raw)
		return
	}
	h.handleSingle(r.Context(), w, raw, true)
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

func (h *Handler) handleBatch(ctx context.Context, w http.ResponseWriter, raw json.RawMessage) {
	var envelopes []json.RawMessage
	if err := json.Unmarshal(raw, &envelopes); err != nil || len(envelopes) == 0 {
		writeEnvelope(w, errResponse(nullID, rpc.NewInvalidRequest("Invalid Request")))
		return
	}

	results := make([]*response, len(envelopes))
	var wg sync.WaitGroup
	wg.Add(len(envelopes))
	for i, env := range envelopes {
		i, env := i, env
		go func() {
			defer wg.Done()
			results[i] = h.execOne(ctx, env)
		}()
	}
	wg.Wait()

	out := make([]response, 0, len(results))
	for _, resp := range results {
		if resp != nil {
			out = append(out, *resp)
		}
	}
	if len(out) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handler) handleSingle(ctx context.Context, w http.ResponseWriter, raw json.RawMessage, writeEmptyIsNotification bool) {
	resp := h.execOne(ctx, raw)
	if resp == nil {
		if writeEmptyIsNotification {
			w.WriteHeader(http.StatusOK)
		}
		return
	}
	writeEnvelope(w, *resp)
}

// execOne decodes and executes one envelope, returning nil for a valid
// notification (no "id") since notifications are executed but never
// appear in the response (spec.md §4.6).
func (h *Handler) execOne(ctx context.Context, raw json.RawMessage) *response {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		r := errResponse(nullID, rpc.NewInvalidRequest("Invalid Request"))
		return &r
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		if len(req.ID) == 0 {
			r := errResponse(nullID, rpc.NewInvalidRequest("Invalid Request"))
			return &r
		}
		r := errResponse(req.ID, rpc.NewInvalidRequest("Invalid Request"))
		return &r
	}

	id := req.ID
	isNotification := len(id) == 0
	if isNotification {
		id = nullID
	}

	if req.Method == "rpc.discover" && h.Discover != nil {
		doc := h.Discover()
		if isNotification {
			return nil
		}
		r := response{JSONRPC: "2.0", Result: doc, ID: id}
		return &r
	}

	kwargs, positional, bindErr := decodeParams(req.Params)
	if bindErr != nil {
		if isNotification {
			return nil
		}
		r := errResponse(id, bindErr)
		return &r
	}

	var result interface{}
	var rpcErr *rpc.Error
	if positional != nil {
		result, rpcErr = h.registry.ExecPositional(ctx, req.Method, positional)
	} else {
		result, rpcErr = h.registry.ExecKwargs(ctx, req.Method, kwargs)
	}

	if isNotification {
		return nil
	}
	if rpcErr != nil {
		r := errResponse(id, rpcErr)
		return &r
	}
	return &response{JSONRPC: "2.0", Result: result, ID: id}
}

func decodeParams(raw json.RawMessage) (map[string]interface{}, []interface{}, *rpc.Error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil, nil
	}
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var positional []interface{}
		if err := json.Unmarshal(raw, &positional); err != nil {
			return nil, nil, rpc.NewInvalidRequest("Invalid Request")
		}
		return nil, positional, nil
	}
	var kwargs map[string]interface{}
	if err := json.Unmarshal(raw, &kwargs); err != nil {
		return nil, nil, rpc.NewInvalidRequest("Invalid Request")
	}
	return kwargs, nil, nil
}

func errResponse(id json.RawMessage, err *rpc.Error) response {
	return response{
		JSONRPC: "2.0",
		Error:   &errorEnvelope{Code: err.JSONRPCCode(), Message: err.Message, Data: err.Data},
		ID:      id,
	}
}

func writeEnvelope(w http.ResponseWriter, resp response) {
	_ = json.NewEncoder(w).Encode(resp)
}
