package rpchttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipapp-go/ipapp/rpc"
	"github.com/ipapp-go/ipapp/rpc/jsonrpc"
	"github.com/ipapp-go/ipapp/tracer"
	"github.com/ipapp-go/ipapp/tracer/ext"
)

func newEchoServer(t *testing.T) (*httptest.Server, *http.Header) {
	t.Helper()
	reg := rpc.NewRegistry()
	require.NoError(t, reg.Register("sum", func(_ context.Context, a struct {
		A int `json:"a"`
		B int `json:"b"`
	}) (int, error) {
		return a.A + a.B, nil
	}))

	var lastHeaders http.Header
	h := jsonrpc.NewHandler(reg, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastHeaders = r.Header.Clone()
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &lastHeaders
}

func TestClientCallDecodesResult(t *testing.T) {
	srv, _ := newEchoServer(t)
	c := NewClient(ClientConfig{URL: srv.URL}, nil)

	var got int
	require.NoError(t, c.Call(context.Background(), "sum", map[string]interface{}{"a": 2, "b": 3}, &got))
	assert.Equal(t, 5, got)
}

func TestClientCallSurfacesServerErrorUnderTaxonomy(t *testing.T) {
	srv, _ := newEchoServer(t)
	c := NewClient(ClientConfig{URL: srv.URL}, nil)

	err := c.Call(context.Background(), "nope", nil, nil)
	require.Error(t, err)
	rpcErr, ok := err.(*rpc.Error)
	require.True(t, ok)
	assert.Equal(t, rpc.KindMethodNotFound, rpcErr.Kind)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestClientPropagatesB3HeadersOnEgress(t *testing.T) {
	srv, captured := newEchoServer(t)
	c := NewClient(ClientConfig{URL: srv.URL, PropagateTrace: true}, nil)

	logger := tracer.NewLogger()
	root := logger.New("caller")
	ctx := tracer.ContextWithSpan(context.Background(), root)

	var got int
	require.NoError(t, c.Call(ctx, "sum", map[string]interface{}{"a": 1, "b": 1}, &got))
	root.Finish(nil)

	assert.Equal(t, root.TraceID().String(), captured.Get(ext.HeaderB3TraceID))
	assert.NotEmpty(t, captured.Get(ext.HeaderB3SpanID))
	assert.Equal(t, "1", captured.Get(ext.HeaderB3Sampled))
}
