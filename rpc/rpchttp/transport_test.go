package rpchttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipapp-go/ipapp/rpc"
	"github.com/ipapp-go/ipapp/tracer"
)

func TestTraceMiddlewareBindsSpanAndFinishesOnReturn(t *testing.T) {
	reg := rpc.NewRegistry()
	tr := NewTransport(reg, tracer.NewLogger())

	var sawSpan bool
	mw := tr.TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawSpan = tracer.SpanFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	assert.True(t, sawSpan)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDiscoveryDocumentListsRegisteredMethods(t *testing.T) {
	reg := rpc.NewRegistry()
	require.NoError(t, reg.Register("ping", func(_ context.Context, _ struct{}) (string, error) {
		return "pong", nil
	}, rpc.WithSummary("health check")))

	d := newDiscovery(reg)
	doc := d.Document()

	buf, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"ping"`)
	assert.Contains(t, string(buf), `"health check"`)
}
