package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipapp-go/ipapp/rpc"
)

func buildRegistry(t *testing.T) *rpc.Registry {
	t.Helper()
	r := rpc.NewRegistry()
	require.NoError(t, r.Register("sum", func(_ context.Context, a struct {
		A int `json:"a"`
		B int `json:"b"`
	}) (int, error) {
		return a.A + a.B, nil
	}))
	require.NoError(t, r.Register("subtract", func(_ context.Context, a struct {
		A int `json:"a"`
		B int `json:"b"`
	}) (int, error) {
		return a.A - a.B, nil
	}))
	require.NoError(t, r.Register("notify", func(_ context.Context, a struct {
		Message string `json:"message"`
	}) (string, error) {
		return "", nil
	}))
	require.NoError(t, r.Register("get_data", func(_ context.Context, _ struct{}) ([]int, error) {
		return []int{1, 2, 3}, nil
	}))
	return r
}

func TestMixedBatchOutcomesPreserveOrder(t *testing.T) {
	r := buildRegistry(t)
	h := NewHandler(r, nil)

	body := `[
		{"jsonrpc":"2.0","method":"sum","params":[1,2],"id":"1"},
		{"jsonrpc":"2.0","method":"notify","params":{"message":"hello"}},
		{"jsonrpc":"2.0","method":"subtract","params":[1,2],"id":"2"},
		{"foo":"boo"},
		{"jsonrpc":"2.0","method":"get_data","id":"9"}
	]`

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got []response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 4)

	assert.Equal(t, `"1"`, string(got[0].ID))
	assert.Equal(t, float64(3), got[0].Result)

	assert.Equal(t, `"2"`, string(got[1].ID))
	assert.Equal(t, float64(-1), got[1].Result)

	assert.Equal(t, "null", string(got[2].ID))
	require.NotNil(t, got[2].Error)
	assert.Equal(t, -32600, got[2].Error.Code)

	assert.Equal(t, `"9"`, string(got[3].ID))
	assert.Equal(t, []interface{}{float64(1), float64(2), float64(3)}, got[3].Result)
}

func TestAllNotificationBatchProducesEmptyBody(t *testing.T) {
	r := buildRegistry(t)
	h := NewHandler(r, nil)

	body := `[{"jsonrpc":"2.0","method":"notify","params":{"message":"a"}},{"jsonrpc":"2.0","method":"notify","params":{"message":"b"}}]`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestEmptyBatchIsInvalidRequest(t *testing.T) {
	r := buildRegistry(t)
	h := NewHandler(r, nil)

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`[]`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Error)
	assert.Equal(t, -32600, got.Error.Code)
}

func TestSingleRequestMethodNotFound(t *testing.T) {
	r := buildRegistry(t)
	h := NewHandler(r, nil)

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","method":"nope","id":"1"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Error)
	assert.Equal(t, -32601, got.Error.Code)
}

func TestDiscoverMethod(t *testing.T) {
	r := buildRegistry(t)
	h := NewHandler(r, func() interface{} { return map[string]interface{}{"openrpc": "1.2.6"} })

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","method":"rpc.discover","id":"1"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Nil(t, got.Error)
	assert.NotNil(t, got.Result)
}
