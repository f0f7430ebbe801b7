package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetArgs struct {
	Name  string `json:"name"`
	Times int    `json:"times" default:"1"`
}

func greet(_ context.Context, a greetArgs) (string, error) {
	out := ""
	for i := 0; i < a.Times; i++ {
		out += "hello " + a.Name + " "
	}
	return out, nil
}

type blobArgs struct {
	Blob []byte `json:"blob"`
}

func echoBlob(_ context.Context, a blobArgs) ([]byte, error) {
	return a.Blob, nil
}

var errBoom = errors.New("boom")

func failing(_ context.Context, _ struct{}) (string, error) {
	return "", errBoom
}

func panicky(_ context.Context, _ struct{}) (string, error) {
	panic("kaboom")
}

func TestRegistryExecKwargsAppliesDefaults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("greet", greet))

	out, rpcErr := r.ExecKwargs(context.Background(), "greet", map[string]interface{}{"name": "Ada"})
	require.Nil(t, rpcErr)
	assert.Equal(t, "hello Ada ", out)
}

func TestRegistryExecKwargsMissingRequired(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("greet", greet))

	_, rpcErr := r.ExecKwargs(context.Background(), "greet", map[string]interface{}{})
	require.NotNil(t, rpcErr)
	assert.Equal(t, KindInvalidArguments, rpcErr.Kind)
	assert.Equal(t, -32602, rpcErr.JSONRPCCode())
	assert.Equal(t, "Missing 1 required argument(s): name", rpcErr.Message)
}

func TestRegistryExecKwargsUnexpectedArgument(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("greet", greet))

	_, rpcErr := r.ExecKwargs(context.Background(), "greet", map[string]interface{}{"name": "Ada", "bogus": 1})
	require.NotNil(t, rpcErr)
	assert.Equal(t, KindInvalidArguments, rpcErr.Kind)
	assert.Equal(t, "Got an unexpected argument: bogus", rpcErr.Message)
}

func TestRegistryExecPositionalMapsByDeclaredOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("greet", greet))

	out, rpcErr := r.ExecPositional(context.Background(), "greet", []interface{}{"Lin", float64(2)})
	require.Nil(t, rpcErr)
	assert.Equal(t, "hello Lin hello Lin ", out)
}

func TestRegistryMethodNotFound(t *testing.T) {
	r := NewRegistry()
	_, rpcErr := r.ExecKwargs(context.Background(), "nope", nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, KindMethodNotFound, rpcErr.Kind)
	assert.Equal(t, 404, rpcErr.HTTPStatus())
}

func TestRegistryByteArgumentRoundTripsThroughBase64Marker(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("echoBlob", echoBlob))

	encoded := encodeBytes([]byte("hello bytes"))
	out, rpcErr := r.ExecKwargs(context.Background(), "echoBlob", map[string]interface{}{"blob": encoded})
	require.Nil(t, rpcErr)
	assert.Equal(t, encoded, out)
}

func TestRegistryMethodErrorWrappedAsServerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("failing", failing))

	_, rpcErr := r.ExecKwargs(context.Background(), "failing", map[string]interface{}{})
	require.NotNil(t, rpcErr)
	assert.Equal(t, KindServerError, rpcErr.Kind)
	assert.ErrorIs(t, rpcErr, errBoom)
}

func TestRegistryPanicRecoveredAsServerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("panicky", panicky))

	_, rpcErr := r.ExecKwargs(context.Background(), "panicky", map[string]interface{}{})
	require.NotNil(t, rpcErr)
	assert.Equal(t, KindServerError, rpcErr.Kind)
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("greet", greet))
	assert.Error(t, r.Register("greet", greet))
}

func TestRegistryRejectsNonFunctionShape(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("bad", 42))
}

func TestUserErrorPreservesDeclaredCode(t *testing.T) {
	err := NewUserError(1001, "insufficient balance", map[string]interface{}{"balance": 0})
	assert.Equal(t, 1001, err.JSONRPCCode())
	assert.Equal(t, 200, err.HTTPStatus())
}
