package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resultStruct struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestSerializeBytesUseBase64Marker(t *testing.T) {
	out, err := Serialize([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "data:application/octet-stream;base64,YWJj", out)
}

func TestSerializeTimeUsesRFC3339(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out, err := Serialize(ts)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T03:04:05Z", out)
}

func TestSerializeStructBecomesMap(t *testing.T) {
	out, err := Serialize(resultStruct{Name: "x", N: 2})
	require.NoError(t, err)
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "x", m["name"])
	assert.Equal(t, float64(2), m["n"])
}

func TestSerializeNilPointer(t *testing.T) {
	var p *resultStruct
	out, err := Serialize(p)
	require.NoError(t, err)
	assert.Nil(t, out)
}
