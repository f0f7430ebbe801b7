package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskURLMasksCredentialLikeParams(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"password", "https://host/path?password=hunter2"},
		{"passwd", "https://host/path?passwd=hunter2"},
		{"pwd", "https://host/path?pwd=hunter2"},
		{"token", "https://host/path?token=abc123"},
		{"secret", "https://host/path?secret=abc123"},
		{"secrete", "https://host/path?secrete=abc123"},
		{"passphrase", "https://host/path?passphrase=abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := MaskURL(tc.in)
			assert.Contains(t, out, "=%2A%2A%2A")
			assert.NotContains(t, out, "hunter2")
			assert.NotContains(t, out, "abc123")
		})
	}
}

func TestMaskURLLeavesOtherParamsAlone(t *testing.T) {
	out := MaskURL("https://host/path?user=alice&password=hunter2")
	assert.Contains(t, out, "user=alice")
	assert.NotContains(t, out, "hunter2")
}

func TestMaskURLIdempotent(t *testing.T) {
	once := MaskURL("https://host/path?token=abc123")
	twice := MaskURL(once)
	assert.Equal(t, once, twice)
}

func TestMaskURLInvalidURLReturnedUnchanged(t *testing.T) {
	in := "://not a url"
	assert.Equal(t, in, MaskURL(in))
}
