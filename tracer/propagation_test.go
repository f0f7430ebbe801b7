package tracer

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ipapp-go/ipapp/tracer/ext"
)

func TestHeaderRoundTrip(t *testing.T) {
	logger := NewLogger()
	root := logger.New("request")
	child := root.NewChild("call")

	headers := child.ToHeaders()
	got := logger.FromHeaders("inbound", headers)

	assert.Equal(t, child.TraceID(), got.TraceID())
	parentID, ok := got.ParentID()
	assert.True(t, ok)
	assert.Equal(t, child.SpanID(), parentID)
	assert.Equal(t, child.Skipped(), got.Skipped())
}

func TestFromHeadersMissingTraceIDCreatesRoot(t *testing.T) {
	logger := NewLogger()
	s := logger.FromHeaders("inbound", http.Header{})
	assert.False(t, s.TraceID().IsZero())
	_, ok := s.ParentID()
	assert.False(t, ok)
}

func TestFromHeadersSampledZeroSkips(t *testing.T) {
	logger := NewLogger()
	root := logger.New("request")
	h := root.ToHeaders()
	h.Set(ext.HeaderB3Sampled, "0")

	got := logger.FromHeaders("inbound", h)
	assert.True(t, got.Skipped())
}

func TestLogger128BitTraceIDsRoundTrip(t *testing.T) {
	logger := NewLogger()
	logger.TraceID128 = true

	root := logger.New("request")
	assert.Len(t, root.TraceID().String(), 32)

	got := logger.FromHeaders("inbound", root.ToHeaders())
	assert.Equal(t, root.TraceID(), got.TraceID())
}

func TestFromHeadersDebugFlagWinsOverSampledZero(t *testing.T) {
	logger := NewLogger()
	root := logger.New("request")
	h := root.ToHeaders()
	h.Set(ext.HeaderB3Sampled, "0")
	h.Set(ext.HeaderB3Flags, "1")

	got := logger.FromHeaders("inbound", h)
	assert.False(t, got.Skipped())
	assert.Equal(t, "1", got.ToHeaders().Get(ext.HeaderB3Flags))

	child := got.NewChild("inner")
	assert.Equal(t, "1", child.ToHeaders().Get(ext.HeaderB3Flags))
}
