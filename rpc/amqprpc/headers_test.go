package amqprpc

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestHeaderAMQPRoundTrip(t *testing.T) {
	h := http.Header{}
	h.Set("X-B3-TraceId", "abc123")
	h.Set("X-B3-ParentSpanId", "def456")

	table := httpToHeaders(h)
	back := headersToHTTP(table)

	assert.Equal(t, "abc123", back.Get("X-B3-TraceId"))
	assert.Equal(t, "def456", back.Get("X-B3-ParentSpanId"))
}

func TestHeadersToHTTPIgnoresNonStringValues(t *testing.T) {
	table := amqp.Table{"X-B3-Sampled": "1", "x-retry-count": int32(3)}
	h := headersToHTTP(table)
	assert.Equal(t, "1", h.Get("X-B3-Sampled"))
	assert.Empty(t, h.Get("x-retry-count"))
}
