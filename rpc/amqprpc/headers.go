package amqprpc

import (
	"net/http"

	amqp "github.com/rabbitmq/amqp091-go"
)

// headersToHTTP adapts an AMQP headers table to http.Header so the B3
// trace codec in package tracer (which only knows about http.Header) can
// be reused verbatim for the AMQP transport.
func headersToHTTP(t amqp.Table) http.Header {
	h := http.Header{}
	for k, v := range t {
		if s, ok := v.(string); ok {
			h.Set(k, s)
		}
	}
	return h
}

// httpToHeaders is headersToHTTP's inverse, used to carry B3 headers in
// an outbound AMQP Publishing's Headers property (spec.md §6 "Trace
// headers propagate via the AMQP headers property when enabled").
func httpToHeaders(h http.Header) amqp.Table {
	t := amqp.Table{}
	for k := range h {
		t[k] = h.Get(k)
	}
	return t
}
