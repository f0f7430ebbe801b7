// Package rpc implements the transport-agnostic RPC execution engine of
// spec.md §4.5: a method registry, argument binder, canonical result
// serialization, and the shared error taxonomy JSON-RPC and positional-RPC
// (package rpc/jsonrpc, rpc/restrpc) both map onto their own wire format.
package rpc

import "fmt"

// ErrorKind is one of the error kinds named in spec.md §4.5's table —
// "kinds, not type names": each kind carries its own JSON-RPC code and
// HTTP status, independent of the Go type used to represent it.
type ErrorKind int

const (
	KindParseError ErrorKind = iota
	KindInvalidRequest
	KindMethodNotFound
	KindInvalidArguments
	KindInternalError
	KindServerError
	KindUserDefined
)

// Error is the single error type every RPC-facing failure is expressed as.
// Declared per-method errors (ErrorSpec) are UserDefined Errors with a
// fixed Code and Message format known ahead of time; anything else is
// wrapped as ServerError with Cause set to the original value.
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
	Data    interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpc: %s (code %d): %v", e.Message, e.Code, e.Cause)
	}
	return fmt.Sprintf("rpc: %s (code %d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// JSONRPCCode returns the JSON-RPC 2.0 error code for e (spec.md §4.5's
// table, "JSON-RPC code" column).
func (e *Error) JSONRPCCode() int { return e.Code }

// HTTPStatus returns the HTTP status the positional-RPC transport mirrors
// for e (spec.md §4.5's table, "HTTP status" column): 200 by default for
// UserDefined errors, unless Code falls in [400,599], in which case the
// HTTP layer mirrors it.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindParseError, KindInvalidRequest, KindInvalidArguments:
		return 400
	case KindMethodNotFound:
		return 404
	case KindInternalError, KindServerError:
		return 500
	case KindUserDefined:
		if e.Code >= 400 && e.Code <= 599 {
			return e.Code
		}
		return 200
	default:
		return 500
	}
}

func NewParseError(message string) *Error {
	return &Error{Kind: KindParseError, Code: -32700, Message: message}
}

func NewInvalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Code: -32600, Message: message}
}

func NewMethodNotFound(name string) *Error {
	return &Error{Kind: KindMethodNotFound, Code: -32601, Message: "Method not found", Data: name}
}

func NewInvalidArguments(message string) *Error {
	return &Error{Kind: KindInvalidArguments, Code: -32602, Message: message}
}

func NewInternalError(cause error) *Error {
	return &Error{Kind: KindInternalError, Code: -32603, Message: "Internal error", Cause: cause}
}

func NewServerError(cause error) *Error {
	return &Error{Kind: KindServerError, Code: -32000, Message: "Server error", Cause: cause}
}

// ErrorSpec declares a user-defined error a method may return, so
// rpc.discover (§4.6) can publish it up front.
type ErrorSpec struct {
	Code    int
	Message string
}

// NewUserError constructs a declared, user-defined error (spec.md §4.5,
// §7: "code ≥ 0 ... format-string message with named placeholders").
func NewUserError(code int, message string, data interface{}) *Error {
	return &Error{Kind: KindUserDefined, Code: code, Message: message, Data: data}
}

// ErrorFromCode rebuilds an *Error from a wire-level {code, message, data}
// envelope, used by RPC clients to surface a server-side failure under the
// same taxonomy the server classified it with.
func ErrorFromCode(code int, message string, data interface{}) *Error {
	kind := KindUserDefined
	switch code {
	case -32700:
		kind = KindParseError
	case -32600:
		kind = KindInvalidRequest
	case -32601:
		kind = KindMethodNotFound
	case -32602:
		kind = KindInvalidArguments
	case -32603:
		kind = KindInternalError
	case -32000:
		kind = KindServerError
	}
	return &Error{Kind: kind, Code: code, Message: message, Data: data}
}

// AsRPCError maps any error into an *Error per spec.md §4.5 step 5:
// "framework errors pass through; other exceptions become ServerError
// carrying the original as cause."
func AsRPCError(err error) *Error {
	if err == nil {
		return nil
	}
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}
	return NewServerError(err)
}
