// Package rpc provides the JSON-RPC 2.0 domain types and the method registry
// that the server bootstrap exposes over its transports.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Implementation-defined server error codes (reserved range -32000..-32099).
const (
	// CodeOversizedResponse is returned when a call result exceeds the
	// configured outbound payload ceiling.
	CodeOversizedResponse = -32001

	// CodeTooManySubscriptions is returned when a subscription request would
	// exceed the per-connection subscription ceiling.
	CodeTooManySubscriptions = -32002

	// CodeCallDenied is returned when the call policy rejects a method call.
	CodeCallDenied = -32003

	// CodeSubscriptionUnavailable is returned when a subscription method is
	// invoked over a transport that cannot carry notifications (plain HTTP).
	CodeSubscriptionUnavailable = -32004
)

// Request is a decoded JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no ID and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is a JSON-RPC 2.0 response.
// Exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface so *Error can travel through
// error-returning call paths.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError creates an error object with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error object with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrMethodNotFound is the canonical "method not found" error.
func ErrMethodNotFound() *Error {
	return NewError(CodeMethodNotFound, "method not found")
}

// ErrInvalidParams is the canonical "invalid params" error.
func ErrInvalidParams() *Error {
	return NewError(CodeInvalidParams, "invalid params")
}

// NewResultResponse builds a success response for the given request ID.
func NewResultResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse builds an error response for the given request ID.
func NewErrorResponse(id json.RawMessage, err *Error) Response {
	return Response{JSONRPC: Version, ID: id, Error: err}
}

// Notification is a JSON-RPC 2.0 notification sent from server to client,
// used to deliver subscription items.
type Notification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  SubscriptionParams `json:"params"`
}

// SubscriptionParams is the params object carried by subscription
// notifications: the subscription ID plus one item.
type SubscriptionParams struct {
	Subscription string `json:"subscription"`
	Result       any    `json:"result"`
}

// NewNotification builds a subscription notification for the given
// notification method name.
func NewNotification(method, subID string, result any) Notification {
	return Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  SubscriptionParams{Subscription: subID, Result: result},
	}
}
