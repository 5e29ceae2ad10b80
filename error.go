package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mbroadst/amqp10-rpc-go/code"
)

// Re-export the code constants so callers need not import the code package
// for the common case.
const (
	ParseError     = code.ParseError
	InvalidRequest = code.InvalidRequest
	MethodNotFound = code.MethodNotFound
	InvalidParams  = code.InvalidParams
	InternalError  = code.InternalError
)

// Code is an alias of code.Code for callers that do not need the subpackage
// directly.
type Code = code.Code

// Error is the concrete type of a protocol error. It is both the Go error
// returned by client calls that fail on the server side, and the JSON
// encoding of a response's error field.
type Error struct {
	Code    Code            `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

// ErrCode reports the wire code carried by e.
func (e *Error) ErrCode() Code { return e.Code }

// WithData returns a copy of e whose Data field holds the JSON encoding of
// v. If v is nil or fails to marshal, e is returned unmodified.
func (e *Error) WithData(v any) *Error {
	if v == nil {
		return e
	}
	data, err := json.Marshal(v)
	if err != nil {
		return e
	}
	return &Error{Code: e.Code, Message: e.Message, Data: data}
}

// Errorf builds an *Error with the given code and a formatted message.
func Errorf(c Code, format string, args ...any) *Error {
	return &Error{Code: c, Message: fmt.Sprintf(format, args...)}
}

// newWireError reconstructs the typed protocol error subtype for code c.
func newWireError(c Code, message string, data json.RawMessage) error {
	base := &Error{Code: c, Message: message, Data: data}
	switch c {
	case code.ParseError:
		return &ParseErrorType{base}
	case code.InvalidRequest:
		return &InvalidRequestError{base}
	case code.MethodNotFound:
		return &MethodNotFoundError{base}
	case code.InvalidParams:
		return &InvalidParamsError{base}
	case code.InternalError:
		return &InternalErrorType{base}
	default:
		return base
	}
}

// ParseErrorType is the client-side reconstruction of a ParseError (-32700)
// response.
type ParseErrorType struct{ Err *Error }

// InvalidRequestError is the client-side reconstruction of an InvalidRequest
// (-32600) response.
type InvalidRequestError struct{ Err *Error }

// MethodNotFoundError is the client-side reconstruction of a MethodNotFound
// (-32601) response.
type MethodNotFoundError struct{ Err *Error }

// InvalidParamsError is the client-side reconstruction of an InvalidParams
// (-32602) response.
type InvalidParamsError struct{ Err *Error }

// InternalErrorType is the client-side reconstruction of an InternalError
// (-32603) response.
type InternalErrorType struct{ Err *Error }

func (e *ParseErrorType) Error() string      { return e.Err.Error() }
func (e *ParseErrorType) Unwrap() error      { return e.Err }
func (e *InvalidRequestError) Error() string { return e.Err.Error() }
func (e *InvalidRequestError) Unwrap() error { return e.Err }
func (e *MethodNotFoundError) Error() string { return e.Err.Error() }
func (e *MethodNotFoundError) Unwrap() error { return e.Err }
func (e *InvalidParamsError) Error() string  { return e.Err.Error() }
func (e *InvalidParamsError) Unwrap() error  { return e.Err }
func (e *InternalErrorType) Error() string   { return e.Err.Error() }
func (e *InternalErrorType) Unwrap() error   { return e.Err }

// Local server errors, raised synchronously to the embedder from Bind,
// Method and AutoFunc.

// DuplicateMethodError is returned by Bind when the method name is already
// registered.
type DuplicateMethodError struct{ Method string }

func (e *DuplicateMethodError) Error() string {
	return fmt.Sprintf("rpc: method %q is already bound", e.Method)
}

// InvalidMethodNameError is returned by AutoFunc when a handler's
// introspectable name is empty or missing.
type InvalidMethodNameError struct{}

func (e *InvalidMethodNameError) Error() string { return "rpc: could not derive a method name" }

// InvalidMethodDefinitionError is returned by Bind when a method definition
// is missing its required Method field.
type InvalidMethodDefinitionError struct{ Reason string }

func (e *InvalidMethodDefinitionError) Error() string {
	return "rpc: invalid method definition: " + e.Reason
}

// InvalidValidationDefinitionError is returned by Bind when a params schema
// is not an object schema, or declares properties outside the handler's
// parameter names.
type InvalidValidationDefinitionError struct{ Reason string }

func (e *InvalidValidationDefinitionError) Error() string {
	return "rpc: invalid validation definition: " + e.Reason
}

// Local client errors.

// BadRequestError is returned by Client.CallBatch when its methods and
// argsPerItem slices differ in length. Client.Notify does not return it:
// Notify takes no raw envelope and never attaches a replyTo.
type BadRequestError struct{ Reason string }

func (e *BadRequestError) Error() string { return "rpc: bad request: " + e.Reason }

// RequestTimeoutError is returned when a pending request's deadline elapses
// before a response arrives.
type RequestTimeoutError struct{ Method string }

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("rpc: request timeout waiting for %q", e.Method)
}

// AsProtocolError reports whether err is (or wraps) a wire protocol error,
// and returns it.
func AsProtocolError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
