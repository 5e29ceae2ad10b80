package rpc

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"
)

func defaultConcurrency() int { return runtime.NumCPU() }

// A Logger records text logs from a Server or a Client. A nil logger
// discards log input.
type Logger func(text string)

// Printf writes a formatted message to lg. If lg == nil, the message is
// discarded.
func (lg Logger) Printf(msg string, args ...any) {
	if lg != nil {
		lg(fmt.Sprintf(msg, args...))
	}
}

// StdLogger adapts a *log.Logger to a Logger. If logger == nil, the returned
// Logger sends logs to the default logger.
func StdLogger(logger *log.Logger) Logger {
	if logger == nil {
		return func(text string) { log.Output(2, text) }
	}
	return func(text string) { logger.Output(2, text) }
}

// GlobalInterceptor is the pre-dispatch hook invoked for every inbound
// message before decoding is interpreted further. Returning false takes
// ownership of message settlement; the dispatch pipeline sends no reply.
type GlobalInterceptor func(ctx context.Context, rawMessage []byte, decoded any) bool

// MethodInterceptor is the per-method hook invoked after params have been
// resolved to positional order, and before the handler runs. Returning
// false skips the handler and sends no reply for the request (within a
// batch, the item's entry becomes {"result":null}). Unlike
// GlobalInterceptor, a veto does not hand settlement to the interceptor:
// the server still settles the delivery with Accept.
type MethodInterceptor func(ctx context.Context, rawMessage []byte, positionalArgs []any) bool

// CompletionInterceptor runs after a handler (or a whole batch) has
// produced its response, before the reply is sent. Returning false
// suppresses the reply.
type CompletionInterceptor func(ctx context.Context, rawMessage []byte, request, response any) bool

// ServerOptions control the behavior of a Server. A nil *ServerOptions
// provides sensible defaults, and it is safe to share one ServerOptions
// value among multiple servers.
type ServerOptions struct {
	// Logger receives diagnostic text. Unset discards it.
	Logger Logger

	// Interceptor is the global pre-dispatch hook.
	Interceptor GlobalInterceptor

	// CompletionInterceptor is the post-dispatch, pre-reply hook.
	CompletionInterceptor CompletionInterceptor

	// IgnoreUnknownMethods suppresses MethodNotFound replies for
	// unregistered methods instead of returning them to the caller.
	IgnoreUnknownMethods bool

	// Concurrency bounds the number of handler invocations that may run at
	// once across all of a server's listener addresses. A value less than 1
	// uses runtime.NumCPU().
	Concurrency int
}

func (o *ServerOptions) logFunc() func(string, ...any) {
	if o == nil || o.Logger == nil {
		return func(string, ...any) {}
	}
	return o.Logger.Printf
}

func (o *ServerOptions) interceptor() GlobalInterceptor {
	if o == nil {
		return nil
	}
	return o.Interceptor
}

func (o *ServerOptions) completionInterceptor() CompletionInterceptor {
	if o == nil {
		return nil
	}
	return o.CompletionInterceptor
}

func (o *ServerOptions) ignoreUnknownMethods() bool { return o != nil && o.IgnoreUnknownMethods }

func (o *ServerOptions) concurrency() int64 {
	if o == nil || o.Concurrency < 1 {
		return int64(defaultConcurrency())
	}
	return int64(o.Concurrency)
}

// ClientInterceptor runs before a request is sent, and may mutate the
// outbound envelope. Returning false suppresses the send; the pending
// completion remains outstanding (and will time out if enabled).
type ClientInterceptor func(ctx context.Context, correlator string, envelope any) bool

// ClientOptions control the behavior of a Client. A nil *ClientOptions
// provides sensible defaults.
type ClientOptions struct {
	// Logger receives diagnostic text. Unset discards it.
	Logger Logger

	// ResponseAddress, when set, anchors the client's response receiver at
	// a fixed address instead of requesting a broker-assigned one.
	ResponseAddress string

	// Timeout bounds how long a Call waits for its response. A nil
	// *ClientOptions uses 5 seconds; in a non-nil ClientOptions a value of 0
	// (including leaving the field unset) disables the timeout.
	Timeout time.Duration

	// Interceptor runs before each outbound send.
	Interceptor ClientInterceptor
}

const defaultTimeout = 5 * time.Second

func (o *ClientOptions) logFunc() func(string, ...any) {
	if o == nil || o.Logger == nil {
		return func(string, ...any) {}
	}
	return o.Logger.Printf
}

func (o *ClientOptions) responseAddress() string {
	if o == nil {
		return ""
	}
	return o.ResponseAddress
}

// timeout reports the configured deadline, and whether a deadline applies
// at all (the zero value is indistinguishable from "unset" otherwise, since
// 0 explicitly disables the timeout).
func (o *ClientOptions) timeout() (time.Duration, bool) {
	if o == nil {
		return defaultTimeout, true
	}
	if o.Timeout == 0 {
		return 0, false
	}
	return o.Timeout, true
}

func (o *ClientOptions) interceptor() ClientInterceptor {
	if o == nil {
		return nil
	}
	return o.Interceptor
}
