package rpc

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mbroadst/amqp10-rpc-go/handler"
	"github.com/mbroadst/amqp10-rpc-go/internal/validate"
	"github.com/mbroadst/amqp10-rpc-go/transport"
)

// MethodSpec describes one method registration. Method and Handler are
// required; ParamNames must list exactly the handler's non-context
// parameters, in declared order, since Go does not preserve parameter
// names at runtime. Schema, when set, is compiled once at Bind time and
// re-validated on every dispatch.
type MethodSpec struct {
	Method      string
	Handler     handler.Func
	ParamNames  []string
	Schema      json.RawMessage
	Interceptor MethodInterceptor
}

// Method builds a MethodSpec from a typed Go function and its explicit
// parameter names, using the handler package's reflection-based adapter.
func Method(method string, fn any, paramNames []string) (MethodSpec, error) {
	fi, err := handler.New(fn, paramNames)
	if err != nil {
		return MethodSpec{}, &InvalidMethodDefinitionError{Reason: err.Error()}
	}
	return MethodSpec{Method: method, Handler: fi.Fn, ParamNames: fi.Params}, nil
}

// AutoFunc builds a MethodSpec the way Method does, but derives both the
// method name and its parameter names from fn via reflection: fn's name
// comes from the runtime, and a single struct argument's exported field
// names become the parameter list. Returns InvalidMethodNameError if fn's
// name cannot be derived (for example, a closure).
func AutoFunc(fn any) (MethodSpec, error) {
	fi, err := handler.NewAuto(fn)
	if err != nil {
		return MethodSpec{}, &InvalidMethodDefinitionError{Reason: err.Error()}
	}
	if fi.Name == "" {
		return MethodSpec{}, &InvalidMethodNameError{}
	}
	return MethodSpec{Method: fi.Name, Handler: fi.Fn, ParamNames: fi.Params}, nil
}

type boundMethod struct {
	spec   MethodSpec
	schema *validate.Method
}

// Server is the RPC dispatch engine: applications Bind methods to it, then
// Listen on one or more transport addresses. One Server may service
// multiple listener addresses sharing the same method registry.
type Server struct {
	opts     *ServerOptions
	compiler *validate.Compiler
	sem      *semaphore.Weighted
	metrics  *Metrics
	log      func(string, ...any)
	start    time.Time

	mu      sync.RWMutex
	methods map[string]*boundMethod
	closing chan struct{}
	wg      sync.WaitGroup
}

// NewServer creates a Server ready to accept Bind calls. A nil opts value
// uses defaults.
func NewServer(opts *ServerOptions) *Server {
	return &Server{
		opts:     opts,
		compiler: validate.NewCompiler(),
		sem:      semaphore.NewWeighted(opts.concurrency()),
		metrics:  NewMetrics(),
		log:      opts.logFunc(),
		start:    time.Now().UTC(),
		methods:  make(map[string]*boundMethod),
		closing:  make(chan struct{}),
	}
}

// ServerInfo is an atomic snapshot of a Server's registered methods and
// basic counters, for local introspection by embedders and tests. It is not
// exposed over the wire.
type ServerInfo struct {
	// Methods lists the names currently bound on the server.
	Methods []string `json:"methods,omitempty"`

	// Metrics holds the server's counters and max-value trackers, keyed by
	// name ("max:"-prefixed for max-value trackers), plus the process-wide
	// expvar counters shared by every Server and Client in this process.
	// Where a server counter has the same name as a process-wide one
	// ("rpc_requests", "rpc_errors"), the server's own value is reported.
	Metrics map[string]any `json:"metrics,omitempty"`

	// StartTime is when the Server was constructed.
	StartTime time.Time `json:"startTime,omitempty"`
}

// Info returns an atomic snapshot of s's registered methods and counters.
func (s *Server) Info() *ServerInfo {
	s.mu.RLock()
	methods := make([]string, 0, len(s.methods))
	for name := range s.methods {
		methods = append(methods, name)
	}
	s.mu.RUnlock()
	sort.Strings(methods)

	info := &ServerInfo{
		Methods:   methods,
		Metrics:   make(map[string]any),
		StartTime: s.start,
	}
	globalMetrics.Do(func(kv expvar.KeyValue) {
		info.Metrics[kv.Key] = json.RawMessage(kv.Value.String())
	})
	counters, maxValues := make(map[string]int64), make(map[string]int64)
	s.metrics.Snapshot(counters, maxValues)
	for k, v := range counters {
		info.Metrics[k] = v
	}
	for k, v := range maxValues {
		info.Metrics["max:"+k] = v
	}
	return info
}

// Bind registers spec. It is safe to call before any Listen call; calling
// it concurrently with dispatch requires no extra synchronization, since
// Bind itself takes the registry lock.
func (s *Server) Bind(spec MethodSpec) error {
	if spec.Method == "" {
		return &InvalidMethodDefinitionError{Reason: "missing method name"}
	}
	if spec.Handler == nil {
		return &InvalidMethodDefinitionError{Reason: "missing handler"}
	}

	bm := &boundMethod{spec: spec}
	if len(spec.Schema) > 0 {
		var probe struct {
			Properties map[string]json.RawMessage `json:"properties"`
		}
		if err := json.Unmarshal(spec.Schema, &probe); err != nil {
			return &InvalidValidationDefinitionError{Reason: err.Error()}
		}
		allowed := make(map[string]struct{}, len(spec.ParamNames))
		for _, n := range spec.ParamNames {
			allowed[n] = struct{}{}
		}
		for k := range probe.Properties {
			if _, ok := allowed[k]; !ok {
				return &InvalidValidationDefinitionError{
					Reason: fmt.Sprintf("schema property %q is not a declared parameter", k),
				}
			}
		}
		compiled, err := s.compiler.Compile(spec.Method, spec.Schema)
		if err != nil {
			return &InvalidValidationDefinitionError{Reason: err.Error()}
		}
		bm.schema = compiled
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.methods[spec.Method]; exists {
		return &DuplicateMethodError{Method: spec.Method}
	}
	s.methods[spec.Method] = bm
	return nil
}

func (s *Server) lookup(method string) *boundMethod {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.methods[method]
}

// Listen attaches a manual-settlement, credit-quantum-1 receiver at address
// and begins dispatching inbound messages to it. It returns once the
// receiver is attached; delivery happens on a background goroutine until
// the Server is closed or the link fails.
func (s *Server) Listen(ctx context.Context, client transport.Client, address string) error {
	recv, err := client.CreateReceiver(ctx, address, transport.ReceiverOptions{
		SettleMode:    transport.SettleModeManual,
		CreditQuantum: 1,
	})
	if err != nil {
		return fmt.Errorf("rpc: listen on %q: %w", address, err)
	}

	if _, ok := s.replyTransport(ctx); !ok {
		ctx = WithReplyClient(ctx, client)
	}
	serversActiveGauge.Add(1)
	s.wg.Add(1)
	go s.pump(ctx, recv)
	return nil
}

func (s *Server) pump(ctx context.Context, recv transport.Receiver) {
	defer s.wg.Done()
	defer serversActiveGauge.Add(-1)
	for {
		select {
		case msg, ok := <-recv.Messages():
			if !ok {
				return
			}
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.sem.Release(1)
				s.handleMessage(ctx, recv, msg)
			}()
		case err, ok := <-recv.Errors():
			if !ok {
				return
			}
			s.log("rpc: link error: %v", err)
			return
		case <-s.closing:
			return
		}
	}
}

// Close stops dispatching and waits for in-flight handlers to finish.
func (s *Server) Close() error {
	close(s.closing)
	s.wg.Wait()
	return nil
}

// Metrics returns the per-server metrics collector.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) handleMessage(ctx context.Context, recv transport.Receiver, msg *transport.Message) {
	if msg.Body == nil {
		recv.Modify(ctx, msg, true)
		return
	}
	rpcRequestsCount.Add(1)
	bytesReadCount.Add(int64(len(msg.Body)))
	s.metrics.Count("rpc_requests", 1)
	s.metrics.SetMaxValue("request_bytes", int64(len(msg.Body)))

	ctx = withServer(ctx, s)
	ctx = withMetrics(ctx, s.metrics)

	decoded, err := decodeBody(msg.Body)
	if err != nil {
		rpcErrorsCount.Add(1)
		body, merr := json.Marshal(struct {
			Error *Error `json:"error"`
		}{Error: &Error{Code: ParseError, Message: "Parse error", Data: rawJSONString(msg.Body)}})
		if merr != nil {
			body = json.RawMessage(`{"error":{"code":-32700,"message":"Parse error"}}`)
		}
		recv.Accept(ctx, msg)
		s.reply(ctx, recv, msg, body)
		return
	}

	if gi := s.opts.interceptor(); gi != nil {
		var probe any
		if decoded.isBatch {
			probe = decoded.batch
		} else {
			probe = decoded.single
		}
		if !gi(ctx, msg.Body, probe) {
			// The interceptor owns settlement and reply; nothing further to do.
			return
		}
	}

	var responseBody json.RawMessage
	if decoded.isBatch {
		// A batch is accepted as a single delivery before its items are
		// processed: settlement of the envelope is independent of how many
		// of its items succeed or fail.
		recv.Accept(ctx, msg)
		responseBody = s.dispatchBatch(ctx, msg, decoded.batch)
	} else {
		responseBody = s.dispatchSingle(ctx, msg, decoded.single)
		recv.Accept(ctx, msg)
	}

	if ci := s.opts.completionInterceptor(); ci != nil {
		if !ci(ctx, msg.Body, decoded, responseBody) {
			return
		}
	}
	if responseBody != nil {
		s.reply(ctx, recv, msg, responseBody)
	}
}

func rawJSONString(raw []byte) json.RawMessage {
	encoded, err := json.Marshal(string(raw))
	if err != nil {
		return nil
	}
	return encoded
}

// dispatchSingle resolves and invokes the method named in req, returning
// the wire body for the response, or nil if req was a notification that
// produced no reply.
func (s *Server) dispatchSingle(ctx context.Context, msg *transport.Message, req RequestEnvelope) json.RawMessage {
	value, err := s.invoke(ctx, msg, req)
	isNotification := msg.ReplyTo == "" && msg.CorrelationID == ""
	if _, suppressed := err.(*methodNotFoundSilently); suppressed {
		return nil
	}
	if err != nil {
		rpcErrorsCount.Add(1)
		s.metrics.Count("rpc_errors", 1)
		if isNotification {
			s.log("rpc: notification %q failed: %v", req.Method, err)
			return nil
		}
		return formatError(err)
	}
	if isNotification {
		notificationsDispatch.Add(1)
		return nil
	}
	out, merr := formatResult(value)
	if merr != nil {
		return formatError(merr)
	}
	return out
}

// dispatchBatch processes each item of batch sequentially, in declared
// order, accumulating one response entry per item regardless of whether it
// succeeded.
func (s *Server) dispatchBatch(ctx context.Context, msg *transport.Message, batch []RequestEnvelope) json.RawMessage {
	items := make([]json.RawMessage, len(batch))
	for i, req := range batch {
		value, err := s.invoke(ctx, msg, req)
		if _, suppressed := err.(*methodNotFoundSilently); suppressed {
			items[i] = json.RawMessage(`{"result":null}`)
			continue
		}
		if err != nil {
			rpcErrorsCount.Add(1)
			s.metrics.Count("rpc_errors", 1)
			items[i] = formatError(err)
			continue
		}
		out, merr := formatResult(value)
		if merr != nil {
			items[i] = formatError(merr)
			continue
		}
		items[i] = out
	}
	out, err := json.Marshal(items)
	if err != nil {
		return formatError(err)
	}
	return out
}

// invoke resolves req's method, validates and reorders its parameters, and
// calls the bound handler. It returns the handler's raw result value.
func (s *Server) invoke(ctx context.Context, msg *transport.Message, req RequestEnvelope) (any, error) {
	bm := s.lookup(req.Method)
	if bm == nil {
		if s.opts.ignoreUnknownMethods() {
			return nil, &methodNotFoundSilently{}
		}
		return nil, newWireError(MethodNotFound,
			fmt.Sprintf("No such method: %s", req.Method),
			sourceData(msg, req))
	}

	named, err := paramsToNamed(bm.spec.ParamNames, req.Params)
	if err != nil {
		return nil, newWireError(InvalidParams, err.Error(), sourceData(msg, req))
	}

	if bm.schema != nil {
		violations, verr := bm.schema.Validate(named)
		if verr != nil {
			return nil, newWireError(InternalError, verr.Error(), nil)
		}
		if len(violations) > 0 {
			data, _ := json.Marshal(struct {
				Messages []validate.Error `json:"messages"`
				Source   json.RawMessage  `json:"source"`
			}{Messages: violations, Source: sourceData(msg, req)})
			return nil, newWireError(InvalidParams, "invalid params", data)
		}
	}

	positional := namedToPositional(bm.spec.ParamNames, named)

	if mi := bm.spec.Interceptor; mi != nil {
		anyArgs := make([]any, len(positional))
		for i, p := range positional {
			var v any
			_ = json.Unmarshal(p, &v)
			anyArgs[i] = v
		}
		if !mi(ctx, msg.Body, anyArgs) {
			return nil, &methodNotFoundSilently{} // suppressed: no reply
		}
	}

	ctx = withInboundRequest(ctx, &req)
	return bm.spec.Handler(ctx, positional)
}

// methodNotFoundSilently marks a suppressed dispatch outcome (unknown
// method under ignoreUnknownMethods, or an interceptor veto) that must
// produce no reply at all, distinct from a MethodNotFound wire error.
type methodNotFoundSilently struct{}

func (*methodNotFoundSilently) Error() string { return "rpc: suppressed" }

func sourceData(msg *transport.Message, req RequestEnvelope) json.RawMessage {
	data, _ := json.Marshal(struct {
		Source struct {
			ReplyTo string          `json:"replyTo"`
			Request RequestEnvelope `json:"request"`
		} `json:"source"`
	}{Source: struct {
		ReplyTo string          `json:"replyTo"`
		Request RequestEnvelope `json:"request"`
	}{ReplyTo: msg.ReplyTo, Request: req}})
	return data
}

func (s *Server) reply(ctx context.Context, recv transport.Receiver, msg *transport.Message, body json.RawMessage) {
	if msg.ReplyTo == "" {
		return
	}
	// dispatchSingle already filtered pure notifications; a suppressed
	// outcome surfaces here as a nil body.
	if body == nil {
		return
	}
	client, ok := s.replyTransport(ctx)
	if !ok {
		s.log("rpc: no transport client available to reply to %q", msg.ReplyTo)
		return
	}
	sender, err := client.CreateSender(ctx, msg.ReplyTo, transport.SenderOptions{})
	if err != nil {
		s.log("rpc: create reply sender to %q: %v", msg.ReplyTo, err)
		return
	}
	defer sender.Close(ctx)

	out := &transport.OutboundMessage{Body: body}
	if msg.CorrelationID != "" {
		out.CorrelationID = msg.CorrelationID
	}
	s.metrics.SetMaxValue("response_bytes", int64(len(body)))
	if err := sender.Send(ctx, out); err != nil {
		s.log("rpc: send reply to %q: %v", msg.ReplyTo, err)
		return
	}
	bytesWrittenCount.Add(int64(len(body)))
}

func (s *Server) replyTransport(ctx context.Context) (transport.Client, bool) {
	c, ok := ctx.Value(replyClientKey{}).(transport.Client)
	return c, ok
}

type replyClientKey struct{}

// WithReplyClient returns a context that carries the transport client a
// Server should use to create reply senders. Listen's caller should wrap
// ctx with this before calling Listen if replies require a distinct
// client handle from the one used to attach the receiver.
func WithReplyClient(ctx context.Context, client transport.Client) context.Context {
	return context.WithValue(ctx, replyClientKey{}, client)
}
