package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/mbroadst/amqp10-rpc-go/transport"
)

type pendingRequest struct {
	done   chan struct{}
	result json.RawMessage
	items  []json.RawMessage
	err    error
	timer  *time.Timer
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{done: make(chan struct{})}
}

func (p *pendingRequest) settle(result json.RawMessage, items []json.RawMessage, err error) {
	p.result, p.items, p.err = result, items, err
	close(p.done)
}

// Client issues request/response and fire-and-forget calls over a
// transport.Client. One Client owns one response receiver (dynamic by
// default) and one sender bound to the server's address.
type Client struct {
	opts    *ClientOptions
	sender  transport.Sender
	recv    transport.Receiver
	log     func(string, ...any)
	metrics *Metrics

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool

	wg sync.WaitGroup
}

// Connect creates, in parallel in spirit (sequentially here, since Go gives
// us no free concurrency primitive simpler than this), a response receiver
// and a sender bound to address, per the correlation algorithm's setup
// step. The receiver is dynamic unless opts.ResponseAddress is set.
func Connect(ctx context.Context, client transport.Client, address string, opts *ClientOptions) (*Client, error) {
	respAddr := opts.responseAddress()
	recv, err := client.CreateReceiver(ctx, respAddr, transport.ReceiverOptions{
		Dynamic:       respAddr == "",
		SettleMode:    transport.SettleModeManual,
		CreditQuantum: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: create response receiver: %w", err)
	}
	sender, err := client.CreateSender(ctx, address, transport.SenderOptions{})
	if err != nil {
		recv.Close(ctx)
		return nil, fmt.Errorf("rpc: create sender to %q: %w", address, err)
	}

	c := &Client{
		opts:    opts,
		sender:  sender,
		recv:    recv,
		log:     opts.logFunc(),
		metrics: NewMetrics(),
		pending: make(map[string]*pendingRequest),
	}
	c.wg.Add(1)
	go c.pump(ctx)
	return c, nil
}

// Close releases the client's links. Pending requests are rejected with
// the link-failure treatment: all of them, immediately.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.rejectAll(fmt.Errorf("rpc: client closed"))
	c.sender.Close(ctx)
	err := c.recv.Close(ctx)
	c.wg.Wait()
	return err
}

// Metrics returns the per-client metrics collector.
func (c *Client) Metrics() *Metrics { return c.metrics }

func (c *Client) pump(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-c.recv.Messages():
			if !ok {
				return
			}
			c.handleResponse(ctx, msg)
			c.recv.Accept(ctx, msg)
		case err, ok := <-c.recv.Errors():
			if !ok {
				return
			}
			c.log("rpc: response link failed: %v", err)
			c.rejectAll(err)
			return
		}
	}
}

func (c *Client) handleResponse(ctx context.Context, msg *transport.Message) {
	if msg.CorrelationID == "" {
		c.log("rpc: response with no correlation id, dropped")
		return
	}
	c.mu.Lock()
	p, ok := c.pending[msg.CorrelationID]
	if ok {
		delete(c.pending, msg.CorrelationID)
	}
	c.mu.Unlock()
	if !ok {
		c.log("rpc: unknown correlation id %q, dropped", msg.CorrelationID)
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}

	var probe struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	trimmedIsArray := len(msg.Body) > 0 && msg.Body[0] == '['
	if trimmedIsArray {
		var arr []struct {
			Result json.RawMessage `json:"result"`
			Error  json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(msg.Body, &arr); err != nil {
			p.settle(nil, nil, fmt.Errorf("rpc: malformed batch response: %w", err))
			return
		}
		items := make([]json.RawMessage, len(arr))
		for i, it := range arr {
			if it.Result != nil {
				items[i] = it.Result
			} else {
				items[i] = it.Error
			}
		}
		p.settle(nil, items, nil)
		return
	}
	if err := json.Unmarshal(msg.Body, &probe); err != nil {
		p.settle(nil, nil, fmt.Errorf("rpc: malformed response: %w", err))
		return
	}
	if probe.Error != nil {
		p.settle(nil, nil, newWireError(probe.Error.Code, probe.Error.Message, probe.Error.Data))
		return
	}
	p.settle(probe.Result, nil, nil)
}

func (c *Client) rejectAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()
	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.settle(nil, nil, err)
	}
}

// Call invokes method and waits for its response. With no args, params are
// omitted. With one arg that is a map or struct, it is sent as named
// params; otherwise it is wrapped in a single-element positional list.
// With more than one arg, all of them become a positional list.
func (c *Client) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	params, err := buildParams(args)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, RequestEnvelope{Method: method, Params: params})
}

// CallBatch sends items as a single batch request and returns one entry per
// item: each element's result field if present, else its error field.
func (c *Client) CallBatch(ctx context.Context, methods []string, argsPerItem [][]any) ([]json.RawMessage, error) {
	if len(methods) != len(argsPerItem) {
		return nil, &BadRequestError{Reason: "methods and argsPerItem must have the same length"}
	}
	batch := make([]RequestEnvelope, len(methods))
	for i, m := range methods {
		params, err := buildParams(argsPerItem[i])
		if err != nil {
			return nil, err
		}
		batch[i] = RequestEnvelope{Method: m, Params: params}
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}
	return c.callBatchBody(ctx, body)
}

func (c *Client) call(ctx context.Context, req RequestEnvelope) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, req.Method, body)
}

func (c *Client) callBatchBody(ctx context.Context, body json.RawMessage) ([]json.RawMessage, error) {
	_, items, err := c.sendRaw(ctx, "batch", body)
	return items, err
}

func (c *Client) send(ctx context.Context, method string, body json.RawMessage) (json.RawMessage, error) {
	result, _, err := c.sendRaw(ctx, method, body)
	return result, err
}

// sendRaw implements the correlation algorithm: generate a correlator,
// build the envelope, run the client interceptor, send, and only then
// install the pending entry, so the table never holds a request whose send
// is in flight or failed.
func (c *Client) sendRaw(ctx context.Context, method string, body json.RawMessage) (json.RawMessage, []json.RawMessage, error) {
	correlator := newCorrelator()
	timeout, hasTimeout := c.opts.timeout()

	out := &transport.OutboundMessage{
		Body:          body,
		ReplyTo:       c.recv.Address(),
		CorrelationID: correlator,
	}
	if hasTimeout {
		out.TTL = timeout
	}

	suppressed := false
	if ic := c.opts.interceptor(); ic != nil {
		ctx = withClient(ctx, c)
		suppressed = !ic(ctx, correlator, out)
	}

	if !suppressed {
		if err := c.sender.Send(ctx, out); err != nil {
			return nil, nil, err
		}
		bytesWrittenCount.Add(int64(len(body)))
	}

	// The pending entry is installed only after the send completes, so the
	// table never contains a request whose send is in flight or failed. A
	// request whose send a suppressing interceptor skipped is installed
	// unsent, so that it can still time out.
	p := newPendingRequest()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("rpc: client closed")
	}
	c.pending[correlator] = p
	c.mu.Unlock()

	if hasTimeout {
		p.timer = time.AfterFunc(timeout, func() {
			c.mu.Lock()
			_, stillPending := c.pending[correlator]
			if stillPending {
				delete(c.pending, correlator)
			}
			c.mu.Unlock()
			if stillPending {
				p.settle(nil, nil, &RequestTimeoutError{Method: method})
			}
		})
	}

	select {
	case <-p.done:
		return p.result, p.items, p.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, correlator)
		c.mu.Unlock()
		if p.timer != nil {
			p.timer.Stop()
		}
		return nil, nil, ctx.Err()
	}
}

// Notify sends method as a fire-and-forget call: no replyTo is attached, so
// the server never replies and this method's completion reflects only the
// outcome of the send itself.
func (c *Client) Notify(ctx context.Context, method string, args ...any) error {
	params, err := buildParams(args)
	if err != nil {
		return err
	}
	body, err := json.Marshal(RequestEnvelope{Method: method, Params: params})
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, &transport.OutboundMessage{Body: body})
}

func buildParams(args []any) (json.RawMessage, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		if isMapping(args[0]) {
			return json.Marshal(args[0])
		}
		return json.Marshal([]any{args[0]})
	default:
		return json.Marshal(args)
	}
}

func isMapping(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct:
		return true
	default:
		return false
	}
}
