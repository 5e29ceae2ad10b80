// Package amqptransport implements transport.Client over a real AMQP 1.0
// connection using github.com/Azure/go-amqp. It is the domain-stack
// counterpart to memtransport: where memtransport is an in-process fake for
// tests, amqptransport talks to an actual broker, translating dynamic
// receivers, manual settlement, and reply-to/correlation-id properties into
// go-amqp calls.
//
// Grounded on the wiring patterns in Azure's own amqp-backed RPC links
// (azure-amqp-common-go/v4's rpc package and azservicebus's internal rpc
// package), which attach a sender at a fixed address and a receiver at a
// reply address, correlating by CorrelationID.
package amqptransport

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/Azure/go-amqp"

	"github.com/mbroadst/amqp10-rpc-go/transport"
)

// Client wraps an *amqp.Session to satisfy transport.Client.
type Client struct {
	session *amqp.Session
}

// New wraps an established AMQP session.
func New(session *amqp.Session) *Client {
	return &Client{session: session}
}

// CreateReceiver implements transport.Client.
func (c *Client) CreateReceiver(ctx context.Context, address string, opts transport.ReceiverOptions) (transport.Receiver, error) {
	ropts := &amqp.ReceiverOptions{
		SettlementMode: settlementMode(opts.SettleMode).Ptr(),
	}
	if opts.CreditQuantum > 0 {
		ropts.Credit = int32(opts.CreditQuantum)
	} else {
		ropts.Credit = 1
	}
	if opts.Dynamic || address == "" {
		ropts.Properties = amqp.Properties{"dynamic": true}
	}

	link, err := c.session.NewReceiver(ctx, address, ropts)
	if err != nil {
		return nil, fmt.Errorf("amqptransport: create receiver: %w", err)
	}

	r := &receiver{
		link:    link,
		address: resolveAddress(address, link),
		msgCh:   make(chan *transport.Message),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
		byBody:  make(map[*transport.Message]*amqp.Message),
	}
	go r.pump(ctx)
	return r, nil
}

// CreateSender implements transport.Client.
func (c *Client) CreateSender(ctx context.Context, address string, opts transport.SenderOptions) (transport.Sender, error) {
	link, err := c.session.NewSender(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("amqptransport: create sender: %w", err)
	}
	return &sender{link: link}, nil
}

func settlementMode(m transport.SettleMode) amqp.ReceiverSettleMode {
	if m == transport.SettleModeAuto {
		return amqp.ReceiverSettleModeFirst
	}
	return amqp.ReceiverSettleModeSecond
}

// resolveAddress reports the link's effective source address. A dynamic
// attach only learns its broker-assigned address once the link completes;
// until then the link name is the best available identifier.
func resolveAddress(requested string, link *amqp.Receiver) string {
	if requested != "" {
		return requested
	}
	return link.LinkName()
}

type receiver struct {
	link    *amqp.Receiver
	address string
	msgCh   chan *transport.Message
	errCh   chan error
	done    chan struct{}

	mu     sync.Mutex
	byBody map[*transport.Message]*amqp.Message
}

func (r *receiver) Address() string                    { return r.address }
func (r *receiver) Messages() <-chan *transport.Message { return r.msgCh }
func (r *receiver) Errors() <-chan error                { return r.errCh }

func (r *receiver) pump(ctx context.Context) {
	defer close(r.msgCh)
	defer close(r.errCh)
	for {
		raw, err := r.link.Receive(ctx, nil)
		if err != nil {
			select {
			case r.errCh <- err:
			default:
			}
			return
		}
		m := &transport.Message{Body: bodyOf(raw)}
		if raw.Properties != nil {
			if raw.Properties.ReplyTo != nil {
				m.ReplyTo = *raw.Properties.ReplyTo
			}
			if s, ok := raw.Properties.CorrelationID.(string); ok {
				m.CorrelationID = s
			}
		}
		r.mu.Lock()
		r.byBody[m] = raw
		r.mu.Unlock()

		select {
		case r.msgCh <- m:
		case <-r.done:
			return
		}
	}
}

func bodyOf(m *amqp.Message) []byte {
	if len(m.Data) > 0 {
		return m.Data[0]
	}
	return nil
}

func (r *receiver) take(msg *transport.Message) *amqp.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw := r.byBody[msg]
	delete(r.byBody, msg)
	return raw
}

func (r *receiver) Accept(ctx context.Context, msg *transport.Message) error {
	raw := r.take(msg)
	if raw == nil {
		return nil
	}
	return r.link.AcceptMessage(ctx, raw)
}

func (r *receiver) Release(ctx context.Context, msg *transport.Message) error {
	raw := r.take(msg)
	if raw == nil {
		return nil
	}
	return r.link.ReleaseMessage(ctx, raw)
}

func (r *receiver) Reject(ctx context.Context, msg *transport.Message, cause error) error {
	raw := r.take(msg)
	if raw == nil {
		return nil
	}
	var amqpErr *amqp.Error
	if cause != nil {
		amqpErr = &amqp.Error{Condition: amqp.ErrCondInternalError, Description: cause.Error()}
	}
	return r.link.RejectMessage(ctx, raw, amqpErr)
}

func (r *receiver) Modify(ctx context.Context, msg *transport.Message, undeliverableHere bool) error {
	raw := r.take(msg)
	if raw == nil {
		return nil
	}
	return r.link.ModifyMessage(ctx, raw, &amqp.ModifyMessageOptions{
		UndeliverableHere: undeliverableHere,
	})
}

func (r *receiver) Close(ctx context.Context) error {
	close(r.done)
	return r.link.Close(ctx)
}

type sender struct {
	link *amqp.Sender
}

func (s *sender) Send(ctx context.Context, m *transport.OutboundMessage) error {
	msg := &amqp.Message{
		Data: [][]byte{m.Body},
		Properties: &amqp.MessageProperties{
			CorrelationID: orNil(m.CorrelationID),
		},
	}
	if m.ReplyTo != "" {
		msg.Properties.ReplyTo = &m.ReplyTo
	}
	var sendOpts *amqp.SendOptions
	if m.TTL > 0 {
		msg.Header = &amqp.MessageHeader{TTL: m.TTL}
	}
	return s.link.Send(ctx, msg, sendOpts)
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *sender) Close(ctx context.Context) error {
	return s.link.Close(ctx)
}
