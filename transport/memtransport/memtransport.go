// Package memtransport is an in-process fake of transport.Client: a
// synchronous pipe generalized from a byte-stream pair to an addressed,
// message-oriented broker so it can stand in for an AMQP-style broker in
// tests and examples.
package memtransport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mbroadst/amqp10-rpc-go/transport"
)

// Broker is a minimal in-memory message broker: senders publish to a named
// address, receivers attach to a named (or dynamically assigned) address,
// and messages are delivered one at a time per receiver, honoring its
// credit quantum (the rpc core always attaches with a quantum of 1).
type Broker struct {
	mu     sync.Mutex
	boxes  map[string]*mailbox
	dynSeq int64
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{boxes: make(map[string]*mailbox)}
}

type mailbox struct {
	mu    sync.Mutex
	inbox []*transport.Message
	rcv   *receiver // at most one receiver per address, as with a real link
}

// CreateReceiver implements transport.Client.
func (b *Broker) CreateReceiver(ctx context.Context, address string, opts transport.ReceiverOptions) (transport.Receiver, error) {
	if opts.Dynamic || address == "" {
		address = fmt.Sprintf("dynamic-%d", atomic.AddInt64(&b.dynSeq, 1))
	}
	credit := opts.CreditQuantum
	if credit < 1 {
		credit = 1
	}

	b.mu.Lock()
	box, ok := b.boxes[address]
	if !ok {
		box = &mailbox{}
		b.boxes[address] = box
	}
	b.mu.Unlock()

	box.mu.Lock()
	if box.rcv != nil {
		box.mu.Unlock()
		return nil, fmt.Errorf("memtransport: address %q already has a receiver", address)
	}
	r := newReceiver(b, address, box, credit)
	box.rcv = r
	queued := box.inbox
	box.inbox = nil
	box.mu.Unlock()

	go r.pump()
	for _, m := range queued {
		r.deliver(m)
	}
	return r, nil
}

// CreateSender implements transport.Client.
func (b *Broker) CreateSender(ctx context.Context, address string, opts transport.SenderOptions) (transport.Sender, error) {
	return &sender{broker: b, address: address}, nil
}

func (b *Broker) publish(address string, m *transport.Message) error {
	b.mu.Lock()
	box, ok := b.boxes[address]
	if !ok {
		box = &mailbox{}
		b.boxes[address] = box
	}
	b.mu.Unlock()

	box.mu.Lock()
	rcv := box.rcv
	if rcv == nil {
		box.inbox = append(box.inbox, m)
		box.mu.Unlock()
		return nil
	}
	box.mu.Unlock()
	rcv.deliver(m)
	return nil
}

func (b *Broker) removeReceiver(address string, r *receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if box, ok := b.boxes[address]; ok {
		box.mu.Lock()
		if box.rcv == r {
			box.rcv = nil
		}
		box.mu.Unlock()
	}
}

// receiver delivers messages to msgCh one credit-slot at a time. Settlement
// (Accept/Release/Reject/Modify) frees a slot, mirroring the broker-side
// credit accounting a real AMQP link performs for a quantum-1 receiver.
type receiver struct {
	broker  *Broker
	address string
	box     *mailbox

	mu          sync.Mutex
	cond        *sync.Cond
	pending     []*transport.Message
	creditAvail int
	inflight    map[*transport.Message]struct{}
	closed      bool

	msgCh chan *transport.Message
	errCh chan error
	done  chan struct{}
}

func newReceiver(b *Broker, address string, box *mailbox, credit int) *receiver {
	r := &receiver{
		broker:      b,
		address:     address,
		box:         box,
		creditAvail: credit,
		inflight:    make(map[*transport.Message]struct{}),
		msgCh:       make(chan *transport.Message),
		errCh:       make(chan error, 1),
		done:        make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *receiver) Address() string                    { return r.address }
func (r *receiver) Messages() <-chan *transport.Message { return r.msgCh }
func (r *receiver) Errors() <-chan error                { return r.errCh }

func (r *receiver) deliver(m *transport.Message) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, m)
	r.mu.Unlock()
	r.cond.Signal()
}

func (r *receiver) pump() {
	defer close(r.msgCh)
	defer close(r.errCh)
	for {
		r.mu.Lock()
		for !r.closed && (len(r.pending) == 0 || r.creditAvail == 0) {
			r.cond.Wait()
		}
		if r.closed {
			r.mu.Unlock()
			return
		}
		next := r.pending[0]
		r.pending = r.pending[1:]
		r.creditAvail--
		r.inflight[next] = struct{}{}
		r.mu.Unlock()

		select {
		case r.msgCh <- next:
		case <-r.done:
			return
		}
	}
}

func (r *receiver) settle(msg *transport.Message) {
	r.mu.Lock()
	if _, ok := r.inflight[msg]; ok {
		delete(r.inflight, msg)
		r.creditAvail++
	}
	r.mu.Unlock()
	r.cond.Signal()
}

func (r *receiver) Accept(ctx context.Context, msg *transport.Message) error {
	r.settle(msg)
	return nil
}

func (r *receiver) Release(ctx context.Context, msg *transport.Message) error {
	r.settle(msg)
	return nil
}

func (r *receiver) Reject(ctx context.Context, msg *transport.Message, cause error) error {
	r.settle(msg)
	return nil
}

func (r *receiver) Modify(ctx context.Context, msg *transport.Message, undeliverableHere bool) error {
	r.settle(msg)
	return nil
}

func (r *receiver) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	close(r.done)
	r.cond.Broadcast()
	r.broker.removeReceiver(r.address, r)
	return nil
}

type sender struct {
	broker  *Broker
	address string
	mu      sync.Mutex
	closed  bool
}

func (s *sender) Send(ctx context.Context, m *transport.OutboundMessage) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("memtransport: sender to %q is closed", s.address)
	}
	return s.broker.publish(s.address, &transport.Message{
		Body:          m.Body,
		ReplyTo:       m.ReplyTo,
		CorrelationID: m.CorrelationID,
	})
}

func (s *sender) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
