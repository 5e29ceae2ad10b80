// Package transport defines the abstract message-oriented transport that
// the rpc package overlays. It is
// opaque to the RPC core: a Client creates Receiver and Sender links, a
// Receiver delivers Messages and signals link failure, and a Sender
// publishes an OutboundMessage.
//
// Concrete implementations live in sibling packages: memtransport for an
// in-process fake used by tests and examples, amqptransport for a real
// AMQP 1.0 backing.
package transport

import (
	"context"
	"time"
)

// SettleMode selects how a Receiver's deliveries are settled.
type SettleMode int

const (
	// SettleModeManual requires the application to call one of
	// Receiver.Accept, Release, Reject, or Modify for every delivery. The
	// rpc package always requests this mode.
	SettleModeManual SettleMode = iota

	// SettleModeAuto settles deliveries automatically on receipt. Not used
	// by the rpc core, provided for completeness of the transport contract.
	SettleModeAuto
)

// ReceiverOptions configures a Receiver created by Client.CreateReceiver.
type ReceiverOptions struct {
	// Dynamic requests a broker-assigned address; Address() reports the
	// assigned value once the link is
	// attached. When false, the receiver attaches at the address passed to
	// CreateReceiver.
	Dynamic bool

	// SettleMode is the disposition discipline for this link.
	SettleMode SettleMode

	// CreditQuantum bounds the number of unsettled deliveries the broker may
	// have outstanding to this receiver at once. The rpc server always
	// requests a quantum of 1.
	CreditQuantum int
}

// SenderOptions configures a Sender created by Client.CreateSender.
type SenderOptions struct{}

// Message is an inbound delivery handed to the rpc core by a Receiver.
type Message struct {
	// Body is the raw message body. A nil Body signals the "message lacks a
	// body" sanity-check failure. Body may hold
	// either an encoded JSON string or a value the transport already
	// decoded to JSON bytes; the rpc core treats both identically.
	Body []byte

	// ReplyTo and CorrelationID mirror the AMQP message properties of the
	// same name.
	ReplyTo       string
	CorrelationID string
}

// OutboundMessage is a message the rpc core asks a Sender to publish.
type OutboundMessage struct {
	Body          []byte
	ReplyTo       string        // set on outbound requests
	CorrelationID string        // echoed on replies, set on outbound requests
	TTL           time.Duration // optional header.ttl hint
}

// Receiver is a settlement-capable inbound link.
type Receiver interface {
	// Address reports the link's source address. For a dynamic receiver
	// this is only meaningful after the first successful attach.
	Address() string

	// Messages returns the channel of inbound deliveries. It is closed when
	// the receiver is closed or the link fails.
	Messages() <-chan *Message

	// Errors returns the channel of link-level errors. A single error may
	// be published when the link
	// fails; it is closed thereafter.
	Errors() <-chan error

	// Accept, Release, Reject, and Modify settle a delivery previously
	// received on Messages(). Modify's undeliverableHere flag mirrors
	// a malformed-message disposition.
	Accept(ctx context.Context, msg *Message) error
	Release(ctx context.Context, msg *Message) error
	Reject(ctx context.Context, msg *Message, cause error) error
	Modify(ctx context.Context, msg *Message, undeliverableHere bool) error

	// Close releases the link.
	Close(ctx context.Context) error
}

// Sender is an outbound link.
type Sender interface {
	Send(ctx context.Context, msg *OutboundMessage) error
	Close(ctx context.Context) error
}

// Client is the abstract transport client the rpc core requires.
// Applications supply a concrete implementation; the rpc core
// never inspects it beyond this interface.
type Client interface {
	// CreateReceiver attaches a receiver. An empty address combined with
	// ReceiverOptions.Dynamic requests a broker-assigned address; a
	// non-empty address attaches at that fixed address.
	CreateReceiver(ctx context.Context, address string, opts ReceiverOptions) (Receiver, error)

	// CreateSender attaches a sender at address.
	CreateSender(ctx context.Context, address string, opts SenderOptions) (Sender, error)
}
