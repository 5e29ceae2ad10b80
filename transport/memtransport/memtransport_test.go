package memtransport

import (
	"context"
	"testing"
	"time"

	"github.com/mbroadst/amqp10-rpc-go/transport"
)

func TestSendBeforeReceiveQueues(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	sender, err := b.CreateSender(ctx, "a", transport.SenderOptions{})
	if err != nil {
		t.Fatalf("CreateSender: %v", err)
	}
	if err := sender.Send(ctx, &transport.OutboundMessage{Body: []byte("hi")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	recv, err := b.CreateReceiver(ctx, "a", transport.ReceiverOptions{CreditQuantum: 1})
	if err != nil {
		t.Fatalf("CreateReceiver: %v", err)
	}
	select {
	case msg := <-recv.Messages():
		if string(msg.Body) != "hi" {
			t.Fatalf("got body %q, want hi", msg.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued message")
	}
}

func TestDynamicReceiverGetsUniqueAddress(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	r1, err := b.CreateReceiver(ctx, "", transport.ReceiverOptions{Dynamic: true, CreditQuantum: 1})
	if err != nil {
		t.Fatalf("CreateReceiver 1: %v", err)
	}
	r2, err := b.CreateReceiver(ctx, "", transport.ReceiverOptions{Dynamic: true, CreditQuantum: 1})
	if err != nil {
		t.Fatalf("CreateReceiver 2: %v", err)
	}
	if r1.Address() == r2.Address() {
		t.Fatalf("expected distinct dynamic addresses, both got %q", r1.Address())
	}
}

func TestCreditQuantumOneBlocksSecondDelivery(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	recv, err := b.CreateReceiver(ctx, "a", transport.ReceiverOptions{CreditQuantum: 1})
	if err != nil {
		t.Fatalf("CreateReceiver: %v", err)
	}
	sender, err := b.CreateSender(ctx, "a", transport.SenderOptions{})
	if err != nil {
		t.Fatalf("CreateSender: %v", err)
	}
	if err := sender.Send(ctx, &transport.OutboundMessage{Body: []byte("one")}); err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if err := sender.Send(ctx, &transport.OutboundMessage{Body: []byte("two")}); err != nil {
		t.Fatalf("Send 2: %v", err)
	}

	first := <-recv.Messages()
	if string(first.Body) != "one" {
		t.Fatalf("got %q, want one", first.Body)
	}

	select {
	case <-recv.Messages():
		t.Fatal("second message delivered before first was settled")
	case <-time.After(50 * time.Millisecond):
	}

	if err := recv.Accept(ctx, first); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	select {
	case second := <-recv.Messages():
		if string(second.Body) != "two" {
			t.Fatalf("got %q, want two", second.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("second message never delivered after settlement")
	}
}

func TestCloseReceiverClosesChannels(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	recv, err := b.CreateReceiver(ctx, "a", transport.ReceiverOptions{CreditQuantum: 1})
	if err != nil {
		t.Fatalf("CreateReceiver: %v", err)
	}
	if err := recv.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-recv.Messages(); ok {
		t.Fatal("Messages channel should be closed")
	}
}

func TestSecondReceiverOnSameAddressFails(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	if _, err := b.CreateReceiver(ctx, "a", transport.ReceiverOptions{CreditQuantum: 1}); err != nil {
		t.Fatalf("CreateReceiver 1: %v", err)
	}
	if _, err := b.CreateReceiver(ctx, "a", transport.ReceiverOptions{CreditQuantum: 1}); err == nil {
		t.Fatal("expected error attaching a second receiver to the same address")
	}
}
