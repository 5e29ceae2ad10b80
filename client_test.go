package rpc_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	rpc "github.com/mbroadst/amqp10-rpc-go"
	"github.com/mbroadst/amqp10-rpc-go/rpctest"
)

func addSpec(t *testing.T) rpc.MethodSpec {
	t.Helper()
	spec, err := rpc.Method("add", func(ctx context.Context, a, b int) (int, error) {
		return a + b, nil
	}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Method: %v", err)
	}
	return spec
}

func TestClientCallPositional(t *testing.T) {
	ctx := context.Background()
	cli, _, closeFn, err := rpctest.Local(ctx, "rpc", []rpc.MethodSpec{addSpec(t)}, nil)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	defer closeFn()

	raw, err := cli.Call(ctx, "add", 2, 3)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var got int
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}

func TestClientCallNamedMapParams(t *testing.T) {
	ctx := context.Background()
	spec, err := rpc.Method("sum", func(ctx context.Context, a, b int) (int, error) {
		return a + b, nil
	}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Method: %v", err)
	}
	cli, _, closeFn, err := rpctest.Local(ctx, "rpc", []rpc.MethodSpec{spec}, nil)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	defer closeFn()

	raw, err := cli.Call(ctx, "sum", map[string]any{"b": 10, "a": 1})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var got int
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != 11 {
		t.Fatalf("got %d, want 11", got)
	}
}

func TestClientCallUnknownMethod(t *testing.T) {
	ctx := context.Background()
	cli, _, closeFn, err := rpctest.Local(ctx, "rpc", nil, nil)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	defer closeFn()

	_, err = cli.Call(ctx, "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	wireErr, ok := rpc.AsProtocolError(err)
	if !ok {
		t.Fatalf("got %v, want a protocol error", err)
	}
	if wireErr.Code != rpc.MethodNotFound {
		t.Fatalf("code = %v, want MethodNotFound", wireErr.Code)
	}
}

func TestClientCallBatch(t *testing.T) {
	ctx := context.Background()
	cli, _, closeFn, err := rpctest.Local(ctx, "rpc", []rpc.MethodSpec{addSpec(t)}, nil)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	defer closeFn()

	items, err := cli.CallBatch(ctx,
		[]string{"add", "add"},
		[][]any{{1, 2}, {10, 20}})
	if err != nil {
		t.Fatalf("CallBatch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	var got int
	if err := json.Unmarshal(items[0], &got); err != nil {
		t.Fatalf("Unmarshal item 0: %v", err)
	}
	if got != 3 {
		t.Fatalf("item 0 result = %d, want 3", got)
	}
}

func TestClientNotifyInvokesHandler(t *testing.T) {
	ctx := context.Background()
	called := make(chan struct{}, 1)
	spec, err := rpc.Method("ping", func(ctx context.Context) error {
		called <- struct{}{}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Method: %v", err)
	}
	cli, _, closeFn, err := rpctest.Local(ctx, "rpc", []rpc.MethodSpec{spec}, nil)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	defer closeFn()

	if err := cli.Notify(ctx, "ping"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestClientCallTimeout(t *testing.T) {
	ctx := context.Background()
	block := make(chan struct{})
	spec, err := rpc.Method("stall", func(ctx context.Context) error {
		<-block
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Method: %v", err)
	}
	opts := &rpctest.LocalOptions{
		ClientOptions: &rpc.ClientOptions{Timeout: 50 * time.Millisecond},
	}
	cli, _, closeFn, err := rpctest.Local(ctx, "rpc", []rpc.MethodSpec{spec}, opts)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}

	_, err = cli.Call(ctx, "stall")
	close(block)
	closeFn()
	if _, ok := err.(*rpc.RequestTimeoutError); !ok {
		t.Fatalf("got %v, want *RequestTimeoutError", err)
	}
}
