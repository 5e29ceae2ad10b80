// Package rpctest wires a Server and Client together over a private,
// in-process memtransport broker, for use in tests and examples that need a
// working client/server pair without a real message broker.
package rpctest

import (
	"context"

	"github.com/mbroadst/amqp10-rpc-go"
	"github.com/mbroadst/amqp10-rpc-go/transport/memtransport"
)

// LocalOptions control the behavior of the server and client constructed by
// Local.
type LocalOptions struct {
	ServerOptions *rpc.ServerOptions
	ClientOptions *rpc.ClientOptions
}

// Local constructs a *rpc.Server bound to every spec in specs, listening on
// address over a private memtransport.Broker, and a *rpc.Client connected
// to it. The caller is responsible for calling the returned close function
// when done.
func Local(ctx context.Context, address string, specs []rpc.MethodSpec, opts *LocalOptions) (*rpc.Client, *rpc.Server, func(), error) {
	if opts == nil {
		opts = new(LocalOptions)
	}
	broker := memtransport.NewBroker()

	srv := rpc.NewServer(opts.ServerOptions)
	for _, spec := range specs {
		if err := srv.Bind(spec); err != nil {
			return nil, nil, nil, err
		}
	}
	if err := srv.Listen(rpc.WithReplyClient(ctx, broker), broker, address); err != nil {
		return nil, nil, nil, err
	}

	cli, err := rpc.Connect(ctx, broker, address, opts.ClientOptions)
	if err != nil {
		srv.Close()
		return nil, nil, nil, err
	}

	closeFn := func() {
		cli.Close(ctx)
		srv.Close()
	}
	return cli, srv, closeFn, nil
}
