package rpc

import "context"

// InboundRequest returns the request associated with the context passed to
// a handler, or nil if ctx carries none. A *Server populates this for every
// handler invocation.
func InboundRequest(ctx context.Context) *RequestEnvelope {
	if v := ctx.Value(inboundRequestKey{}); v != nil {
		return v.(*RequestEnvelope)
	}
	return nil
}

func withInboundRequest(ctx context.Context, req *RequestEnvelope) context.Context {
	return context.WithValue(ctx, inboundRequestKey{}, req)
}

type inboundRequestKey struct{}

// ServerFromContext returns the server associated with the context passed
// to a handler, and whether ctx carried one. It returns false for a
// context not derived from a dispatch.
func ServerFromContext(ctx context.Context) (*Server, bool) {
	s, ok := ctx.Value(serverKey{}).(*Server)
	return s, ok
}

func withServer(ctx context.Context, s *Server) context.Context {
	return context.WithValue(ctx, serverKey{}, s)
}

type serverKey struct{}

// ClientFromContext returns the client associated with the context passed
// to a client interceptor, and whether ctx carried one.
func ClientFromContext(ctx context.Context) (*Client, bool) {
	c, ok := ctx.Value(clientKey{}).(*Client)
	return c, ok
}

func withClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

type clientKey struct{}
