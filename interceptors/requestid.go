package interceptors

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/Keksclan/goRawrStash/contextx"
)

// RequestIDHeader is the metadata key that carries request IDs in both
// directions.
const RequestIDHeader = "x-request-id"

// maxRequestIDLen bounds caller-supplied IDs.
const maxRequestIDLen = 128

// ensureRequestID returns ctx carrying a request ID: the one already in ctx,
// the caller's x-request-id, or a fresh UUID, in that order.
func ensureRequestID(ctx context.Context) (context.Context, string) {
	if id := contextx.RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDHeader); len(vals) > 0 && vals[0] != "" && len(vals[0]) <= maxRequestIDLen {
			id = vals[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return contextx.WithRequestID(ctx, id), id
}

// RequestIDUnary stores a request ID in the handler context and echoes it in
// the response header.
func RequestIDUnary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, id := ensureRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
		return handler(ctx, req)
	}
}

// RequestIDStream is the stream counterpart of RequestIDUnary. The handler
// sees the request ID through the stream's context.
func RequestIDStream() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, id := ensureRequestID(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(RequestIDHeader, id))
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

// contextStream overrides the context of a wrapped stream.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }
