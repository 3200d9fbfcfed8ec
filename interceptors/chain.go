package interceptors

import (
	"context"

	"google.golang.org/grpc"
)

// ChainUnary composes unary interceptors into one. They run in argument
// order; nil entries are skipped. It returns nil when nothing is left.
func ChainUnary(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	ics := make([]grpc.UnaryServerInterceptor, 0, len(interceptors))
	for _, ic := range interceptors {
		if ic != nil {
			ics = append(ics, ic)
		}
	}
	switch len(ics) {
	case 0:
		return nil
	case 1:
		return ics[0]
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		curr := handler
		for i := len(ics) - 1; i > 0; i-- {
			next := curr
			ic := ics[i]
			curr = func(ctx context.Context, req any) (any, error) {
				return ic(ctx, req, info, next)
			}
		}
		return ics[0](ctx, req, info, curr)
	}
}

// ChainStream composes stream interceptors into one. They run in argument
// order; nil entries are skipped. It returns nil when nothing is left.
func ChainStream(interceptors ...grpc.StreamServerInterceptor) grpc.StreamServerInterceptor {
	ics := make([]grpc.StreamServerInterceptor, 0, len(interceptors))
	for _, ic := range interceptors {
		if ic != nil {
			ics = append(ics, ic)
		}
	}
	switch len(ics) {
	case 0:
		return nil
	case 1:
		return ics[0]
	}

	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		curr := handler
		for i := len(ics) - 1; i > 0; i-- {
			next := curr
			ic := ics[i]
			curr = func(srv any, ss grpc.ServerStream) error {
				return ic(srv, ss, info, next)
			}
		}
		return ics[0](srv, ss, info, curr)
	}
}
