package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Full method names of the rawr.Cache service.
const (
	MethodGet    = "/rawr.Cache/Get"
	MethodPut    = "/rawr.Cache/Put"
	MethodRemove = "/rawr.Cache/Remove"
	MethodClear  = "/rawr.Cache/Clear"
	MethodWatch  = "/rawr.Cache/Watch"
)

// CacheServer is the interface a rawr.Cache implementation must satisfy.
type CacheServer interface {
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)
	Put(ctx context.Context, req *PutRequest) (*PutResponse, error)
	Remove(ctx context.Context, req *RemoveRequest) (*RemoveResponse, error)
	Clear(ctx context.Context, req *ClearRequest) (*ClearResponse, error)
	Watch(req *WatchRequest, stream WatchStream) error
}

// WatchStream is the server side of a Cache/Watch stream.
type WatchStream interface {
	Send(*WatchEvent) error
	Context() context.Context
}

// ServiceDesc is the grpc.ServiceDesc for the rawr.Cache service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "rawr.Cache",
	HandlerType: (*CacheServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Put", Handler: putHandler},
		{MethodName: "Remove", Handler: removeHandler},
		{MethodName: "Clear", Handler: clearHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "rawr/cache.proto",
}

// Register registers a rawr.Cache implementation on s.
func Register(s grpc.ServiceRegistrar, srv CacheServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts a typed method to a grpc.MethodDesc handler.
func unary[Req any, Resp any](method string, call func(CacheServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CacheServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, r any) (any, error) {
			return call(srv.(CacheServer), ctx, r.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

var (
	getHandler    = unary(MethodGet, CacheServer.Get)
	putHandler    = unary(MethodPut, CacheServer.Put)
	removeHandler = unary(MethodRemove, CacheServer.Remove)
	clearHandler  = unary(MethodClear, CacheServer.Clear)
)

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(WatchRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(CacheServer).Watch(req, &watchStream{stream})
}

type watchStream struct {
	grpc.ServerStream
}

func (s *watchStream) Send(ev *WatchEvent) error {
	return s.SendMsg(ev)
}
