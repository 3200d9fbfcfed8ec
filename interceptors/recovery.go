package interceptors

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Keksclan/goRawrStash/contextx"
)

var errInternal = status.Error(codes.Internal, "internal server error")

// RecoveryUnary turns handler panics into Internal errors. The panic value
// and stack are logged to log when it is non-nil.
func RecoveryUnary(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(ctx, log, info.FullMethod, r)
				resp = nil
				err = errInternal
			}
		}()
		return handler(ctx, req)
	}
}

// RecoveryStream is the stream counterpart of RecoveryUnary.
func RecoveryStream(log logrus.FieldLogger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				var ctx context.Context
				if ss != nil {
					ctx = ss.Context()
				}
				logPanic(ctx, log, info.FullMethod, r)
				err = errInternal
			}
		}()
		return handler(srv, ss)
	}
}

func logPanic(ctx context.Context, log logrus.FieldLogger, method string, r any) {
	if log == nil {
		return
	}
	fields := logrus.Fields{
		"method": method,
		"panic":  fmt.Sprint(r),
		"stack":  string(debug.Stack()),
	}
	if ctx != nil {
		if id := contextx.RequestIDFromContext(ctx); id != "" {
			fields["request_id"] = id
		}
	}
	log.WithFields(fields).Error("recovered from panic")
}
