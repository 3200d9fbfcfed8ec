package interceptors

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Keksclan/goRawrStash/contextx"
)

// LoggingUnary writes one access log entry per call. Successful calls log at
// Info, client errors at Warn and server errors at Error.
func LoggingUnary(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, log, info.FullMethod, start, err)
		return resp, err
	}
}

// LoggingStream writes one access log entry when a stream ends.
func LoggingStream(log logrus.FieldLogger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(ss.Context(), log, info.FullMethod, start, err)
		return err
	}
}

func logCall(ctx context.Context, log logrus.FieldLogger, method string, start time.Time, err error) {
	code := status.Code(err)
	entry := log.WithFields(logrus.Fields{
		"method":      method,
		"code":        code.String(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if id := contextx.RequestIDFromContext(ctx); id != "" {
		entry = entry.WithField("request_id", id)
	}
	if err != nil {
		entry = entry.WithError(err)
	}

	switch code {
	case codes.OK:
		entry.Info("rpc finished")
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unimplemented, codes.Unavailable:
		entry.Error("rpc failed")
	default:
		entry.Warn("rpc failed")
	}
}
