package interceptors

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Keksclan/goRawrStash/policy"
	"github.com/Keksclan/goRawrStash/ratelimit"
)

// RetryAfterHeader carries the suggested wait in milliseconds on rejected
// calls.
const RetryAfterHeader = "retry-after-ms"

var errRateLimited = status.Error(codes.ResourceExhausted, "rate limit exceeded")

// limiters picks the bucket for a method: the bucket of the best-matching
// group when one matches, the global bucket otherwise.
type limiters struct {
	global *ratelimit.Limiter
	groups *policy.Resolver[*ratelimit.Limiter]
}

func (l limiters) take(fullMethod string) (bool, string) {
	lim := l.global
	if _, m, ok := l.groups.Resolve(fullMethod); ok {
		lim = m
	}
	if lim == nil {
		return true, ""
	}
	ok, wait := lim.Take()
	if ok {
		return true, ""
	}
	return false, strconv.FormatInt(wait.Milliseconds(), 10)
}

// RateLimitUnary rejects calls with ResourceExhausted once their bucket is
// empty. A method matched by groups uses that group's bucket instead of
// global. Either argument may be nil.
func RateLimitUnary(global *ratelimit.Limiter, groups *policy.Resolver[*ratelimit.Limiter]) grpc.UnaryServerInterceptor {
	l := limiters{global: global, groups: groups}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if ok, wait := l.take(info.FullMethod); !ok {
			_ = grpc.SetHeader(ctx, metadata.Pairs(RetryAfterHeader, wait))
			return nil, errRateLimited
		}
		return handler(ctx, req)
	}
}

// RateLimitStream is the stream counterpart of RateLimitUnary. Only opening a
// stream consumes a token.
func RateLimitStream(global *ratelimit.Limiter, groups *policy.Resolver[*ratelimit.Limiter]) grpc.StreamServerInterceptor {
	l := limiters{global: global, groups: groups}
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if ok, wait := l.take(info.FullMethod); !ok {
			_ = ss.SetHeader(metadata.Pairs(RetryAfterHeader, wait))
			return errRateLimited
		}
		return handler(srv, ss)
	}
}
