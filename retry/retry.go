package retry

import (
	"context"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config controls how calls are retried.
type Config struct {
	// MaxAttempts is the total number of calls including the first one.
	// Values <= 1 disable retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; each further retry
	// doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the doubled delay. Zero means no cap.
	MaxDelay time.Duration

	// Jitter randomizes each delay by up to ±Jitter of its value.
	Jitter float64

	// RetryCodes lists the gRPC codes worth retrying. Errors without a gRPC
	// status are never retried.
	RetryCodes []codes.Code

	// Logger receives one Debug entry per retry. Nil disables logging.
	Logger logrus.FieldLogger
}

// DefaultConfig retries an unavailable cache server three times within
// roughly half a second.
var DefaultConfig = Config{
	MaxAttempts: 4,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    time.Second,
	Jitter:      0.2,
	RetryCodes:  []codes.Code{codes.Unavailable},
}

// Retryable reports whether err carries one of cfg.RetryCodes.
func (cfg Config) Retryable(err error) bool {
	st, ok := status.FromError(err)
	return ok && slices.Contains(cfg.RetryCodes, st.Code())
}

// Do calls fn until it succeeds, returns a non-retryable error or
// cfg.MaxAttempts is reached. The last error is returned as is. If ctx ends
// during a back-off wait, ctx.Err() is returned.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	for i := 0; ; i++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if i == attempts-1 || !cfg.Retryable(err) {
			return zero, err
		}

		delay := backoff(cfg, i)
		if cfg.Logger != nil {
			cfg.Logger.WithError(err).WithFields(logrus.Fields{
				"attempt": i + 1,
				"delay":   delay.String(),
			}).Debug("retrying call")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// UnaryClientInterceptor retries unary calls according to cfg.
func UnaryClientInterceptor(cfg Config) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, invoker(ctx, method, req, reply, cc, opts...)
		})
		return err
	}
}
