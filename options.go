package gorawrstash

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/Keksclan/goRawrStash/internal/core"
	"github.com/Keksclan/goRawrStash/policy"
	"github.com/Keksclan/goRawrStash/ratelimit"
	"github.com/Keksclan/goRawrStash/tracing"
)

// Option configures a Server.
type Option func(*config)

// WithLogger sets the logger used by the recovery and logging middleware.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) { c.logger = l }
}

// WithRecovery installs panic recovery as the outermost middleware, so a
// panic inside a handler returns codes.Internal instead of crashing the
// process.
func WithRecovery() Option {
	return func(c *config) { c.recovery = true }
}

// WithRequestID makes every call carry a request ID, taken from the caller's
// x-request-id metadata or generated.
func WithRequestID() Option {
	return func(c *config) { c.requestID = true }
}

// WithLogging writes one access log entry per call to the server logger.
func WithLogging() Option {
	return func(c *config) { c.logging = true }
}

// WithOpenTelemetry opens a server span for every call.
func WithOpenTelemetry(cfg tracing.Config) Option {
	return func(c *config) { c.tracing = &cfg }
}

// WithRateLimitGlobal gates all calls through one token bucket refilling rps
// tokens per second up to burst.
func WithRateLimitGlobal(rps float64, burst int) Option {
	return func(c *config) { c.rateGlobal = ratelimit.NewLimiter(rps, burst) }
}

// WithRateLimitMethod gives fullMethod its own bucket that replaces the
// global one for that method.
func WithRateLimitMethod(fullMethod string, rps float64, burst int) Option {
	return func(c *config) {
		c.rateGroups = append(c.rateGroups,
			policy.NewGroup(fullMethod, ratelimit.NewLimiter(rps, burst)).Exact(fullMethod))
	}
}

// WithRateLimitPrefix makes every method starting with prefix share one
// bucket, e.g. "/rawr.Cache/". An exact WithRateLimitMethod rule wins over a
// prefix; the longer of two prefixes wins.
func WithRateLimitPrefix(prefix string, rps float64, burst int) Option {
	return func(c *config) {
		c.rateGroups = append(c.rateGroups,
			policy.NewGroup(prefix, ratelimit.NewLimiter(rps, burst)).Prefix(prefix))
	}
}

// WithUnaryInterceptor appends a unary interceptor after the built-in
// middleware.
func WithUnaryInterceptor(i grpc.UnaryServerInterceptor) Option {
	return func(c *config) { c.custom.Add("custom", core.OrderCustom, i, nil) }
}

// WithStreamInterceptor appends a stream interceptor after the built-in
// middleware.
func WithStreamInterceptor(i grpc.StreamServerInterceptor) Option {
	return func(c *config) { c.custom.Add("custom", core.OrderCustom, nil, i) }
}

// WithGRPCOptions passes extra options to grpc.NewServer.
func WithGRPCOptions(opts ...grpc.ServerOption) Option {
	return func(c *config) { c.serverOpts = append(c.serverOpts, opts...) }
}

// WithMetricsGatherer makes MetricsHandler serve g instead of the default
// Prometheus registry.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(c *config) { c.gatherer = g }
}
