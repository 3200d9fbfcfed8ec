// Package gorawrstash serves a tiered cache over gRPC. [NewServer] builds a
// grpc.Server whose interceptor chain is assembled from functional options;
// [Server.RegisterCache] exposes a Hybrid store as the rawr.Cache service.
package gorawrstash

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Keksclan/goRawrStash/cache"
	"github.com/Keksclan/goRawrStash/interceptors"
	"github.com/Keksclan/goRawrStash/internal/core"
	"github.com/Keksclan/goRawrStash/policy"
	"github.com/Keksclan/goRawrStash/rpc"
	"github.com/Keksclan/goRawrStash/tracing"
)

// Server wraps a [grpc.Server] with the cache middleware stack.
//
//	srv := gorawrstash.NewServer(gorawrstash.DefaultOptions()...)
//	srv.RegisterCache(store)
//	err := srv.Serve(ctx, lis)
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	handler    http.Handler
	chain      []string
	log        logrus.FieldLogger
}

// NewServer applies opts and creates the underlying gRPC server. Middleware
// runs in a fixed order regardless of option order: recovery, request ID,
// tracing, logging, rate limiting, then custom interceptors in the order
// they were given.
func NewServer(opts ...Option) *Server {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.logger = l
	}

	b := cfg.custom
	if cfg.recovery {
		b.Add("recovery", core.OrderRecovery,
			interceptors.RecoveryUnary(cfg.logger), interceptors.RecoveryStream(cfg.logger))
	}
	if cfg.requestID {
		b.Add("requestid", core.OrderRequestID,
			interceptors.RequestIDUnary(), interceptors.RequestIDStream())
	}
	if cfg.tracing != nil {
		b.Add("tracing", core.OrderTracing,
			tracing.UnaryServerInterceptor(cfg.tracing), tracing.StreamServerInterceptor(cfg.tracing))
	}
	if cfg.logging {
		b.Add("logging", core.OrderLogging,
			interceptors.LoggingUnary(cfg.logger), interceptors.LoggingStream(cfg.logger))
	}
	if cfg.rateGlobal != nil || len(cfg.rateGroups) > 0 {
		groups := policy.NewResolver(cfg.rateGroups...)
		b.Add("ratelimit", core.OrderRateLimit,
			interceptors.RateLimitUnary(cfg.rateGlobal, groups),
			interceptors.RateLimitStream(cfg.rateGlobal, groups))
	}

	unary, stream := b.Build()
	serverOpts := core.BuildServerOptions(unary, stream,
		interceptors.ChainUnary, interceptors.ChainStream, cfg.serverOpts...)

	handler := promhttp.Handler()
	if cfg.gatherer != nil {
		handler = promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{})
	}

	s := &Server{
		grpcServer: grpc.NewServer(serverOpts...),
		health:     health.NewServer(),
		handler:    handler,
		chain:      b.Names(),
		log:        cfg.logger,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return s
}

// GRPC returns the underlying *grpc.Server so callers can register services.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// Middleware returns the names of the installed middleware in execution
// order.
func (s *Server) Middleware() []string {
	return append([]string(nil), s.chain...)
}

// RegisterCache exposes store as the rawr.Cache service and marks it serving
// in the health service.
func (s *Server) RegisterCache(store *cache.Hybrid[string, []byte]) {
	rpc.Register(s.grpcServer, rpc.NewHandler(store))
	s.health.SetServingStatus(rpc.ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func (s *Server) MetricsHandler() http.Handler {
	return s.handler
}

// Serve accepts connections on lis until ctx ends, then stops gracefully.
// It returns nil after a shutdown caused by ctx.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.log.Info("stopping grpc server")
			s.health.Shutdown()
			s.grpcServer.GracefulStop()
		case <-stopped:
		}
	}()
	defer close(stopped)

	err := s.grpcServer.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) || ctx.Err() != nil {
		return nil
	}
	return err
}
