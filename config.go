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

// config holds the internal configuration assembled via functional options.
// Built-in middleware is only recorded here; NewServer places it in the chain
// at its fixed position once all options have been applied.
type config struct {
	logger logrus.FieldLogger

	recovery  bool
	requestID bool
	logging   bool
	tracing   *tracing.Config

	rateGlobal  *ratelimit.Limiter
	rateGroups  []*policy.Group[*ratelimit.Limiter]

	custom     core.MiddlewareBuilder
	serverOpts []grpc.ServerOption

	gatherer prometheus.Gatherer
}
