package cache

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Keksclan/goRawrStash/breaker"
	"github.com/Keksclan/goRawrStash/expiry"
	"github.com/Keksclan/goRawrStash/quota"
)

// Option configures a store. Each store reads the options that apply to it
// and ignores the rest.
type Option func(*options)

type options struct {
	maxSize    int
	defaultTTL expiry.TTL
	now        func() time.Time
	logger     logrus.FieldLogger
	metrics    *Metrics
	codec      Codec
	quota      *quota.Manager
	tracer     trace.Tracer
	breaker    *breaker.Breaker
}

func buildOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		codec:  JSONCodec{},
		tracer: otel.Tracer("github.com/Keksclan/goRawrStash/cache"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = discardLogger()
	}
	return o
}

// WithMaxSize bounds the number of entries a store keeps. Values <= 0 mean
// unlimited and disable eviction.
func WithMaxSize(n int) Option {
	return func(o *options) { o.maxSize = n }
}

// WithDefaultTTL sets the fallback TTL used when a write carries no TTL of
// its own. A non-positive duration means entries never expire by default.
func WithDefaultTTL(d time.Duration) Option {
	return func(o *options) { o.defaultTTL = expiry.After(d) }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger that receives swallowed failures. The default
// discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics attaches Prometheus counters to the store.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCodec replaces the JSON codec used to persist values.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithQuota binds a disk store to a shared quota manager.
func WithQuota(q *quota.Manager) Option {
	return func(o *options) { o.quota = q }
}

// WithTracer sets the tracer used for slow-tier fetch spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithBreaker sets the circuit breaker guarding a remote tier.
func WithBreaker(b *breaker.Breaker) Option {
	return func(o *options) { o.breaker = b }
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
