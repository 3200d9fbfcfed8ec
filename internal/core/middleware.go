// Package core assembles the server's interceptor chain. Middleware is
// registered with an explicit order so the resulting chain does not depend on
// the order in which options were passed.
package core

import (
	"cmp"
	"slices"

	"google.golang.org/grpc"
)

// Fixed positions of the built-in middleware. Lower values run first, i.e.
// further out in the chain.
const (
	OrderRecovery  = 100
	OrderRequestID = 200
	OrderTracing   = 300
	OrderLogging   = 400
	OrderRateLimit = 500
	OrderCustom    = 1000
)

// middleware is one named interceptor pair. Either side may be nil.
type middleware struct {
	name   string
	order  int
	unary  grpc.UnaryServerInterceptor
	stream grpc.StreamServerInterceptor
}

// MiddlewareBuilder collects middleware and produces the ordered chains.
// The zero value is ready to use.
type MiddlewareBuilder struct {
	entries []middleware
}

// Add registers a middleware under name at the given order. Entries with the
// same order keep their registration order.
func (b *MiddlewareBuilder) Add(name string, order int, unary grpc.UnaryServerInterceptor, stream grpc.StreamServerInterceptor) {
	b.entries = append(b.entries, middleware{
		name:   name,
		order:  order,
		unary:  unary,
		stream: stream,
	})
}

func (b *MiddlewareBuilder) sort() {
	slices.SortStableFunc(b.entries, func(a, c middleware) int {
		return cmp.Compare(a.order, c.order)
	})
}

// Build returns the unary and stream chains in execution order.
func (b *MiddlewareBuilder) Build() ([]grpc.UnaryServerInterceptor, []grpc.StreamServerInterceptor) {
	b.sort()

	var unary []grpc.UnaryServerInterceptor
	var stream []grpc.StreamServerInterceptor
	for _, m := range b.entries {
		if m.unary != nil {
			unary = append(unary, m.unary)
		}
		if m.stream != nil {
			stream = append(stream, m.stream)
		}
	}
	return unary, stream
}

// Names returns the registered names in execution order.
func (b *MiddlewareBuilder) Names() []string {
	b.sort()

	names := make([]string, len(b.entries))
	for i, m := range b.entries {
		names[i] = m.name
	}
	return names
}
