package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Keksclan/goRawrStash/expiry"
)

// Hybrid combines a Memory store with a slow Backend. Reads check memory
// first and fall back to the slow tier, deduplicating concurrent fetches for
// the same key. Writes land in memory synchronously and are queued for the
// slow tier (write-behind).
//
// There is no ordering between the tiers: a queued slow-tier write may land
// after a later Get already hydrated memory from older slow-tier state. Reads
// that bypass memory can observe stale data until the queue drains. Removals
// are the exception: until a queued Remove or Clear has reached the slow tier,
// Get does not read the affected keys from it.
type Hybrid[K comparable, V any] struct {
	mem  *Memory[K, V]
	slow Backend[K, V]

	queue   *writeBehind
	tracer  trace.Tracer
	metrics *Metrics
	log     logrus.FieldLogger

	mu       sync.Mutex
	inflight map[K]*call[V]

	// tombstones counts queued slow-tier removals per key; clearing counts
	// queued slow-tier clears. Both guarded by mu.
	tombstones map[K]int
	clearing   int
}

// call is one slow-tier fetch shared by every caller that asked for the same
// key while it was running.
type call[V any] struct {
	done  chan struct{}
	value V
	ok    bool

	// stale is set by Remove and Clear while the fetch runs; a stale fetch
	// does not hydrate memory. Guarded by Hybrid.mu.
	stale bool
}

func (c *call[V]) wait(ctx context.Context) (V, bool) {
	select {
	case <-c.done:
		return c.value, c.ok
	case <-ctx.Done():
		var zero V
		return zero, false
	}
}

// NewHybrid composes mem and slow. It honours WithTracer, WithMetrics and
// WithLogger. The caller keeps ownership of both tiers; Close only stops the
// write-behind queue.
func NewHybrid[K comparable, V any](mem *Memory[K, V], slow Backend[K, V], opts ...Option) *Hybrid[K, V] {
	o := buildOptions(opts)
	return &Hybrid[K, V]{
		mem:      mem,
		slow:     slow,
		queue:    newWriteBehind(),
		tracer:   o.tracer,
		metrics:  o.metrics,
		log:      o.logger.WithField("tier", tierHybrid),
		inflight:   make(map[K]*call[V]),
		tombstones: make(map[K]int),
	}
}

// Memory returns the memory tier.
func (h *Hybrid[K, V]) Memory() *Memory[K, V] { return h.mem }

// Get returns the value of key from memory or, on a memory miss, from the slow
// tier. At most one slow-tier fetch per key runs at a time; concurrent callers
// share its result. A fetched value is copied into memory unless memory gained
// an entry for key in the meantime or the key was removed while fetching. A
// key with a queued removal that has not reached the slow tier yet is a miss.
//
// If ctx ends while waiting the caller gets a miss; the fetch itself keeps
// running for the other callers.
func (h *Hybrid[K, V]) Get(ctx context.Context, key K) (V, bool) {
	if v, ok := h.mem.Get(key); ok {
		return v, true
	}

	h.mu.Lock()
	if h.clearing > 0 || h.tombstones[key] > 0 {
		h.mu.Unlock()
		var zero V
		return zero, false
	}
	if c, ok := h.inflight[key]; ok {
		h.mu.Unlock()
		h.metrics.coalesce()
		return c.wait(ctx)
	}
	c := &call[V]{done: make(chan struct{})}
	h.inflight[key] = c
	h.mu.Unlock()

	go h.fetch(context.WithoutCancel(ctx), key, c)
	return c.wait(ctx)
}

// fetch reads key from the slow tier on behalf of c. The in-flight entry is
// removed on every exit path before waiters are released.
func (h *Hybrid[K, V]) fetch(ctx context.Context, key K, c *call[V]) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithFields(logrus.Fields{
				"action": "fetch",
				"panic":  fmt.Sprint(r),
			}).Error("slow tier fetch panicked")
			var zero V
			c.value, c.ok = zero, false
		}
		h.mu.Lock()
		if h.inflight[key] == c {
			delete(h.inflight, key)
		}
		h.mu.Unlock()
		close(c.done)
	}()

	ctx, span := h.tracer.Start(ctx, "hybrid.fetch", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	var until time.Time
	if eb, ok := h.slow.(ExpiringBackend[K, V]); ok {
		c.value, until, c.ok = eb.GetWithExpiry(ctx, key)
	} else {
		c.value, c.ok = h.slow.Get(ctx, key)
	}
	span.SetAttributes(attribute.Bool("cache.hit", c.ok))
	if !c.ok {
		return
	}

	var out []delivery[V]
	h.mu.Lock()
	if !c.stale {
		out, _ = h.mem.hydrate(key, c.value, until)
	}
	h.mu.Unlock()
	deliver(out)
}

// Put writes value to memory and queues the slow-tier write. Each tier
// resolves ttl against its own default.
func (h *Hybrid[K, V]) Put(key K, value V, ttl expiry.TTL) {
	h.mem.Put(key, value, ttl)
	if !h.queue.push(func(ctx context.Context) { h.slow.Put(ctx, key, value, ttl) }) {
		h.log.WithField("action", "put").Debug("write-behind queue closed, slow tier skipped")
	}
}

// Remove deletes key from memory and queues the slow-tier removal. A fetch of
// key that is still running will not hydrate memory, and Get treats key as
// absent until the queued removal has been applied.
func (h *Hybrid[K, V]) Remove(key K) {
	h.mu.Lock()
	if c, ok := h.inflight[key]; ok {
		c.stale = true
	}
	h.tombstones[key]++
	h.mu.Unlock()

	h.mem.Remove(key)
	queued := h.queue.push(func(ctx context.Context) {
		defer h.buryTombstone(key)
		h.slow.Remove(ctx, key)
	})
	if !queued {
		h.buryTombstone(key)
		h.log.WithField("action", "remove").Debug("write-behind queue closed, slow tier skipped")
	}
}

func (h *Hybrid[K, V]) buryTombstone(key K) {
	h.mu.Lock()
	if h.tombstones[key]--; h.tombstones[key] <= 0 {
		delete(h.tombstones, key)
	}
	h.mu.Unlock()
}

// Clear empties memory and queues clearing the slow tier. Running fetches will
// not hydrate memory, and Get misses every key until the queued clear has been
// applied.
func (h *Hybrid[K, V]) Clear() {
	h.mu.Lock()
	for _, c := range h.inflight {
		c.stale = true
	}
	h.clearing++
	h.mu.Unlock()

	h.mem.Clear()
	queued := h.queue.push(func(ctx context.Context) {
		defer h.clearDone()
		h.slow.Clear(ctx)
	})
	if !queued {
		h.clearDone()
		h.log.WithField("action", "clear").Debug("write-behind queue closed, slow tier skipped")
	}
}

func (h *Hybrid[K, V]) clearDone() {
	h.mu.Lock()
	h.clearing--
	h.mu.Unlock()
}

// Observe subscribes to changes of key in the memory tier. Slow-tier changes
// are not observable on their own.
func (h *Hybrid[K, V]) Observe(key K, fn func(value V, ok bool)) (stop func()) {
	return h.mem.Observe(key, fn)
}

// Flush blocks until every slow-tier mutation queued before the call has been
// applied, or ctx ends.
func (h *Hybrid[K, V]) Flush(ctx context.Context) error {
	return h.queue.flush(ctx)
}

// Close applies the queued slow-tier mutations and stops the queue. Later
// writes only reach memory.
func (h *Hybrid[K, V]) Close() error {
	h.queue.close()
	return nil
}
