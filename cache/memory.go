package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/Keksclan/goRawrStash/expiry"
)

// Memory is a concurrency-safe in-process cache with LRU eviction, optional
// TTLs and per-key observation.
//
// A map gives O(1) lookup and a doubly-linked list keeps recency order with
// the most recently used entry at the front. The map, the list and the
// observer table are guarded by one mutex and always change together.
// Observers are notified after the mutex is released, so a callback may call
// back into the store.
type Memory[K comparable, V any] struct {
	maxSize    int
	defaultTTL expiry.TTL
	now        func() time.Time
	metrics    *Metrics

	mu    sync.Mutex
	items map[K]*list.Element
	lru   *list.List // Front = MRU, Back = LRU
	cells map[K]*cell[V]
}

// entry is the value stored in list elements. The key is kept so eviction can
// start from list nodes. A zero expiresAt never expires.
type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// NewMemory creates an in-memory store. It honours WithMaxSize,
// WithDefaultTTL, WithClock and WithMetrics.
func NewMemory[K comparable, V any](opts ...Option) *Memory[K, V] {
	o := buildOptions(opts)
	return &Memory[K, V]{
		maxSize:    o.maxSize,
		defaultTTL: o.defaultTTL,
		now:        o.now,
		metrics:    o.metrics,
		items:      make(map[K]*list.Element),
		lru:        list.New(),
		cells:      make(map[K]*cell[V]),
	}
}

// Put writes value under key and marks it most recently used. Expired entries
// are swept and, when the store is bounded, least recently used entries are
// evicted until it fits.
//
// Observers of key are notified first, then observers of every entry the
// write pushed out receive a miss.
func (m *Memory[K, V]) Put(key K, value V, ttl expiry.TTL) {
	now := m.now()
	expiresAt, _ := expiry.Compute(ttl, m.defaultTTL, now)

	m.mu.Lock()
	out := m.storeLocked(key, value, expiresAt, nil)
	out = m.sweepLocked(now, out)
	m.mu.Unlock()

	deliver(out)
}

// PutIfAbsent writes value only when key holds no live entry. It reports
// whether the write happened. An expired entry counts as absent.
func (m *Memory[K, V]) PutIfAbsent(key K, value V, ttl expiry.TTL) bool {
	out, ok := m.putIfAbsent(key, value, ttl)
	deliver(out)
	return ok
}

// putIfAbsent is PutIfAbsent without the notifications. Callers must deliver
// the result once they hold no locks.
func (m *Memory[K, V]) putIfAbsent(key K, value V, ttl expiry.TTL) ([]delivery[V], bool) {
	now := m.now()
	expiresAt, _ := expiry.Compute(ttl, m.defaultTTL, now)
	return m.putIfAbsentUntil(key, value, expiresAt, now)
}

// hydrate is putIfAbsent for a value copied from a slower tier whose entry
// expires at until (zero: never). The memory entry expires at the earlier of
// until and the memory default, so it never outlives its source.
func (m *Memory[K, V]) hydrate(key K, value V, until time.Time) ([]delivery[V], bool) {
	now := m.now()
	expiresAt, _ := expiry.Compute(expiry.None, m.defaultTTL, now)
	if !until.IsZero() && (expiresAt.IsZero() || until.Before(expiresAt)) {
		expiresAt = until
	}
	if expiry.Expired(expiresAt, now) {
		return nil, false
	}
	return m.putIfAbsentUntil(key, value, expiresAt, now)
}

func (m *Memory[K, V]) putIfAbsentUntil(key K, value V, expiresAt, now time.Time) ([]delivery[V], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		if !expiry.Expired(el.Value.(*entry[K, V]).expiresAt, now) {
			return nil, false
		}
	}
	out := m.storeLocked(key, value, expiresAt, nil)
	return m.sweepLocked(now, out), true
}

// Get returns the live value under key and marks it most recently used.
// An expired entry is deleted on access and its observers receive a miss.
func (m *Memory[K, V]) Get(key K) (V, bool) {
	var zero V
	now := m.now()

	m.mu.Lock()
	el, ok := m.items[key]
	if !ok {
		m.mu.Unlock()
		m.metrics.miss(tierMemory)
		return zero, false
	}

	e := el.Value.(*entry[K, V])
	if expiry.Expired(e.expiresAt, now) {
		out := m.deleteLocked(key, nil)
		m.mu.Unlock()
		m.metrics.miss(tierMemory)
		m.metrics.evicted(tierMemory, 1)
		deliver(out)
		return zero, false
	}

	m.lru.MoveToFront(el)
	value := e.value
	m.mu.Unlock()

	m.metrics.hit(tierMemory)
	return value, true
}

// Remove deletes key if present. Existing observers of key receive a miss.
func (m *Memory[K, V]) Remove(key K) {
	m.mu.Lock()
	out := m.deleteLocked(key, nil)
	m.mu.Unlock()

	deliver(out)
}

// Clear deletes every entry. Every observer cell that exists receives a miss,
// including cells whose entry was already gone.
func (m *Memory[K, V]) Clear() {
	m.mu.Lock()
	clear(m.items)
	m.lru.Init()
	out := make([]delivery[V], 0, len(m.cells))
	for _, c := range m.cells {
		out = append(out, c.clear())
	}
	m.mu.Unlock()

	deliver(out)
}

// Observe subscribes fn to key. fn is called immediately with the latest known
// value (or a miss) and then on every change: writes deliver (value, true),
// removals, expiry and eviction deliver (zero, false).
//
// fn is never called under the store's lock and never concurrently with
// itself. Calls follow the order of the changes: when a change races with the
// replay or with another change, fn may skip the older state but never sees it
// after the newer one. The returned function unsubscribes; it is safe to call
// more than once.
func (m *Memory[K, V]) Observe(key K, fn func(value V, ok bool)) (stop func()) {
	m.mu.Lock()
	c := m.cellLocked(key)
	sub, replay := c.subscribe(fn)
	m.mu.Unlock()

	deliver([]delivery[V]{replay})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			c.unsubscribe(sub)
			m.mu.Unlock()
			sub.stop()
		})
	}
}

// Len returns the number of stored entries, including expired entries that
// have not been swept yet.
func (m *Memory[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Keys returns keys in MRU -> LRU order.
func (m *Memory[K, V]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]K, 0, m.lru.Len())
	for el := m.lru.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry[K, V]).key)
	}
	return out
}

// cellLocked returns the observer cell of key, creating it seeded with the
// current live value.
func (m *Memory[K, V]) cellLocked(key K) *cell[V] {
	if c, ok := m.cells[key]; ok {
		return c
	}
	c := &cell[V]{}
	if el, ok := m.items[key]; ok {
		e := el.Value.(*entry[K, V])
		if !expiry.Expired(e.expiresAt, m.now()) {
			c.value, c.ok = e.value, true
		}
	}
	m.cells[key] = c
	return c
}

func (m *Memory[K, V]) storeLocked(key K, value V, expiresAt time.Time, out []delivery[V]) []delivery[V] {
	if el, ok := m.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		m.lru.MoveToFront(el)
	} else {
		m.items[key] = m.lru.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
	}
	if c, ok := m.cells[key]; ok {
		out = append(out, c.set(value, true))
	}
	return out
}

func (m *Memory[K, V]) deleteLocked(key K, out []delivery[V]) []delivery[V] {
	if el, ok := m.items[key]; ok {
		delete(m.items, key)
		m.lru.Remove(el)
	}
	if c, ok := m.cells[key]; ok {
		out = append(out, c.clear())
	}
	return out
}

// sweepLocked drops every expired entry, then evicts from the LRU end while
// the store is over capacity.
func (m *Memory[K, V]) sweepLocked(now time.Time, out []delivery[V]) []delivery[V] {
	removed := 0
	for el := m.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry[K, V])
		if expiry.Expired(e.expiresAt, now) {
			out = m.deleteLocked(e.key, out)
			removed++
		}
		el = prev
	}

	if m.maxSize > 0 {
		for len(m.items) > m.maxSize {
			el := m.lru.Back()
			if el == nil {
				break
			}
			out = m.deleteLocked(el.Value.(*entry[K, V]).key, out)
			removed++
		}
	}

	m.metrics.evicted(tierMemory, removed)
	return out
}
