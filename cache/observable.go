package cache

import "sync"

// cell is the replay-latest observable behind Memory.Observe. It is created
// lazily per key and outlives the entry it describes, so removals still reach
// existing subscribers and later subscribers still get a replay.
//
// A cell is only touched under the owning store's lock. Subscribers are never
// invoked there; mutations return a delivery that is run after unlocking.
// Every mutation bumps version, and a subscriber drops any delivery older than
// one it has already accepted, so racing deliveries cannot reorder what a
// subscriber sees.
type cell[V any] struct {
	value   V
	ok      bool
	version uint64

	subs []*subscriber[V]
}

// subscriber serializes the calls of one callback. Whichever goroutine finds
// the subscriber idle drains its queue; others only enqueue.
type subscriber[V any] struct {
	fn func(V, bool)

	mu       sync.Mutex
	next     uint64 // lowest version still accepted
	pending  []notice[V]
	draining bool
	stopped  bool
}

type notice[V any] struct {
	value V
	ok    bool
}

// delivery is a pending notification of one cell version to a snapshot of
// subscribers.
type delivery[V any] struct {
	subs    []*subscriber[V]
	version uint64
	value   V
	ok      bool
}

func (c *cell[V]) set(value V, ok bool) delivery[V] {
	c.value, c.ok = value, ok
	c.version++
	return delivery[V]{subs: c.snapshot(), version: c.version, value: value, ok: ok}
}

func (c *cell[V]) clear() delivery[V] {
	var zero V
	return c.set(zero, false)
}

// subscribe adds fn and returns it together with the replay of the current
// state.
func (c *cell[V]) subscribe(fn func(V, bool)) (*subscriber[V], delivery[V]) {
	s := &subscriber[V]{fn: fn}
	c.subs = append(c.subs, s)
	return s, delivery[V]{subs: []*subscriber[V]{s}, version: c.version, value: c.value, ok: c.ok}
}

func (c *cell[V]) unsubscribe(s *subscriber[V]) {
	for i, sub := range c.subs {
		if sub == s {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

func (c *cell[V]) snapshot() []*subscriber[V] {
	if len(c.subs) == 0 {
		return nil
	}
	return append([]*subscriber[V](nil), c.subs...)
}

// notify queues version for the callback unless a newer one was already
// accepted, then drains the queue if no other goroutine is doing so. The
// callback runs without s.mu held, so it may touch the store again; such
// nested notifications run after it returns.
func (s *subscriber[V]) notify(version uint64, value V, ok bool) {
	s.mu.Lock()
	if s.stopped || version < s.next {
		s.mu.Unlock()
		return
	}
	s.next = version + 1
	s.pending = append(s.pending, notice[V]{value: value, ok: ok})
	if s.draining {
		s.mu.Unlock()
		return
	}

	s.draining = true
	for len(s.pending) > 0 && !s.stopped {
		n := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		s.fn(n.value, n.ok)
		s.mu.Lock()
	}
	s.pending = nil
	s.draining = false
	s.mu.Unlock()
}

func (s *subscriber[V]) stop() {
	s.mu.Lock()
	s.stopped = true
	s.pending = nil
	s.mu.Unlock()
}

func deliver[V any](ds []delivery[V]) {
	for _, d := range ds {
		for _, s := range d.subs {
			s.notify(d.version, d.value, d.ok)
		}
	}
}
