package cache

import (
	"context"
	"sync"
)

// writeBehind applies slow-tier mutations in submission order on a single
// goroutine. The queue is unbounded so Hybrid writers never block on the slow
// tier.
type writeBehind struct {
	mu      sync.Mutex
	pending []func(context.Context)
	closed  bool

	wake    chan struct{}
	stopped chan struct{}
}

func newWriteBehind() *writeBehind {
	w := &writeBehind{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go w.loop()
	return w
}

// push queues fn. It reports false once the queue is closed.
func (w *writeBehind) push(fn func(context.Context)) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.pending = append(w.pending, fn)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

func (w *writeBehind) loop() {
	defer close(w.stopped)
	ctx := context.Background()
	for {
		w.mu.Lock()
		batch := w.pending
		w.pending = nil
		closed := w.closed
		w.mu.Unlock()

		for _, fn := range batch {
			fn(ctx)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-w.wake
	}
}

// flush waits until everything queued before the call has been applied.
func (w *writeBehind) flush(ctx context.Context) error {
	done := make(chan struct{})
	if !w.push(func(context.Context) { close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains the queue and stops the goroutine.
func (w *writeBehind) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.stopped
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	<-w.stopped
}
