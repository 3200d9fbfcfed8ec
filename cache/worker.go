package cache

import (
	"context"
	"sync"
)

// worker runs submitted operations one at a time on its own goroutine. It
// serializes all file access of a Disk store.
type worker struct {
	ops  chan func()
	done chan struct{}

	once sync.Once
	wg   sync.WaitGroup
}

func newWorker(buffer int) *worker {
	w := &worker{
		ops:  make(chan func(), buffer),
		done: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case op := <-w.ops:
			op()
		case <-w.done:
			return
		}
	}
}

// submit queues op. It reports false when the worker is stopped or ctx ended
// before the operation could be queued.
func (w *worker) submit(ctx context.Context, op func()) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.ops <- op:
		return true
	case <-w.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (w *worker) stop() {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()
}

// run executes fn on the worker and waits for its result. If ctx ends first the
// caller stops waiting, but a queued fn still runs to completion.
func run[T any](ctx context.Context, w *worker, fn func() T) (T, bool) {
	var zero T
	res := make(chan T, 1)
	if !w.submit(ctx, func() { res <- fn() }) {
		return zero, false
	}
	select {
	case v := <-res:
		return v, true
	case <-ctx.Done():
	case <-w.done:
	}
	return zero, false
}
