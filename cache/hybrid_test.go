package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Keksclan/goRawrStash/expiry"
)

// fakeBackend is an in-memory slow tier that records its operations. When
// gate is set, Get blocks until the gate is closed; writeGate does the same
// for Put, Remove and Clear.
type fakeBackend struct {
	gate      chan struct{}
	writeGate chan struct{}
	explode   bool

	gets atomic.Int32

	mu   sync.Mutex
	data map[string]string
	ops  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string]string)}
}

func (b *fakeBackend) Get(_ context.Context, key string) (string, bool) {
	b.gets.Add(1)
	if b.gate != nil {
		<-b.gate
	}
	if b.explode {
		panic("backend exploded")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok
}

func (b *fakeBackend) waitWrite() {
	if b.writeGate != nil {
		<-b.writeGate
	}
}

func (b *fakeBackend) Put(_ context.Context, key, value string, _ expiry.TTL) {
	b.waitWrite()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	b.ops = append(b.ops, "put "+key+"="+value)
}

func (b *fakeBackend) Remove(_ context.Context, key string) {
	b.waitWrite()
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	b.ops = append(b.ops, "remove "+key)
}

func (b *fakeBackend) Clear(_ context.Context) {
	b.waitWrite()
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.data)
	b.ops = append(b.ops, "clear")
}

func (b *fakeBackend) seed(key, value string) {
	b.mu.Lock()
	b.data[key] = value
	b.mu.Unlock()
}

func (b *fakeBackend) snapshot() ([]string, map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := make(map[string]string, len(b.data))
	for k, v := range b.data {
		data[k] = v
	}
	return append([]string(nil), b.ops...), data
}

func newHybrid(t *testing.T, slow Backend[string, string], opts ...Option) *Hybrid[string, string] {
	t.Helper()
	h := NewHybrid(NewMemory[string, string](), slow, opts...)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHybrid_MemoryHitSkipsSlowTier(t *testing.T) {
	slow := newFakeBackend()
	h := newHybrid(t, slow)

	h.Memory().Put("k", "mem", expiry.None)
	if v, ok := h.Get(t.Context(), "k"); !ok || v != "mem" {
		t.Fatalf("Get = %q, %v; want mem, true", v, ok)
	}
	if n := slow.gets.Load(); n != 0 {
		t.Fatalf("slow tier called %d times, want 0", n)
	}
}

func TestHybrid_MissHydratesMemory(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("k", "slow")
	h := newHybrid(t, slow)

	if v, ok := h.Get(t.Context(), "k"); !ok || v != "slow" {
		t.Fatalf("Get = %q, %v; want slow, true", v, ok)
	}
	if v, ok := h.Memory().Get("k"); !ok || v != "slow" {
		t.Fatalf("memory = %q, %v; want hydrated value", v, ok)
	}

	// Second read is served from memory.
	h.Get(t.Context(), "k")
	if n := slow.gets.Load(); n != 1 {
		t.Fatalf("slow tier called %d times, want 1", n)
	}
}

func TestHybrid_MissEverywhere(t *testing.T) {
	slow := newFakeBackend()
	h := newHybrid(t, slow)

	if _, ok := h.Get(t.Context(), "nope"); ok {
		t.Fatal("expected miss")
	}
	if h.Memory().Len() != 0 {
		t.Fatal("a miss must not hydrate memory")
	}
}

func TestHybrid_ConcurrentGetsShareOneFetch(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("k", "v")
	slow.gate = make(chan struct{})

	m := NewMetrics(prometheus.NewRegistry())
	h := newHybrid(t, slow, WithMetrics(m))

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _ := h.Get(context.Background(), "k")
			results[i] = v
		}()
	}

	waitFor(t, func() bool { return slow.gets.Load() == 1 })
	// Give the other callers time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(slow.gate)
	wg.Wait()

	if n := slow.gets.Load(); n != 1 {
		t.Fatalf("slow tier called %d times, want 1", n)
	}
	for i, v := range results {
		if v != "v" {
			t.Fatalf("caller %d got %q, want v", i, v)
		}
	}
	if got := testutil.ToFloat64(m.coalesced); got != callers-1 {
		t.Fatalf("coalesced = %v, want %d", got, callers-1)
	}
}

func TestHybrid_DifferentKeysFetchIndependently(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("a", "1")
	slow.seed("b", "2")
	h := newHybrid(t, slow)

	var wg sync.WaitGroup
	for _, k := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Get(t.Context(), k)
		}()
	}
	wg.Wait()

	if n := slow.gets.Load(); n != 2 {
		t.Fatalf("slow tier called %d times, want 2", n)
	}
}

func TestHybrid_HydrateDoesNotOverwriteNewerWrite(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("k", "old")
	slow.gate = make(chan struct{})
	h := newHybrid(t, slow)

	done := make(chan string, 1)
	go func() {
		v, _ := h.Get(context.Background(), "k")
		done <- v
	}()
	waitFor(t, func() bool { return slow.gets.Load() == 1 })

	h.Memory().Put("k", "new", expiry.None)
	close(slow.gate)

	if v := <-done; v != "old" {
		t.Fatalf("fetching caller got %q, want the slow-tier value", v)
	}
	if v, _ := h.Memory().Get("k"); v != "new" {
		t.Fatalf("memory = %q, want new", v)
	}
}

func TestHybrid_RemoveDuringFetchPreventsHydrate(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("k", "v")
	slow.gate = make(chan struct{})
	h := newHybrid(t, slow)

	done := make(chan struct{})
	go func() {
		h.Get(context.Background(), "k")
		close(done)
	}()
	waitFor(t, func() bool { return slow.gets.Load() == 1 })

	h.Remove("k")
	close(slow.gate)
	<-done

	if _, ok := h.Memory().Get("k"); ok {
		t.Fatal("a removed key must not be hydrated by an older fetch")
	}
}

func TestHybrid_ClearDuringFetchPreventsHydrate(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("k", "v")
	slow.gate = make(chan struct{})
	h := newHybrid(t, slow)

	done := make(chan struct{})
	go func() {
		h.Get(context.Background(), "k")
		close(done)
	}()
	waitFor(t, func() bool { return slow.gets.Load() == 1 })

	h.Clear()
	close(slow.gate)
	<-done

	if h.Memory().Len() != 0 {
		t.Fatal("memory must stay empty after Clear")
	}
}

func TestHybrid_CanceledCallerGetsMissFetchContinues(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("k", "v")
	slow.gate = make(chan struct{})
	h := newHybrid(t, slow)

	ctx, cancel := context.WithCancel(t.Context())
	res := make(chan bool, 1)
	go func() {
		_, ok := h.Get(ctx, "k")
		res <- ok
	}()
	waitFor(t, func() bool { return slow.gets.Load() == 1 })

	cancel()
	if ok := <-res; ok {
		t.Fatal("canceled caller should get a miss")
	}

	close(slow.gate)
	waitFor(t, func() bool {
		_, ok := h.Memory().Get("k")
		return ok
	})
}

func TestHybrid_PanickingBackendIsMiss(t *testing.T) {
	slow := newFakeBackend()
	slow.explode = true
	h := newHybrid(t, slow)

	if _, ok := h.Get(t.Context(), "k"); ok {
		t.Fatal("expected miss from panicking backend")
	}

	// The in-flight entry is gone, so the next call fetches again.
	slow.explode = false
	slow.seed("k", "v")
	if v, ok := h.Get(t.Context(), "k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v; want v, true", v, ok)
	}
}

func TestHybrid_WriteBehindKeepsOrder(t *testing.T) {
	slow := newFakeBackend()
	h := newHybrid(t, slow)

	h.Put("a", "1", expiry.None)
	h.Put("a", "2", expiry.None)
	h.Remove("a")
	h.Put("b", "3", expiry.None)

	if v, ok := h.Memory().Get("b"); !ok || v != "3" {
		t.Fatal("memory must be written synchronously")
	}

	if err := h.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	ops, data := slow.snapshot()
	want := []string{"put a=1", "put a=2", "remove a", "put b=3"}
	if fmt.Sprint(ops) != fmt.Sprint(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	if _, ok := data["a"]; ok || data["b"] != "3" {
		t.Fatalf("slow tier = %v", data)
	}
}

func TestHybrid_ClearReachesSlowTier(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("x", "1")
	h := newHybrid(t, slow)

	h.Put("a", "1", expiry.None)
	h.Clear()
	if err := h.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, data := slow.snapshot(); len(data) != 0 {
		t.Fatalf("slow tier = %v, want empty", data)
	}
	if h.Memory().Len() != 0 {
		t.Fatal("memory must be empty")
	}
}

func TestHybrid_CloseDrainsQueue(t *testing.T) {
	slow := newFakeBackend()
	h := NewHybrid(NewMemory[string, string](), slow)

	for i := range 100 {
		h.Put(fmt.Sprint(i), "v", expiry.None)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, data := slow.snapshot(); len(data) != 100 {
		t.Fatalf("slow tier has %d entries after Close, want 100", len(data))
	}

	// After Close writes only reach memory.
	h.Put("late", "v", expiry.None)
	if _, ok := h.Memory().Get("late"); !ok {
		t.Fatal("memory write after Close should still apply")
	}
	if err := h.Flush(t.Context()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Flush after Close = %v, want ErrClosed", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestHybrid_ObserveSeesHydrate(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("k", "v")
	h := newHybrid(t, slow)

	var mu sync.Mutex
	var seen []string
	stop := h.Observe("k", func(v string, ok bool) {
		mu.Lock()
		seen = append(seen, fmt.Sprintf("%s/%v", v, ok))
		mu.Unlock()
	})
	defer stop()

	h.Get(t.Context(), "k")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/false", "v/true"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("notifications = %v, want %v", seen, want)
	}
}

func TestHybrid_DiskSlowTier(t *testing.T) {
	dir := t.TempDir()
	disk := openDisk[string](t, dir, "hybrid")

	h := newHybrid(t, disk)
	h.Put("k", "v", expiry.None)
	if err := h.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// A second process with an empty memory tier reads through to disk.
	other := openDisk[string](t, dir, "hybrid")
	fresh := newHybrid(t, other)
	if v, ok := fresh.Get(t.Context(), "k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v; want v, true", v, ok)
	}
}

func TestHybrid_HydrateKeepsSlowTierExpiry(t *testing.T) {
	clock := newFakeClock()
	disk := openDisk[string](t, t.TempDir(), "hybrid", WithClock(clock.Now))
	h := NewHybrid(NewMemory[string, string](WithMaxSize(1), WithClock(clock.Now)), disk)
	t.Cleanup(func() { _ = h.Close() })

	h.Put("k", "v", expiry.After(time.Minute))
	h.Put("other", "x", expiry.None) // pushes k out of memory
	if err := h.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, ok := h.Memory().Get("k"); ok {
		t.Fatal("k should have been evicted from memory")
	}

	if v, ok := h.Get(t.Context(), "k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v; want v, true", v, ok)
	}
	if _, ok := h.Memory().Get("k"); !ok {
		t.Fatal("k should be hydrated into memory")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := h.Memory().Get("k"); ok {
		t.Fatal("hydrated entry outlived its slow-tier TTL")
	}
	if _, ok := h.Get(t.Context(), "k"); ok {
		t.Fatal("expected miss after the TTL passed")
	}
}

func TestHybrid_HydrateUsesShorterMemoryDefault(t *testing.T) {
	clock := newFakeClock()
	disk := openDisk[string](t, t.TempDir(), "hybrid", WithClock(clock.Now))
	disk.Put(t.Context(), "k", "v", expiry.After(time.Hour))

	mem := NewMemory[string, string](WithClock(clock.Now), WithDefaultTTL(time.Minute))
	h := NewHybrid(mem, disk)
	t.Cleanup(func() { _ = h.Close() })

	h.Get(t.Context(), "k")
	clock.Advance(2 * time.Minute)
	if _, ok := mem.Get("k"); ok {
		t.Fatal("memory default TTL should cap the hydrated entry")
	}
	if v, ok := h.Get(t.Context(), "k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v; want the disk value", v, ok)
	}
}

func TestHybrid_RemovedKeyIsMissUntilSlowTierCatchesUp(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("k", "old")
	slow.writeGate = make(chan struct{})
	h := newHybrid(t, slow)

	h.Remove("k")
	if _, ok := h.Get(t.Context(), "k"); ok {
		t.Fatal("a removed key must not come back from the slow tier")
	}
	if n := slow.gets.Load(); n != 0 {
		t.Fatalf("slow tier read %d times during pending removal, want 0", n)
	}

	close(slow.writeGate)
	if err := h.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Once the removal landed, reads go through again.
	slow.seed("k", "new")
	if v, ok := h.Get(t.Context(), "k"); !ok || v != "new" {
		t.Fatalf("Get = %q, %v; want new, true", v, ok)
	}
}

func TestHybrid_ClearedKeysAreMissUntilSlowTierCatchesUp(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("a", "1")
	slow.seed("b", "2")
	slow.writeGate = make(chan struct{})
	h := newHybrid(t, slow)

	h.Clear()
	for _, k := range []string{"a", "b"} {
		if _, ok := h.Get(t.Context(), k); ok {
			t.Fatalf("%s came back from the slow tier before the clear landed", k)
		}
	}

	// Writes after the clear are still served from memory.
	h.Put("c", "3", expiry.None)
	if v, ok := h.Get(t.Context(), "c"); !ok || v != "3" {
		t.Fatalf("Get(c) = %q, %v; want 3, true", v, ok)
	}

	close(slow.writeGate)
	if err := h.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	slow.seed("a", "again")
	if v, ok := h.Get(t.Context(), "a"); !ok || v != "again" {
		t.Fatalf("Get(a) = %q, %v; want again, true", v, ok)
	}
}

func TestHybrid_RemoveAfterCloseLeavesNoTombstone(t *testing.T) {
	slow := newFakeBackend()
	slow.seed("k", "v")
	h := NewHybrid(NewMemory[string, string](), slow)
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h.Remove("k")
	if v, ok := h.Get(t.Context(), "k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v; want the untouched slow-tier value", v, ok)
	}
}
