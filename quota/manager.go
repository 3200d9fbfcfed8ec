// Package quota tracks how many items each cache namespace holds and decides
// whether a new write fits inside process-wide limits.
//
// A [Manager] is meant to be constructed once and shared by pointer with every
// store that should be bound by the same limits. It is not a package-level
// singleton; tests create their own instance or call [Manager.Reset].
package quota

import "sync"

// Limits bounds what all namespaces sharing a Manager may hold.
type Limits struct {
	// MaxItems is the total number of items allowed across all namespaces.
	MaxItems int

	// MaxValueBytes is the largest single payload accepted.
	MaxValueBytes int
}

// DefaultLimits mirrors the limits of the platform key-value sync service:
// 1024 keys in total and 1 MiB per value.
var DefaultLimits = Limits{
	MaxItems:      1024,
	MaxValueBytes: 1 << 20,
}

// Manager is a lock-guarded registry of per-namespace item counts. All methods
// are safe for concurrent use.
//
// CanStore and RecordAddition are separate steps. Two callers racing between
// them may both be admitted; the limits are a best-effort approximation, not a
// reservation.
type Manager struct {
	limits Limits

	mu     sync.Mutex
	counts map[string]int
}

// New creates a Manager enforcing the given limits.
func New(limits Limits) *Manager {
	return &Manager{
		limits: limits,
		counts: make(map[string]int),
	}
}

// Limits returns the limits the Manager enforces.
func (m *Manager) Limits() Limits { return m.limits }

// CanStore reports whether a payload of payloadSize bytes may be written to
// namespace. Overwrites of existing keys never raise the item count and are
// only subject to the per-value limit.
func (m *Manager) CanStore(namespace string, payloadSize int, isNewKey bool) bool {
	if payloadSize > m.limits.MaxValueBytes {
		return false
	}
	if !isNewKey {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLocked() < m.limits.MaxItems
}

// RecordAddition increments the item count of namespace.
func (m *Manager) RecordAddition(namespace string) {
	m.mu.Lock()
	m.counts[namespace]++
	m.mu.Unlock()
}

// RecordRemoval decrements the item count of namespace. A namespace whose
// count reaches zero is forgotten.
func (m *Manager) RecordRemoval(namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.counts[namespace]
	if !ok {
		return
	}
	if n <= 1 {
		delete(m.counts, namespace)
		return
	}
	m.counts[namespace] = n - 1
}

// UpdateCount overwrites the item count of namespace, typically after a store
// has counted what it actually holds. A count of zero (or less) forgets the
// namespace.
func (m *Manager) UpdateCount(namespace string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if count <= 0 {
		delete(m.counts, namespace)
		return
	}
	m.counts[namespace] = count
}

// Count returns the item count recorded for namespace.
func (m *Manager) Count(namespace string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[namespace]
}

// HasData reports whether namespace currently holds any items.
func (m *Manager) HasData(namespace string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.counts[namespace]
	return ok
}

// Total returns the item count summed over all namespaces.
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLocked()
}

// Reset forgets every namespace.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.counts = make(map[string]int)
	m.mu.Unlock()
}

func (m *Manager) totalLocked() int {
	total := 0
	for _, n := range m.counts {
		total += n
	}
	return total
}
