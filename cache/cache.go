// Package cache implements a tiered key-value cache: an in-process LRU store
// with TTLs and per-key observation ([Memory]), a content-addressed disk store
// ([Disk]), an optional Redis remote tier ([Redis]) and a composition layer
// ([Hybrid]) that reads memory first, coalesces concurrent slow-tier fetches
// and writes behind to the slow tier.
//
// Every store is best effort. Encoding, decoding and I/O failures are logged
// and surface as misses or no-ops; none of Get, Put, Remove or Clear returns an
// error.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Keksclan/goRawrStash/expiry"
)

// Backend is the contract of a slow tier driven by [Hybrid]. [Disk] and
// [Redis] implement it.
//
// Implementations must be safe for concurrent use and must not surface
// failures: a failed read is a miss and a failed write is a no-op.
type Backend[K comparable, V any] interface {
	// Get returns the value stored under key. The boolean reports a hit.
	Get(ctx context.Context, key K) (V, bool)

	// Put stores value under key. ttl overrides the backend's default TTL
	// when set.
	Put(ctx context.Context, key K, value V, ttl expiry.TTL)

	// Remove deletes key. A missing key is not an error.
	Remove(ctx context.Context, key K)

	// Clear deletes every entry the backend owns.
	Clear(ctx context.Context)
}

// ExpiringBackend is a Backend that can also report when an entry expires.
// Hybrid uses it so that a value copied into memory keeps the remaining
// lifetime of the slow-tier entry. [Disk] and [Redis] implement it.
type ExpiringBackend[K comparable, V any] interface {
	Backend[K, V]

	// GetWithExpiry is Get plus the expiry instant of the entry. The zero
	// time means the entry never expires.
	GetWithExpiry(ctx context.Context, key K) (V, time.Time, bool)
}

// ErrClosed is returned by operations that need a running worker after the
// owning store was closed.
var ErrClosed = errors.New("cache: store closed")

// Tier names used as metric labels and log fields.
const (
	tierMemory = "memory"
	tierDisk   = "disk"
	tierRedis  = "redis"
	tierHybrid = "hybrid"
)
