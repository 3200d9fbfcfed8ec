// Package expiry turns optional time-to-live values into absolute expiry
// instants. Every cache tier resolves expiries through [Compute] so that the
// same inputs always produce the same deadline regardless of where an entry is
// stored.
package expiry

import "time"

// TTL is an optional duration. The zero value is [None], meaning no TTL was
// supplied.
type TTL struct {
	d   time.Duration
	set bool
}

// None is the absent TTL. A tier falls back to its configured default.
var None TTL

// After returns a TTL of d. A non-positive d is an explicit "never expire"
// that overrides any fallback.
func After(d time.Duration) TTL {
	return TTL{d: d, set: true}
}

// Never returns an explicit non-expiring TTL.
func Never() TTL {
	return After(0)
}

// Duration returns the wrapped duration and whether the TTL is present.
func (t TTL) Duration() (time.Duration, bool) {
	return t.d, t.set
}

// IsSet reports whether the TTL is present.
func (t TTL) IsSet() bool { return t.set }

// Compute resolves the expiry instant for an entry written at now.
//
// Rules, in order:
//   - override present and > 0: now + override
//   - override present and <= 0: never expires, the fallback is ignored
//   - fallback present and > 0: now + fallback
//   - otherwise: never expires
//
// The boolean result is false when the entry never expires.
func Compute(override, fallback TTL, now time.Time) (time.Time, bool) {
	if override.set {
		if override.d > 0 {
			return now.Add(override.d), true
		}
		return time.Time{}, false
	}
	if fallback.set && fallback.d > 0 {
		return now.Add(fallback.d), true
	}
	return time.Time{}, false
}

// Expired reports whether an entry with the given deadline is expired at now.
// The zero time never expires.
func Expired(at, now time.Time) bool {
	return !at.IsZero() && !at.After(now)
}
