// Package ratelimit provides the token buckets that gate incoming cache RPCs.
// It is a thin layer over golang.org/x/time/rate that also reports how long a
// rejected caller should wait.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by all requests it gates.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a Limiter that refills rps tokens per second up to
// burst. A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Limiter{lim: rate.NewLimiter(limit, max(burst, 1))}
}

// Allow reports whether a single request may proceed now.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

// Take consumes a token if one is available. Otherwise it leaves the bucket
// untouched and returns how long the caller would have had to wait.
func (l *Limiter) Take() (bool, time.Duration) {
	now := time.Now()
	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}
