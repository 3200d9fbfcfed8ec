// Package retry re-issues failed client calls with exponential back-off and
// jitter. The cache client installs it as a unary interceptor; it is never
// used on the server side.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// backoff returns the delay before retry number attempt (0-indexed), capped
// at cfg.MaxDelay before jitter is applied.
func backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if limit := float64(cfg.MaxDelay); limit > 0 && delay > limit {
		delay = limit
	}
	if cfg.Jitter > 0 {
		delay += delay * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(delay, 0))
}
