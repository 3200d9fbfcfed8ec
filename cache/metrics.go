package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus counters shared by every store. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	writeFailures *prometheus.CounterVec
	coalesced     prometheus.Counter
}

// NewMetrics creates the cache counters and registers them with reg. A nil
// reg registers with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rawrstash",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Lookups answered by a tier.",
		}, []string{"tier"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rawrstash",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Lookups a tier could not answer.",
		}, []string{"tier"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rawrstash",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries removed because of capacity or expiry.",
		}, []string{"tier"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rawrstash",
			Subsystem: "cache",
			Name:      "write_failures_total",
			Help:      "Writes dropped because of encoding, quota or I/O failures.",
		}, []string{"tier"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rawrstash",
			Subsystem: "hybrid",
			Name:      "coalesced_total",
			Help:      "Lookups that joined an in-flight slow-tier fetch.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.evictions, m.writeFailures, m.coalesced)
	return m
}

func (m *Metrics) hit(tier string) {
	if m != nil {
		m.hits.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) miss(tier string) {
	if m != nil {
		m.misses.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) evicted(tier string, n int) {
	if m != nil && n > 0 {
		m.evictions.WithLabelValues(tier).Add(float64(n))
	}
}

func (m *Metrics) writeFailed(tier string) {
	if m != nil {
		m.writeFailures.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) coalesce() {
	if m != nil {
		m.coalesced.Inc()
	}
}
