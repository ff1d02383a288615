package metrics

import "github.com/prometheus/client_golang/prometheus"

// ListingMetrics covers the admin match listing cache.
type ListingMetrics struct {
	Fetches       *prometheus.CounterVec
	Hits          *prometheus.CounterVec
	Misses        prometheus.Counter
	Invalidations prometheus.Counter
	Cancellations prometheus.Counter
}

func NewListingMetrics(reg prometheus.Registerer) *ListingMetrics {
	m := &ListingMetrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "fetches_total",
			Help:      "Backend listing fetches by result (ok/error/discarded).",
		}, []string{"result"}),
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "cache_hits_total",
			Help:      "Listing reads served from cache, by layer (memory/store).",
		}, []string{"layer"}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "cache_misses_total",
			Help:      "Listing reads that required a backend fetch.",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "invalidations_total",
			Help:      "Total number of listing invalidations.",
		}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "cancellations_total",
			Help:      "In-flight listing refreshes cancelled before completion.",
		}),
	}

	reg.MustRegister(m.Fetches, m.Hits, m.Misses, m.Invalidations, m.Cancellations)
	return m
}
