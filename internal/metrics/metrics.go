// Package metrics provides the Prometheus instruments for the resolver pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all beacond metrics.
	Namespace = "beacond"
)

// Cache lookup results
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultStale   = "stale"
	ResultForced  = "forced"
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	Fetches          *prometheus.CounterVec
	FetchDuration    prometheus.Histogram
	SightingsTotal   *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
	LocationSamples  prometheus.Counter
	LocationsPruned  prometheus.Counter
	DeviceRegistered prometheus.Counter
}

// New creates and registers all metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.CacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Metadata cache lookups by result (hit, miss, stale, forced)",
		},
		[]string{"result"},
	)

	m.Fetches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scraper",
			Name:      "fetches_total",
			Help:      "Page fetches by outcome",
		},
		[]string{"outcome"},
	)

	m.FetchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scraper",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching and extracting a page",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.SightingsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "resolver",
			Name:      "sightings_total",
			Help:      "Sightings resolved by outcome (metadata, url, id)",
		},
		[]string{"outcome"},
	)

	m.BatchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "resolver",
			Name:      "batch_duration_seconds",
			Help:      "Time spent resolving a sighting batch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.LocationSamples = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "locations",
			Name:      "samples_total",
			Help:      "Location samples appended",
		},
	)

	m.LocationsPruned = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "locations",
			Name:      "pruned_total",
			Help:      "Location samples removed by retention pruning",
		},
	)

	m.DeviceRegistered = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Explicit device URL registrations",
		},
	)

	return m
}

// NewNop returns metrics registered against a private registry, for tests and
// tools that do not expose /metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
