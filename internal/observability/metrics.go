// Package observability holds the Prometheus metrics for the assistant.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Global metrics instance for singleton pattern
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// Request metrics
	Requests      *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Safety metrics
	BlockedQueries *prometheus.CounterVec

	// Degradation metrics
	DegradedEvents *prometheus.CounterVec

	// Analysis metrics
	SchemasExtracted prometheus.Counter
	TablesEmbedded   prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	// Singleton so tests creating multiple services never double-register
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of handled requests by outcome",
		},
		[]string{"outcome"},
	)

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	blockedQueries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_queries_total",
			Help:      "Total number of queries the sanitizer rejected",
		},
		[]string{"reason"},
	)

	degradedEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_events_total",
			Help:      "Total number of operations served in degraded mode",
		},
		[]string{"store"},
	)

	schemasExtracted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schemas_extracted_total",
			Help:      "Total number of schema extractions",
		},
	)

	tablesEmbedded := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_embedded_total",
			Help:      "Total number of table embeddings written",
		},
	)

	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of schema cache hits",
		},
	)

	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of schema cache misses",
		},
	)

	registry.MustRegister(
		requests,
		stageDuration,
		blockedQueries,
		degradedEvents,
		schemasExtracted,
		tablesEmbedded,
		cacheHits,
		cacheMisses,
	)

	globalCollector = &Collector{
		registry:         registry,
		Requests:         requests,
		StageDuration:    stageDuration,
		BlockedQueries:   blockedQueries,
		DegradedEvents:   degradedEvents,
		SchemasExtracted: schemasExtracted,
		TablesEmbedded:   tablesEmbedded,
		CacheHits:        cacheHits,
		CacheMisses:      cacheMisses,
	}
	return globalCollector
}

// Registry exposes the underlying registry for a metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveStage records one pipeline stage duration.
func (c *Collector) ObserveStage(stage string, start time.Time) {
	c.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
