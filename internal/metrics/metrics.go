// Package metrics defines the Prometheus metrics exported by the index, the
// persistence backends, the encoder and the ranking engine.
//
// The process has no HTTP surface, so metrics are written in the node
// exporter textfile format with WriteTextfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexedEvents is the number of live records in the index.
	IndexedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventradar_indexed_events",
		Help: "Number of events currently stored in the embedding index",
	})

	// IndexMutationsTotal counts committed index mutations by operation.
	IndexMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventradar_index_mutations_total",
			Help: "Committed index mutations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	// IndexRebuildDuration tracks full backing-store rebuilds.
	IndexRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventradar_index_rebuild_duration_seconds",
		Help:    "Duration of full index rebuilds triggered by remove or update",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	// SearchDuration tracks exact searches.
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventradar_search_duration_seconds",
		Help:    "Duration of exact inner-product searches",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
	})

	// PersistDuration tracks snapshot save/load latency by backend.
	PersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventradar_persist_duration_seconds",
			Help:    "Duration of snapshot persistence operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"backend", "op"},
	)

	// RecommendRequestsTotal counts recommend calls by outcome.
	RecommendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventradar_recommend_requests_total",
			Help: "Recommendation requests by outcome",
		},
		[]string{"outcome"},
	)

	// RecommendUnderfilledTotal counts responses with fewer than top_k
	// results although the index held enough events.
	RecommendUnderfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventradar_recommend_underfilled_total",
		Help: "Recommendation responses shorter than top_k after exclusion filtering",
	})

	// EncoderRequestsTotal counts text encoder calls by backend and outcome.
	EncoderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventradar_encoder_requests_total",
			Help: "Text encoder requests by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)
)

// Outcome maps an error to the "ok"/"error" label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePersist records a persistence operation that started at start.
func ObservePersist(backend, op string, start time.Time) {
	PersistDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes all registered metrics to path in the textfile
// collector format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
