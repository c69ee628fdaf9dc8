package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	snapshotLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadstore_snapshot_cache_lookups_total",
		Help: "Snapshot cache lookups by cache kind and result",
	}, []string{"kind", "result"})

	snapshotInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadstore_snapshot_cache_invalidations_total",
		Help: "Snapshot cache entries invalidated by writes",
	}, []string{"kind"})

	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadstore_transactions_total",
		Help: "Finished transactions by outcome",
	}, []string{"outcome"})

	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quadstore_commit_duration_seconds",
		Help:    "Duration of transaction commits",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	committedQuads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quadstore_committed_quads_total",
		Help: "Quad units replayed into base datasets by commits",
	})
)

const (
	cacheKindSubject = "subject"
	cacheKindGraph   = "graph"

	outcomeCommitted  = "committed"
	outcomeRolledBack = "rolled_back"
	outcomeConflict   = "conflict"
	outcomeFailed     = "failed"
)
