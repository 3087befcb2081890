package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	LinksIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popmapper_links_ingested_total",
			Help: "Total link samples ingested from traces.",
		},
		[]string{"stage"},
	)

	StoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "popmapper_store_op_duration_seconds",
			Help:    "Store operation latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	StoreWatchConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popmapper_store_watch_conflicts_total",
			Help: "Optimistic transaction retries caused by WATCH conflicts.",
		},
		[]string{"stage"},
	)

	ParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popmapper_parse_errors_total",
			Help: "Trace parse failures by stage.",
		},
		[]string{"stage", "reason"},
	)

	PoPsAssignedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popmapper_pops_assigned_total",
			Help: "New PoP identifiers minted during assignment.",
		},
		[]string{},
	)

	PoPJoinQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "popmapper_pop_join_queue_depth",
			Help: "Pending PoP merge jobs.",
		},
		[]string{},
	)

	PoPJoinsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popmapper_pop_joins_total",
			Help: "Completed PoP merges.",
		},
		[]string{},
	)

	PoPJoinErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popmapper_pop_join_errors_total",
			Help: "PoP merges that failed and were requeued or abandoned.",
		},
		[]string{"reason"},
	)

	GraphTrimPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popmapper_graph_trim_passes_total",
			Help: "Degree-1 trim passes run to fixpoint.",
		},
		[]string{},
	)

	GraphCollapsedEdgesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popmapper_graph_collapsed_edges_total",
			Help: "Degree-2 chains collapsed into a single edge.",
		},
		[]string{},
	)

	ValleyFreePathsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popmapper_valleyfree_paths_total",
			Help: "Shortest paths accepted or repaired by valley-free workers.",
		},
		[]string{"outcome"},
	)

	ValleyFreeWorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "popmapper_valleyfree_worker_duration_seconds",
			Help:    "Per-target shortest-path-plus-repair latency.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			LinksIngestedTotal,
			StoreOpDuration,
			StoreWatchConflictsTotal,
			ParseErrorsTotal,
			PoPsAssignedTotal,
			PoPJoinQueueDepth,
			PoPJoinsTotal,
			PoPJoinErrorsTotal,
			GraphTrimPassesTotal,
			GraphCollapsedEdgesTotal,
			ValleyFreePathsTotal,
			ValleyFreeWorkerDuration,
		)
	})
}
