package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts ingestion cycles by outcome (success / failed).
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetbox_ingestion_cycles_total",
		Help: "Total number of ingestion cycles by outcome.",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetbox_ingestion_cycle_duration_seconds",
		Help:    "Wall time of one ingestion cycle including rate-limit and backoff waits.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	LastSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetbox_ingestion_last_success_timestamp_seconds",
		Help: "Unix time of the last successful ingestion cycle.",
	})

	RowsStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetbox_rows_stored_total",
		Help: "Total number of vehicle status rows upserted.",
	})

	RowsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetbox_rows_failed_total",
		Help: "Total number of vehicle status rows rejected by the database.",
	})

	RowFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetbox_writer_row_fallbacks_total",
		Help: "Number of batch writes that fell back to row-by-row upserts.",
	})

	TransformSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetbox_transform_skips_total",
		Help: "Records skipped by the transformer by reason.",
	}, []string{"reason"})

	PartitionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetbox_partitions_created_total",
		Help: "Monthly partitions created by this process.",
	})

	RateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetbox_ratelimit_wait_seconds",
		Help:    "Time spent blocked in the API rate limiter per request.",
		Buckets: []float64{0, 1, 5, 15, 30, 60},
	})

	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetbox_backups_total",
		Help: "Backup runs by outcome.",
	}, []string{"outcome"})
)
