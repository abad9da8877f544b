package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SynthLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreEvents           *prometheus.CounterVec
	CoreStateHashDur     prometheus.Histogram
	CoreSequence         prometheus.Gauge
	CustodyCheckFailures prometheus.Counter

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	DedupTier2Errors      prometheus.Counter

	// --- Oracle ---
	OraclePriceUpdates  *prometheus.CounterVec
	OracleRoundRejected *prometheus.CounterVec

	// --- Liquidation ---
	LiquidationExecuted *prometheus.CounterVec
	LiquidationRejected *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & Replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"command_type"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_core_commands_rejected_total",
			Help: "Commands rejected (duplicate, validation, engine error)",
		}, []string{"command_type", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_core_journals_generated_total",
			Help: "Position journal entries generated",
		}, []string{"journal_type"}),

		CoreEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_core_domain_events_total",
			Help: "Domain events emitted by committed calls",
		}, []string{"event_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "synth_core_sequence",
			Help: "Current global sequence number",
		}),

		CustodyCheckFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "synth_core_custody_check_failures_total",
			Help: "Custody invariant violations detected after a commit",
		}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"command_type"}),

		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		NATSPullLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_duration_seconds",
			Help:    "Time to write one batch to Postgres",
			Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_projection_update_duration_seconds",
			Help:    "Time to update a projection",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synth_channel_size",
			Help: "Current number of items in channel",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synth_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synth_channel_utilization",
			Help: "Channel size / capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "synth_publish_drops_total",
			Help: "Outbound ledger events dropped",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"command_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "synth_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "synth_dedup_lru_evictions_total",
			Help: "Idempotency LRU evictions",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_dedup_tier2_duration_seconds",
			Help:    "Postgres idempotency lookup latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "synth_dedup_tier2_errors_total",
			Help: "Postgres idempotency lookups that failed",
		}),

		// Oracle
		OraclePriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_oracle_price_updates_total",
			Help: "Oracle rounds accepted",
		}, []string{"asset"}),

		OracleRoundRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_oracle_round_rejected_total",
			Help: "Oracle rounds rejected as stale or out of order",
		}, []string{"asset"}),

		// Liquidation
		LiquidationExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_liquidation_executed_total",
			Help: "Successful liquidations",
		}, []string{"asset"}),

		LiquidationRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_liquidation_rejected_total",
			Help: "Liquidation attempts rejected",
		}, []string{"reason"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_events_written_total",
			Help: "Envelopes written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_journals_written_total",
			Help: "Journal rows written",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_size",
			Help:    "Envelopes per persistence batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "synth_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		// Snapshot & Replay
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "synth_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_snapshot_duration_seconds",
			Help:    "Time to write a snapshot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "synth_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "synth_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "synth_replay_events_total",
			Help: "Commands replayed during recovery",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "synth_replay_duration_seconds",
			Help: "Duration of the last recovery replay",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_query_errors_total",
			Help: "Query API errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
