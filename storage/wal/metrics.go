package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type WalMetrics struct {
	appends          prometheus.Counter
	batches          prometheus.Counter
	writesFailed     prometheus.Counter
	fsyncDuration    prometheus.Summary
	segmentRotations prometheus.Counter
	segmentsEvicted  prometheus.Counter
	segments         prometheus.Gauge
	firstIndex       prometheus.Gauge
	lastIndex        prometheus.Gauge
	corruptions      prometheus.Counter
	truncations      prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	transactions     *prometheus.CounterVec
	openTransactions prometheus.Gauge
}

// NewWalMetrics registers the log metrics on registerer under the
// storage_wal_ prefix. A nil registerer leaves them unregistered.
func NewWalMetrics(registerer prometheus.Registerer) *WalMetrics {
	var r prometheus.Registerer
	if registerer != nil {
		r = prometheus.WrapRegistererWithPrefix("storage_wal_", registerer)
	}

	f := promauto.With(r)

	return &WalMetrics{
		appends: f.NewCounter(prometheus.CounterOpts{
			Name: "records_appended_total",
			Help: "Total number of records appended.",
		}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Name: "batches_total",
			Help: "Total number of record batches written.",
		}),
		writesFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "writes_failed_total",
			Help: "Total number of write log writes that failed.",
		}),
		fsyncDuration: f.NewSummary(prometheus.SummaryOpts{
			Name:       "fsync_duration_seconds",
			Help:       "Duration of write log fsync.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		segmentRotations: f.NewCounter(prometheus.CounterOpts{
			Name: "segment_rotations_total",
			Help: "Total number of segment rotations.",
		}),
		segmentsEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "segments_evicted_total",
			Help: "Total number of segments deleted by retention.",
		}),
		segments: f.NewGauge(prometheus.GaugeOpts{
			Name: "segments",
			Help: "Number of live segments.",
		}),
		firstIndex: f.NewGauge(prometheus.GaugeOpts{
			Name: "first_index",
			Help: "Index of the oldest live record.",
		}),
		lastIndex: f.NewGauge(prometheus.GaugeOpts{
			Name: "last_index",
			Help: "Index of the newest record.",
		}),
		corruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "corruptions_total",
			Help: "Total number of corrupted segment tails truncated during recovery.",
		}),
		truncations: f.NewCounter(prometheus.CounterOpts{
			Name: "truncations_total",
			Help: "Total number of explicit log truncations.",
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of reads served by the entry cache.",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of reads that went to a segment.",
		}),
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transactions_total",
			Help: "Total number of finished transactions by outcome.",
		}, []string{"outcome"}),
		openTransactions: f.NewGauge(prometheus.GaugeOpts{
			Name: "open_transactions",
			Help: "Number of transactions in the transaction table.",
		}),
	}
}

func (m *WalMetrics) setCursor(c Cursor, segments int) {
	m.firstIndex.Set(float64(c.FirstIndex))
	m.lastIndex.Set(float64(c.LastIndex))
	m.segments.Set(float64(segments))
}
