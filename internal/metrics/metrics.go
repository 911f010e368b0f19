package metrics

import (
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	RangesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_engine_ranges_processed_total",
			Help: "Total number of block ranges committed",
		},
		[]string{"chain"},
	)

	RangesDeferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_engine_ranges_deferred_total",
			Help: "Total number of block ranges deferred due to incomplete raw coverage",
		},
		[]string{"chain", "reason"},
	)

	RowsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_engine_rows_inserted_total",
			Help: "Total number of canonical event-log rows inserted",
		},
		[]string{"chain"},
	)

	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_engine_rows_skipped_total",
			Help: "Total number of rows skipped because their key already existed",
		},
		[]string{"chain"},
	)

	DuplicateKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_engine_duplicate_keys_total",
			Help: "Total number of duplicate primary keys dropped within transform batches",
		},
		[]string{"chain"},
	)

	WatermarkBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_engine_watermark_block",
			Help: "Last final block committed per chain",
		},
		[]string{"chain"},
	)

	RawHeadBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_engine_raw_head_block",
			Help: "Highest block available in the raw layer per chain",
		},
		[]string{"chain"},
	)

	RangeSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_engine_range_size",
			Help: "Current adaptive range size per chain",
		},
		[]string{"chain"},
	)

	RangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_engine_range_duration_seconds",
			Help:    "Time taken to transform, load and commit one range",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// Reorg metrics
	ReorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_engine_reorgs_detected_total",
			Help: "Total number of chain reorganizations detected",
		},
		[]string{"chain"},
	)

	ReorgDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_engine_reorg_depth_blocks",
			Help:    "Number of blocks rewound per recovered reorg",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"chain"},
	)

	ChainHalted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_engine_chain_halted",
			Help: "Whether a chain loop has halted fatally (1=halted, 0=running)",
		},
		[]string{"chain"},
	)

	DBRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_engine_db_retries_total",
			Help: "Total number of retried database operations",
		},
		[]string{"operation"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_engine_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_engine_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_engine_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_engine_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func chainLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

func RangesProcessedInc(chainID uint64) {
	RangesProcessed.WithLabelValues(chainLabel(chainID)).Inc()
}

func RangesDeferredInc(chainID uint64, reason string) {
	RangesDeferred.WithLabelValues(chainLabel(chainID), reason).Inc()
}

func RowsInsertedAdd(chainID uint64, count int64) {
	RowsInserted.WithLabelValues(chainLabel(chainID)).Add(float64(count))
}

func RowsSkippedAdd(chainID uint64, count int64) {
	RowsSkipped.WithLabelValues(chainLabel(chainID)).Add(float64(count))
}

func DuplicateKeysAdd(chainID uint64, count uint64) {
	DuplicateKeys.WithLabelValues(chainLabel(chainID)).Add(float64(count))
}

func WatermarkBlockSet(chainID, block uint64) {
	WatermarkBlock.WithLabelValues(chainLabel(chainID)).Set(float64(block))
}

func RawHeadBlockSet(chainID, block uint64) {
	RawHeadBlock.WithLabelValues(chainLabel(chainID)).Set(float64(block))
}

func RangeSizeSet(chainID, size uint64) {
	RangeSize.WithLabelValues(chainLabel(chainID)).Set(float64(size))
}

func RangeDurationLog(chainID uint64, duration time.Duration) {
	RangeDuration.WithLabelValues(chainLabel(chainID)).Observe(duration.Seconds())
}

func ReorgsDetectedInc(chainID uint64) {
	ReorgsDetected.WithLabelValues(chainLabel(chainID)).Inc()
}

func ReorgDepthLog(chainID, depth uint64) {
	ReorgDepth.WithLabelValues(chainLabel(chainID)).Observe(float64(depth))
}

func ChainHaltedSet(chainID uint64, halted bool) {
	value := float64(0)
	if halted {
		value = 1
	}

	ChainHalted.WithLabelValues(chainLabel(chainID)).Set(value)
}

func DBRetryInc(operation string) {
	DBRetries.WithLabelValues(operation).Inc()
}

func ErrorsInc(component string, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	// Update uptime
	Uptime.Set(time.Since(startTime).Seconds())

	// Update goroutine count
	Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
