package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "terrarium_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	pipelineLatency *prometheus.HistogramVec

	aggregateUpdates    *prometheus.CounterVec
	aggregateConflicts  *prometheus.CounterVec
	aggregateOutOfOrder prometheus.Counter

	healthScore *prometheus.GaugeVec

	alertsEmitted    *prometheus.CounterVec
	alertsSuppressed *prometheus.CounterVec
	alertDeliveries  *prometheus.CounterVec

	actuatorWrites  *prometheus.CounterVec
	mistActivations *prometheus.CounterVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec

	retentionDeleted *prometheus.CounterVec
)

// Init registers metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		pipelineLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pipeline_latency_seconds",
				Help:    "Per-reading pipeline latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		aggregateUpdates = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregate_updates_total",
				Help: "Total rollup bucket updates by granularity and result",
			},
			[]string{"granularity", "result"},
		)
		aggregateConflicts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregate_conflicts_total",
				Help: "Rollup transaction conflicts that triggered a retry",
			},
			[]string{"granularity"},
		)
		aggregateOutOfOrder = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregate_out_of_order_total",
				Help: "Readings older than the last ingested reading of their source",
			},
		)

		healthScore = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "health_score",
				Help: "Latest health score per source",
			},
			[]string{"source_id"},
		)

		alertsEmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_emitted_total",
				Help: "Alert records emitted by severity",
			},
			[]string{"severity"},
		)
		alertsSuppressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_suppressed_total",
				Help: "Alert violations suppressed by reason",
			},
			[]string{"reason"},
		)
		alertDeliveries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_deliveries_total",
				Help: "Alert deliveries by channel and result",
			},
			[]string{"channel", "result"},
		)

		actuatorWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "actuator_writes_total",
				Help: "Actuator write attempts by actuator and result",
			},
			[]string{"actuator", "result"},
		)
		mistActivations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mist_activations_total",
				Help: "Mist activations by trigger",
			},
			[]string{"trigger"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total rollup report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Rollup report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		retentionDeleted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "retention_deleted_total",
				Help: "Rows removed by the retention sweep by target",
			},
			[]string{"target"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			pipelineLatency,
			aggregateUpdates,
			aggregateConflicts,
			aggregateOutOfOrder,
			healthScore,
			alertsEmitted,
			alertsSuppressed,
			alertDeliveries,
			actuatorWrites,
			mistActivations,
			reportExportTotal,
			reportExportLatency,
			retentionDeleted,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObservePipeline records how long one reading took to process.
func ObservePipeline(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if pipelineLatency != nil {
		pipelineLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncAggregateUpdate counts a bucket update.
func IncAggregateUpdate(granularity, result string) {
	if result == "" {
		result = resultSuccess
	}
	if aggregateUpdates != nil {
		aggregateUpdates.WithLabelValues(granularity, result).Inc()
	}
}

// IncAggregateConflict counts a retried transaction conflict.
func IncAggregateConflict(granularity string) {
	if aggregateConflicts != nil {
		aggregateConflicts.WithLabelValues(granularity).Inc()
	}
}

// IncAggregateOutOfOrder counts a stale reading.
func IncAggregateOutOfOrder() {
	if aggregateOutOfOrder != nil {
		aggregateOutOfOrder.Inc()
	}
}

// SetHealthScore publishes the latest score of a source.
func SetHealthScore(sourceID string, score int) {
	if healthScore != nil {
		healthScore.WithLabelValues(sourceID).Set(float64(score))
	}
}

// IncAlertEmitted counts an emitted alert record.
func IncAlertEmitted(severity string) {
	if severity == "" {
		severity = "unknown"
	}
	if alertsEmitted != nil {
		alertsEmitted.WithLabelValues(severity).Inc()
	}
}

// AddAlertsSuppressed counts suppressed violations.
func AddAlertsSuppressed(reason string, count int) {
	if count <= 0 {
		return
	}
	if alertsSuppressed != nil {
		alertsSuppressed.WithLabelValues(reason).Add(float64(count))
	}
}

// IncAlertDelivery counts an alert delivery attempt.
func IncAlertDelivery(channel, result string) {
	if result == "" {
		result = resultSuccess
	}
	if alertDeliveries != nil {
		alertDeliveries.WithLabelValues(channel, result).Inc()
	}
}

// IncActuatorWrite counts an actuator write attempt.
func IncActuatorWrite(actuator, result string) {
	if result == "" {
		result = resultSuccess
	}
	if actuatorWrites != nil {
		actuatorWrites.WithLabelValues(actuator, result).Inc()
	}
}

// IncMistActivation counts a transition into misting.
func IncMistActivation(trigger string) {
	if mistActivations != nil {
		mistActivations.WithLabelValues(trigger).Inc()
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// AddRetentionDeleted counts rows removed by the sweep.
func AddRetentionDeleted(target string, count int) {
	if count <= 0 {
		return
	}
	if retentionDeleted != nil {
		retentionDeleted.WithLabelValues(target).Add(float64(count))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
