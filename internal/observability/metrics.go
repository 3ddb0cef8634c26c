package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds all Prometheus metrics for the Table Engine.
type Metrics struct {
	// Database metrics
	dbQueriesTotal    *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec
	dbConnections     prometheus.Gauge
	dbConnectionsIdle prometheus.Gauge
	dbConnectionsMax  prometheus.Gauge

	// SchemaProvider / FieldRegistry DDL metrics
	ddlOperationsTotal   *prometheus.CounterVec
	ddlOperationDuration *prometheus.HistogramVec

	// DependencyGraph metrics
	depGraphRebuildsTotal     *prometheus.CounterVec
	depGraphInvalidationsTotal *prometheus.CounterVec
	depGraphCacheHitsTotal    *prometheus.CounterVec
	recomputeDuration         *prometheus.HistogramVec

	// LinkTitleUpdater metrics
	linkTitleFanoutTotal    *prometheus.CounterVec
	linkTitleFanoutDuration *prometheus.HistogramVec

	// OTChannel metrics
	otOpsPublishedTotal *prometheus.CounterVec
	otOpPublishLatency  *prometheus.HistogramVec
	otConnections       prometheus.Gauge
	otSubscriptions     prometheus.Gauge
	otConnectionErrors  *prometheus.CounterVec

	// System metrics
	systemUptime prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics (singleton).
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = createMetrics()
	})
	return metricsInstance
}

func createMetrics() *Metrics {
	m := &Metrics{
		dbQueriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tableengine_db_queries_total",
			Help: "Total number of database queries executed",
		}, []string{"operation", "table", "status"}),
		dbQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tableengine_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation", "table"}),
		dbConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tableengine_db_connections_active",
			Help: "Number of active database connections",
		}),
		dbConnectionsIdle: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tableengine_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		dbConnectionsMax: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tableengine_db_connections_max",
			Help: "Maximum number of database connections",
		}),

		ddlOperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tableengine_ddl_operations_total",
			Help: "Total schema DDL operations (create table, add/drop column, constraints)",
		}, []string{"operation", "status"}),
		ddlOperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tableengine_ddl_operation_duration_seconds",
			Help:    "DDL operation duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"operation"}),

		depGraphRebuildsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tableengine_depgraph_rebuilds_total",
			Help: "Total dependency graph rebuilds",
		}, []string{"table_id"}),
		depGraphInvalidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tableengine_depgraph_invalidations_total",
			Help: "Total dependency graph cache invalidations",
		}, []string{"reason"}),
		depGraphCacheHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tableengine_depgraph_cache_hits_total",
			Help: "Total dependency graph cache hits vs misses",
		}, []string{"result"}),
		recomputeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tableengine_recompute_duration_seconds",
			Help:    "Computed field recalculation pipeline duration",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		}, []string{"table_id"}),

		linkTitleFanoutTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tableengine_link_title_fanout_total",
			Help: "Total records updated by LinkTitleUpdater title fan-out",
		}, []string{"table_id", "status"}),
		linkTitleFanoutDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tableengine_link_title_fanout_duration_seconds",
			Help:    "Duration of a LinkTitleUpdater fan-out pass",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30},
		}, []string{"table_id"}),

		otOpsPublishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tableengine_ot_ops_published_total",
			Help: "Total OT operations published on the broadcast channel",
		}, []string{"collection", "status"}),
		otOpPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tableengine_ot_op_publish_latency_seconds",
			Help:    "Latency from op submit to publish completion",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"collection"}),
		otConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tableengine_ot_connections",
			Help: "Number of active OT subscriber connections",
		}),
		otSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tableengine_ot_subscriptions",
			Help: "Number of active OT document subscriptions",
		}),
		otConnectionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tableengine_ot_connection_errors_total",
			Help: "Total OT connection errors by type",
		}, []string{"error_type"}),

		systemUptime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tableengine_uptime_seconds",
			Help: "Time since the process started, in seconds",
		}),
	}
	return m
}

// RecordDBQuery records a database query's duration and outcome.
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueriesTotal.WithLabelValues(operation, table, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// UpdateDBStats updates connection pool gauges.
func (m *Metrics) UpdateDBStats(total, idle, max int32) {
	m.dbConnections.Set(float64(total))
	m.dbConnectionsIdle.Set(float64(idle))
	m.dbConnectionsMax.Set(float64(max))
}

// RecordDDLOperation records a SchemaProvider/FieldRegistry DDL operation.
func (m *Metrics) RecordDDLOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ddlOperationsTotal.WithLabelValues(operation, status).Inc()
	m.ddlOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDepGraphRebuild records a full dependency graph rebuild for a table.
func (m *Metrics) RecordDepGraphRebuild(tableID string) {
	m.depGraphRebuildsTotal.WithLabelValues(tableID).Inc()
}

// RecordDepGraphInvalidation records a cache invalidation event.
func (m *Metrics) RecordDepGraphInvalidation(reason string) {
	m.depGraphInvalidationsTotal.WithLabelValues(reason).Inc()
}

// RecordDepGraphCacheLookup records a cache hit or miss.
func (m *Metrics) RecordDepGraphCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.depGraphCacheHitsTotal.WithLabelValues(result).Inc()
}

// RecordRecompute records the duration of a recalculation pipeline run.
func (m *Metrics) RecordRecompute(tableID string, duration time.Duration) {
	m.recomputeDuration.WithLabelValues(tableID).Observe(duration.Seconds())
}

// RecordLinkTitleFanout records the outcome of a title fan-out pass.
func (m *Metrics) RecordLinkTitleFanout(tableID string, recordsUpdated int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.linkTitleFanoutTotal.WithLabelValues(tableID, status).Add(float64(recordsUpdated))
	m.linkTitleFanoutDuration.WithLabelValues(tableID).Observe(duration.Seconds())
}

// RecordOTOpPublished records a published OT operation and its latency.
func (m *Metrics) RecordOTOpPublished(collection string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.otOpsPublishedTotal.WithLabelValues(collection, status).Inc()
	m.otOpPublishLatency.WithLabelValues(collection).Observe(latency.Seconds())
}

// UpdateOTStats updates OT connection/subscription gauges.
func (m *Metrics) UpdateOTStats(connections, subscriptions int) {
	m.otConnections.Set(float64(connections))
	m.otSubscriptions.Set(float64(subscriptions))
}

// RecordOTConnectionError records a connection-level error by type.
func (m *Metrics) RecordOTConnectionError(errorType string) {
	m.otConnectionErrors.WithLabelValues(errorType).Inc()
}

// UpdateUptime sets the uptime gauge from a process start time.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.systemUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns an http.Handler exposing metrics in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsServer runs a dedicated HTTP server for the /metrics endpoint,
// separate from the OT subscription listener.
type MetricsServer struct {
	server *http.Server
	path   string
}

// NewMetricsServer creates a metrics server bound to the given port/path.
func NewMetricsServer(port int, path string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &MetricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		path: path,
	}
}

// Start begins serving metrics; it blocks until the server stops.
func (ms *MetricsServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Str("path", ms.path).Msg("starting metrics server")
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
