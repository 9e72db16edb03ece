// Package metrics provides Prometheus instrumentation for Kestrel.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kestrel"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DatasetsGeneratedTotal counts stored datasets.
	DatasetsGeneratedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "datasets_generated_total",
		Help:      "Total synthetic datasets generated and stored.",
	})

	// RecordsGeneratedTotal counts generated records by kind.
	RecordsGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_generated_total",
			Help:      "Total generated records by kind (merchant, transaction).",
		},
		[]string{"kind"},
	)

	// PatternInjectionsTotal counts fraud merchants by injected pattern.
	PatternInjectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_injections_total",
			Help:      "Total fraud merchants by injected pattern.",
		},
		[]string{"pattern"},
	)

	// RiskComputationsTotal counts risk computations by outcome status.
	RiskComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_computations_total",
			Help:      "Total risk computations by decision status.",
		},
		[]string{"status"},
	)

	// CompositeRiskScore observes the distribution of composite scores.
	CompositeRiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "composite_risk_score",
		Help:      "Distribution of composite risk scores.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// RiskComputationDuration observes end-to-end scoring latency.
	RiskComputationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_computation_duration_seconds",
		Help:      "Risk computation duration in seconds, including persistence.",
		Buckets:   prometheus.DefBuckets,
	})

	// AlertsTotal counts raised merchant alerts.
	AlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Total merchant risk alerts raised.",
	})

	// TimelineEventsTotal counts detected timeline events by type and severity.
	TimelineEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeline_events_total",
			Help:      "Total detected timeline events by type and severity.",
		},
		[]string{"type", "severity"},
	)

	// WorkerJobsTotal counts async worker jobs by topic and result.
	WorkerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_jobs_total",
			Help:      "Total async worker jobs by topic and result.",
		},
		[]string{"topic", "result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DatasetsGeneratedTotal,
		RecordsGeneratedTotal,
		PatternInjectionsTotal,
		RiskComputationsTotal,
		CompositeRiskScore,
		RiskComputationDuration,
		AlertsTotal,
		TimelineEventsTotal,
		WorkerJobsTotal,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector samples connection pool stats until ctx is done.
func StartDBStatsCollector(ctx context.Context, stats func() sql.DBStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := stats()
			DBOpenConnections.Set(float64(s.OpenConnections))
			DBInUseConnections.Set(float64(s.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		// Route pattern, not the raw path, keeps label cardinality bounded.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(rec.status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into classes (2xx, 4xx, ...).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
