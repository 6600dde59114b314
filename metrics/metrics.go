// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ctxKey string

const routeLabelKey ctxKey = "metrics_route"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocabnest_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocabnest_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vocabnest_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vocabnest_db_latency_seconds",
		Help:    "Histogram of database operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	workPointsSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocabnest_work_points_syncs_total",
		Help: "Work points sync requests by outcome.",
	}, []string{"outcome"})

	workPointsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vocabnest_work_points_credited_total",
		Help: "Points added to lifetime totals by syncs.",
	})

	importRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocabnest_import_rows_total",
		Help: "CSV import rows by result.",
	}, []string{"result"})

	importJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocabnest_import_jobs_total",
		Help: "CSV import jobs by final status.",
	}, []string{"status"})
)

// Middleware records request metrics and tags the request context with the route label.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), routeLabelKey, route))

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		method := c.Request.Method
		statusCode := strconv.Itoa(status)

		httpRequestsTotal.WithLabelValues(method, route).Inc()
		httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(time.Since(start).Seconds())
		if status >= http.StatusInternalServerError {
			httpErrorsTotal.WithLabelValues(method, route, statusCode).Inc()
		}
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDBLatency records database latency for an operation, labelled with the request route when known.
func ObserveDBLatency(ctx context.Context, operation string, start time.Time) {
	dbLatency.WithLabelValues(operation, routeFromContext(ctx)).Observe(time.Since(start).Seconds())
}

// RecordSync counts a sync request outcome: "ok", "invalid" or "error".
func RecordSync(outcome string, credited int64) {
	workPointsSyncs.WithLabelValues(outcome).Inc()
	if credited > 0 {
		workPointsCredited.Add(float64(credited))
	}
}

// RecordImportRows counts processed CSV rows by result.
func RecordImportRows(created, updated, skipped, failed int) {
	importRows.WithLabelValues("created").Add(float64(created))
	importRows.WithLabelValues("updated").Add(float64(updated))
	importRows.WithLabelValues("skipped").Add(float64(skipped))
	importRows.WithLabelValues("failed").Add(float64(failed))
}

// RecordImportJob counts a finished import job.
func RecordImportJob(status string) {
	importJobs.WithLabelValues(status).Inc()
}

func routeFromContext(ctx context.Context) string {
	if route, ok := ctx.Value(routeLabelKey).(string); ok && route != "" {
		return route
	}
	return "background"
}
