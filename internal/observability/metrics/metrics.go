package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the Prometheus instruments shared across the service.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	webhookEvents *prometheus.CounterVec
	tasksEnqueued *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quotehive_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quotehive_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quotehive_job_runs_total",
			Help: "Background job runs by job name.",
		}, []string{"job"}),
		jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quotehive_job_errors_total",
			Help: "Background job failures by job name.",
		}, []string{"job"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quotehive_job_duration_seconds",
			Help:    "Background job duration by job name.",
			Buckets: []float64{.05, .25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		webhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quotehive_webhook_events_total",
			Help: "Payment webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		tasksEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quotehive_tasks_enqueued_total",
			Help: "Asynq tasks enqueued by type.",
		}, []string{"type"}),
	}
}

func (m *Metrics) IncJobRun(job string)   { m.jobRuns.WithLabelValues(job).Inc() }
func (m *Metrics) IncJobError(job string) { m.jobErrors.WithLabelValues(job).Inc() }

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordTaskEnqueued(taskType string) {
	m.tasksEnqueued.WithLabelValues(taskType).Inc()
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
