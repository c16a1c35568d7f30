// Package metrics holds the Prometheus collectors for the classification
// pipeline and the HTTP layer.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flower_uploads_total",
			Help: "Submissions by final status and the stage that decided it",
		},
		[]string{"status", "stage"},
	)

	KnowledgeLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flower_knowledge_lookups_total",
			Help: "Monograph lookups by result (memory_hit, store_hit, synthesized, conflict, error)",
		},
		[]string{"result"},
	)

	QuestionLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flower_question_lookups_total",
			Help: "Q&A lookups by result (hit, synthesized, conflict, error)",
		},
		[]string{"result"},
	)

	SynthesisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flower_synthesis_duration_seconds",
			Help:    "Duration of text-synthesis calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"purpose", "outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flower_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flower_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// ObserveSynthesis records one synthesis call started at start.
func ObserveSynthesis(purpose string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SynthesisDuration.WithLabelValues(purpose, outcome).Observe(time.Since(start).Seconds())
}

// Middleware records request counts and durations. Routes are labelled by
// their registered pattern so path parameters do not explode cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
