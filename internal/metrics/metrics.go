package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 30, 90},
		},
		[]string{"method", "route"},
	)

	SubmissionsGraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examgrader_submissions_graded_total",
			Help: "Submissions graded, by short-answer grading method and final state",
		},
		[]string{"method", "state"},
	)

	ObjectiveScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examgrader_objective_questions_scored_total",
			Help: "Objective questions scored, by question type and outcome",
		},
		[]string{"type", "outcome"},
	)

	ExternalAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examgrader_external_grading_attempts_total",
			Help: "HTTP attempts against the external grading provider",
		},
		[]string{"provider", "result"},
	)

	ExternalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "examgrader_external_grading_duration_seconds",
			Help:    "Wall time of one external grading call including retries",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "outcome"},
	)

	ReviewsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examgrader_reviews_applied_total",
			Help: "Manual reviews applied, by the method of the record before review",
		},
		[]string{"method"},
	)

	ImportedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examgrader_import_rows_total",
			Help: "Question rows processed by bank import",
		},
		[]string{"status"},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			SubmissionsGraded,
			ObjectiveScored,
			ExternalAttempts,
			ExternalDuration,
			ReviewsApplied,
			ImportedRows,
		)
	})
}

// Middleware records request counts and latency by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
