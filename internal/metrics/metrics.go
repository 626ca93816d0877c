package metrics

import (
	"net/http"
	"strconv"
	"time"

	"brainquiz-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	started         *prometheus.CounterVec
	completed       *prometheus.CounterVec
	scorePercentage *prometheus.HistogramVec
	gateDecisions   *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quizzes_started_total",
				Help: "Total number of quiz sessions started",
			},
			[]string{"mode"},
		),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quizzes_completed_total",
				Help: "Total number of quiz sessions completed",
			},
			[]string{"mode", "trigger"},
		),
		scorePercentage: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quiz_score_percentage",
				Help:    "Score percentage of completed sessions",
				Buckets: []float64{20, 40, 60, 70, 80, 90, 100},
			},
			[]string{"mode"},
		),
		gateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_decisions_total",
				Help: "Page gate outcomes",
			},
			[]string{"decision"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
	}
	m.registry.MustRegister(
		m.started,
		m.completed,
		m.scorePercentage,
		m.gateDecisions,
		m.requests,
		m.requestDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) QuizStarted(mode domain.Mode) {
	m.started.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) QuizCompleted(mode domain.Mode, trigger string, score domain.Score) {
	m.completed.WithLabelValues(string(mode), trigger).Inc()
	m.scorePercentage.WithLabelValues(string(mode)).Observe(float64(score.Percentage))
}

// GateDecision counts one page gate outcome (pass, redirect, inject).
func (m *Metrics) GateDecision(decision string) {
	m.gateDecisions.WithLabelValues(decision).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency under a fixed endpoint label.
func (m *Metrics) Middleware(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
